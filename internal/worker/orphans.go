package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// KillOrphans finds ffmpeg processes left over from a previous server run,
// identified by the output base dir appearing in their command line, and
// terminates them. Returns the number of processes signalled. Everything
// here is best-effort: a process that vanishes mid-scan is fine.
func KillOrphans(ctx context.Context, baseDir string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		logger.Warn("orphan scan failed", slog.String("error", err.Error()))
		return 0
	}

	var victims []*process.Process
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.Contains(name, "ffmpeg") {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, baseDir) {
			continue
		}
		victims = append(victims, p)
	}

	if len(victims) == 0 {
		return 0
	}

	for _, p := range victims {
		logger.Warn("terminating orphaned transcoder", slog.Int("pid", int(p.Pid)))
		_ = p.TerminateWithContext(ctx)
	}

	// Give SIGTERM a moment, then sweep survivors with SIGKILL.
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
			alive := false
			for _, p := range victims {
				if running, _ := p.IsRunningWithContext(ctx); running {
					alive = true
					break
				}
			}
			if !alive {
				return len(victims)
			}
		}
	}

	for _, p := range victims {
		if running, _ := p.IsRunningWithContext(ctx); running {
			logger.Warn("orphan ignored SIGTERM, killing", slog.Int("pid", int(p.Pid)))
			_ = p.KillWithContext(ctx)
		}
	}
	return len(victims)
}

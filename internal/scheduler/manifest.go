package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeConcatManifest writes an ffmpeg concat demuxer manifest listing the
// given files in order. The file is written atomically so a worker never
// reads a half-written manifest.
func writeConcatManifest(path string, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("concat manifest needs at least one file")
	}

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, f := range files {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(f))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing concat manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing concat manifest: %w", err)
	}
	return nil
}

// escapeConcatPath escapes single quotes for the concat demuxer's quoted
// string syntax.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, `'`, `'\''`)
}

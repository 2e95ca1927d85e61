// Package xmltv reads and writes electronic program guide data in the
// XMLTV interchange format. The writer streams: callers emit channels,
// then programmes, without the whole guide ever living in memory.
package xmltv

import (
	"fmt"
	"strings"
	"time"
)

// Channel is a channel definition in an XMLTV document.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Programme is a single guide entry.
type Programme struct {
	Channel     string
	Start       time.Time
	Stop        time.Time
	Title       string
	SubTitle    string
	Description string
	Category    string
	Icon        string
	EpisodeNum  string
	Language    string
}

// xmltvTimeLayout is the canonical XMLTV timestamp form. All output is
// normalized to UTC.
const xmltvTimeLayout = "20060102150405 -0700"

// FormatTime renders t in XMLTV form, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format("20060102150405 +0000")
}

// ParseTime accepts the timestamp variants seen in real guides: with or
// without an offset, and truncated to minutes.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty xmltv time")
	}
	for _, layout := range []string{
		xmltvTimeLayout,
		"20060102150405",
		"200601021504 -0700",
		"200601021504",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized xmltv time %q", s)
}

package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata is what can be read off a media filename.
type Metadata struct {
	Show    string
	Season  int
	Episode int
	Title   string
}

// Filename conventions, most specific first:
//
//	Show Name - S01E02 - Episode Title.mkv
//	Show Name - S01E02.mkv
//	Show Name S01E02 Episode Title.mkv
var (
	dashedRe = regexp.MustCompile(`^(.+?)\s*-\s*[Ss](\d{1,2})[Ee](\d{1,3})(?:\s*-\s*(.+))?$`)
	spacedRe = regexp.MustCompile(`^(.+?)\s+[Ss](\d{1,2})[Ee](\d{1,3})(?:\s+(.+))?$`)
)

// ParseFilename extracts show/season/episode metadata from a filename.
// Files that match no convention use the bare name as the show name.
func ParseFilename(name string) Metadata {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if m := dashedRe.FindStringSubmatch(base); m != nil {
		return metadataFrom(m)
	}
	// Dot- and underscore-separated names normalize to spaces first.
	if m := spacedRe.FindStringSubmatch(cleanName(base)); m != nil {
		return metadataFrom(m)
	}

	return Metadata{Show: cleanName(base)}
}

func metadataFrom(m []string) Metadata {
	season, _ := strconv.Atoi(m[2])
	episode, _ := strconv.Atoi(m[3])
	return Metadata{
		Show:    cleanName(m[1]),
		Season:  season,
		Episode: episode,
		Title:   cleanName(m[4]),
	}
}

// cleanName normalizes separator characters commonly used in filenames.
func cleanName(s string) string {
	s = strings.NewReplacer("_", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

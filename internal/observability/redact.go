package observability

import (
	"regexp"
	"strings"
)

// Filesystem path patterns replaced before an error message leaves the API
// boundary. Unix absolute paths and Windows drive paths are both covered.
var (
	unixPathRe    = regexp.MustCompile(`(/[\w.\-]+){2,}/?`)
	windowsPathRe = regexp.MustCompile(`[A-Za-z]:\\(?:[\w.\- ]+\\?)+`)
)

// PathRedactor sanitises strings that may contain filesystem paths before
// they are returned to API clients. Known base paths are stripped first so
// that even single-component references to them are caught.
type PathRedactor struct {
	basePaths []string
}

// NewPathRedactor creates a redactor. basePaths are deployment-specific
// directories (storage root, library roots) that must never appear verbatim.
func NewPathRedactor(basePaths ...string) *PathRedactor {
	cleaned := make([]string, 0, len(basePaths))
	for _, p := range basePaths {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &PathRedactor{basePaths: cleaned}
}

// Redact replaces filesystem paths in s with a placeholder.
func (r *PathRedactor) Redact(s string) string {
	for _, base := range r.basePaths {
		s = strings.ReplaceAll(s, base, "[path]")
	}
	s = unixPathRe.ReplaceAllString(s, "[path]")
	s = windowsPathRe.ReplaceAllString(s, "[path]")
	return s
}

// RedactError returns the sanitised message for err, or "" for nil.
func (r *PathRedactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}

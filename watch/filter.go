package watch

import (
	"path/filepath"
	"strings"
)

// audioExtensions is the fixed allow-list of recording formats.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".wma":  true,
}

// IsCandidate reports whether path names a finished audio recording worth
// watching. Hidden files, editor temp files, partial downloads, and
// platform trash markers are rejected regardless of extension.
// Pure predicate: no filesystem access.
func IsCandidate(path string) bool {
	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false
	}

	// Hidden files; also covers Android's ".trashed-<ts>-<name>" markers
	if strings.HasPrefix(name, ".") {
		return false
	}

	// Editor temp/backup names
	if strings.HasPrefix(name, "~") || strings.HasSuffix(name, "~") {
		return false
	}

	lower := strings.ToLower(name)
	if strings.Contains(lower, ".tmp") || strings.Contains(lower, ".temp") {
		return false
	}
	if strings.Contains(lower, ".trashed") {
		return false
	}

	return audioExtensions[strings.ToLower(filepath.Ext(lower))]
}

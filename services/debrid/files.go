package debrid

import (
	"path"
	"strings"
)

var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".m4v":  true,
	".mov":  true,
	".wmv":  true,
	".ts":   true,
	".webm": true,
	".mpg":  true,
	".mpeg": true,
}

// IsVideoFilename reports whether the filename carries a recognized video
// extension. Archives never qualify, even when they contain video.
func IsVideoFilename(name string) bool {
	if DetectArchiveExtension(name) != "" {
		return false
	}
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// DetectArchiveExtension returns the archive extension of the filename, or ""
// when it is not an archive.
func DetectArchiveExtension(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(lower, ".tar.gz") {
		return ".tar.gz"
	}
	ext := path.Ext(lower)
	switch ext {
	case ".rar", ".zip", ".7z", ".tar", ".tgz":
		return ext
	default:
		return ""
	}
}

package debrid

import "testing"

func TestIsVideoFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Movie.2023.1080p.mkv", true},
		{"episode.mp4", true},
		{"show/Season 1/ep01.avi", true},
		{"movie.MKV", true},
		{"release.rar", false},
		{"release.zip", false},
		{"readme.txt", false},
		{"subs.srt", false},
		{"archive.tar.gz", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsVideoFilename(tt.name); got != tt.want {
			t.Errorf("IsVideoFilename(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDetectArchiveExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"release.rar", ".rar"},
		{"bundle.ZIP", ".zip"},
		{"data.7z", ".7z"},
		{"backup.tar", ".tar"},
		{"backup.tar.gz", ".tar.gz"},
		{"backup.tgz", ".tgz"},
		{"movie.mkv", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DetectArchiveExtension(tt.name); got != tt.want {
			t.Errorf("DetectArchiveExtension(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

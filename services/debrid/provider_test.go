package debrid

import (
	"errors"
	"testing"

	"bridgarr/models"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"realdebrid", KindRealDebrid, false},
		{"real-debrid", KindRealDebrid, false},
		{"  AllDebrid ", KindAllDebrid, false},
		{"premiumize", KindPremiumize, false},
		{"debrid-link", KindDebridLink, false},
		{"debridlink", KindDebridLink, false},
		{"torbox", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownProvider) {
					t.Fatalf("ParseKind(%q) error = %v, want ErrUnknownProvider", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewCoversAllKinds(t *testing.T) {
	kinds := []Kind{KindRealDebrid, KindAllDebrid, KindPremiumize, KindDebridLink}
	for _, kind := range kinds {
		p, err := New(kind, "token")
		if err != nil {
			t.Fatalf("New(%q) unexpected error: %v", kind, err)
		}
		if p.Name() != string(kind) {
			t.Errorf("New(%q).Name() = %q", kind, p.Name())
		}
	}

	if _, err := New(Kind("bogus"), "token"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("New(bogus) error = %v, want ErrUnknownProvider", err)
	}
}

func TestRealDebridNormalizeStatus(t *testing.T) {
	c := NewRealDebridClient("token")
	tests := []struct {
		raw  string
		want models.TorrentStatus
	}{
		{"queued", models.TorrentStatusQueued},
		{"magnet_conversion", models.TorrentStatusQueued},
		{"waiting_files_selection", models.TorrentStatusQueued},
		{"downloading", models.TorrentStatusDownloading},
		{"compressing", models.TorrentStatusProcessing},
		{"uploading", models.TorrentStatusProcessing},
		{"downloaded", models.TorrentStatusReady},
		{"magnet_error", models.TorrentStatusError},
		{"error", models.TorrentStatusError},
		{"virus", models.TorrentStatusError},
		{"dead", models.TorrentStatusDead},
		{"something_new", models.TorrentStatusError},
		{"", models.TorrentStatusError},
	}
	for _, tt := range tests {
		if got := c.NormalizeStatus(tt.raw); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestAllDebridNormalizeStatus(t *testing.T) {
	c := NewAllDebridClient("token")
	tests := []struct {
		raw  string
		want models.TorrentStatus
	}{
		{"0", models.TorrentStatusQueued},
		{"1", models.TorrentStatusDownloading},
		{"2", models.TorrentStatusProcessing},
		{"3", models.TorrentStatusProcessing},
		{"4", models.TorrentStatusReady},
		{"5", models.TorrentStatusError},
		{"6", models.TorrentStatusExpired},
		{"7", models.TorrentStatusError},
		{"10", models.TorrentStatusError},
		{"11", models.TorrentStatusDead},
		{"99", models.TorrentStatusError},
		{"not-a-code", models.TorrentStatusError},
	}
	for _, tt := range tests {
		if got := c.NormalizeStatus(tt.raw); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPremiumizeNormalizeStatus(t *testing.T) {
	c := NewPremiumizeClient("token")
	tests := []struct {
		raw  string
		want models.TorrentStatus
	}{
		{"waiting", models.TorrentStatusQueued},
		{"queued", models.TorrentStatusQueued},
		{"running", models.TorrentStatusDownloading},
		{"finishing", models.TorrentStatusProcessing},
		{"finished", models.TorrentStatusReady},
		{"seeding", models.TorrentStatusReady},
		{"error", models.TorrentStatusError},
		{"banned", models.TorrentStatusError},
		{"timeout", models.TorrentStatusError},
		{"deleted", models.TorrentStatusDead},
		{"mystery", models.TorrentStatusError},
	}
	for _, tt := range tests {
		if got := c.NormalizeStatus(tt.raw); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDebridLinkNormalizeStatus(t *testing.T) {
	c := NewDebridLinkClient("token")
	tests := []struct {
		raw  string
		want models.TorrentStatus
	}{
		{"0", models.TorrentStatusQueued},
		{"1", models.TorrentStatusDownloading},
		{"2", models.TorrentStatusReady},
		{"3", models.TorrentStatusError},
		{"4", models.TorrentStatusError},
		{"42", models.TorrentStatusError},
		{"oops", models.TorrentStatusError},
	}
	for _, tt := range tests {
		if got := c.NormalizeStatus(tt.raw); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestProviderErrorBlocked(t *testing.T) {
	blocked := &ProviderError{Provider: "realdebrid", StatusCode: 451, Message: "infringing_file"}
	if !blocked.Blocked() {
		t.Error("451 should report Blocked")
	}
	plain := &ProviderError{Provider: "realdebrid", StatusCode: 503, Message: "down"}
	if plain.Blocked() {
		t.Error("503 should not report Blocked")
	}
	if !(&ProviderError{StatusCode: 401}).AuthFailed() {
		t.Error("401 should report AuthFailed")
	}
}

func TestLimitSnapshots(t *testing.T) {
	snaps := []TorrentSnapshot{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 3},
		{-1, 3},
		{2, 2},
		{3, 3},
		{10, 3},
	}
	for _, tt := range tests {
		if got := len(limitSnapshots(snaps, tt.limit)); got != tt.want {
			t.Errorf("limitSnapshots(3 items, %d) returned %d, want %d", tt.limit, got, tt.want)
		}
	}
}

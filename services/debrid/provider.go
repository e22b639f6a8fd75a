package debrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bridgarr/models"
)

// Provider is the capability contract every debrid service adapter satisfies.
// Callers never see provider-specific payloads: statuses are normalized, file
// layouts are flattened, and failures carry a *ProviderError where the
// provider reported one.
type Provider interface {
	// Name returns the stable provider identifier.
	Name() string

	// ValidateToken verifies the configured token against the provider's
	// account endpoint and requires an active premium entitlement.
	ValidateToken(ctx context.Context) error

	// GetAccountInfo returns account details for the configured token.
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	// AddMagnet submits a magnet URI and returns the provider torrent ID.
	AddMagnet(ctx context.Context, magnetURL string) (*AddMagnetResult, error)

	// GetTorrentInfo retrieves a point-in-time snapshot of a torrent.
	GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentSnapshot, error)

	// SelectFiles marks files for download where the provider requires an
	// explicit selection step. Providers that auto-process treat it as a
	// no-op.
	SelectFiles(ctx context.Context, torrentID string, fileIDs string) error

	// UnrestrictLink converts a provider-hosted link into a direct
	// streaming URL.
	UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error)

	// DeleteTorrent removes the torrent from the provider account.
	DeleteTorrent(ctx context.Context, torrentID string) error

	// ListTorrents returns snapshots of torrents on the account, at most
	// limit entries. A limit of 0 or less means no limit. Providers without
	// server-side paging truncate locally.
	ListTorrents(ctx context.Context, limit int) ([]TorrentSnapshot, error)

	// NormalizeStatus maps a raw provider status value onto the shared
	// vocabulary. Unknown values map to Error.
	NormalizeStatus(raw string) models.TorrentStatus
}

// Kind identifies one of the supported providers. The set is closed: adding a
// provider means adding an adapter and a factory case, not registering at
// runtime.
type Kind string

const (
	KindRealDebrid Kind = "realdebrid"
	KindAllDebrid  Kind = "alldebrid"
	KindPremiumize Kind = "premiumize"
	KindDebridLink Kind = "debridlink"
)

var ErrUnknownProvider = errors.New("unknown debrid provider")

// ParseKind normalizes a configured provider name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realdebrid", "real-debrid", "real_debrid":
		return KindRealDebrid, nil
	case "alldebrid":
		return KindAllDebrid, nil
	case "premiumize":
		return KindPremiumize, nil
	case "debridlink", "debrid-link", "debrid_link":
		return KindDebridLink, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// New constructs the adapter for the given kind and token.
func New(kind Kind, apiKey string) (Provider, error) {
	switch kind {
	case KindRealDebrid:
		return NewRealDebridClient(apiKey), nil
	case KindAllDebrid:
		return NewAllDebridClient(apiKey), nil
	case KindPremiumize:
		return NewPremiumizeClient(apiKey), nil
	case KindDebridLink:
		return NewDebridLinkClient(apiKey), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
}

// limitSnapshots truncates a snapshot list to at most limit entries, for
// providers whose list endpoint cannot page server-side.
func limitSnapshots(snaps []TorrentSnapshot, limit int) []TorrentSnapshot {
	if limit > 0 && len(snaps) > limit {
		return snaps[:limit]
	}
	return snaps
}

// AccountInfo is the provider-agnostic view of the authenticated account.
type AccountInfo struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Premium   bool   `json:"premium"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// AddMagnetResult is returned by AddMagnet.
type AddMagnetResult struct {
	ID   string `json:"id"`
	Hash string `json:"hash,omitempty"`
	Name string `json:"name,omitempty"`
}

// TorrentSnapshot is a point-in-time view of a torrent on the provider.
type TorrentSnapshot struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Hash      string               `json:"hash,omitempty"`
	Bytes     int64                `json:"bytes"`
	Status    models.TorrentStatus `json:"status"`
	RawStatus string               `json:"rawStatus"`
	Progress  int                  `json:"progress"` // 0-100
	Files     []TorrentFile        `json:"files,omitempty"`
	Links     []string             `json:"links,omitempty"`
}

// TorrentFile is one file inside a torrent. Link is the provider-hosted link
// to pass to UnrestrictLink, where the provider exposes per-file links.
type TorrentFile struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Link     string `json:"link,omitempty"`
	Selected bool   `json:"selected"`
}

// UnrestrictResult is a direct streaming URL produced from a provider link.
type UnrestrictResult struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	DownloadURL string `json:"downloadUrl"`
}

// ProviderError is a failure reported by the provider itself, as opposed to a
// transport failure. StatusCode is the HTTP status; Code is the provider's own
// error code when it sends one.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
}

// Blocked reports whether the provider refused the resource for legal
// reasons (HTTP 451). Callers surface this as its own failure category.
func (e *ProviderError) Blocked() bool {
	return e.StatusCode == http.StatusUnavailableForLegalReasons
}

// AuthFailed reports whether the token was rejected.
func (e *ProviderError) AuthFailed() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

package models

import "time"

// CachedLink is a persisted unrestricted streaming URL for a file inside a
// tracked torrent. Links expire on the provider side (~4h), so the record
// carries its own expiry and validity flag.
type CachedLink struct {
	ID        string  `json:"id"`
	TorrentID string  `json:"torrentId"`
	EpisodeID *string `json:"episodeId,omitempty"`

	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`

	StreamingURL string `json:"streamingUrl"`
	Quality      string `json:"quality,omitempty"`
	Codec        string `json:"codec,omitempty"`

	IsValid      bool       `json:"isValid"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	LastAccessed *time.Time `json:"lastAccessed,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the link's provider-side lifetime has elapsed.
func (l *CachedLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// RemainingLifetime returns how long the link is still usable. Negative once
// expired.
func (l *CachedLink) RemainingLifetime(now time.Time) time.Duration {
	return l.ExpiresAt.Sub(now)
}

// LinkStatistics summarizes the cache for the stats endpoint and scheduler
// logging.
type LinkStatistics struct {
	Total        int `json:"total"`
	Valid        int `json:"valid"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
	Invalid      int `json:"invalid"`
}

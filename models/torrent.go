package models

import "time"

// TorrentStatus is the normalized lifecycle status shared by all debrid
// providers. Every provider-specific vocabulary (strings or numeric codes)
// maps onto exactly these values; unknown inputs map to TorrentStatusError.
type TorrentStatus string

const (
	TorrentStatusQueued      TorrentStatus = "queued"
	TorrentStatusDownloading TorrentStatus = "downloading"
	TorrentStatusProcessing  TorrentStatus = "processing"
	TorrentStatusReady       TorrentStatus = "ready"
	TorrentStatusError       TorrentStatus = "error"
	TorrentStatusExpired     TorrentStatus = "expired"
	TorrentStatusDead        TorrentStatus = "dead"

	// TorrentStatusTimedOut is local-only: the poll budget ran out while the
	// provider still reported a non-terminal status. The torrent stays
	// resumable and is picked up again by the pending-check sweep.
	TorrentStatusTimedOut TorrentStatus = "timed_out"
)

// Terminal reports whether the status ends the acquisition state machine.
// TimedOut is deliberately not terminal: the provider may still finish.
func (s TorrentStatus) Terminal() bool {
	switch s {
	case TorrentStatusReady, TorrentStatusError, TorrentStatusExpired, TorrentStatusDead:
		return true
	default:
		return false
	}
}

// TorrentCandidate is an ephemeral search result, produced by scrapers and
// never persisted. InfoHash must be non-empty and SizeBytes non-negative.
type TorrentCandidate struct {
	Title     string `json:"title"`
	InfoHash  string `json:"infoHash"`
	SizeBytes int64  `json:"sizeBytes"`
	Seeders   int    `json:"seeders,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Source    string `json:"source,omitempty"`
}

// TrackedTorrent is the persisted record for a torrent submitted to a debrid
// provider. It is created in Queued by the acquisition service and mutated
// only by the polling state machine.
type TrackedTorrent struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`

	// EpisodeID scopes the acquisition to one episode. Nil means the subject
	// is a movie; links produced from this torrent inherit the scope.
	EpisodeID *string `json:"episodeId,omitempty"`

	AccountID string `json:"accountId"`
	Provider  string `json:"provider"`

	// ProviderTorrentID is the provider-assigned identifier, unique per
	// provider.
	ProviderTorrentID string `json:"providerTorrentId"`

	InfoHash string `json:"infoHash"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`

	Status       TorrentStatus `json:"status"`
	Progress     int           `json:"progress"` // 0-100
	ErrorMessage string        `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

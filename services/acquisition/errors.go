package acquisition

import (
	"errors"

	"bridgarr/services/debrid"
)

var (
	// ErrNoCandidates means selection had nothing to pick from.
	ErrNoCandidates = errors.New("no torrent candidates")

	// ErrNoVideoFiles means the torrent completed but contained no usable
	// video file. Distinct from a provider failure.
	ErrNoVideoFiles = errors.New("no video files in torrent")

	// ErrAlreadyInFlight means another acquisition for the same subject and
	// episode is still running.
	ErrAlreadyInFlight = errors.New("acquisition already in flight for subject")

	// ErrAccountNotConfigured means the named account is missing or
	// disabled.
	ErrAccountNotConfigured = errors.New("debrid account not configured")

	// ErrPollTimeout means the poll budget ran out while the provider still
	// reported a non-terminal status. The tracked torrent stays resumable.
	ErrPollTimeout = errors.New("poll budget exhausted")

	// ErrProviderTerminal means the provider reported a terminal failure
	// state for the torrent.
	ErrProviderTerminal = errors.New("provider reported terminal failure")
)

// FailureCategory groups acquisition failures for the presentation layer.
type FailureCategory string

const (
	CategoryNoCandidates    FailureCategory = "no_candidates"
	CategoryNoVideoFiles    FailureCategory = "no_video_files"
	CategoryBlocked         FailureCategory = "blocked"
	CategoryNotConfigured   FailureCategory = "not_configured"
	CategoryTimeout         FailureCategory = "timeout"
	CategoryProviderFailure FailureCategory = "provider_failure"
)

// Categorize maps an acquisition error onto its failure category.
func Categorize(err error) FailureCategory {
	switch {
	case errors.Is(err, ErrNoCandidates):
		return CategoryNoCandidates
	case errors.Is(err, ErrNoVideoFiles):
		return CategoryNoVideoFiles
	case errors.Is(err, ErrAccountNotConfigured), errors.Is(err, debrid.ErrUnknownProvider):
		return CategoryNotConfigured
	case errors.Is(err, ErrPollTimeout):
		return CategoryTimeout
	}

	var pe *debrid.ProviderError
	if errors.As(err, &pe) && pe.Blocked() {
		return CategoryBlocked
	}
	return CategoryProviderFailure
}

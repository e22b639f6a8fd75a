// Package selector picks the best torrent candidate from scraper results.
// Selection is pure and deterministic so the same inputs always produce the
// same choice.
package selector

import (
	"sort"
	"strings"

	"bridgarr/models"
)

// Options bounds the acceptable candidate size. A zero bound disables that
// side of the window.
type Options struct {
	MinSizeBytes int64
	MaxSizeBytes int64
}

// DefaultOptions returns the standard size window of 700 MB to 15 GB.
func DefaultOptions() Options {
	return Options{
		MinSizeBytes: 700 << 20,
		MaxSizeBytes: 15 << 30,
	}
}

// SelectBest returns the highest-ranked candidate, or nil for an empty input.
// Candidates outside the size window are filtered out first; if that leaves
// nothing, the unfiltered list is ranked instead so a result is still
// produced.
func SelectBest(candidates []models.TorrentCandidate, opts Options) *models.TorrentCandidate {
	if len(candidates) == 0 {
		return nil
	}

	pool := filterBySize(candidates, opts)
	if len(pool) == 0 {
		pool = candidates
	}

	ranked := make([]models.TorrentCandidate, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		qi, qj := qualityRank(ranked[i].Quality), qualityRank(ranked[j].Quality)
		if qi != qj {
			return qi > qj
		}
		return ranked[i].Seeders > ranked[j].Seeders
	})

	best := ranked[0]
	return &best
}

func filterBySize(candidates []models.TorrentCandidate, opts Options) []models.TorrentCandidate {
	var out []models.TorrentCandidate
	for _, c := range candidates {
		if opts.MinSizeBytes > 0 && c.SizeBytes < opts.MinSizeBytes {
			continue
		}
		if opts.MaxSizeBytes > 0 && c.SizeBytes > opts.MaxSizeBytes {
			continue
		}
		out = append(out, c)
	}
	return out
}

func qualityRank(quality string) int {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "2160p", "4k", "uhd":
		return 4
	case "1080p":
		return 3
	case "720p":
		return 2
	case "480p":
		return 1
	default:
		return 0
	}
}

// Package linkcache manages the lifetime of cached streaming links: serving,
// refreshing near expiry, invalidating, and cleaning up.
package linkcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"bridgarr/config"
	"bridgarr/internal/database"
	"bridgarr/internal/lock"
	"bridgarr/models"
	"bridgarr/services/debrid"
)

// ErrLinkNotFound means no valid, unexpired link exists for the subject.
var ErrLinkNotFound = errors.New("no valid link found")

// ErrTorrentNotReady means the provider no longer reports the torrent as
// ready, so the link cannot be refreshed.
var ErrTorrentNotReady = errors.New("torrent no longer ready on provider")

// ProviderFactory builds a provider adapter for an account.
type ProviderFactory func(kind debrid.Kind, apiKey string) (debrid.Provider, error)

// Options tunes link lifetime handling.
type Options struct {
	LinkTTL          time.Duration // lifetime of a fresh link
	RefreshThreshold time.Duration // refresh when less than this remains
	CleanupAge       time.Duration // hard-delete invalid links older than this
	RefreshWorkers   int           // concurrent refreshes in the sweep
}

// DefaultOptions returns the standard tuning: 4h links, 30min refresh
// threshold, 7d cleanup, 4 refresh workers.
func DefaultOptions() Options {
	return Options{
		LinkTTL:          4 * time.Hour,
		RefreshThreshold: 30 * time.Minute,
		CleanupAge:       7 * 24 * time.Hour,
		RefreshWorkers:   4,
	}
}

// OptionsFromSettings maps the engine section of the settings file onto
// Options. Unset values keep their defaults.
func OptionsFromSettings(engine config.EngineSettings) Options {
	opts := DefaultOptions()
	if engine.LinkTTLHours > 0 {
		opts.LinkTTL = time.Duration(engine.LinkTTLHours) * time.Hour
	}
	if engine.RefreshThresholdMinutes > 0 {
		opts.RefreshThreshold = time.Duration(engine.RefreshThresholdMinutes) * time.Minute
	}
	if engine.CleanupAgeDays > 0 {
		opts.CleanupAge = time.Duration(engine.CleanupAgeDays) * 24 * time.Hour
	}
	return opts
}

// Service serves and maintains cached links.
type Service struct {
	db       *database.DB
	settings func() (config.Settings, error)
	factory  ProviderFactory
	locker   lock.Locker
	opts     Options
}

// NewService creates the link cache service.
func NewService(db *database.DB, settings func() (config.Settings, error), factory ProviderFactory, opts Options) *Service {
	if factory == nil {
		factory = debrid.New
	}
	def := DefaultOptions()
	if opts.LinkTTL == 0 {
		opts.LinkTTL = def.LinkTTL
	}
	if opts.RefreshThreshold == 0 {
		opts.RefreshThreshold = def.RefreshThreshold
	}
	if opts.CleanupAge == 0 {
		opts.CleanupAge = def.CleanupAge
	}
	if opts.RefreshWorkers == 0 {
		opts.RefreshWorkers = def.RefreshWorkers
	}
	return &Service{
		db:       db,
		settings: settings,
		factory:  factory,
		locker:   lock.NewLocker(),
		opts:     opts,
	}
}

// GetValidLink returns the newest valid, unexpired link for the subject. A
// link close to expiry is refreshed synchronously first; if the refresh
// fails, the existing link is served as-is.
func (s *Service) GetValidLink(ctx context.Context, subjectID string, episodeID *string) (*models.CachedLink, error) {
	now := time.Now().UTC()
	link, err := s.db.GetNewestValidLink(subjectID, episodeID, now)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: subject %s", ErrLinkNotFound, subjectID)
	}
	if err != nil {
		return nil, err
	}

	if link.RemainingLifetime(now) < s.opts.RefreshThreshold {
		refreshed, rerr := s.Refresh(ctx, link)
		if rerr != nil {
			// Fail open: the stored link may still work.
			log.Printf("[linkcache] refresh of %s failed, serving existing link: %v", link.ID, rerr)
		} else {
			link = refreshed
		}
	}

	if err := s.db.TouchLinkAccessed(link.ID, now); err != nil {
		log.Printf("[linkcache] touch %s: %v", link.ID, err)
	}
	return link, nil
}

// Refresh re-unrestricts the link's file and overwrites the stored URL and
// expiry. Concurrent refreshes of the same link are serialized; any failure
// leaves the stored record untouched.
func (s *Service) Refresh(ctx context.Context, link *models.CachedLink) (*models.CachedLink, error) {
	unlocker, err := s.locker.ContextLock(ctx, "link:"+link.ID)
	if err != nil {
		return nil, err
	}
	defer unlocker.Unlock()

	// Re-read under the lock: the previous holder may have refreshed it.
	current, err := s.db.GetLink(link.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if current.IsValid && current.RemainingLifetime(now) >= s.opts.RefreshThreshold {
		return current, nil
	}

	torrent, err := s.db.GetTorrent(current.TorrentID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providerForAccount(torrent.AccountID)
	if err != nil {
		return nil, err
	}

	snap, err := provider.GetTorrentInfo(ctx, torrent.ProviderTorrentID)
	if err != nil {
		return nil, err
	}
	if snap.Status != models.TorrentStatusReady {
		return nil, fmt.Errorf("%w: torrent %s is %s", ErrTorrentNotReady, torrent.ID, snap.Status)
	}

	providerLink, err := findFileLink(snap, current)
	if err != nil {
		return nil, err
	}
	unrestricted, err := provider.UnrestrictLink(ctx, providerLink)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.opts.LinkTTL)
	if err := s.db.UpdateLinkURL(current.ID, unrestricted.DownloadURL, expiresAt); err != nil {
		return nil, err
	}

	current.StreamingURL = unrestricted.DownloadURL
	current.ExpiresAt = expiresAt
	current.IsValid = true
	log.Printf("[linkcache] refreshed link %s (expires %s)", current.ID, expiresAt.Format(time.RFC3339))
	return current, nil
}

// findFileLink locates the cached file inside the snapshot and returns the
// provider link to unrestrict. Matching is by file ID first, filename second.
func findFileLink(snap *debrid.TorrentSnapshot, link *models.CachedLink) (string, error) {
	selectedIdx := -1
	for i := range snap.Files {
		f := &snap.Files[i]
		if f.Selected {
			selectedIdx++
		}
		if f.ID != link.FileID && f.Path != link.Filename {
			continue
		}
		if f.Link != "" {
			return f.Link, nil
		}
		if f.Selected && selectedIdx < len(snap.Links) {
			return snap.Links[selectedIdx], nil
		}
		return "", fmt.Errorf("file %s has no provider link", f.Path)
	}
	return "", fmt.Errorf("file %s not found in torrent", link.Filename)
}

func (s *Service) providerForAccount(accountID string) (debrid.Provider, error) {
	st, err := s.settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	account := st.GetAccountByID(accountID)
	if account == nil || !account.Enabled {
		return nil, fmt.Errorf("debrid account %s not configured", accountID)
	}
	kind, err := debrid.ParseKind(account.Provider)
	if err != nil {
		return nil, err
	}
	return s.factory(kind, account.APIKey)
}

// Invalidate marks a single link invalid. Safe to call repeatedly.
func (s *Service) Invalidate(linkID string) error {
	return s.db.InvalidateLink(linkID)
}

// InvalidateExpired flips every valid link past its expiry and returns how
// many were flipped. Idempotent.
func (s *Service) InvalidateExpired() (int, error) {
	n, err := s.db.InvalidateExpiredLinks(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[linkcache] invalidated %d expired links", n)
	}
	return n, nil
}

// RefreshExpiring refreshes every valid link inside the threshold window with
// bounded concurrency. Per-link failures are logged and skipped. Returns how
// many links were refreshed.
func (s *Service) RefreshExpiring(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expiring, err := s.db.ListLinksExpiringSoon(now, s.opts.RefreshThreshold)
	if err != nil {
		return 0, err
	}
	if len(expiring) == 0 {
		return 0, nil
	}
	log.Printf("[linkcache] refreshing %d expiring links", len(expiring))

	var mu sync.Mutex
	refreshed := 0

	p := pool.New().WithMaxGoroutines(s.opts.RefreshWorkers)
	for i := range expiring {
		link := expiring[i]
		p.Go(func() {
			if _, err := s.Refresh(ctx, &link); err != nil {
				log.Printf("[linkcache] refresh %s: %v", link.ID, err)
				return
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
		})
	}
	p.Wait()
	return refreshed, nil
}

// CleanupOld hard-deletes invalid links older than the cleanup age and
// returns how many rows were removed.
func (s *Service) CleanupOld() (int, error) {
	cutoff := time.Now().UTC().Add(-s.opts.CleanupAge)
	n, err := s.db.DeleteInvalidLinksOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[linkcache] cleaned up %d old invalid links", n)
	}
	return n, nil
}

// Statistics summarizes the cache.
func (s *Service) Statistics() (*models.LinkStatistics, error) {
	return s.db.LinkStatistics(time.Now().UTC(), s.opts.RefreshThreshold)
}

// Package acquisition drives the torrent lifecycle: pick a candidate, hand it
// to a debrid provider, poll until it is ready, and cache the unrestricted
// streaming link.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"bridgarr/config"
	"bridgarr/internal/database"
	"bridgarr/models"
	"bridgarr/services/debrid"
	"bridgarr/services/selector"
)

// ProviderFactory builds a provider adapter for an account. Swappable in
// tests.
type ProviderFactory func(kind debrid.Kind, apiKey string) (debrid.Provider, error)

// Budget bounds one poll loop.
type Budget struct {
	Attempts int
	Interval time.Duration
}

// Options tunes the service.
type Options struct {
	Selector      selector.Options
	LinkTTL       time.Duration
	DefaultBudget Budget
	Budgets       map[debrid.Kind]Budget
}

// DefaultOptions returns the standard tuning: 4h links, 15 polls at 2s, with
// larger budgets for providers that actually download before serving.
func DefaultOptions() Options {
	return Options{
		Selector:      selector.DefaultOptions(),
		LinkTTL:       4 * time.Hour,
		DefaultBudget: Budget{Attempts: 15, Interval: 2 * time.Second},
		Budgets: map[debrid.Kind]Budget{
			debrid.KindPremiumize: {Attempts: 30, Interval: 2 * time.Second},
			debrid.KindDebridLink: {Attempts: 60, Interval: 3 * time.Second},
		},
	}
}

// OptionsFromSettings maps the engine section of the settings file onto
// Options. Unset values keep their defaults.
func OptionsFromSettings(engine config.EngineSettings) Options {
	opts := DefaultOptions()
	if engine.MinSizeMB > 0 {
		opts.Selector.MinSizeBytes = int64(engine.MinSizeMB) << 20
	}
	if engine.MaxSizeMB > 0 {
		opts.Selector.MaxSizeBytes = int64(engine.MaxSizeMB) << 20
	}
	if engine.LinkTTLHours > 0 {
		opts.LinkTTL = time.Duration(engine.LinkTTLHours) * time.Hour
	}
	for name, b := range engine.PollBudgets {
		kind, err := debrid.ParseKind(name)
		if err != nil {
			log.Printf("[acquisition] ignoring poll budget for unknown provider %q", name)
			continue
		}
		budget := opts.Budgets[kind]
		if budget.Attempts == 0 {
			budget = opts.DefaultBudget
		}
		if b.Attempts > 0 {
			budget.Attempts = b.Attempts
		}
		if b.IntervalSeconds > 0 {
			budget.Interval = time.Duration(b.IntervalSeconds) * time.Second
		}
		opts.Budgets[kind] = budget
	}
	return opts
}

// AcquireRequest names the subject, the owning account, and the candidate
// pool to acquire from.
type AcquireRequest struct {
	SubjectID  string
	EpisodeID  *string
	AccountID  string
	Candidates []models.TorrentCandidate
}

// AcquireResult is a successful acquisition.
type AcquireResult struct {
	Torrent *models.TrackedTorrent `json:"torrent"`
	Link    *models.CachedLink     `json:"link"`
}

// Service runs acquisitions against the store and the configured accounts.
type Service struct {
	db       *database.DB
	settings func() (config.Settings, error)
	factory  ProviderFactory
	opts     Options

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates the acquisition service.
func NewService(db *database.DB, settings func() (config.Settings, error), factory ProviderFactory, opts Options) *Service {
	if factory == nil {
		factory = debrid.New
	}
	if opts.DefaultBudget.Attempts == 0 {
		opts.DefaultBudget = DefaultOptions().DefaultBudget
	}
	if opts.LinkTTL == 0 {
		opts.LinkTTL = DefaultOptions().LinkTTL
	}
	return &Service{
		db:       db,
		settings: settings,
		factory:  factory,
		opts:     opts,
		inFlight: map[string]struct{}{},
	}
}

func subjectKey(subjectID string, episodeID *string) string {
	if episodeID == nil {
		return subjectID
	}
	return subjectID + "|" + *episodeID
}

func (s *Service) markInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Service) clearInFlight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// Acquire selects the best candidate, submits it to the account's provider,
// polls until terminal or budget exhaustion, and caches the streaming link.
func (s *Service) Acquire(ctx context.Context, req AcquireRequest) (*AcquireResult, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, fmt.Errorf("subject ID is required")
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, fmt.Errorf("account ID is required")
	}

	key := subjectKey(req.SubjectID, req.EpisodeID)
	if !s.markInFlight(key) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInFlight, key)
	}
	defer s.clearInFlight(key)

	provider, kind, err := s.providerForAccount(req.AccountID)
	if err != nil {
		return nil, err
	}

	best := selector.SelectBest(req.Candidates, s.opts.Selector)
	if best == nil {
		return nil, fmt.Errorf("%w for subject %s", ErrNoCandidates, req.SubjectID)
	}
	log.Printf("[acquisition] subject %s: selected %q (%d bytes, %d seeders, %s)",
		req.SubjectID, best.Title, best.SizeBytes, best.Seeders, best.Quality)

	added, err := provider.AddMagnet(ctx, magnetURI(best))
	if err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}

	torrent := &models.TrackedTorrent{
		SubjectID:         req.SubjectID,
		EpisodeID:         req.EpisodeID,
		AccountID:         req.AccountID,
		Provider:          string(kind),
		ProviderTorrentID: added.ID,
		InfoHash:          strings.ToLower(best.InfoHash),
		Name:              best.Title,
		Size:              best.SizeBytes,
		Status:            models.TorrentStatusQueued,
	}
	if err := s.db.CreateTorrent(torrent); err != nil {
		return nil, err
	}

	snap, err := s.poll(ctx, provider, kind, torrent)
	if err != nil {
		return nil, err
	}

	link, err := s.finalize(ctx, provider, torrent, snap, best.Quality)
	if err != nil {
		return nil, err
	}
	return &AcquireResult{Torrent: torrent, Link: link}, nil
}

func (s *Service) providerForAccount(accountID string) (debrid.Provider, debrid.Kind, error) {
	st, err := s.settings()
	if err != nil {
		return nil, "", fmt.Errorf("load settings: %w", err)
	}
	account := st.GetAccountByID(accountID)
	if account == nil || !account.Enabled {
		return nil, "", fmt.Errorf("%w: %s", ErrAccountNotConfigured, accountID)
	}
	kind, err := debrid.ParseKind(account.Provider)
	if err != nil {
		return nil, "", err
	}
	provider, err := s.factory(kind, account.APIKey)
	if err != nil {
		return nil, "", err
	}
	return provider, kind, nil
}

func (s *Service) budgetFor(kind debrid.Kind) Budget {
	if b, ok := s.opts.Budgets[kind]; ok && b.Attempts > 0 {
		return b
	}
	return s.opts.DefaultBudget
}

// poll drives the tracked torrent through the provider until it reaches a
// terminal status or the budget runs out. Cancellation leaves the record in
// its last observed state.
func (s *Service) poll(ctx context.Context, provider debrid.Provider, kind debrid.Kind, torrent *models.TrackedTorrent) (*debrid.TorrentSnapshot, error) {
	budget := s.budgetFor(kind)
	filesSelected := false

	snap, err := pollTorrent(ctx, provider, torrent.ProviderTorrentID, budget, func(snap *debrid.TorrentSnapshot) {
		if snap.RawStatus == debrid.RawStatusWaitingFilesSelection && !filesSelected {
			if err := provider.SelectFiles(ctx, torrent.ProviderTorrentID, "all"); err != nil {
				log.Printf("[acquisition] select files on %s failed: %v", torrent.ProviderTorrentID, err)
			} else {
				filesSelected = true
			}
		}
		torrent.Status = snap.Status
		torrent.Progress = snap.Progress
		if err := s.db.UpdateTorrentStatus(torrent.ID, snap.Status, snap.Progress, ""); err != nil {
			log.Printf("[acquisition] update torrent %s: %v", torrent.ID, err)
		}
	})

	if errors.Is(err, ErrPollTimeout) {
		torrent.Status = models.TorrentStatusTimedOut
		if uerr := s.db.UpdateTorrentStatus(torrent.ID, models.TorrentStatusTimedOut, torrent.Progress, ""); uerr != nil {
			log.Printf("[acquisition] update torrent %s: %v", torrent.ID, uerr)
		}
		log.Printf("[acquisition] torrent %s timed out after %d polls, still resumable", torrent.ID, budget.Attempts)
		return nil, fmt.Errorf("torrent %s: %w", torrent.ID, err)
	}
	if err != nil {
		return nil, err
	}

	if snap.Status != models.TorrentStatusReady {
		detail := fmt.Sprintf("provider status %s", snap.RawStatus)
		torrent.Status = snap.Status
		torrent.ErrorMessage = detail
		if uerr := s.db.UpdateTorrentStatus(torrent.ID, snap.Status, snap.Progress, detail); uerr != nil {
			log.Printf("[acquisition] update torrent %s: %v", torrent.ID, uerr)
		}
		return nil, fmt.Errorf("torrent %s ended %s: %w", torrent.ID, snap.Status, ErrProviderTerminal)
	}
	return snap, nil
}

// pollTorrent is the bare poll loop: one immediate snapshot, then one per
// tick until the status is terminal or attempts are spent. observe sees every
// snapshot.
func pollTorrent(ctx context.Context, provider debrid.Provider, providerTorrentID string, budget Budget, observe func(*debrid.TorrentSnapshot)) (*debrid.TorrentSnapshot, error) {
	ticker := time.NewTicker(budget.Interval)
	defer ticker.Stop()

	for attempt := 0; attempt < budget.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}

		snap, err := provider.GetTorrentInfo(ctx, providerTorrentID)
		if err != nil {
			return nil, fmt.Errorf("poll torrent: %w", err)
		}
		if observe != nil {
			observe(snap)
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
	}
	return nil, ErrPollTimeout
}

// finalize turns a ready snapshot into a cached link: largest video file,
// unrestrict, persist, flip availability. The link inherits the torrent's
// episode scope so pending-check finalizations keep episode links reachable.
func (s *Service) finalize(ctx context.Context, provider debrid.Provider, torrent *models.TrackedTorrent, snap *debrid.TorrentSnapshot, quality string) (*models.CachedLink, error) {
	file, link := pickVideoFile(snap)
	if file == nil {
		detail := "no video files in torrent"
		torrent.Status = models.TorrentStatusError
		torrent.ErrorMessage = detail
		if err := s.db.UpdateTorrentStatus(torrent.ID, models.TorrentStatusError, snap.Progress, detail); err != nil {
			log.Printf("[acquisition] update torrent %s: %v", torrent.ID, err)
		}
		return nil, fmt.Errorf("torrent %s: %w", torrent.ID, ErrNoVideoFiles)
	}

	unrestricted, err := provider.UnrestrictLink(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("unrestrict %s: %w", file.Path, err)
	}

	if quality == "" {
		quality = qualityFromName(torrent.Name)
	}
	cached := &models.CachedLink{
		TorrentID:    torrent.ID,
		EpisodeID:    torrent.EpisodeID,
		FileID:       file.ID,
		Filename:     file.Path,
		Filesize:     file.Bytes,
		StreamingURL: unrestricted.DownloadURL,
		Quality:      quality,
		IsValid:      true,
		ExpiresAt:    time.Now().UTC().Add(s.opts.LinkTTL),
	}
	if err := s.db.CreateLink(cached); err != nil {
		return nil, err
	}
	if err := s.db.SetSubjectAvailability(torrent.SubjectID, true); err != nil {
		log.Printf("[acquisition] set availability for %s: %v", torrent.SubjectID, err)
	}

	log.Printf("[acquisition] torrent %s ready: cached %s (expires %s)",
		torrent.ID, file.Path, cached.ExpiresAt.Format(time.RFC3339))
	return cached, nil
}

// pickVideoFile returns the largest video file in the snapshot and the
// provider link to unrestrict for it. Archives and non-video files never
// qualify.
func pickVideoFile(snap *debrid.TorrentSnapshot) (*debrid.TorrentFile, string) {
	var best *debrid.TorrentFile
	bestLink := ""
	selectedIdx := -1
	for i := range snap.Files {
		f := &snap.Files[i]
		if f.Selected {
			selectedIdx++
		}
		if !debrid.IsVideoFilename(f.Path) {
			continue
		}
		if best != nil && f.Bytes <= best.Bytes {
			continue
		}
		best = f
		bestLink = ""
		if f.Link != "" {
			bestLink = f.Link
		} else if f.Selected && selectedIdx < len(snap.Links) {
			// Providers without per-file links expose a links array
			// parallel to the selected files.
			bestLink = snap.Links[selectedIdx]
		}
	}
	return best, bestLink
}

func magnetURI(c *models.TorrentCandidate) string {
	uri := "magnet:?xt=urn:btih:" + strings.ToLower(strings.TrimSpace(c.InfoHash))
	if c.Title != "" {
		uri += "&dn=" + url.QueryEscape(c.Title)
	}
	return uri
}

func qualityFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "2160p") || strings.Contains(lower, "4k"):
		return "2160p"
	case strings.Contains(lower, "1080p"):
		return "1080p"
	case strings.Contains(lower, "720p"):
		return "720p"
	case strings.Contains(lower, "480p"):
		return "480p"
	default:
		return ""
	}
}

// CheckPending re-polls every non-terminal torrent once and finalizes the
// ones that are now ready. This is also how timed-out torrents get picked
// back up. Returns how many were finalized; per-torrent failures are logged
// and skipped.
func (s *Service) CheckPending(ctx context.Context) (int, error) {
	pending, err := s.db.ListTorrentsByStatus(
		models.TorrentStatusQueued,
		models.TorrentStatusDownloading,
		models.TorrentStatusProcessing,
		models.TorrentStatusTimedOut,
	)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	log.Printf("[acquisition] checking %d pending torrents", len(pending))

	finalized := 0
	for i := range pending {
		torrent := &pending[i]
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}

		provider, _, err := s.providerForAccount(torrent.AccountID)
		if err != nil {
			log.Printf("[acquisition] pending torrent %s: %v", torrent.ID, err)
			continue
		}

		snap, err := provider.GetTorrentInfo(ctx, torrent.ProviderTorrentID)
		if err != nil {
			log.Printf("[acquisition] pending torrent %s: %v", torrent.ID, err)
			continue
		}

		if snap.Status.Terminal() && snap.Status != models.TorrentStatusReady {
			detail := fmt.Sprintf("provider status %s", snap.RawStatus)
			if err := s.db.UpdateTorrentStatus(torrent.ID, snap.Status, snap.Progress, detail); err != nil {
				log.Printf("[acquisition] pending torrent %s: %v", torrent.ID, err)
			}
			continue
		}
		if err := s.db.UpdateTorrentStatus(torrent.ID, snap.Status, snap.Progress, ""); err != nil {
			log.Printf("[acquisition] pending torrent %s: %v", torrent.ID, err)
			continue
		}
		if snap.Status != models.TorrentStatusReady {
			continue
		}

		if _, err := s.finalize(ctx, provider, torrent, snap, ""); err != nil {
			log.Printf("[acquisition] finalize pending torrent %s: %v", torrent.ID, err)
			continue
		}
		finalized++
	}
	return finalized, nil
}

// Remove deletes the torrent from the provider (best effort) and then from
// the store. Links cascade; availability is recomputed.
func (s *Service) Remove(ctx context.Context, torrentID string) error {
	torrent, err := s.db.GetTorrent(torrentID)
	if err != nil {
		return err
	}

	if provider, _, perr := s.providerForAccount(torrent.AccountID); perr == nil {
		if derr := provider.DeleteTorrent(ctx, torrent.ProviderTorrentID); derr != nil {
			log.Printf("[acquisition] remote delete of %s failed: %v", torrent.ProviderTorrentID, derr)
		}
	} else {
		log.Printf("[acquisition] skipping remote delete for %s: %v", torrentID, perr)
	}

	if err := s.db.DeleteTorrent(torrent.ID); err != nil {
		return err
	}

	// Any remaining valid link, movie or episode scoped, keeps the subject
	// available.
	remaining, err := s.db.HasValidLinkForSubject(torrent.SubjectID, time.Now().UTC())
	if err != nil {
		log.Printf("[acquisition] recompute availability for %s: %v", torrent.SubjectID, err)
		return nil
	}
	if !remaining {
		if aerr := s.db.SetSubjectAvailability(torrent.SubjectID, false); aerr != nil {
			log.Printf("[acquisition] clear availability for %s: %v", torrent.SubjectID, aerr)
		}
	}
	return nil
}

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bridgarr/config"
	"bridgarr/internal/database"
	"bridgarr/models"
	"bridgarr/services/debrid"
)

// fakeProvider plays back a scripted sequence of snapshots.
type fakeProvider struct {
	mu          sync.Mutex
	snapshots   []debrid.TorrentSnapshot
	idx         int
	added       int
	addErr      error
	pollErr     error
	selectCalls int
	deleted     []string
	pollGate    chan struct{} // when set, GetTorrentInfo blocks until closed
}

func (f *fakeProvider) Name() string { return "realdebrid" }

func (f *fakeProvider) ValidateToken(ctx context.Context) error { return nil }

func (f *fakeProvider) GetAccountInfo(ctx context.Context) (*debrid.AccountInfo, error) {
	return &debrid.AccountInfo{Username: "tester", Premium: true}, nil
}

func (f *fakeProvider) AddMagnet(ctx context.Context, magnetURL string) (*debrid.AddMagnetResult, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added++
	return &debrid.AddMagnetResult{ID: fmt.Sprintf("prov-%d", f.added)}, nil
}

func (f *fakeProvider) GetTorrentInfo(ctx context.Context, torrentID string) (*debrid.TorrentSnapshot, error) {
	if f.pollGate != nil {
		select {
		case <-f.pollGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	i := f.idx
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	f.idx++
	snap := f.snapshots[i]
	return &snap, nil
}

func (f *fakeProvider) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls++
	return nil
}

func (f *fakeProvider) UnrestrictLink(ctx context.Context, link string) (*debrid.UnrestrictResult, error) {
	return &debrid.UnrestrictResult{Filename: "file", DownloadURL: "https://cdn.example/direct/" + link}, nil
}

func (f *fakeProvider) DeleteTorrent(ctx context.Context, torrentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, torrentID)
	return nil
}

func (f *fakeProvider) ListTorrents(ctx context.Context, limit int) ([]debrid.TorrentSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeProvider) NormalizeStatus(raw string) models.TorrentStatus {
	return models.TorrentStatus(raw)
}

func (f *fakeProvider) setSnapshots(snaps ...debrid.TorrentSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = snaps
	f.idx = 0
}

func readySnapshot() debrid.TorrentSnapshot {
	return debrid.TorrentSnapshot{
		ID:        "prov-1",
		Name:      "Movie.2023.1080p",
		Status:    models.TorrentStatusReady,
		RawStatus: "downloaded",
		Progress:  100,
		Files: []debrid.TorrentFile{
			{ID: "1", Path: "Movie.2023.1080p/movie.mkv", Bytes: 4 << 30, Selected: true},
			{ID: "2", Path: "Movie.2023.1080p/sample.mkv", Bytes: 50 << 20, Selected: true},
			{ID: "3", Path: "Movie.2023.1080p/readme.rar", Bytes: 1 << 20, Selected: true},
		},
		Links: []string{"link-movie", "link-sample", "link-readme"},
	}
}

func testCandidates() []models.TorrentCandidate {
	return []models.TorrentCandidate{
		{Title: "Movie.2023.1080p", InfoHash: "ABCDEF0123456789abcdef0123456789abcdef01", SizeBytes: 4 << 30, Seeders: 42, Quality: "1080p"},
	}
}

func testService(t *testing.T, fake *fakeProvider) (*Service, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	settings := func() (config.Settings, error) {
		s := config.DefaultSettings()
		s.DebridAccounts = []config.DebridAccountSettings{
			{ID: "acct-1", Name: "Main", Provider: "realdebrid", APIKey: "token", Enabled: true},
		}
		return s, nil
	}
	factory := func(kind debrid.Kind, apiKey string) (debrid.Provider, error) {
		return fake, nil
	}

	opts := DefaultOptions()
	opts.DefaultBudget = Budget{Attempts: 4, Interval: time.Millisecond}
	opts.Budgets = nil
	return NewService(db, settings, factory, opts), db
}

func TestAcquireHappyPath(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusQueued, RawStatus: "queued"},
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusDownloading, RawStatus: "downloading", Progress: 50},
		readySnapshot(),
	)
	svc, db := testService(t, fake)

	res, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID:  "movie-1",
		AccountID:  "acct-1",
		Candidates: testCandidates(),
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if res.Torrent.Status != models.TorrentStatusReady {
		t.Errorf("torrent status = %s, want ready", res.Torrent.Status)
	}
	// Largest video wins; sample and archive are skipped.
	if res.Link.Filename != "Movie.2023.1080p/movie.mkv" {
		t.Errorf("cached filename = %s", res.Link.Filename)
	}
	if res.Link.StreamingURL != "https://cdn.example/direct/link-movie" {
		t.Errorf("streaming URL = %s", res.Link.StreamingURL)
	}
	if !res.Link.IsValid {
		t.Error("cached link should be valid")
	}
	remaining := time.Until(res.Link.ExpiresAt)
	if remaining < 3*time.Hour || remaining > 5*time.Hour {
		t.Errorf("link TTL = %s, want about 4h", remaining)
	}

	available, err := db.IsSubjectAvailable("movie-1")
	if err != nil || !available {
		t.Errorf("subject availability = %v, %v; want true", available, err)
	}

	stored, err := db.GetTorrent(res.Torrent.ID)
	if err != nil {
		t.Fatalf("stored torrent: %v", err)
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
}

func TestAcquireWaitingFilesSelection(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusQueued, RawStatus: debrid.RawStatusWaitingFilesSelection},
		readySnapshot(),
	)
	svc, _ := testService(t, fake)

	if _, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if fake.selectCalls != 1 {
		t.Errorf("SelectFiles calls = %d, want 1", fake.selectCalls)
	}
}

func TestAcquireTimeoutThenCheckPending(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusDownloading, RawStatus: "downloading", Progress: 30},
	)
	svc, db := testService(t, fake)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("Acquire error = %v, want ErrPollTimeout", err)
	}
	if got := Categorize(err); got != CategoryTimeout {
		t.Errorf("Categorize = %s, want timeout", got)
	}

	torrents, err := db.ListTorrentsByStatus(models.TorrentStatusTimedOut)
	if err != nil || len(torrents) != 1 {
		t.Fatalf("timed out torrents = %v, %v", torrents, err)
	}

	// The provider finishes later; the pending sweep picks it up.
	fake.setSnapshots(readySnapshot())
	finalized, err := svc.CheckPending(context.Background())
	if err != nil {
		t.Fatalf("CheckPending: %v", err)
	}
	if finalized != 1 {
		t.Errorf("finalized = %d, want 1", finalized)
	}

	stored, err := db.GetTorrent(torrents[0].ID)
	if err != nil {
		t.Fatalf("stored torrent: %v", err)
	}
	if stored.Status != models.TorrentStatusReady {
		t.Errorf("status after pending check = %s, want ready", stored.Status)
	}
	if _, err := db.GetNewestValidLink("movie-1", nil, time.Now().UTC()); err != nil {
		t.Errorf("expected cached link after pending check: %v", err)
	}
}

func TestCheckPendingKeepsEpisodeScope(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusDownloading, RawStatus: "downloading", Progress: 30},
	)
	svc, db := testService(t, fake)

	episode := "s01e02"
	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "show-1", EpisodeID: &episode, AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("Acquire error = %v, want ErrPollTimeout", err)
	}

	timedOut, err := db.ListTorrentsByStatus(models.TorrentStatusTimedOut)
	if err != nil || len(timedOut) != 1 {
		t.Fatalf("timed out torrents = %v, %v", timedOut, err)
	}
	if timedOut[0].EpisodeID == nil || *timedOut[0].EpisodeID != episode {
		t.Fatalf("stored episode scope = %v, want %s", timedOut[0].EpisodeID, episode)
	}

	fake.setSnapshots(readySnapshot())
	finalized, err := svc.CheckPending(context.Background())
	if err != nil || finalized != 1 {
		t.Fatalf("CheckPending = %d, %v; want 1", finalized, err)
	}

	// The finalized link stays episode scoped: reachable via the episode
	// lookup, invisible to the movie lookup.
	now := time.Now().UTC()
	link, err := db.GetNewestValidLink("show-1", &episode, now)
	if err != nil {
		t.Fatalf("episode link lookup: %v", err)
	}
	if link.EpisodeID == nil || *link.EpisodeID != episode {
		t.Errorf("link episode scope = %v, want %s", link.EpisodeID, episode)
	}
	if _, err := db.GetNewestValidLink("show-1", nil, now); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("movie lookup = %v, want ErrNotFound", err)
	}
}

func TestAcquireNoVideoFiles(t *testing.T) {
	snap := readySnapshot()
	snap.Files = []debrid.TorrentFile{
		{ID: "1", Path: "release.rar", Bytes: 4 << 30, Selected: true},
		{ID: "2", Path: "notes.txt", Bytes: 1 << 10, Selected: true},
	}
	snap.Links = []string{"link-rar", "link-txt"}

	fake := &fakeProvider{}
	fake.setSnapshots(snap)
	svc, db := testService(t, fake)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrNoVideoFiles) {
		t.Fatalf("Acquire error = %v, want ErrNoVideoFiles", err)
	}
	if got := Categorize(err); got != CategoryNoVideoFiles {
		t.Errorf("Categorize = %s, want no_video_files", got)
	}

	failed, err := db.ListTorrentsByStatus(models.TorrentStatusError)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed torrents = %v, %v", failed, err)
	}
	if failed[0].ErrorMessage == "" {
		t.Error("error detail should be recorded")
	}
}

func TestAcquireProviderTerminalError(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusError, RawStatus: "magnet_error"},
	)
	svc, _ := testService(t, fake)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrProviderTerminal) {
		t.Fatalf("Acquire error = %v, want ErrProviderTerminal", err)
	}
}

func TestAcquireNoCandidates(t *testing.T) {
	fake := &fakeProvider{}
	svc, _ := testService(t, fake)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1",
	})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("Acquire error = %v, want ErrNoCandidates", err)
	}
	if got := Categorize(err); got != CategoryNoCandidates {
		t.Errorf("Categorize = %s", got)
	}
}

func TestAcquireUnknownAccount(t *testing.T) {
	fake := &fakeProvider{}
	svc, _ := testService(t, fake)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "nope", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrAccountNotConfigured) {
		t.Fatalf("Acquire error = %v, want ErrAccountNotConfigured", err)
	}
	if got := Categorize(err); got != CategoryNotConfigured {
		t.Errorf("Categorize = %s", got)
	}
}

func TestAcquireRejectsConcurrentSameSubject(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeProvider{pollGate: gate}
	fake.setSnapshots(readySnapshot())
	svc, _ := testService(t, fake)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.Acquire(context.Background(), AcquireRequest{
			SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
		})
		done <- err
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // let the first call reach the poll

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, ErrAlreadyInFlight) {
		t.Fatalf("second Acquire error = %v, want ErrAlreadyInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// A different episode of the same subject is a different key.
	episode := "s01e01"
	if _, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", EpisodeID: &episode, AccountID: "acct-1", Candidates: testCandidates(),
	}); err != nil {
		t.Fatalf("episode-scoped Acquire: %v", err)
	}
}

func TestAcquireCancellationKeepsLastState(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(
		debrid.TorrentSnapshot{ID: "prov-1", Status: models.TorrentStatusDownloading, RawStatus: "downloading", Progress: 10},
	)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	settings := func() (config.Settings, error) {
		s := config.DefaultSettings()
		s.DebridAccounts = []config.DebridAccountSettings{
			{ID: "acct-1", Provider: "realdebrid", APIKey: "token", Enabled: true},
		}
		return s, nil
	}
	opts := DefaultOptions()
	opts.DefaultBudget = Budget{Attempts: 100, Interval: 10 * time.Millisecond}
	opts.Budgets = nil
	svc := NewService(db, settings, func(debrid.Kind, string) (debrid.Provider, error) { return fake, nil }, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	_, err = svc.Acquire(ctx, AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}

	// Record keeps its last observed non-terminal state.
	downloading, err := db.ListTorrentsByStatus(models.TorrentStatusDownloading)
	if err != nil || len(downloading) != 1 {
		t.Fatalf("downloading torrents = %v, %v", downloading, err)
	}
}

func TestRemove(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(readySnapshot())
	svc, db := testService(t, fake)

	res, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "movie-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := svc.Remove(context.Background(), res.Torrent.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(fake.deleted) != 1 || fake.deleted[0] != "prov-1" {
		t.Errorf("remote deletes = %v", fake.deleted)
	}
	if _, err := db.GetTorrent(res.Torrent.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("local torrent should be gone, got %v", err)
	}
	if _, err := db.GetLink(res.Link.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("cached link should cascade, got %v", err)
	}
	available, _ := db.IsSubjectAvailable("movie-1")
	if available {
		t.Error("availability should be cleared")
	}
}

func TestRemoveKeepsAvailabilityWithEpisodeLink(t *testing.T) {
	fake := &fakeProvider{}
	fake.setSnapshots(readySnapshot())
	svc, db := testService(t, fake)

	episode := "s01e01"
	if _, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "show-1", EpisodeID: &episode, AccountID: "acct-1", Candidates: testCandidates(),
	}); err != nil {
		t.Fatalf("episode Acquire: %v", err)
	}

	fake.setSnapshots(readySnapshot())
	movie, err := svc.Acquire(context.Background(), AcquireRequest{
		SubjectID: "show-1", AccountID: "acct-1", Candidates: testCandidates(),
	})
	if err != nil {
		t.Fatalf("movie Acquire: %v", err)
	}

	if err := svc.Remove(context.Background(), movie.Torrent.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// The episode link from the other torrent is still valid, so the subject
	// stays available.
	available, err := db.IsSubjectAvailable("show-1")
	if err != nil {
		t.Fatalf("IsSubjectAvailable: %v", err)
	}
	if !available {
		t.Error("availability should survive while an episode link remains")
	}
	if _, err := db.GetNewestValidLink("show-1", &episode, time.Now().UTC()); err != nil {
		t.Errorf("episode link should remain: %v", err)
	}
}

func TestCategorizeBlocked(t *testing.T) {
	err := &debrid.ProviderError{Provider: "realdebrid", StatusCode: 451, Message: "infringing_file"}
	if got := Categorize(err); got != CategoryBlocked {
		t.Errorf("Categorize(451) = %s, want blocked", got)
	}
}

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bridgarr/models"
)

const torrentColumns = `id, subject_id, episode_id, account_id, provider, provider_torrent_id, info_hash,
	name, size_bytes, status, progress, error_message, created_at, updated_at, completed_at`

// CreateTorrent inserts a tracked torrent. A missing ID is assigned and
// timestamps are set.
func (db *DB) CreateTorrent(t *models.TrackedTorrent) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO tracked_torrents (`+torrentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubjectID, t.EpisodeID, t.AccountID, t.Provider, t.ProviderTorrentID, t.InfoHash,
		t.Name, t.Size, string(t.Status), t.Progress, t.ErrorMessage,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracked torrent: %w", err)
	}
	return nil
}

// GetTorrent returns one tracked torrent by ID.
func (db *DB) GetTorrent(id string) (*models.TrackedTorrent, error) {
	row := db.conn.QueryRow(`SELECT `+torrentColumns+` FROM tracked_torrents WHERE id = ?`, id)
	return scanTorrent(row)
}

// GetTorrentByProviderID returns the torrent tracked under a provider's own
// identifier.
func (db *DB) GetTorrentByProviderID(provider, providerTorrentID string) (*models.TrackedTorrent, error) {
	row := db.conn.QueryRow(`SELECT `+torrentColumns+` FROM tracked_torrents
		WHERE provider = ? AND provider_torrent_id = ?`, provider, providerTorrentID)
	return scanTorrent(row)
}

// UpdateTorrentStatus applies one observed poll result. CompletedAt is set on
// the first transition to ready.
func (db *DB) UpdateTorrentStatus(id string, status models.TorrentStatus, progress int, errorMessage string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if status == models.TorrentStatusReady {
		res, err = db.conn.Exec(`
			UPDATE tracked_torrents
			SET status = ?, progress = ?, error_message = ?, updated_at = ?,
			    completed_at = COALESCE(completed_at, ?)
			WHERE id = ?`,
			string(status), progress, errorMessage, now, now, id)
	} else {
		res, err = db.conn.Exec(`
			UPDATE tracked_torrents
			SET status = ?, progress = ?, error_message = ?, updated_at = ?
			WHERE id = ?`,
			string(status), progress, errorMessage, now, id)
	}
	if err != nil {
		return fmt.Errorf("update torrent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTorrents returns all tracked torrents, newest first.
func (db *DB) ListTorrents() ([]models.TrackedTorrent, error) {
	rows, err := db.conn.Query(`SELECT ` + torrentColumns + ` FROM tracked_torrents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// ListTorrentsBySubject returns all tracked torrents for one subject.
func (db *DB) ListTorrentsBySubject(subjectID string) ([]models.TrackedTorrent, error) {
	rows, err := db.conn.Query(`SELECT `+torrentColumns+` FROM tracked_torrents
		WHERE subject_id = ? ORDER BY created_at DESC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list torrents by subject: %w", err)
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// ListTorrentsByStatus returns torrents in any of the given statuses.
func (db *DB) ListTorrentsByStatus(statuses ...models.TorrentStatus) ([]models.TrackedTorrent, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	rows, err := db.conn.Query(`SELECT `+torrentColumns+` FROM tracked_torrents
		WHERE status IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list torrents by status: %w", err)
	}
	defer rows.Close()
	return scanTorrents(rows)
}

// DeleteTorrent removes the record. Cached links cascade.
func (db *DB) DeleteTorrent(id string) error {
	res, err := db.conn.Exec(`DELETE FROM tracked_torrents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type torrentScanner interface {
	Scan(dest ...any) error
}

func scanTorrent(row torrentScanner) (*models.TrackedTorrent, error) {
	var t models.TrackedTorrent
	var episodeID sql.NullString
	var status string
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.SubjectID, &episodeID, &t.AccountID, &t.Provider, &t.ProviderTorrentID, &t.InfoHash,
		&t.Name, &t.Size, &status, &t.Progress, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tracked torrent: %w", err)
	}
	if episodeID.Valid {
		v := episodeID.String
		t.EpisodeID = &v
	}
	t.Status = models.TorrentStatus(status)
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func scanTorrents(rows *sql.Rows) ([]models.TrackedTorrent, error) {
	var out []models.TrackedTorrent
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bridgarr/models"
)

const linkColumns = `id, torrent_id, episode_id, file_id, filename, filesize, streaming_url,
	quality, codec, is_valid, expires_at, last_accessed, created_at, updated_at`

// CreateLink inserts a cached link. A missing ID is assigned and timestamps
// are set.
func (db *DB) CreateLink(l *models.CachedLink) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO cached_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TorrentID, l.EpisodeID, l.FileID, l.Filename, l.Filesize, l.StreamingURL,
		l.Quality, l.Codec, l.IsValid, l.ExpiresAt, l.LastAccessed, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cached link: %w", err)
	}
	return nil
}

// GetLink returns one cached link by ID.
func (db *DB) GetLink(id string) (*models.CachedLink, error) {
	row := db.conn.QueryRow(`SELECT `+linkColumns+` FROM cached_links WHERE id = ?`, id)
	return scanLink(row)
}

// GetNewestValidLink returns the newest valid, unexpired link for a subject.
// A nil episodeID matches links without an episode; otherwise the episode
// must match exactly.
func (db *DB) GetNewestValidLink(subjectID string, episodeID *string, now time.Time) (*models.CachedLink, error) {
	query := `
		SELECT ` + prefixedLinkColumns("l") + `
		FROM cached_links l
		JOIN tracked_torrents t ON t.id = l.torrent_id
		WHERE t.subject_id = ? AND l.is_valid = 1 AND l.expires_at > ?`
	args := []any{subjectID, now.UTC()}
	if episodeID == nil {
		query += ` AND l.episode_id IS NULL`
	} else {
		query += ` AND l.episode_id = ?`
		args = append(args, *episodeID)
	}
	query += ` ORDER BY l.created_at DESC LIMIT 1`

	row := db.conn.QueryRow(query, args...)
	return scanLink(row)
}

// HasValidLinkForSubject reports whether any valid, unexpired link exists for
// the subject, regardless of episode scope.
func (db *DB) HasValidLinkForSubject(subjectID string, now time.Time) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM cached_links l
			JOIN tracked_torrents t ON t.id = l.torrent_id
			WHERE t.subject_id = ? AND l.is_valid = 1 AND l.expires_at > ?
		)`, subjectID, now.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has valid link: %w", err)
	}
	return exists, nil
}

// UpdateLinkURL overwrites the streaming URL and expiry after a successful
// refresh and marks the link valid again.
func (db *DB) UpdateLinkURL(id, streamingURL string, expiresAt time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE cached_links
		SET streaming_url = ?, expires_at = ?, is_valid = 1, updated_at = ?
		WHERE id = ?`,
		streamingURL, expiresAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update link url: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLinkAccessed records that the link was served to a caller.
func (db *DB) TouchLinkAccessed(id string, now time.Time) error {
	_, err := db.conn.Exec(`UPDATE cached_links SET last_accessed = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch link: %w", err)
	}
	return nil
}

// InvalidateLink marks a single link invalid. Already-invalid links are left
// alone, so the operation is idempotent.
func (db *DB) InvalidateLink(id string) error {
	_, err := db.conn.Exec(`
		UPDATE cached_links SET is_valid = 0, updated_at = ?
		WHERE id = ? AND is_valid = 1`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("invalidate link: %w", err)
	}
	return nil
}

// InvalidateExpiredLinks flips every valid link whose expiry has passed and
// returns how many were flipped.
func (db *DB) InvalidateExpiredLinks(now time.Time) (int, error) {
	res, err := db.conn.Exec(`
		UPDATE cached_links SET is_valid = 0, updated_at = ?
		WHERE is_valid = 1 AND expires_at <= ?`,
		now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("invalidate expired links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListLinksExpiringSoon returns valid links that expire within the threshold
// but have not expired yet.
func (db *DB) ListLinksExpiringSoon(now time.Time, threshold time.Duration) ([]models.CachedLink, error) {
	cutoff := now.Add(threshold).UTC()
	rows, err := db.conn.Query(`
		SELECT `+linkColumns+` FROM cached_links
		WHERE is_valid = 1 AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at ASC`,
		now.UTC(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// DeleteInvalidLinksOlderThan hard-deletes invalid links created before the
// cutoff. The age is measured from creation, not from invalidation, so a late
// invalidation does not defer cleanup. Returns how many rows were removed.
func (db *DB) DeleteInvalidLinksOlderThan(cutoff time.Time) (int, error) {
	res, err := db.conn.Exec(`
		DELETE FROM cached_links WHERE is_valid = 0 AND created_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LinkStatistics summarizes the cache.
func (db *DB) LinkStatistics(now time.Time, expiringThreshold time.Duration) (*models.LinkStatistics, error) {
	var stats models.LinkStatistics
	soon := now.Add(expiringThreshold).UTC()
	row := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN is_valid = 1 AND expires_at > ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_valid = 1 AND expires_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_valid = 1 AND expires_at > ? AND expires_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_valid = 0 THEN 1 ELSE 0 END)
		FROM cached_links`,
		now.UTC(), now.UTC(), now.UTC(), soon)

	var valid, expired, expiring, invalid sql.NullInt64
	if err := row.Scan(&stats.Total, &valid, &expired, &expiring, &invalid); err != nil {
		return nil, fmt.Errorf("link statistics: %w", err)
	}
	stats.Valid = int(valid.Int64)
	stats.Expired = int(expired.Int64)
	stats.ExpiringSoon = int(expiring.Int64)
	stats.Invalid = int(invalid.Int64)
	return &stats, nil
}

func prefixedLinkColumns(alias string) string {
	return alias + `.id, ` + alias + `.torrent_id, ` + alias + `.episode_id, ` + alias + `.file_id, ` +
		alias + `.filename, ` + alias + `.filesize, ` + alias + `.streaming_url, ` + alias + `.quality, ` +
		alias + `.codec, ` + alias + `.is_valid, ` + alias + `.expires_at, ` + alias + `.last_accessed, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func scanLink(row torrentScanner) (*models.CachedLink, error) {
	var l models.CachedLink
	var episodeID sql.NullString
	var lastAccessed sql.NullTime
	err := row.Scan(
		&l.ID, &l.TorrentID, &episodeID, &l.FileID, &l.Filename, &l.Filesize, &l.StreamingURL,
		&l.Quality, &l.Codec, &l.IsValid, &l.ExpiresAt, &lastAccessed, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cached link: %w", err)
	}
	if episodeID.Valid {
		v := episodeID.String
		l.EpisodeID = &v
	}
	if lastAccessed.Valid {
		ts := lastAccessed.Time
		l.LastAccessed = &ts
	}
	return &l, nil
}

func scanLinks(rows *sql.Rows) ([]models.CachedLink, error) {
	var out []models.CachedLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

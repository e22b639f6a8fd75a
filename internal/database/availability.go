package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSubjectAvailability flips the availability flag the engine maintains for
// a subject.
func (db *DB) SetSubjectAvailability(subjectID string, available bool) error {
	_, err := db.conn.Exec(`
		INSERT INTO subject_availability (subject_id, is_available, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET is_available = excluded.is_available, updated_at = excluded.updated_at`,
		subjectID, available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set subject availability: %w", err)
	}
	return nil
}

// IsSubjectAvailable reports the stored availability flag. Unknown subjects
// are not available.
func (db *DB) IsSubjectAvailable(subjectID string) (bool, error) {
	var available bool
	err := db.conn.QueryRow(`SELECT is_available FROM subject_availability WHERE subject_id = ?`, subjectID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get subject availability: %w", err)
	}
	return available, nil
}

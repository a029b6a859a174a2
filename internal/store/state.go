package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetState records the local value of (kind, id), such as a favor's status
// or a notification's read flag.
func (db *DB) SetState(kind, id, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO local_state (kind, id, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		kind, id, value, now)
	return err
}

// GetState returns the local value of (kind, id) and whether one is set.
func (db *DB) GetState(kind, id string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM local_state WHERE kind = ? AND id = ?`, kind, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteState clears (kind, id).
func (db *DB) DeleteState(kind, id string) error {
	_, err := db.Exec(`DELETE FROM local_state WHERE kind = ? AND id = ?`, kind, id)
	return err
}

// SetCheckpoint upserts a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint returns a sync checkpoint value, or "" if none is recorded.
func (db *DB) Checkpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

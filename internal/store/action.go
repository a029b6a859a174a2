package store

import "time"

// RecordAction adds an action to the log in the sending state.
func (db *DB) RecordAction(a *Action) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO actions (id, kind, target_id, actor_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.TargetID, a.ActorID, ActionSending, now, now)
	return err
}

// MarkActionSent records that the server accepted the action.
func (db *DB) MarkActionSent(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE actions SET status = ?, error_message = '', updated_at = ? WHERE id = ?`, ActionSent, now, id)
	return err
}

// MarkActionFailed records the failure message of a rejected action.
func (db *DB) MarkActionFailed(id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE actions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`, ActionFailed, errMsg, now, id)
	return err
}

// RecentActions returns the newest actions first.
func (db *DB) RecentActions(limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, target_id, actor_id, status, error_message, created_at, updated_at
		FROM actions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Kind, &a.TargetID, &a.ActorID, &a.Status, &a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

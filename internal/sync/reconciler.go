package sync

import (
	"strconv"
	"time"

	"github.com/matheus3301/duet/internal/store"
	"go.uber.org/zap"
)

// Checkpoint key prefixes.
const (
	cursorPrefix    = "cursor:"
	exhaustedPrefix = "exhausted:"
)

// Reconciler manages history sync checkpoints: the oldest cursor reached per
// conversation and whether the server has no older pages.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetCheckpoint(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value, "" when unset.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	return r.db.Checkpoint(key)
}

// RecordPage moves the conversation's cursor back to cursor (never forward)
// and marks it exhausted once the server reports no more pages.
func (r *Reconciler) RecordPage(conversationID string, cursor time.Time, exhausted bool) error {
	if !cursor.IsZero() {
		prev, _, err := r.Cursor(conversationID)
		if err != nil {
			return err
		}
		if prev.IsZero() || cursor.Before(prev) {
			if err := r.UpdateCheckpoint(cursorPrefix+conversationID, strconv.FormatInt(cursor.UnixMilli(), 10)); err != nil {
				return err
			}
		}
	}
	if exhausted {
		return r.UpdateCheckpoint(exhaustedPrefix+conversationID, "1")
	}
	return nil
}

// Cursor returns the oldest mirrored cursor for a conversation and whether
// its history is fully loaded.
func (r *Reconciler) Cursor(conversationID string) (time.Time, bool, error) {
	raw, err := r.GetCheckpoint(cursorPrefix + conversationID)
	if err != nil {
		return time.Time{}, false, err
	}
	var cursor time.Time
	if raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.logger.Warn("corrupt cursor checkpoint", zap.String("conversation", conversationID), zap.String("value", raw))
		} else {
			cursor = time.UnixMilli(ms)
		}
	}
	done, err := r.GetCheckpoint(exhaustedPrefix + conversationID)
	if err != nil {
		return time.Time{}, false, err
	}
	return cursor, done == "1", nil
}

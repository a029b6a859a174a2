package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/chat"
	"github.com/matheus3301/duet/internal/store"
	"go.uber.org/zap"
)

// MessageUpserted is the payload of store.message_upserted.
type MessageUpserted struct {
	ConversationID string
	MessageID      string
}

// PageMirrored is the payload of store.page_mirrored.
type PageMirrored struct {
	ConversationID string
	Messages       int
	Exhausted      bool
}

// Engine mirrors server-confirmed chat messages into the local store. It
// subscribes to "chat." events on the bus and ignores temporary entries.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewEngine creates a new mirror engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: NewReconciler(db, logger),
		logger:     logger,
	}
}

// Reconciler returns the engine's checkpoint keeper.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// Start subscribes to chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case chat.Confirmed:
		if err := e.IngestMessage(p.Message); err != nil {
			e.logger.Error("failed to mirror confirmed message", zap.Error(err), zap.String("msg_id", p.Message.ID))
		}
	case chat.Remote:
		if err := e.IngestMessage(p.Message); err != nil {
			e.logger.Error("failed to mirror remote message", zap.Error(err), zap.String("msg_id", p.Message.ID))
		}
	case chat.PageLoaded:
		if err := e.IngestPage(p); err != nil {
			e.logger.Error("failed to mirror page", zap.Error(err),
				zap.String("conversation", p.ConversationID), zap.Int("count", len(p.Messages)))
		}
	}
}

// IngestMessage stores one confirmed message (idempotent). Temporary
// entries are skipped.
func (e *Engine) IngestMessage(m chat.Message) error {
	if m.IsTemp() || m.ID == "" {
		return nil
	}
	sm := toStore(m)
	if err := e.db.UpsertMessage(&sm); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	e.bus.Emit(bus.StoreMessageUpserted, MessageUpserted{ConversationID: m.ConversationID, MessageID: m.ID})
	return nil
}

// IngestPage stores a loaded history page in one transaction and advances
// the conversation's pagination checkpoints.
func (e *Engine) IngestPage(p chat.PageLoaded) error {
	msgs := make([]store.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		if m.IsTemp() || m.ID == "" {
			continue
		}
		msgs = append(msgs, toStore(m))
	}
	if len(msgs) > 0 {
		if err := e.db.UpsertMessages(msgs); err != nil {
			return fmt.Errorf("upsert page: %w", err)
		}
	}
	if err := e.reconciler.RecordPage(p.ConversationID, p.Cursor, !p.HasMore); err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}

	e.logger.Debug("page mirrored", zap.String("conversation", p.ConversationID), zap.Int("messages", len(msgs)))
	e.bus.Emit(bus.StorePageMirrored, PageMirrored{
		ConversationID: p.ConversationID,
		Messages:       len(msgs),
		Exhausted:      !p.HasMore,
	})
	return nil
}

func toStore(m chat.Message) store.Message {
	return store.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		ClientID:       m.ClientID,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
}

package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/bus"
	"github.com/agrolink/chatsync/internal/chat"
)

// Recorder writes synced chat traffic through to the archive. It
// subscribes to message and conversation events on the bus and upserts
// idempotently, so replays and reconnect floods are harmless.
type Recorder struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a recorder over the given archive.
func NewRecorder(db *DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to archivable events on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe(256,
		bus.MessageReceived,
		bus.MessageAcked,
		bus.HistoryLoaded,
		bus.ConversationAdded,
	)

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder and waits for the drain loop to exit.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Recorder) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.MessageReceived, bus.MessageAcked:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := r.record(msg); err != nil {
			r.logger.Error("failed to archive message",
				zap.Error(err),
				zap.String("msg_id", msg.ID))
		}
	case bus.HistoryLoaded:
		msgs, ok := evt.Payload.([]chat.Message)
		if !ok {
			return
		}
		if err := r.db.UpsertMessageBatch(msgs); err != nil {
			r.logger.Error("failed to archive history page",
				zap.Error(err),
				zap.Int("count", len(msgs)))
		}
	case bus.ConversationAdded:
		conv, ok := evt.Payload.(chat.Conversation)
		if !ok {
			return
		}
		if err := r.db.UpsertConversation(conv); err != nil {
			r.logger.Error("failed to archive conversation",
				zap.Error(err),
				zap.String("conversation_id", conv.ID))
		}
	}
}

func (r *Recorder) record(msg chat.Message) error {
	if err := r.db.TouchConversation(msg.ConversationID, msg.CreatedAtMs); err != nil {
		return err
	}
	return r.db.UpsertMessage(msg)
}

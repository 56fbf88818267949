// Package history pages older messages into memory. Pages come from the
// HTTP gateway; when the network is down a local archive can serve a
// best-effort stale page instead.
package history

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/chat"
)

// Source produces up to limit messages strictly older than the cursor,
// ordered ascending by creation time. A zero cursor means the newest page.
type Source interface {
	Messages(ctx context.Context, conversationID string, limit int, before chat.Cursor) ([]chat.Message, error)
}

// Page is one loaded slice of a conversation's past.
type Page struct {
	Messages []chat.Message
	// Next addresses the page older than this one. Zero when this page
	// is empty.
	Next chat.Cursor
	// HasMore is false once a short page signals the beginning of the
	// conversation was reached.
	HasMore bool
	// Stale is set when the page was served from the local archive
	// because the network source failed.
	Stale bool
}

// Loader fetches history pages. Loading is idempotent: the same cursor
// yields the same page, so a page applied twice changes nothing downstream.
type Loader struct {
	src      Source
	fallback Source
	pageSize int
	logger   *zap.Logger
}

// NewLoader creates a loader over the given network source. fallback may
// be nil; when present it is consulted only on network failure.
func NewLoader(src Source, fallback Source, pageSize int, logger *zap.Logger) *Loader {
	return &Loader{
		src:      src,
		fallback: fallback,
		pageSize: pageSize,
		logger:   logger,
	}
}

// LoadPage returns the page of messages older than before, ascending.
func (l *Loader) LoadPage(ctx context.Context, conversationID string, before chat.Cursor) (Page, error) {
	msgs, err := l.src.Messages(ctx, conversationID, l.pageSize, before)
	if err != nil {
		if l.fallback == nil || !errors.Is(err, chat.ErrNetwork) {
			return Page{}, fmt.Errorf("load history page: %w", err)
		}
		l.logger.Warn("history load failed, falling back to archive",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		msgs, err = l.fallback.Messages(ctx, conversationID, l.pageSize, before)
		if err != nil {
			return Page{}, fmt.Errorf("load archived page: %w", err)
		}
		return l.page(msgs, true), nil
	}
	return l.page(msgs, false), nil
}

func (l *Loader) page(msgs []chat.Message, stale bool) Page {
	p := Page{
		Messages: normalize(msgs),
		HasMore:  len(msgs) == l.pageSize,
		Stale:    stale,
	}
	if len(p.Messages) > 0 {
		oldest := p.Messages[0]
		p.Next = chat.Cursor{TimestampMs: oldest.CreatedAtMs, MessageID: oldest.ID}
	}
	return p
}

// normalize stamps messages that predate delivery tracking as sent.
// Everything the server hands back in history is acknowledged by
// definition.
func normalize(msgs []chat.Message) []chat.Message {
	for i := range msgs {
		if msgs[i].Delivery == "" {
			msgs[i].Delivery = chat.Sent
		}
	}
	return msgs
}

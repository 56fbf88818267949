// Package directory holds the canonical list of conversations the
// account participates in. It is filled once at session start and only
// grows afterwards, when a conversation is created.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/chat"
)

// Lister is the gateway call that enumerates conversations.
type Lister interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

// Directory is the in-memory conversation list.
type Directory struct {
	src    Lister
	logger *zap.Logger

	mu     sync.RWMutex
	byID   map[string]chat.Conversation
	loaded bool
}

// New creates an empty directory over the given source.
func New(src Lister, logger *zap.Logger) *Directory {
	return &Directory{
		src:    src,
		logger: logger,
		byID:   make(map[string]chat.Conversation),
	}
}

// Load fetches the conversation list. Calling it again replaces the
// previous contents, which is what a re-initialized session wants.
func (d *Directory) Load(ctx context.Context) error {
	convs, err := d.src.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversation directory: %w", err)
	}

	d.mu.Lock()
	d.byID = make(map[string]chat.Conversation, len(convs))
	for _, c := range convs {
		d.byID[c.ID] = c
	}
	d.loaded = true
	d.mu.Unlock()

	d.logger.Info("conversation directory loaded", zap.Int("count", len(convs)))
	return nil
}

// Loaded reports whether an initial Load has completed.
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Append records a newly created conversation. Re-appending an existing
// ID overwrites it, so a server echo of a creation is harmless.
func (d *Directory) Append(conv chat.Conversation) {
	d.mu.Lock()
	d.byID[conv.ID] = conv
	d.mu.Unlock()
}

// Get returns the conversation with the given ID.
func (d *Directory) Get(id string) (chat.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.byID[id]
	if !ok {
		return chat.Conversation{}, fmt.Errorf("%w: conversation %q", chat.ErrNotFound, id)
	}
	return conv, nil
}

// ListAll returns a copy of the current set, most recent activity first.
func (d *Directory) ListAll() []chat.Conversation {
	d.mu.RLock()
	convs := make([]chat.Conversation, 0, len(d.byID))
	for _, c := range d.byID {
		convs = append(convs, c)
	}
	d.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastActivityMs != convs[j].LastActivityMs {
			return convs[i].LastActivityMs > convs[j].LastActivityMs
		}
		return convs[i].ID < convs[j].ID
	})
	return convs
}

package store

import (
	"sort"

	"github.com/agrolink/chatsync/internal/chat"
)

// Snapshot is an immutable copy of the store's state. The UI renders
// from it and must never mutate it; every call returns fresh structures
// so accidental mutation cannot reach back into the store.
type Snapshot struct {
	Conversations        []chat.Conversation
	ActiveConversationID string
	Messages             map[string][]chat.Message
	Presence             map[string]chat.PresenceStatus
	Typing               map[string][]string
	Cursors              map[string]chat.Cursor
	HasMore              map[string]bool
}

// Snapshot copies the current state. Conversations come most recent
// first; message sequences ascend by creation time; typing sets are
// sorted for stable rendering.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ActiveConversationID: s.activeID,
		Conversations:        make([]chat.Conversation, 0, len(s.conversations)),
		Messages:             make(map[string][]chat.Message, len(s.messages)),
		Presence:             make(map[string]chat.PresenceStatus, len(s.presence)),
		Typing:               make(map[string][]string, len(s.typing)),
		Cursors:              make(map[string]chat.Cursor, len(s.cursors)),
		HasMore:              make(map[string]bool, len(s.hasMore)),
	}

	for _, c := range s.conversations {
		c.Participants = append([]string(nil), c.Participants...)
		snap.Conversations = append(snap.Conversations, c)
	}
	sort.Slice(snap.Conversations, func(i, j int) bool {
		a, b := snap.Conversations[i], snap.Conversations[j]
		if a.LastActivityMs != b.LastActivityMs {
			return a.LastActivityMs > b.LastActivityMs
		}
		return a.ID < b.ID
	})

	for convID, seq := range s.messages {
		out := make([]chat.Message, len(seq))
		for i, m := range seq {
			m.Attachments = append([]chat.Attachment(nil), m.Attachments...)
			out[i] = m
		}
		snap.Messages[convID] = out
	}

	for userID, status := range s.presence {
		snap.Presence[userID] = status
	}

	for convID, set := range s.typing {
		users := make([]string, 0, len(set))
		for userID := range set {
			users = append(users, userID)
		}
		sort.Strings(users)
		snap.Typing[convID] = users
	}

	for convID, cur := range s.cursors {
		snap.Cursors[convID] = cur
	}
	for convID, more := range s.hasMore {
		snap.HasMore[convID] = more
	}

	return snap
}

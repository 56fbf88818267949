// Package store is the single source of truth for UI-visible chat
// state. All writes go through reducers driven by transport events,
// optimistic sends and history loads; the store itself performs no I/O.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/agrolink/chatsync/internal/chat"
)

// Store holds the synchronized session state. Reducers are safe for
// concurrent use, though in practice only the facade calls them.
type Store struct {
	ackWindow  time.Duration
	typingIdle time.Duration

	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	activeID      string
	messages      map[string][]chat.Message
	pending       map[string]pendingRef
	presence      map[string]chat.PresenceStatus
	typing        map[string]map[string]time.Time
	cursors       map[string]chat.Cursor
	hasMore       map[string]bool
	epoch         uint64
}

// pendingRef locates an optimistic message awaiting its ack.
type pendingRef struct {
	conversationID string
	createdAt      time.Time
}

// New creates an empty store. ackWindow bounds how long a pending
// message may wait for its ack; typingIdle bounds how long a typing
// entry survives without a fresh signal.
func New(ackWindow, typingIdle time.Duration) *Store {
	s := &Store{
		ackWindow:  ackWindow,
		typingIdle: typingIdle,
	}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.conversations = make(map[string]chat.Conversation)
	s.activeID = ""
	s.messages = make(map[string][]chat.Message)
	s.pending = make(map[string]pendingRef)
	s.presence = make(map[string]chat.PresenceStatus)
	s.typing = make(map[string]map[string]time.Time)
	s.cursors = make(map[string]chat.Cursor)
	s.hasMore = make(map[string]bool)
}

// Epoch returns the current session epoch. Results of asynchronous
// loads started under an older epoch must be discarded.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Clear drops all state and advances the epoch, orphaning any loads
// still in flight from the previous session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.epoch++
}

// SetConversations replaces the conversation list.
func (s *Store) SetConversations(convs []chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]chat.Conversation, len(convs))
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
}

// AppendConversation records one new conversation.
func (s *Store) AppendConversation(conv chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
}

// SetActive moves the active-conversation pointer.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
}

// HasCachedMessages reports whether any page or event has populated the
// conversation's sequence yet.
func (s *Store) HasCachedMessages(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]) > 0
}

// Cursor returns the pagination cursor recorded for the conversation.
func (s *Store) Cursor(conversationID string) chat.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[conversationID]
}

// ApplyReceived inserts a message delivered over the realtime
// connection, keeping the sequence ascending. Redelivery of an already
// known identifier is a no-op. Reports whether state changed.
func (s *Store) ApplyReceived(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.messages[msg.ConversationID], msg.ID) {
		return false
	}
	s.messages[msg.ConversationID] = insertSorted(s.messages[msg.ConversationID], msg)
	s.touchLocked(msg.ConversationID, msg.CreatedAtMs)
	return true
}

// AddPending appends an optimistic message. Its ID is the correlation
// token; the ack reducer replaces it with the server record later.
func (s *Store) AddPending(msg chat.Message) {
	msg.Delivery = chat.Pending
	msg.FromMe = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = insertSorted(s.messages[msg.ConversationID], msg)
	s.pending[msg.ID] = pendingRef{conversationID: msg.ConversationID, createdAt: time.Now()}
	s.touchLocked(msg.ConversationID, msg.CreatedAtMs)
}

// ApplyAck reconciles a server acknowledgment with its optimistic
// entry: the pending message is replaced in place, preserving its
// position. When the server record already arrived through redelivery
// the pending entry is dropped instead, so the identifier stays unique.
// An unknown token appends the server record, unless its ID is already
// present.
func (s *Store) ApplyAck(token string, serverMsg chat.Message) bool {
	serverMsg.Delivery = chat.Sent
	serverMsg.FromMe = true
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
		seq := s.messages[ref.conversationID]
		if serverMsg.ID != token && containsID(seq, serverMsg.ID) {
			s.messages[ref.conversationID] = removeID(seq, token)
			return true
		}
		for i := range seq {
			if seq[i].ID == token {
				seq[i] = serverMsg
				s.touchLocked(serverMsg.ConversationID, serverMsg.CreatedAtMs)
				return true
			}
		}
	}
	if containsID(s.messages[serverMsg.ConversationID], serverMsg.ID) {
		return false
	}
	s.messages[serverMsg.ConversationID] = insertSorted(s.messages[serverMsg.ConversationID], serverMsg)
	s.touchLocked(serverMsg.ConversationID, serverMsg.CreatedAtMs)
	return true
}

// MarkFailed flips the pending message for token to failed. The entry
// stays in the sequence so the UI can offer a retry.
func (s *Store) MarkFailed(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markFailedLocked(token)
}

func (s *Store) markFailedLocked(token string) bool {
	ref, ok := s.pending[token]
	if !ok {
		return false
	}
	delete(s.pending, token)
	seq := s.messages[ref.conversationID]
	for i := range seq {
		if seq[i].ID == token {
			seq[i].Delivery = chat.Failed
			return true
		}
	}
	return false
}

// RemovePending drops an optimistic entry whose wire write never
// happened, so no ack can ever arrive for it.
func (s *Store) RemovePending(conversationID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[token]; !ok {
		return false
	}
	delete(s.pending, token)
	s.messages[conversationID] = removeID(s.messages[conversationID], token)
	return true
}

// MarkPendingRetry returns a failed message to pending so a manual
// retry can wait for its ack again.
func (s *Store) MarkPendingRetry(conversationID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.messages[conversationID]
	for i := range seq {
		if seq[i].ID == token && seq[i].Delivery == chat.Failed {
			seq[i].Delivery = chat.Pending
			s.pending[token] = pendingRef{conversationID: conversationID, createdAt: time.Now()}
			return true
		}
	}
	return false
}

// ExpirePending fails every pending message whose ack window has
// elapsed as of now, returning the expired tokens.
func (s *Store) ExpirePending(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for token, ref := range s.pending {
		if now.Sub(ref.createdAt) >= s.ackWindow {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		s.markFailedLocked(token)
	}
	sort.Strings(expired)
	return expired
}

// ApplyPresence overwrites a user's presence entry, last write wins.
func (s *Store) ApplyPresence(userID string, status chat.PresenceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = status
}

// ApplyTyping adds or removes a user from a conversation's typing set.
func (s *Store) ApplyTyping(conversationID, userID string, isTyping bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[conversationID]
	if isTyping {
		if set == nil {
			set = make(map[string]time.Time)
			s.typing[conversationID] = set
		}
		set[userID] = now
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.typing, conversationID)
	}
}

// ExpireTyping drops typing entries that have not been refreshed within
// the idle window. Reports whether anything was removed.
func (s *Store) ExpireTyping(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for convID, set := range s.typing {
		for userID, last := range set {
			if now.Sub(last) >= s.typingIdle {
				delete(set, userID)
				changed = true
			}
		}
		if len(set) == 0 {
			delete(s.typing, convID)
		}
	}
	return changed
}

// ApplyHistoryPage merges an older page into the front of the
// conversation's sequence, skipping identifiers already present, and
// records the new pagination cursor. A page loaded under a stale epoch
// is discarded. Reports whether the page was applied.
func (s *Store) ApplyHistoryPage(epoch uint64, conversationID string, msgs []chat.Message, next chat.Cursor, hasMore bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	seq := s.messages[conversationID]
	for _, m := range msgs {
		if containsID(seq, m.ID) {
			continue
		}
		seq = insertSorted(seq, m)
	}
	s.messages[conversationID] = seq
	if !next.IsZero() {
		s.cursors[conversationID] = next
	}
	s.hasMore[conversationID] = hasMore
	return true
}

// touchLocked bumps a conversation's last-activity timestamp, never
// moving it backwards.
func (s *Store) touchLocked(conversationID string, ts int64) {
	conv, ok := s.conversations[conversationID]
	if !ok || ts <= conv.LastActivityMs {
		return
	}
	conv.LastActivityMs = ts
	s.conversations[conversationID] = conv
}

func removeID(seq []chat.Message, id string) []chat.Message {
	for i := range seq {
		if seq[i].ID == id {
			return append(seq[:i], seq[i+1:]...)
		}
	}
	return seq
}

func containsID(seq []chat.Message, id string) bool {
	for i := range seq {
		if seq[i].ID == id {
			return true
		}
	}
	return false
}

// insertSorted places msg at its ascending creation-time position.
// Equal timestamps keep arrival order stable.
func insertSorted(seq []chat.Message, msg chat.Message) []chat.Message {
	i := sort.Search(len(seq), func(i int) bool {
		return seq[i].CreatedAtMs > msg.CreatedAtMs
	})
	seq = append(seq, chat.Message{})
	copy(seq[i+1:], seq[i:])
	seq[i] = msg
	return seq
}

// Package session is the public entry point of the sync core. It
// composes the realtime transport, the HTTP gateway, the history
// loader, the conversation directory and the in-memory store, and
// exposes the command surface a UI drives.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/bus"
	"github.com/agrolink/chatsync/internal/chat"
	"github.com/agrolink/chatsync/internal/directory"
	"github.com/agrolink/chatsync/internal/history"
	"github.com/agrolink/chatsync/internal/store"
	"github.com/agrolink/chatsync/internal/transport"
)

// Transport is the realtime command and event surface the facade
// drives. *transport.Client implements it.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Disconnect()
	SendMessage(ctx context.Context, token, conversationID, content string, attachments []chat.Attachment) error
	JoinConversation(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, messageID string) error
	SetTyping(ctx context.Context, conversationID string, isTyping bool) error
	CreateConversation(ctx context.Context, typ chat.ConversationType, name string, participants []string) error
	OnMessage(func(chat.Message))
	OnAck(func(transport.Ack))
	OnPresence(func(transport.Presence))
	OnTyping(func(transport.Typing))
	OnConversationCreated(func(chat.Conversation))
	OnConnError(func(error))
}

// Submitter is the HTTP message submission path used for manual
// retries of failed sends.
type Submitter interface {
	PostMessage(ctx context.Context, conversationID, content string, attachments []chat.Attachment, token string) (chat.Message, error)
}

// Pager loads history pages.
type Pager interface {
	LoadPage(ctx context.Context, conversationID string, before chat.Cursor) (history.Page, error)
}

// Session wires transport events into store reducers and forwards user
// commands to the wire. One Session is one authenticated chat session.
type Session struct {
	transport Transport
	submitter Submitter
	loader    Pager
	dir       *directory.Directory
	store     *store.Store
	bus       *bus.Bus
	logger    *zap.Logger

	wireOnce sync.Once

	mu          sync.Mutex
	initialized bool
}

// New creates a session over its collaborators. Nothing touches the
// network until Initialize.
func New(t Transport, sub Submitter, loader Pager, dir *directory.Directory, st *store.Store, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		transport: t,
		submitter: sub,
		loader:    loader,
		dir:       dir,
		store:     st,
		bus:       b,
		logger:    logger,
	}
}

// Initialize connects the transport and loads the conversation
// directory into the store. On any failure the session stays unusable
// and may be initialized again.
func (s *Session) Initialize(ctx context.Context, credential string) error {
	s.wireOnce.Do(s.wireHandlers)

	if err := s.transport.Connect(ctx, credential); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	if err := s.dir.Load(ctx); err != nil {
		s.transport.Disconnect()
		return fmt.Errorf("initialize session: %w", err)
	}

	s.store.SetConversations(s.dir.ListAll())
	s.notifyStore()

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("session initialized", zap.Int("conversations", len(s.dir.ListAll())))
	return nil
}

// Initialized reports whether Initialize has completed successfully.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Snapshot exposes the store's current state to the UI.
func (s *Session) Snapshot() store.Snapshot {
	return s.store.Snapshot()
}

// SetActiveConversation joins the conversation on the wire, points the
// store at it, and kicks off an initial history load when nothing is
// cached yet. The load runs in the background; its result is discarded
// if the session is torn down first.
func (s *Session) SetActiveConversation(ctx context.Context, conversationID string) error {
	if _, err := s.dir.Get(conversationID); err != nil {
		return err
	}
	if err := s.transport.JoinConversation(ctx, conversationID); err != nil {
		return err
	}

	s.store.SetActive(conversationID)
	s.notifyStore()

	if !s.store.HasCachedMessages(conversationID) {
		epoch := s.store.Epoch()
		go s.loadPage(context.Background(), conversationID, chat.Cursor{}, epoch)
	}
	return nil
}

// LoadOlderMessages fetches the next older history page for a
// conversation, continuing from the recorded cursor.
func (s *Session) LoadOlderMessages(ctx context.Context, conversationID string) error {
	return s.loadPage(ctx, conversationID, s.store.Cursor(conversationID), s.store.Epoch())
}

func (s *Session) loadPage(ctx context.Context, conversationID string, before chat.Cursor, epoch uint64) error {
	page, err := s.loader.LoadPage(ctx, conversationID, before)
	if err != nil {
		s.logger.Error("history load failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		s.publish(bus.Error, err)
		return err
	}
	if !s.store.ApplyHistoryPage(epoch, conversationID, page.Messages, page.Next, page.HasMore) {
		s.logger.Info("discarded history page from previous session",
			zap.String("conversation_id", conversationID))
		return nil
	}
	if !page.Stale {
		s.publish(bus.HistoryLoaded, page.Messages)
	}
	s.notifyStore()
	return nil
}

// SendMessage records an optimistic pending entry and then submits the
// message under its correlation token. The entry goes in before the
// wire write, so an ack racing back on the read loop always finds it;
// a failed write removes the entry again. The returned token identifies
// the entry until the server ack replaces it.
func (s *Session) SendMessage(ctx context.Context, conversationID, content string, attachments []chat.Attachment) (string, error) {
	token := uuid.NewString()
	s.store.AddPending(chat.Message{
		ID:             token,
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
		CreatedAtMs:    time.Now().UnixMilli(),
	})
	s.notifyStore()

	if err := s.transport.SendMessage(ctx, token, conversationID, content, attachments); err != nil {
		s.store.RemovePending(conversationID, token)
		s.notifyStore()
		return "", err
	}

	s.logger.Info("message sent", zap.String("token", token), zap.String("conversation_id", conversationID))
	return token, nil
}

// RetryMessage resubmits a failed message over the HTTP path, reusing
// its original token so a late realtime ack still reconciles cleanly.
func (s *Session) RetryMessage(ctx context.Context, conversationID, token string) error {
	var failed *chat.Message
	for _, m := range s.store.Snapshot().Messages[conversationID] {
		if m.ID == token && m.Delivery == chat.Failed {
			failed = &m
			break
		}
	}
	if failed == nil {
		return fmt.Errorf("%w: no failed message %q in conversation %q", chat.ErrNotFound, token, conversationID)
	}

	if !s.store.MarkPendingRetry(conversationID, token) {
		return fmt.Errorf("%w: no failed message %q in conversation %q", chat.ErrNotFound, token, conversationID)
	}
	s.notifyStore()

	serverMsg, err := s.submitter.PostMessage(ctx, conversationID, failed.Content, failed.Attachments, token)
	if err != nil {
		s.store.MarkFailed(token)
		s.notifyStore()
		s.publish(bus.MessageFailed, token)
		return err
	}

	if s.store.ApplyAck(token, serverMsg) {
		s.publish(bus.MessageAcked, serverMsg)
	}
	s.notifyStore()
	s.logger.Info("message retried over http",
		zap.String("token", token),
		zap.String("server_msg_id", serverMsg.ID))
	return nil
}

// MarkMessageAsRead reports a message as read.
func (s *Session) MarkMessageAsRead(ctx context.Context, messageID string) error {
	return s.transport.MarkRead(ctx, messageID)
}

// SetTypingStatus reports the local user's typing state.
func (s *Session) SetTypingStatus(ctx context.Context, conversationID string, isTyping bool) error {
	return s.transport.SetTyping(ctx, conversationID, isTyping)
}

// CreateConversation asks the service for a new conversation. The
// directory and store pick it up when the created event arrives.
func (s *Session) CreateConversation(ctx context.Context, typ chat.ConversationType, name string, participants []string) error {
	return s.transport.CreateConversation(ctx, typ, name, participants)
}

// Disconnect tears the session down: the connection closes and all
// store state is dropped, advancing the epoch so in-flight loads from
// this session can never land in the next one.
func (s *Session) Disconnect() {
	s.transport.Disconnect()
	s.store.Clear()
	s.publish(bus.StoreCleared, nil)

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	s.logger.Info("session disconnected")
}

// wireHandlers subscribes every transport event to its store reducer.
// Handlers run synchronously on the transport's read loop, so reducers
// apply in server emission order.
func (s *Session) wireHandlers() {
	s.transport.OnMessage(func(m chat.Message) {
		if s.store.ApplyReceived(m) {
			s.publish(bus.MessageReceived, m)
			s.notifyStore()
		}
	})
	s.transport.OnAck(func(a transport.Ack) {
		if s.store.ApplyAck(a.Token, a.Message) {
			s.publish(bus.MessageAcked, a.Message)
			s.notifyStore()
		}
	})
	s.transport.OnPresence(func(p transport.Presence) {
		s.store.ApplyPresence(p.UserID, p.Status)
		s.publish(bus.PresenceChanged, p)
		s.notifyStore()
	})
	s.transport.OnTyping(func(ty transport.Typing) {
		s.store.ApplyTyping(ty.ConversationID, ty.UserID, ty.IsTyping, time.Now())
		s.publish(bus.TypingChanged, ty)
		s.notifyStore()
	})
	s.transport.OnConversationCreated(func(c chat.Conversation) {
		s.dir.Append(c)
		s.store.AppendConversation(c)
		s.publish(bus.ConversationAdded, c)
		s.notifyStore()
	})
	s.transport.OnConnError(func(err error) {
		s.logger.Warn("connection error", zap.Error(err))
		s.publish(bus.ConnError, err)
	})
}

func (s *Session) notifyStore() {
	s.publish(bus.StoreUpdated, nil)
}

func (s *Session) publish(kind bus.Kind, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

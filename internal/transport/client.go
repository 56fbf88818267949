package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/agrolink/chatsync/internal/chat"
)

// ErrConnectInProgress is returned by Connect while a connection
// attempt is already running; success of that attempt is reported
// through the state machine, not through this call.
var ErrConnectInProgress = errors.New("connection attempt already in progress")

// Options tunes the reconnection policy.
type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (o *Options) defaults() {
	if o.BaseDelay == 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
}

// Client owns the single persistent connection to the realtime chat
// service. It translates wire events into typed handler calls and typed
// commands into wire requests. Outbound commands issued while the
// connection is down fail immediately with chat.ErrNotConnected; only
// conversation re-joins are replayed after a reconnect, because the
// service does not remember subscriptions across connections.
type Client struct {
	endpoint string
	opts     Options
	machine  *Machine
	logger   *zap.Logger
	disp     *dispatcher
	recon    *reconnector

	mu          sync.Mutex
	conn        *websocket.Conn
	credential  string
	cancel      context.CancelFunc
	intentional bool
	joined      map[string]struct{}
}

// NewClient creates a realtime client for the given endpoint. The state
// machine is shared so other components can observe connection state.
func NewClient(endpoint string, machine *Machine, opts Options, logger *zap.Logger) *Client {
	opts.defaults()
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		opts:     opts,
		machine:  machine,
		logger:   logger,
		disp:     &dispatcher{},
		recon:    newReconnector(opts.BaseDelay, opts.MaxDelay, opts.MaxAttempts),
		joined:   make(map[string]struct{}),
	}
}

// OnMessage registers a handler for incoming messages.
func (c *Client) OnMessage(h func(chat.Message)) {
	c.disp.mu.Lock()
	c.disp.onMessage = append(c.disp.onMessage, h)
	c.disp.mu.Unlock()
}

// OnAck registers a handler for send acknowledgments.
func (c *Client) OnAck(h func(Ack)) {
	c.disp.mu.Lock()
	c.disp.onAck = append(c.disp.onAck, h)
	c.disp.mu.Unlock()
}

// OnPresence registers a handler for presence changes.
func (c *Client) OnPresence(h func(Presence)) {
	c.disp.mu.Lock()
	c.disp.onPresence = append(c.disp.onPresence, h)
	c.disp.mu.Unlock()
}

// OnTyping registers a handler for typing changes.
func (c *Client) OnTyping(h func(Typing)) {
	c.disp.mu.Lock()
	c.disp.onTyping = append(c.disp.onTyping, h)
	c.disp.mu.Unlock()
}

// OnConversationCreated registers a handler for new conversations.
func (c *Client) OnConversationCreated(h func(chat.Conversation)) {
	c.disp.mu.Lock()
	c.disp.onConversation = append(c.disp.onConversation, h)
	c.disp.mu.Unlock()
}

// OnConnError registers a handler for connection failures, including the
// persistent failure published when reconnect attempts are exhausted.
func (c *Client) OnConnError(h func(error)) {
	c.disp.mu.Lock()
	c.disp.onConnError = append(c.disp.onConnError, h)
	c.disp.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.machine.Current()
}

// Connect establishes the connection and starts the read loop. It
// returns nil only once the service has acknowledged the handshake, so
// a nil return always means connected. The credential is kept for
// reconnects.
func (c *Client) Connect(ctx context.Context, credential string) error {
	switch c.machine.Current() {
	case Connected:
		return nil
	case Connecting, Reconnecting:
		return ErrConnectInProgress
	}
	if err := c.machine.Transition(Connecting); err != nil {
		return err
	}

	c.mu.Lock()
	c.intentional = false
	c.credential = credential
	c.mu.Unlock()

	conn, err := c.dial(ctx, credential)
	if err != nil {
		_ = c.machine.Transition(Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	_ = c.machine.Transition(Connected)
	c.recon.reset()
	c.recon.markConnected()
	c.logger.Info("realtime connected", zap.String("endpoint", c.endpoint))

	go c.readLoop(runCtx)
	return nil
}

// Disconnect releases the connection. Idempotent, safe from any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	switch c.machine.Current() {
	case Disconnected:
		return
	case Connected:
		_ = c.machine.Transition(Disconnecting)
	}
	_ = c.machine.Transition(Disconnected)
	c.logger.Info("realtime disconnected")
}

// SendMessage submits a message under the caller's correlation token,
// which the eventual ack will echo. The caller records its optimistic
// entry under the token before issuing the write, so an ack can never
// outrun the entry it reconciles. Fire-and-forget: delivery is reported
// via the OnAck handler or not at all.
func (c *Client) SendMessage(ctx context.Context, token, conversationID, content string, attachments []chat.Attachment) error {
	return c.send(ctx, Command{
		Kind:  cmdSendMessage,
		Token: token,
		Payload: sendMessagePayload{
			ConversationID: conversationID,
			Content:        content,
			Attachments:    attachments,
		},
	})
}

// JoinConversation subscribes this connection to a conversation's events.
// Joined conversations are re-joined automatically after a reconnect.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	err := c.send(ctx, Command{
		Kind:    cmdJoinConversation,
		Payload: joinPayload{ConversationID: conversationID},
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[conversationID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// MarkRead reports a message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.send(ctx, Command{
		Kind:    cmdMarkRead,
		Payload: markReadPayload{MessageID: messageID},
	})
}

// SetTyping reports the local user's typing state for a conversation.
func (c *Client) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return c.send(ctx, Command{
		Kind:    cmdSetTyping,
		Payload: setTypingPayload{ConversationID: conversationID, IsTyping: isTyping},
	})
}

// CreateConversation asks the service to create a conversation. The
// result arrives as a conversation.created event.
func (c *Client) CreateConversation(ctx context.Context, typ chat.ConversationType, name string, participants []string) error {
	return c.send(ctx, Command{
		Kind: cmdCreateConversation,
		Payload: createConversationPayload{
			Type:         typ,
			Name:         name,
			Participants: participants,
		},
	})
}

func (c *Client) send(ctx context.Context, cmd Command) error {
	if c.machine.Current() != Connected {
		return fmt.Errorf("%w: cannot send %s", chat.ErrNotConnected, cmd.Kind)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: cannot send %s", chat.ErrNotConnected, cmd.Kind)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", chat.ErrConnection, cmd.Kind, err)
	}
	return nil
}

// dial opens the websocket and performs the handshake: the first frame
// from the service must be an authenticated event.
func (c *Client) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.endpoint, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + url.QueryEscape(credential)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", chat.ErrConnection, err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("%w: handshake: %v", chat.ErrAuthentication, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Kind != evtAuthenticated {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("%w: expected authenticated, got %q", chat.ErrAuthentication, env.Kind)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			c.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}

			c.logger.Warn("realtime connection lost", zap.Error(err))
			_ = c.machine.Transition(Reconnecting)
			c.disp.dispatchConnError(fmt.Errorf("%w: %v", chat.ErrConnection, err))

			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.disp.dispatch(env)
	}
}

// reconnect runs the backoff loop until a connection is re-established
// or attempts are exhausted. Returns false when the client parks in
// Failed or the context is cancelled.
func (c *Client) reconnect(ctx context.Context) bool {
	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		c.logger.Info("scheduling reconnect",
			zap.Int("attempt", c.recon.attempt),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}

		if err := c.machine.Transition(Connecting); err != nil {
			return false
		}

		c.mu.Lock()
		credential := c.credential
		c.mu.Unlock()

		conn, err := c.dial(ctx, credential)
		if err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err))
			if errors.Is(err, chat.ErrAuthentication) {
				// Credential went stale; no amount of retrying helps.
				_ = c.machine.Transition(Failed)
				c.disp.dispatchConnError(err)
				return false
			}
			_ = c.machine.Transition(Reconnecting)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		_ = c.machine.Transition(Connected)
		c.recon.markConnected()
		c.logger.Info("realtime reconnected")
		c.rejoin(ctx)
		return true
	}

	_ = c.machine.Transition(Failed)
	c.disp.dispatchConnError(fmt.Errorf("%w: reconnect attempts exhausted", chat.ErrConnection))
	return false
}

// rejoin replays conversation subscriptions after a reconnect.
func (c *Client) rejoin(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.send(ctx, Command{
			Kind:    cmdJoinConversation,
			Payload: joinPayload{ConversationID: id},
		}); err != nil {
			c.logger.Warn("rejoin failed", zap.String("conversation_id", id), zap.Error(err))
		}
	}
}

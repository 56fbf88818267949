package transport

import (
	"encoding/json"
	"sync"

	"github.com/agrolink/chatsync/internal/chat"
)

// dispatcher holds registered event handlers. Handlers for one kind are
// invoked synchronously in registration order from the read loop, which
// preserves the per-conversation ordering the server guarantees.
type dispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(chat.Message)
	onAck          []func(Ack)
	onPresence     []func(Presence)
	onTyping       []func(Typing)
	onConversation []func(chat.Conversation)
	onConnError    []func(error)
}

func (d *dispatcher) dispatch(env Envelope) {
	switch env.Kind {
	case evtMessageReceived:
		var m chat.Message
		if json.Unmarshal(env.Payload, &m) == nil {
			for _, h := range d.messageHandlers() {
				h(m)
			}
		}
	case evtMessageAck:
		var a Ack
		if json.Unmarshal(env.Payload, &a) == nil {
			for _, h := range d.ackHandlers() {
				h(a)
			}
		}
	case evtPresenceChanged:
		var p Presence
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.presenceHandlers() {
				h(p)
			}
		}
	case evtTypingChanged:
		var ty Typing
		if json.Unmarshal(env.Payload, &ty) == nil {
			for _, h := range d.typingHandlers() {
				h(ty)
			}
		}
	case evtConversationCreated:
		var c chat.Conversation
		if json.Unmarshal(env.Payload, &c) == nil {
			for _, h := range d.conversationHandlers() {
				h(c)
			}
		}
	case evtError:
		var se serverError
		if json.Unmarshal(env.Payload, &se) == nil {
			d.dispatchConnError(serverFailure(se.Message))
		}
	}
}

func (d *dispatcher) dispatchConnError(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onConnError...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (d *dispatcher) messageHandlers() []func(chat.Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]func(chat.Message){}, d.onMessage...)
}

func (d *dispatcher) ackHandlers() []func(Ack) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]func(Ack){}, d.onAck...)
}

func (d *dispatcher) presenceHandlers() []func(Presence) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]func(Presence){}, d.onPresence...)
}

func (d *dispatcher) typingHandlers() []func(Typing) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]func(Typing){}, d.onTyping...)
}

func (d *dispatcher) conversationHandlers() []func(chat.Conversation) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]func(chat.Conversation){}, d.onConversation...)
}

// serverFailure wraps a service-reported error message in the connection
// failure class.
func serverFailure(msg string) error {
	return &serverErr{msg: msg}
}

type serverErr struct {
	msg string
}

func (e *serverErr) Error() string { return "service error: " + e.msg }

func (e *serverErr) Unwrap() error { return chat.ErrConnection }

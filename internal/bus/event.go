package bus

import "time"

// Kind enumerates every event that can travel on the bus. Producers and
// consumers pair up on these constants, so the wiring is statically
// checkable instead of stringly typed.
type Kind string

const (
	// Realtime connection lifecycle.
	ConnStateChanged Kind = "conn.state_changed"
	ConnError        Kind = "conn.error"

	// Store mutations visible to the UI layer.
	StoreUpdated Kind = "store.updated"
	StoreCleared Kind = "store.cleared"

	// Message lifecycle.
	MessageReceived Kind = "message.received"
	MessageAcked    Kind = "message.acked"
	MessageFailed   Kind = "message.failed"

	// Presence and typing signals.
	PresenceChanged Kind = "presence.changed"
	TypingChanged   Kind = "typing.changed"

	// Conversation directory changes.
	ConversationAdded Kind = "conversation.added"

	// History pagination.
	HistoryLoaded Kind = "history.loaded"

	// Error is the facade's forwarding channel for failures the UI must
	// see without anything being thrown across the render boundary.
	Error Kind = "error"
)

// Event is one domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

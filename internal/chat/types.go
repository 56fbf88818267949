package chat

// ConversationType distinguishes one-on-one threads from group threads.
type ConversationType string

const (
	Direct ConversationType = "direct"
	Group  ConversationType = "group"
)

// Conversation is one thread the user participates in.
// Name is empty for direct conversations; the UI derives a display name
// from the counterpart participant.
type Conversation struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	Name           string           `json:"name,omitempty"`
	Participants   []string         `json:"participants"`
	LastActivityMs int64            `json:"lastActivityMs"`
}

// DeliveryState tracks a message through the optimistic send lifecycle.
type DeliveryState string

const (
	// Pending means the message was created locally and no server ack
	// has arrived yet.
	Pending DeliveryState = "pending"
	// Sent means the server acknowledged the message.
	Sent DeliveryState = "sent"
	// Failed means no ack arrived within the ack window, or the send
	// was rejected. Failed messages stay visible for manual retry.
	Failed DeliveryState = "failed"
)

// Attachment references an uploaded media object by URL.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is one entry in a conversation's sequence. While a message is
// Pending its ID is the client-generated correlation token; the server
// ID replaces it on ack.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderName,omitempty"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAtMs    int64         `json:"createdAtMs"`
	FromMe         bool          `json:"fromMe,omitempty"`
	Delivery       DeliveryState `json:"delivery"`
}

// PresenceStatus is a user's online/offline state, last write wins.
type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// Cursor marks the oldest loaded message of a conversation and is used
// to request the next older history page. The zero value means no page
// has been loaded yet.
type Cursor struct {
	TimestampMs int64  `json:"timestampMs"`
	MessageID   string `json:"messageId"`
}

// IsZero reports whether the cursor has never been set.
func (c Cursor) IsZero() bool {
	return c.TimestampMs == 0 && c.MessageID == ""
}

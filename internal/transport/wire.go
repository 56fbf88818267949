package transport

import (
	"encoding/json"

	"github.com/agrolink/chatsync/internal/chat"
)

// Event kinds emitted by the realtime service.
const (
	evtAuthenticated       = "authenticated"
	evtMessageReceived     = "message.received"
	evtMessageAck          = "message.ack"
	evtPresenceChanged     = "presence.changed"
	evtTypingChanged       = "typing.changed"
	evtConversationCreated = "conversation.created"
	evtError               = "error"
)

// Command kinds accepted by the realtime service.
const (
	cmdSendMessage        = "message.send"
	cmdJoinConversation   = "conversation.join"
	cmdMarkRead           = "message.read"
	cmdSetTyping          = "typing.set"
	cmdCreateConversation = "conversation.create"
)

// Envelope is the wire format for all server-to-client events.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Command is the wire format for all client-to-server commands. Token is
// the client-generated correlation token, set only on message.send.
type Command struct {
	Kind    string `json:"kind"`
	Token   string `json:"token,omitempty"`
	Payload any    `json:"payload"`
}

// Ack pairs the correlation token of an optimistic send with the
// server-assigned message record.
type Ack struct {
	Token   string       `json:"token"`
	Message chat.Message `json:"message"`
}

// Presence is the payload of a presence.changed event.
type Presence struct {
	UserID string              `json:"userId"`
	Status chat.PresenceStatus `json:"status"`
}

// Typing is the payload of a typing.changed event.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// serverError is the payload of an error event.
type serverError struct {
	Message string `json:"message"`
}

type sendMessagePayload struct {
	ConversationID string            `json:"conversationId"`
	Content        string            `json:"content"`
	Attachments    []chat.Attachment `json:"attachments,omitempty"`
}

type joinPayload struct {
	ConversationID string `json:"conversationId"`
}

type markReadPayload struct {
	MessageID string `json:"messageId"`
}

type setTypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type createConversationPayload struct {
	Type         chat.ConversationType `json:"type"`
	Name         string                `json:"name,omitempty"`
	Participants []string              `json:"participants"`
}

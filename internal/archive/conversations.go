package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agrolink/chatsync/internal/chat"
)

// UpsertConversation inserts or updates a conversation row. Last
// activity only ever moves forward.
func (db *DB) UpsertConversation(c chat.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO conversations (id, type, name, participants, last_activity_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			participants = excluded.participants,
			last_activity_ms = MAX(conversations.last_activity_ms, excluded.last_activity_ms),
			updated_at = excluded.updated_at`,
		c.ID, string(c.Type), c.Name, string(participants), c.LastActivityMs, time.Now().UnixMilli())
	return err
}

// TouchConversation bumps a conversation's last activity, creating a
// bare row when the message arrives before its conversation record.
func (db *DB) TouchConversation(conversationID string, activityMs int64) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_activity_ms, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_ms = MAX(conversations.last_activity_ms, excluded.last_activity_ms),
			updated_at = excluded.updated_at`,
		conversationID, activityMs, time.Now().UnixMilli())
	return err
}

// ListConversations returns every archived conversation, most recent
// activity first.
func (db *DB) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, name, participants, last_activity_ms
		FROM conversations
		ORDER BY last_activity_ms DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query archived conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		var convType, participants string
		if err := rows.Scan(&c.ID, &convType, &c.Name, &participants, &c.LastActivityMs); err != nil {
			return nil, fmt.Errorf("scan archived conversation: %w", err)
		}
		c.Type = chat.ConversationType(convType)
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

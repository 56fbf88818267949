package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agrolink/chatsync/internal/chat"
)

// UpsertMessage inserts or updates a message, idempotent on
// (conversation_id, msg_id). Only server-acknowledged messages belong
// in the archive; pending and failed entries are purely in-memory.
func (db *DB) UpsertMessage(m chat.Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, content, attachments, from_me, created_at_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			attachments = excluded.attachments`,
		m.ConversationID, m.ID, m.SenderID, m.SenderName, m.Content, string(attachments), m.FromMe, m.CreatedAtMs, time.Now().UnixMilli())
	return err
}

// UpsertMessageBatch writes a history page in one transaction.
func (db *DB) UpsertMessageBatch(msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, content, attachments, from_me, created_at_ms, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				content = excluded.content,
				attachments = excluded.attachments`,
			m.ConversationID, m.ID, m.SenderID, m.SenderName, m.Content, string(attachments), m.FromMe, m.CreatedAtMs, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Messages returns up to limit archived messages strictly older than
// the cursor, ascending by creation time. A zero cursor yields the
// newest page. "Older" is the keyset rule the gateway uses too: a
// smaller timestamp, or an equal timestamp with a lexicographically
// smaller identifier, so the loader can substitute the archive for the
// network source mid-pagination.
func (db *DB) Messages(ctx context.Context, conversationID string, limit int, before chat.Cursor) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeTs := before.TimestampMs
	if before.IsZero() {
		beforeTs = time.Now().UnixMilli() + 1
	}

	rows, err := db.QueryContext(ctx, `
		SELECT msg_id, conversation_id, sender_id, sender_name, content, attachments, from_me, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		  AND (created_at_ms < ? OR (created_at_ms = ? AND msg_id < ?))
		ORDER BY created_at_ms DESC, msg_id DESC
		LIMIT ?`, conversationID, beforeTs, beforeTs, before.MessageID, limit)
	if err != nil {
		return nil, fmt.Errorf("query archived messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query order is newest-first for the keyset; flip to ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(rows *sql.Rows) (chat.Message, error) {
	var m chat.Message
	var attachments string
	if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &attachments, &m.FromMe, &m.CreatedAtMs); err != nil {
		return chat.Message{}, fmt.Errorf("scan archived message: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return chat.Message{}, fmt.Errorf("decode attachments: %w", err)
	}
	m.Delivery = chat.Sent
	return m, nil
}

// ABOUTME: conversations and messages persistence
// ABOUTME: Implements conversation.Store; a turn's messages are written in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/switchboard-gateway/internal/conversation"
)

// AppendMessages appends msgs to conversation id, creating it for owner if needed.
func (s *SQLiteStore) AppendMessages(ctx context.Context, id, owner string, msgs []conversation.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())

	var existingOwner string
	err = tx.QueryRowContext(ctx,
		`SELECT owner FROM conversations WHERE conversation_id = ?`, id,
	).Scan(&existingOwner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, owner, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, id, owner, now, now); err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
	case err != nil:
		return fmt.Errorf("looking up conversation: %w", err)
	case existingOwner != owner:
		return conversation.ErrNotOwner
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`, now, id,
		); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (message_id, conversation_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.ID, id, string(m.Role), m.Content, formatTime(m.Timestamp)); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}

	s.logger.Debug("appended messages", "conversation_id", id, "count", len(msgs))
	return nil
}

// GetConversation returns a conversation with its messages in append order.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, owner, created_at, updated_at
		FROM conversations
		WHERE conversation_id = ?
	`, id).Scan(&conv.ID, &conv.Owner, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conv.Messages = []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var role, ts string
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = conversation.Role(role)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return &conv, nil
}

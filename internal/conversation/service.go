// ABOUTME: Service commits completed chat turns to the conversation store
// ABOUTME: Fills message ids and timestamps and mints conversation ids on first use

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the write path for conversation history.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service over store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// NewID returns a fresh conversation id.
func NewID() string {
	return uuid.New().String()
}

// CommitTurn persists the user message and the completed assistant reply.
// An empty conversationID starts a new conversation. The id used is returned.
func (s *Service) CommitTurn(ctx context.Context, conversationID, owner string, user Message, reply Message) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		conversationID = NewID()
	}

	now := s.now().UTC()
	msgs := []Message{user, reply}
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.New().String()
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}

	if err := s.store.AppendMessages(ctx, conversationID, owner, msgs); err != nil {
		return conversationID, fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("committed turn",
		"conversation_id", conversationID,
		"owner", owner,
		"reply_len", len(reply.Content),
	)
	return conversationID, nil
}

// Get returns a stored conversation.
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

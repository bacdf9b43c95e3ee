// ABOUTME: Append-only audit log with incrementally maintained statistics
// ABOUTME: Persists through a Store, then updates stats and notifies subscribers

package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit errors
var (
	ErrWriteFailed  = errors.New("audit write failed")
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Log is the audit ledger. It is safe for concurrent use.
type Log struct {
	store       Store
	broadcaster *Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	stats Stats
}

// NewLog creates a Log over store, seeding stats from the entries already stored.
func NewLog(ctx context.Context, store Store, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stats, err := store.AuditStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading audit stats: %w", err)
	}
	if stats.ByAgent == nil {
		stats.ByAgent = make(map[string]int)
	}
	logger = logger.With("component", "audit")
	return &Log{
		store:       store,
		broadcaster: NewBroadcaster(logger),
		logger:      logger,
		now:         time.Now,
		stats:       stats,
	}, nil
}

// Append validates e, fills ID and Timestamp when unset, and persists it.
// The write is detached from ctx cancellation so an action that already
// happened is still recorded when its caller goes away.
func (l *Log) Append(ctx context.Context, e *Entry) error {
	if e.Agent == "" || e.Action == "" {
		return fmt.Errorf("%w: agent and action are required", ErrInvalidEntry)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	if err := l.store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	l.mu.Lock()
	l.stats.add(e)
	l.mu.Unlock()

	l.broadcaster.Publish(*e)

	l.logger.Debug("appended audit entry",
		"id", e.ID,
		"agent", e.Agent,
		"action", e.Action,
		"tool", e.Tool,
		"status", e.Status,
	)
	return nil
}

// Query returns up to limit matching entries, newest first. limit <= 0 returns
// every matching entry.
func (l *Log) Query(ctx context.Context, limit int, f Filter) ([]Entry, error) {
	entries, err := l.store.ListAudit(ctx, f, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Stats returns a snapshot of the aggregate counters.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.clone()
}

// Subscribe streams newly appended entries for agent ("" for all agents) until
// ctx is cancelled.
func (l *Log) Subscribe(ctx context.Context, agent string) <-chan Entry {
	ch, _ := l.broadcaster.Subscribe(ctx, agent)
	return ch
}

// Close releases subscribers.
func (l *Log) Close() {
	l.broadcaster.Close()
}

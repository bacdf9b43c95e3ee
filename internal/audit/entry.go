// ABOUTME: Audit entry, filter and stats types plus the narrow Store interface
// ABOUTME: Stores persist entries in append order; Seq is assigned by the store

package audit

import (
	"context"
	"time"
)

// Status is the outcome of an audited action.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusDenied   Status = "denied"
	StatusFailed   Status = "failed"
	StatusPending  Status = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusExecuted, StatusDenied, StatusFailed, StatusPending:
		return true
	}
	return false
}

// Common actions.
const (
	ActionToolInvoke = "tool.invoke"
	ActionTaskRun    = "task.run"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Tool      string    `json:"tool,omitempty"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Agent  string
	Status Status
	Tool   string
	Since  *time.Time
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *Entry) bool {
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Stats aggregates the full log.
type Stats struct {
	Total    int            `json:"total"`
	Executed int            `json:"executed"`
	Denied   int            `json:"denied"`
	Failed   int            `json:"failed"`
	Pending  int            `json:"pending"`
	ByAgent  map[string]int `json:"by_agent"`
}

func (s *Stats) add(e *Entry) {
	if s.ByAgent == nil {
		s.ByAgent = make(map[string]int)
	}
	s.Total++
	switch e.Status {
	case StatusExecuted:
		s.Executed++
	case StatusDenied:
		s.Denied++
	case StatusFailed:
		s.Failed++
	case StatusPending:
		s.Pending++
	}
	s.ByAgent[e.Agent]++
}

func (s Stats) clone() Stats {
	out := s
	out.ByAgent = make(map[string]int, len(s.ByAgent))
	for k, v := range s.ByAgent {
		out.ByAgent[k] = v
	}
	return out
}

// Store persists audit entries.
type Store interface {
	// AppendAudit persists e and sets e.Seq.
	AppendAudit(ctx context.Context, e *Entry) error
	// ListAudit returns matching entries newest first. limit <= 0 means no limit.
	ListAudit(ctx context.Context, f Filter, limit int) ([]Entry, error)
	// AuditStats aggregates every stored entry.
	AuditStats(ctx context.Context) (Stats, error)
}

// Package audit is the append-only ledger of autonomous agent actions.
//
// Every tool invocation made during a chat turn and every scheduler run is
// recorded as an Entry with a Status of executed, denied, failed or pending.
// Entries are never edited or removed; retention belongs to the storage
// backend.
//
// # Log
//
// Log wraps a Store and keeps Stats incrementally:
//
//	log, err := audit.NewLog(ctx, store, logger)
//	err = log.Append(ctx, &audit.Entry{Agent: "research", Action: "tool.invoke", Tool: "web_search", Status: audit.StatusExecuted})
//	entries, err := log.Query(ctx, 50, audit.Filter{Agent: "research"})
//	stats := log.Stats()
//
// Stats are seeded from the store when the Log is created, so Stats().Total
// always equals the number of entries Query returns without a limit.
//
// A failed store write is reported as ErrWriteFailed. Callers log it at error
// level and do not roll back the action that produced the entry.
//
// # Live feed
//
// Subscribe returns a channel of newly appended entries, optionally limited to
// one agent. Slow subscribers drop entries rather than block appenders.
package audit

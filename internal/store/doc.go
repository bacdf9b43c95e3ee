// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// SQLiteStore implements the narrow storage interfaces declared by the
// packages that own the data:
//
//   - audit.Store: append-only audit_log with an autoincrement seq column
//   - scheduler.Store: tasks and their bounded task_results
//   - conversation.Store: conversations and their ordered messages
//
// The driver is modernc.org/sqlite (pure Go, no cgo). Timestamps are stored
// as fixed-width UTC text so lexical order matches time order.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/switchboard/gateway.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
// The path ":memory:" opens a private in-memory database.
//
// # Migrations
//
// Schema creation is idempotent. runMigrations adds columns introduced after
// the first release to existing databases.
package store

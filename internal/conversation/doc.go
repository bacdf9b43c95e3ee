// Package conversation holds chat history for gateway sessions.
//
// # Overview
//
// A Conversation is an ordered list of Messages owned by one client session.
// The gateway only commits a turn once the model reply completed, so the
// stored history never contains half-streamed assistant text:
//
//	svc := conversation.NewService(store, logger)
//	id, err := svc.CommitTurn(ctx, conversationID, owner, userMsg, reply)
//
// # Storage
//
// Store is deliberately narrow. The SQLite implementation lives in
// internal/store; MemoryStore here serves tests and ephemeral deployments.
//
// # Ownership
//
// A conversation is bound to the owner that created it. Committing to a
// conversation with a different owner fails with ErrNotOwner.
package conversation

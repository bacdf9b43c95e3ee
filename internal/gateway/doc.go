// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes transports, the connection state machine and the lifecycle

// Package gateway wires the switchboard server together and owns its
// transports.
//
// # Components
//
// New builds, in order: the SQLite store, the agent catalog and router, the
// audit log, the authenticator, the rate limiter, the model client, the
// stream runner, the conversation service, the scheduler (loaded from the
// store) and the tool dispatcher. Tokens, sessions, the limiter and the
// request replay guard live in one serverState owned by the Gateway.
//
// # Websocket protocol
//
// GET /ws carries JSON frames. Each connection moves through
//
//	Connected → Authenticated → (Idle ⇄ AwaitingModelResponse) → Closed
//
// Inbound frames:
//
//	{"type":"auth","token":"..."}
//	{"type":"chat","messages":[...],"stream":true,"conversation_id":"...","request_id":"..."}
//	{"type":"ping"}
//
// Every frame is counted against the rate limit before it is parsed. A
// rejected first frame closes the connection with policy violation. Chat
// requests are validated (1 to 100 messages, known roles, 1 to 10000
// characters of content) and routed to an agent. Streaming turns emit
// thinking, message_created, message_updated, tool_calls and exactly one of
// done or error; non-streaming turns reply with a single chat_response.
//
// # HTTP
//
//   - POST /api/chat - NDJSON stream of one turn, rate limited per IP
//   - GET /api/agents - agent catalog
//   - GET, POST /api/tasks - list and create proactive tasks
//   - POST /api/tasks/{id}/toggle, POST /api/tasks/{id}/run, DELETE /api/tasks/{id}
//   - GET /api/templates - task templates
//   - GET /api/audit, /api/audit/stats, /api/audit/stream (SSE)
//   - GET /api/conversations/{id}
//   - GET /health, GET /health/ready
//
// The gRPC listener serves grpc.health.v1.Health only.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Canceling ctx stops the scheduler loop, waits for running tasks and
// shuts the servers down.
package gateway

// Package stream turns an upstream model event stream into client events.
//
// # Layers
//
// Framer is the encoding layer. It accepts byte chunks split anywhere and
// yields complete newline-terminated records:
//
//	f := stream.NewFramer()
//	for _, fr := range f.Push(chunk) { ... }
//	tail := f.Flush()
//
// It understands SSE "data:" prefixes, ":" comments, blank lines, CRLF and the
// [DONE] sentinel. Lines without a data prefix are passed through as bare
// payloads, which makes the same framer work for NDJSON.
//
// Handler is the protocol layer. It owns the event contract seen by clients:
//
//	thinking → message_created → message_updated* → (tool_calls)* → done
//
// with a single terminal error event replacing the normal tail on failure.
// Events are written to a Sink.
//
// Runner drives one model turn: it opens the upstream stream, frames and
// decodes chunks, feeds text deltas to the Handler, accumulates tool calls,
// and retries transient failures that happen before any content was emitted.
//
// Reassembler is the client side of the NDJSON transport used by
// POST /api/chat.
package stream

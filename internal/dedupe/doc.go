// ABOUTME: Package documentation for the dedupe package
// ABOUTME: Request id replay guard shared by the websocket and HTTP chat paths

// Package dedupe remembers client-supplied request ids for a bounded time so
// a retransmitted chat request is answered once. Keys are claimed before the
// turn runs and released again when it fails, so a client may retry a turn
// that did not complete.
package dedupe

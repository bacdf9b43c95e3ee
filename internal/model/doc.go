// Package model talks to an OpenAI-compatible chat completions endpoint.
//
// Client has two entry points:
//
//   - Stream posts a streaming request and hands back the raw event-stream
//     body. Framing and decoding happen in internal/stream.
//   - Complete performs a non-streaming completion through openai-go and
//     returns the text plus any tool calls. Scheduled task runs and code
//     generation use it.
//
// Every failure that reaches a caller is an *Error carrying a Kind, so the
// streaming layer can decide between retrying and surfacing a message.
package model

// ABOUTME: Incremental line framer for SSE and NDJSON byte streams
// ABOUTME: Holds partial lines across chunks; recognises data prefixes, comments and [DONE]

package stream

import (
	"bytes"
)

// DoneSentinel terminates a stream.
const DoneSentinel = "[DONE]"

// Frame is one complete record.
type Frame struct {
	// Payload is the record body with any "data:" prefix removed.
	Payload []byte
	// Done is set for the [DONE] sentinel. Payload is empty then.
	Done bool
}

// Framer splits a byte stream into Frames. It is not safe for concurrent use.
type Framer struct {
	buf  []byte
	done bool
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends chunk and returns every record completed by it. After the
// sentinel has been seen, further input is ignored.
func (f *Framer) Push(chunk []byte) []Frame {
	if f.done {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]

		if fr, ok := f.parseLine(line); ok {
			frames = append(frames, fr)
			if fr.Done {
				f.buf = nil
				break
			}
		}
	}

	// Reclaim consumed space once the buffer is empty.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// Flush treats any buffered partial line as complete. Call it at EOF.
func (f *Framer) Flush() []Frame {
	if f.done || len(f.buf) == 0 {
		return nil
	}
	line := f.buf
	f.buf = nil
	if fr, ok := f.parseLine(line); ok {
		return []Frame{fr}
	}
	return nil
}

// Done reports whether the sentinel has been seen.
func (f *Framer) Done() bool {
	return f.done
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *Framer) Pending() int {
	return len(f.buf)
}

func (f *Framer) parseLine(line []byte) (Frame, bool) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return Frame{}, false
	}
	if line[0] == ':' {
		return Frame{}, false
	}

	payload := line
	switch {
	case bytes.HasPrefix(line, []byte("data:")):
		payload = bytes.TrimPrefix(line, []byte("data:"))
		payload = bytes.TrimPrefix(payload, []byte(" "))
	case isSSEField(line):
		// event:, id: and retry: carry nothing we use.
		return Frame{}, false
	}

	if string(bytes.TrimSpace(payload)) == DoneSentinel {
		f.done = true
		return Frame{Done: true}, true
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return Frame{Payload: out}, true
}

func isSSEField(line []byte) bool {
	for _, p := range []string{"event:", "id:", "retry:"} {
		if bytes.HasPrefix(line, []byte(p)) {
			return true
		}
	}
	return false
}

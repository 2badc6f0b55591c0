// Package streaming implements the embedded HTTP origin the renderer
// pulls audio from: per-track virtual output buffers ("slots"),
// container header synthesis, and byte-range serving.
package streaming

import (
	"errors"
	"sync"
)

// ErrUnderrun is returned by Read when the writer produced no bytes
// within MaxReadWait.
var ErrUnderrun = errors.New("streaming: read underrun")

// Buffer is the per-slot backing store: a growing byte sequence with
// independent write and read cursors, periodically truncated from the
// front once it exceeds a configured limit. A generic io.Reader/Writer/stream
// cache library can't express the truncate-and-rewind-cursors semantics
// this needs, so it is hand-rolled over sync.Cond rather than imported
// (see DESIGN.md).
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data []byte

	writeOffset int64 // absolute offset of data[0] in the untruncated stream
	writtenTo   int64 // absolute offset of the next byte to be written
	closed      bool  // writer side finished (end of track)

	bufferLimit int64 // 0 == unbounded
}

// NewBuffer returns an empty buffer. bufferLimit bounds retained bytes;
// when exceeded the first quarter is discarded and cursors rebased
// accordingly.
func NewBuffer(bufferLimit int64) *Buffer {
	b := &Buffer{bufferLimit: bufferLimit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends p to the buffer, truncating the front if bufferLimit is
// exceeded, and wakes any blocked readers.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.writtenTo += int64(len(p))

	if b.bufferLimit > 0 && int64(len(b.data)) > b.bufferLimit {
		drop := int64(len(b.data)) / 4
		b.data = b.data[drop:]
		b.writeOffset += drop
	}
	b.mu.Unlock()
	b.cond.Broadcast()
	return len(p), nil
}

// CloseWriter marks end of track: no more bytes will ever arrive.
func (b *Buffer) CloseWriter() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// ReadAt blocks until at least one byte is available at absolute offset
// off or the writer closes; an offset before the retained window returns
// (0, false) at once. It returns up to len(p) bytes, and (0, eof=true)
// once the writer has closed and offset has reached the write cursor.
func (b *Buffer) ReadAt(p []byte, off int64) (n int, eof bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		localOff := off - b.writeOffset
		if localOff < 0 {
			// Sought before the retained window: truncated away, nothing to serve.
			return 0, false
		}
		if localOff < int64(len(b.data)) {
			n = copy(p, b.data[localOff:])
			return n, false
		}
		if b.closed {
			return 0, true
		}
		b.cond.Wait()
	}
}

// HasDataAt reports, without blocking or copying, whether data exists at
// off and whether the writer has closed; used by the origin handler to
// implement the bounded max_read_wait poll instead of blocking forever.
func (b *Buffer) HasDataAt(off int64) (has bool, eof bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	localOff := off - b.writeOffset
	if localOff < int64(len(b.data)) && localOff >= 0 {
		return true, false
	}
	return false, b.closed
}

// TotalWritten returns the cumulative number of bytes ever written.
func (b *Buffer) TotalWritten() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writtenTo
}

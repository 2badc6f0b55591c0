package streaming

import (
	"errors"
	"sync"
	"time"
)

// ErrSlotBusy is returned by Open when another session already holds
// this slot open.
var ErrSlotBusy = errors.New("streaming: slot already open")

// Slot is one of a player's two virtual output buffers (current/next),
// addressable through the HTTP origin by its synthesized filename.
type Slot struct {
	Name string

	ContentType  string
	Codec        byte
	Channels     int
	SampleRate   int
	SampleSize   int
	BigEndian    bool
	StreamLength int64 // configured sentinel length served as Content-Length

	buf *Buffer

	mu         sync.Mutex
	opened     bool
	readCursor int64 // per-open cursor
	cumRead    int64 // cumulative bytes ever read across opens
	endOfTrack bool

	onUnderrun   func()
	onEndOfTrack func()
}

// NewSlot allocates a slot backed by a fresh Buffer.
func NewSlot(name string, streamLength, bufferLimit int64) *Slot {
	return &Slot{Name: name, StreamLength: streamLength, buf: NewBuffer(bufferLimit)}
}

// SetEventHooks wires the callbacks Read fires on an HTTP-read
// underrun or end-of-track, so the owning device can wake its
// LMS-facing notification path. Either hook may be nil.
func (s *Slot) SetEventHooks(onUnderrun, onEndOfTrack func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnderrun = onUnderrun
	s.onEndOfTrack = onEndOfTrack
}

// GetInfo reports the metadata the HTTP origin needs to answer a HEAD
// or build response headers.
type Info struct {
	IsDirectory  bool
	IsReadable   bool
	LastModified int64
	ContentType  string
	FileLength   int64
}

func (s *Slot) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{IsReadable: true, ContentType: s.ContentType, FileLength: s.StreamLength}
}

// Open binds a new reader session to the slot, refusing a second
// concurrent opener.
func (s *Slot) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return ErrSlotBusy
	}
	s.opened = true
	s.readCursor = 0
	return nil
}

// Close releases the session, subtracting the per-open read count from
// the cumulative total; the slot itself is not destroyed so it may be
// re-opened for a subsequent range request.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumRead -= s.readCursor
	s.opened = false
}

// Read serves up to n bytes, block-polling the backing buffer every
// 50ms up to maxReadWaitIters iterations. It returns
// ErrUnderrun on timeout, or (0, nil) once end-of-track is reached.
func (s *Slot) Read(n int, maxGetBytes int, maxReadWaitIters int) ([]byte, error) {
	if maxGetBytes > 0 && n > maxGetBytes {
		n = maxGetBytes
	}

	s.mu.Lock()
	off := s.readCursor
	s.mu.Unlock()

	for iter := 0; ; iter++ {
		has, eof := s.buf.HasDataAt(off)
		if has {
			break
		}
		if eof {
			s.markEndOfTrack()
			return nil, nil
		}
		if iter >= maxReadWaitIters {
			s.fireUnderrun()
			return nil, ErrUnderrun
		}
		time.Sleep(50 * time.Millisecond)
	}

	p := make([]byte, n)
	got, eof := s.buf.ReadAt(p, off)
	if got == 0 && eof {
		s.markEndOfTrack()
		return nil, nil
	}

	s.mu.Lock()
	s.readCursor += int64(got)
	s.cumRead += int64(got)
	s.mu.Unlock()

	return p[:got], nil
}

// Seek adjusts both the per-open and cumulative read cursors. Seeking
// before the retained buffer window is allowed;
// Buffer.ReadAt simply reports no data there (already truncated away).
func (s *Slot) Seek(offset int64, whence int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newOff int64
	switch whence {
	case 0: // absolute
		newOff = offset
	case 1: // relative
		newOff = s.readCursor + offset
	case 2: // from total written
		newOff = s.buf.TotalWritten() + offset
	}
	if newOff < 0 {
		newOff = 0
	}
	delta := newOff - s.readCursor
	s.readCursor = newOff
	s.cumRead += delta
	return newOff
}

// Write appends to the backing buffer (called by the LMS-side pull
// loop as bytes arrive).
func (s *Slot) Write(p []byte) { _, _ = s.buf.Write(p) }

// EndOfTrack marks the writer side finished.
func (s *Slot) EndOfTrack() { s.buf.CloseWriter() }

// IsEndOfTrack reports whether a Read has already observed end-of-track.
func (s *Slot) IsEndOfTrack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endOfTrack
}

// markEndOfTrack records end-of-track and fires onEndOfTrack outside the
// lock so the hook can't deadlock against another Slot method.
func (s *Slot) markEndOfTrack() {
	s.mu.Lock()
	s.endOfTrack = true
	hook := s.onEndOfTrack
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// fireUnderrun invokes onUnderrun, if set, after an HTTP-read timeout.
func (s *Slot) fireUnderrun() {
	s.mu.Lock()
	hook := s.onUnderrun
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

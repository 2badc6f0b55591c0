package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotRead_UnderrunFiresHook(t *testing.T) {
	s := NewSlot("slot-a", 0, 0)
	var fired bool
	s.SetEventHooks(func() { fired = true }, nil)

	_, err := s.Read(64, 0, 0) // maxReadWaitIters 0: first HasDataAt miss trips it immediately
	require.ErrorIs(t, err, ErrUnderrun)
	require.True(t, fired)
}

func TestSlotRead_EndOfTrackFiresHook(t *testing.T) {
	s := NewSlot("slot-a", 0, 0)
	var fired bool
	s.SetEventHooks(nil, func() { fired = true })

	s.Write([]byte("abc"))
	s.EndOfTrack()

	chunk, err := s.Read(64, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), chunk)
	require.False(t, fired, "hook only fires once the buffer is fully drained")

	chunk, err = s.Read(64, 0, 1)
	require.NoError(t, err)
	require.Nil(t, chunk)
	require.True(t, fired)
	require.True(t, s.IsEndOfTrack())
}

func TestSlotSetEventHooks_NilHooksDoNotPanic(t *testing.T) {
	s := NewSlot("slot-a", 0, 0)
	s.EndOfTrack()
	require.NotPanics(t, func() {
		_, _ = s.Read(64, 0, 1)
	})
}

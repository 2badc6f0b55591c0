package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type intent string

const (
	intentNone  intent = "NONE"
	intentPlay  intent = "PLAY"
	intentPause intent = "PAUSE"
	intentStop  intent = "STOP"
)

func allIntentsMachine(t *testing.T, initial intent) *Machine[intent] {
	t.Helper()
	states := []intent{intentNone, intentPlay, intentPause, intentStop}
	var transitions []Transition[intent]
	for _, from := range states {
		for _, event := range []intent{intentPlay, intentPause, intentStop} {
			transitions = append(transitions, Transition[intent]{From: from, Event: event, To: event})
		}
	}
	m, err := New(initial, transitions)
	require.NoError(t, err)
	return m
}

func TestMachine_FireAppliesModeledTransition(t *testing.T) {
	m := allIntentsMachine(t, intentNone)

	to, err := m.Fire(intentPlay)
	require.NoError(t, err)
	require.Equal(t, intentPlay, to)
	require.Equal(t, intentPlay, m.State())
}

func TestMachine_FireRejectsUnmodeledTransition(t *testing.T) {
	m, err := New(intentNone, []Transition[intent]{{From: intentNone, Event: intentPlay, To: intentPlay}})
	require.NoError(t, err)

	_, err = m.Fire(intentStop)
	require.Error(t, err)
	require.Equal(t, intentNone, m.State(), "a rejected event must not move state")
}

func TestNew_DuplicateTransitionIsRejected(t *testing.T) {
	_, err := New(intentNone, []Transition[intent]{
		{From: intentNone, Event: intentPlay, To: intentPlay},
		{From: intentNone, Event: intentPlay, To: intentPause},
	})
	require.Error(t, err)
}

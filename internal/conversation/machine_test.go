package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type transitionLog struct {
	mu sync.Mutex
	ts []Transition
}

func (l *transitionLog) add(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ts = append(l.ts, t)
}

func (l *transitionLog) snapshot() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.ts...)
}

func TestMachineReportsTransitions(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &transitionLog{}
	m := NewMachine(Options{}, log.add)
	defer m.Close()

	_, err := m.Start()
	require.NoError(t, err)
	_, err = m.Process()
	require.NoError(t, err)
	_, err = m.Speak()
	require.NoError(t, err)
	_, err = m.Speak()
	require.ErrorIs(t, err, ErrInvalidTransition)

	ts := log.snapshot()
	require.Len(t, ts, 3)
	assert.Equal(t, StatusIdle, ts[0].From)
	assert.Equal(t, StatusListening, ts[0].To)
	assert.Equal(t, EventSpeak, ts[2].Event)
	assert.Equal(t, 1, ts[2].State.ExchangeCount)
	assert.Equal(t, StatusSpeaking, m.Status())
}

func TestMachineMaxExchangesEndsCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &transitionLog{}
	m := NewMachine(Options{MaxExchanges: 2}, log.add)
	defer m.Close()

	_, _ = m.Start()
	for i := 0; i < 2; i++ {
		_, err := m.Process()
		require.NoError(t, err)
		_, err = m.Speak()
		require.NoError(t, err)
		s, err := m.SpeechDone()
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, StatusListening, s.Status)
		} else {
			assert.Equal(t, StatusIdle, s.Status)
			assert.Equal(t, ReasonMaxExchanges, s.EndReason)
		}
	}

	ts := log.snapshot()
	last := ts[len(ts)-1]
	assert.Equal(t, EventEnd, last.Event)
	assert.Equal(t, ReasonMaxExchanges, last.Reason)
	assert.Equal(t, StatusListening, ts[len(ts)-2].To)
}

func TestMachineInterruptedRepliesCountTowardMaxExchanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &transitionLog{}
	m := NewMachine(Options{MaxExchanges: 2}, log.add)
	defer m.Close()

	_, _ = m.Start()
	for i := 0; i < 2; i++ {
		_, err := m.Process()
		require.NoError(t, err)
		_, err = m.Speak()
		require.NoError(t, err)
		_, err = m.Interrupt()
		require.NoError(t, err)
		_, err = m.Listen()
		require.NoError(t, err)
	}

	s := m.State()
	assert.Equal(t, StatusIdle, s.Status)
	assert.False(t, s.Active)
	assert.Equal(t, 2, s.ExchangeCount)
	assert.Equal(t, ReasonMaxExchanges, s.EndReason)

	_, err := m.Process()
	require.ErrorIs(t, err, ErrInvalidTransition)

	ts := log.snapshot()
	last := ts[len(ts)-1]
	assert.Equal(t, EventEnd, last.Event)
	assert.Equal(t, StatusListening, last.From)
	assert.Equal(t, EventListen, ts[len(ts)-2].Event)
}

func TestMachineErrorClearWithSpentBudgetEndsCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMachine(Options{MaxExchanges: 1}, nil)
	defer m.Close()

	_, _ = m.Start()
	_, _ = m.Process()
	_, _ = m.Speak()
	_, err := m.Fail(errors.New("speaker lost"))
	require.NoError(t, err)
	s, err := m.ClearError()
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, ReasonMaxExchanges, s.EndReason)
}

func TestMachineSessionTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	ended := make(chan Transition, 1)
	m := NewMachine(Options{SessionTimeout: 40 * time.Millisecond}, func(tr Transition) {
		if tr.Event == EventEnd {
			ended <- tr
		}
	})
	defer m.Close()

	_, err := m.Start()
	require.NoError(t, err)

	select {
	case tr := <-ended:
		assert.Equal(t, ReasonTimeout, tr.Reason)
		assert.Equal(t, StatusIdle, tr.To)
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not time out")
	}
	assert.False(t, m.State().Active)
}

func TestMachineActivityPostponesTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMachine(Options{SessionTimeout: 150 * time.Millisecond}, nil)
	defer m.Close()

	_, _ = m.Start()
	time.Sleep(90 * time.Millisecond)
	_, err := m.Process()
	require.NoError(t, err)
	time.Sleep(90 * time.Millisecond)
	assert.True(t, m.State().Active, "activity should have re-armed the session timer")
}

func TestMachineErrorAutoClear(t *testing.T) {
	defer goleak.VerifyNone(t)

	cleared := make(chan Transition, 1)
	m := NewMachine(Options{ErrorClearDelay: 30 * time.Millisecond}, func(tr Transition) {
		if tr.Event == EventClearError {
			cleared <- tr
		}
	})
	defer m.Close()

	_, _ = m.Start()
	_, _ = m.Process()
	s, err := m.Fail(errors.New("transcription failed"))
	require.NoError(t, err)
	assert.Equal(t, StatusError, s.Status)

	select {
	case tr := <-cleared:
		assert.Equal(t, StatusListening, tr.To)
		assert.Empty(t, tr.State.LastError)
	case <-time.After(2 * time.Second):
		t.Fatalf("error was not cleared")
	}
}

func TestMachineCloseStopsTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	calls := 0
	m := NewMachine(Options{SessionTimeout: 20 * time.Millisecond}, func(Transition) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	_, _ = m.Start()
	m.Close()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)

	_, err := m.Process()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

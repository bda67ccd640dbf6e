package conversation

import (
	"sync"
	"time"
)

// Options configures Machine timers. Zero durations disable the matching timer.
type Options struct {
	SessionTimeout  time.Duration
	ErrorClearDelay time.Duration
	// MaxExchanges ends the call once this many replies have been spoken or
	// interrupted. 0 means unlimited.
	MaxExchanges int
}

func DefaultOptions() Options {
	return Options{
		SessionTimeout:  5 * time.Minute,
		ErrorClearDelay: 3 * time.Second,
		MaxExchanges:    20,
	}
}

// Transition is reported to the change hook after every accepted event.
type Transition struct {
	From   Status
	To     Status
	Event  EventType
	Reason string
	State  State
}

// Machine serializes call events, owns the call timers and reports transitions.
// The change hook runs synchronously and must not call back into the Machine.
type Machine struct {
	mu       sync.Mutex
	opts     Options
	state    State
	onChange func(Transition)
	now      func() time.Time

	sessionTimer *time.Timer
	errorTimer   *time.Timer
	// generation invalidates timer callbacks that fired while a newer event was applied.
	generation uint64
	closed     bool

	// notifyMu keeps hook invocations ordered without holding mu.
	notifyMu sync.Mutex
}

func NewMachine(opts Options, onChange func(Transition)) *Machine {
	return &Machine{
		opts:     opts,
		state:    Initial(),
		onChange: onChange,
		now:      time.Now,
	}
}

// State returns a snapshot of the current call state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Status() Status {
	return m.State().Status
}

func (m *Machine) Start() (State, error) { return m.Dispatch(Event{Type: EventStart}) }

func (m *Machine) Process() (State, error) { return m.Dispatch(Event{Type: EventProcess}) }

func (m *Machine) Speak() (State, error) { return m.Dispatch(Event{Type: EventSpeak}) }

func (m *Machine) Interrupt() (State, error) { return m.Dispatch(Event{Type: EventInterrupt}) }

func (m *Machine) Listen() (State, error) { return m.Dispatch(Event{Type: EventListen}) }

func (m *Machine) ClearError() (State, error) { return m.Dispatch(Event{Type: EventClearError}) }

func (m *Machine) Fail(err error) (State, error) {
	return m.Dispatch(Event{Type: EventFail, Err: err})
}

func (m *Machine) End(reason string) (State, error) {
	return m.Dispatch(Event{Type: EventEnd, Reason: reason})
}

// SpeechDone finishes the spoken reply.
func (m *Machine) SpeechDone() (State, error) { return m.Dispatch(Event{Type: EventSpeechDone}) }

// Dispatch applies e and reports the transition. A call that returns to
// listening with its exchange budget spent ends with ReasonMaxExchanges, so a
// reply counts whether it was heard out or interrupted.
func (m *Machine) Dispatch(e Event) (State, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		s := m.state
		m.mu.Unlock()
		return s, ErrInvalidTransition
	}
	ts, err := m.applyCappedLocked(e)
	s := m.state
	m.mu.Unlock()
	if err != nil {
		return s, err
	}

	m.notify(ts...)
	return s, nil
}

// Close stops all timers. The change hook is not invoked after Close returns.
func (m *Machine) Close() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.generation++
	stopTimer(&m.sessionTimer)
	stopTimer(&m.errorTimer)
}

func (m *Machine) applyLocked(e Event) (Transition, error) {
	prev := m.state
	next, err := Reduce(prev, e, m.now())
	if err != nil {
		return Transition{}, err
	}
	m.state = next
	m.generation++
	m.rearmLocked()
	return Transition{
		From:   prev.Status,
		To:     next.Status,
		Event:  e.Type,
		Reason: next.EndReason,
		State:  next,
	}, nil
}

func (m *Machine) applyCappedLocked(e Event) ([]Transition, error) {
	t, err := m.applyLocked(e)
	if err != nil {
		return nil, err
	}
	ts := []Transition{t}
	if t.To == StatusListening && m.opts.MaxExchanges > 0 && m.state.ExchangeCount >= m.opts.MaxExchanges {
		if end, err := m.applyLocked(Event{Type: EventEnd, Reason: ReasonMaxExchanges}); err == nil {
			ts = append(ts, end)
		}
	}
	return ts, nil
}

func (m *Machine) rearmLocked() {
	stopTimer(&m.sessionTimer)
	stopTimer(&m.errorTimer)
	if !m.state.Active {
		return
	}
	gen := m.generation
	if m.opts.SessionTimeout > 0 {
		m.sessionTimer = time.AfterFunc(m.opts.SessionTimeout, func() {
			m.fireTimer(gen, Event{Type: EventEnd, Reason: ReasonTimeout})
		})
	}
	if m.state.Status == StatusError && m.opts.ErrorClearDelay > 0 {
		m.errorTimer = time.AfterFunc(m.opts.ErrorClearDelay, func() {
			m.fireTimer(gen, Event{Type: EventClearError})
		})
	}
}

func (m *Machine) fireTimer(gen uint64, e Event) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	ts, err := m.applyCappedLocked(e)
	m.mu.Unlock()
	if err != nil {
		return
	}
	m.notify(ts...)
}

func (m *Machine) notify(ts ...Transition) {
	if m.onChange == nil {
		return
	}
	for _, t := range ts {
		m.onChange(t)
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

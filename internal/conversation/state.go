// Package conversation holds the live-call state machine: a pure reducer over
// call events plus a Machine that adds session, error and exchange timers.
package conversation

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusIdle        Status = "idle"
	StatusListening   Status = "listening"
	StatusProcessing  Status = "processing"
	StatusSpeaking    Status = "speaking"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

type EventType string

const (
	EventStart      EventType = "start"
	EventProcess    EventType = "process"
	EventSpeak      EventType = "speak"
	EventSpeechDone EventType = "speech_done"
	EventInterrupt  EventType = "interrupt"
	EventListen     EventType = "listen"
	EventFail       EventType = "fail"
	EventClearError EventType = "clear_error"
	EventEnd        EventType = "end"
)

// End reasons recorded on the state when a call returns to idle.
const (
	ReasonClient       = "client"
	ReasonTimeout      = "timeout"
	ReasonMaxExchanges = "max_exchanges"
	ReasonShutdown     = "shutdown"
)

var ErrInvalidTransition = errors.New("invalid call state transition")

type Event struct {
	Type EventType
	// Reason is the end reason for EventEnd.
	Reason string
	// Err is the failure for EventFail.
	Err error
}

type State struct {
	Status            Status    `json:"status"`
	Active            bool      `json:"active"`
	ExchangeCount     int       `json:"exchange_count"`
	InterruptionCount int       `json:"interruption_count"`
	LastError         string    `json:"last_error,omitempty"`
	EndReason         string    `json:"end_reason,omitempty"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at,omitempty"`
}

// Initial is the state of a call that has not started.
func Initial() State {
	return State{Status: StatusIdle}
}

// Reduce applies e to s. On an invalid transition s is returned unchanged with
// an error wrapping ErrInvalidTransition.
func Reduce(s State, e Event, now time.Time) (State, error) {
	next := s
	switch e.Type {
	case EventStart:
		if s.Status != StatusIdle {
			return s, invalid(s, e)
		}
		next = State{
			Status:    StatusListening,
			Active:    true,
			StartedAt: now,
		}
	case EventProcess:
		if s.Status != StatusListening && s.Status != StatusInterrupted {
			return s, invalid(s, e)
		}
		next.Status = StatusProcessing
	case EventSpeak:
		if s.Status != StatusProcessing {
			return s, invalid(s, e)
		}
		next.Status = StatusSpeaking
		next.ExchangeCount++
	case EventSpeechDone:
		if s.Status != StatusSpeaking {
			return s, invalid(s, e)
		}
		next.Status = StatusListening
	case EventInterrupt:
		if s.Status != StatusSpeaking {
			return s, invalid(s, e)
		}
		next.Status = StatusInterrupted
		next.InterruptionCount++
	case EventListen:
		switch s.Status {
		case StatusInterrupted, StatusProcessing, StatusError:
		default:
			return s, invalid(s, e)
		}
		next.Status = StatusListening
		next.LastError = ""
	case EventFail:
		if !s.Active {
			return s, invalid(s, e)
		}
		next.Status = StatusError
		next.LastError = "unknown error"
		if e.Err != nil {
			next.LastError = e.Err.Error()
		}
	case EventClearError:
		if s.Status != StatusError {
			return s, invalid(s, e)
		}
		next.Status = StatusListening
		next.LastError = ""
	case EventEnd:
		if !s.Active {
			return s, invalid(s, e)
		}
		next.Status = StatusIdle
		next.Active = false
		next.EndReason = e.Reason
		if next.EndReason == "" {
			next.EndReason = ReasonClient
		}
	default:
		return s, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, e.Type)
	}
	next.LastActivityAt = now
	return next, nil
}

func invalid(s State, e Event) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e.Type, s.Status)
}

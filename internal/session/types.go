package session

import "time"

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	CallerID string `json:"caller_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	CallerID        string    `json:"caller_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
	WebSocketPath   string    `json:"ws_path"`
}

// CallMirror is the slice of conversation state a session keeps for status
// queries. It is written by the call orchestrator on every transition.
type CallMirror struct {
	Status            string `json:"call_status"`
	Active            bool   `json:"call_active"`
	ExchangeCount     int    `json:"exchange_count"`
	InterruptionCount int    `json:"interruption_count"`
	LastError         string `json:"last_error,omitempty"`
	EndReason         string `json:"end_reason,omitempty"`
}

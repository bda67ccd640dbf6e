// Package backend talks to the booking assistant service: speech-to-text and
// conversational replies.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyAudio is returned when Transcribe is called without audio.
var ErrEmptyAudio = errors.New("backend: empty audio")

// ReplyRequest is one user utterance sent to the assistant.
type ReplyRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ReplyResponse is the assistant's markdown answer.
type ReplyResponse struct {
	Text string `json:"response"`
}

// Client is the booking backend surface used by calls and REST handlers.
type Client interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Reply(ctx context.Context, req ReplyRequest) (ReplyResponse, error)
	Health(ctx context.Context) error
}

// Config controls client construction.
type Config struct {
	Mode       string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: http status %d: %s", e.Op, e.StatusCode, e.Body)
}

// NewClient picks the implementation for cfg.Mode. auto uses HTTP when a base
// URL is configured and falls back to the offline mock otherwise.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return NewMockClient(), nil
		}
		return NewHTTPClient(cfg)
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("backend url is required for http mode")
		}
		return NewHTTPClient(cfg)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}

// Package transcript persists what callers said and what the assistant answered.
package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/barbercall/internal/policy"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source tells whether an entry came from a call or typed chat.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
)

// Entry stores a single user or assistant utterance.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id,omitempty"`
	Role        Role      `json:"role"`
	Source      Source    `json:"source"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves session history. History returns the most
// recent limit entries in chronological order.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	History(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}

// DefaultHistoryLimit caps History when the caller passes limit <= 0.
const DefaultHistoryLimit = 50

// prepare fills ids and timestamps and masks PII before an entry is stored.
func prepare(e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Source == "" {
		e.Source = SourceText
	}
	e.Content = strings.TrimSpace(e.Content)
	if redacted, changed := policy.RedactPII(e.Content); changed {
		e.Content = redacted
		e.PIIRedacted = true
	}
	return e
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

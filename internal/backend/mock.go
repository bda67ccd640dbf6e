package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/barbercall/internal/audio"
)

// DefaultMockTranscript is what MockClient hears in any audible recording.
const DefaultMockTranscript = "I'd like to book a haircut for tomorrow morning."

// mockSilencePeak is the absolute sample peak below which a recording is treated as silence.
const mockSilencePeak = 500

// MockClient provides deterministic local replies when no backend is configured.
type MockClient struct {
	Transcript string
}

func NewMockClient() *MockClient {
	return &MockClient{Transcript: DefaultMockTranscript}
}

func (c *MockClient) Health(ctx context.Context) error {
	return ctx.Err()
}

func (c *MockClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}
	pcm, _, err := audio.DecodeWAVPCM16(wav)
	if err != nil {
		return "", fmt.Errorf("decode wav: %w", err)
	}
	peak := 0
	for _, s := range audio.BytesToSamples(pcm) {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak < mockSilencePeak {
		return "", nil
	}
	return c.Transcript, nil
}

func (c *MockClient) Reply(ctx context.Context, req ReplyRequest) (ReplyResponse, error) {
	if err := ctx.Err(); err != nil {
		return ReplyResponse{}, err
	}
	return ReplyResponse{Text: mockReply(req.Message)}, nil
}

func mockReply(message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	switch {
	case msg == "":
		return "Sorry, I didn't catch that. Could you say it again?"
	case strings.Contains(msg, "cancel"):
		return "No problem. I've **cancelled** your appointment. Anything else?"
	case strings.Contains(msg, "price") || strings.Contains(msg, "cost") || strings.Contains(msg, "how much"):
		return "Here are our prices:\n\n| Service | Price |\n|---|---|\n| Cut | $25 |\n| Beard trim | $15 |\n\nWant me to book one?"
	case strings.Contains(msg, "open") || strings.Contains(msg, "hours"):
		return "We're open **9 am to 7 pm**, Tuesday through Saturday."
	case strings.Contains(msg, "book") || strings.Contains(msg, "appointment") || strings.Contains(msg, "haircut"):
		return "**Sure!** I have two openings tomorrow:\n\n- 10:30 am with *Marco*\n- 2:00 pm with *Luca*\n\nWhich works for you?"
	default:
		return fmt.Sprintf("You said: %s. I can book, move or cancel an appointment for you.", strings.TrimSpace(message))
	}
}

package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/backend"
	"github.com/ent0n29/barbercall/internal/observability"
	"github.com/ent0n29/barbercall/internal/speech"
	"github.com/ent0n29/barbercall/internal/transcript"
)

// ErrEmptyTranscript means the recording held no recognizable speech.
var ErrEmptyTranscript = errors.New("call: nothing was transcribed")

const transcriptSaveTimeout = 2 * time.Second

// Reply is one finished exchange.
type Reply struct {
	TurnID       string        `json:"turn_id"`
	Transcript   string        `json:"transcription,omitempty"`
	Text         string        `json:"reply"`
	SpeechText   string        `json:"speech_text"`
	SpeechChunks []string      `json:"speech_chunks"`
	Duration     time.Duration `json:"-"`
}

// Assistant runs the transcribe -> reply -> speech pipeline shared by calls
// and the REST endpoints, recording stage latencies and the transcript.
type Assistant struct {
	backend       backend.Client
	store         transcript.Store
	metrics       *observability.Metrics
	logger        *zap.Logger
	maxChunkChars int
}

func NewAssistant(client backend.Client, store transcript.Store, metrics *observability.Metrics, logger *zap.Logger, maxChunkChars int) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxChunkChars <= 0 {
		maxChunkChars = speech.DefaultMaxChunkChars
	}
	return &Assistant{
		backend:       client,
		store:         store,
		metrics:       metrics,
		logger:        logger,
		maxChunkChars: maxChunkChars,
	}
}

// Health reports whether the booking backend is reachable.
func (a *Assistant) Health(ctx context.Context) error {
	return a.backend.Health(ctx)
}

// TextTurn answers a typed message.
func (a *Assistant) TextTurn(ctx context.Context, sessionID, text string) (Reply, error) {
	started := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, errors.New("message is required")
	}
	turnID := uuid.NewString()
	a.record(sessionID, turnID, transcript.RoleUser, transcript.SourceText, text)

	reply, err := a.Respond(ctx, sessionID, turnID, text, transcript.SourceText)
	if err != nil {
		return Reply{}, err
	}
	reply.Duration = time.Since(started)
	a.metrics.ObserveStage(observability.StageTextTurn, reply.Duration)
	return reply, nil
}

// VoiceTurn transcribes a WAV recording and answers it. ErrEmptyTranscript is
// returned when nothing was said.
func (a *Assistant) VoiceTurn(ctx context.Context, sessionID string, wav []byte) (Reply, error) {
	started := time.Now()
	turnID := uuid.NewString()

	text, err := a.Transcribe(ctx, sessionID, turnID, wav)
	if err != nil {
		return Reply{}, err
	}
	if text == "" {
		return Reply{TurnID: turnID}, ErrEmptyTranscript
	}

	reply, err := a.Respond(ctx, sessionID, turnID, text, transcript.SourceVoice)
	if err != nil {
		return Reply{}, err
	}
	reply.Transcript = text
	reply.Duration = time.Since(started)
	a.metrics.ObserveStage(observability.StageVoiceTurn, reply.Duration)
	return reply, nil
}

// Transcribe converts a recording to text and stores what the caller said.
func (a *Assistant) Transcribe(ctx context.Context, sessionID, turnID string, wav []byte) (string, error) {
	started := time.Now()
	text, err := a.backend.Transcribe(ctx, wav)
	elapsed := time.Since(started)
	a.metrics.ObserveBackend("transcribe", elapsed, err)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	a.metrics.ObserveStage(observability.StageTranscribe, elapsed)

	text = strings.TrimSpace(text)
	if text != "" {
		a.record(sessionID, turnID, transcript.RoleUser, transcript.SourceVoice, text)
	}
	return text, nil
}

// Respond asks the backend for a reply to userText and prepares it for speech.
func (a *Assistant) Respond(ctx context.Context, sessionID, turnID, userText string, source transcript.Source) (Reply, error) {
	started := time.Now()
	res, err := a.backend.Reply(ctx, backend.ReplyRequest{SessionID: sessionID, Message: userText})
	elapsed := time.Since(started)
	a.metrics.ObserveBackend("chat", elapsed, err)
	if err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	a.metrics.ObserveStage(observability.StageReply, elapsed)

	started = time.Now()
	spoken := speech.ProcessForSpeech(res.Text)
	chunks := speech.SplitForSpeech(spoken, a.maxChunkChars)
	a.metrics.ObserveStage(observability.StageSpeechProcess, time.Since(started))

	a.record(sessionID, turnID, transcript.RoleAssistant, source, res.Text)
	return Reply{
		TurnID:       turnID,
		Text:         res.Text,
		SpeechText:   spoken,
		SpeechChunks: chunks,
	}, nil
}

// History returns the stored transcript of a session.
func (a *Assistant) History(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.History(ctx, sessionID, limit)
}

// record persists one utterance. Storage failures are logged, never surfaced
// to the caller.
func (a *Assistant) record(sessionID, turnID string, role transcript.Role, source transcript.Source, content string) {
	if a.store == nil || strings.TrimSpace(content) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
	defer cancel()
	_, err := a.store.Append(ctx, transcript.Entry{
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      role,
		Source:    source,
		Content:   content,
	})
	if err != nil {
		if a.metrics != nil {
			a.metrics.SessionEvents.WithLabelValues("transcript_save_failed").Inc()
		}
		a.logger.Warn("transcript save failed",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID),
			zap.Error(err))
	}
}

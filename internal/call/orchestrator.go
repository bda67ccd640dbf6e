// Package call drives live voice calls: it segments caller audio, runs each
// utterance through the booking backend and keeps the conversation state in
// step with the client's playback.
package call

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/backend"
	"github.com/ent0n29/barbercall/internal/conversation"
	"github.com/ent0n29/barbercall/internal/observability"
	"github.com/ent0n29/barbercall/internal/protocol"
	"github.com/ent0n29/barbercall/internal/reliability"
	"github.com/ent0n29/barbercall/internal/session"
	"github.com/ent0n29/barbercall/internal/vad"
)

// Config holds per-call tuning shared by every connection.
type Config struct {
	Conversation       conversation.Options
	VAD                vad.Config
	AllowInterruptions bool
	// SpeakingTimeout forces speech_done when the client never reports playback end.
	SpeakingTimeout time.Duration
	// MinUtterance drops captures shorter than this as noise.
	MinUtterance time.Duration
	PreRoll      time.Duration
	MaxUtterance time.Duration
}

func DefaultConfig() Config {
	return Config{
		Conversation:       conversation.DefaultOptions(),
		VAD:                vad.DefaultConfig(),
		AllowInterruptions: true,
		SpeakingTimeout:    90 * time.Second,
		MinUtterance:       400 * time.Millisecond,
		PreRoll:            300 * time.Millisecond,
		MaxUtterance:       60 * time.Second,
	}
}

const (
	criticalSendTimeout = 600 * time.Millisecond
	reasonBargeIn       = "barge_in"
	reasonManual        = "manual"
)

type Orchestrator struct {
	sessions  *session.Manager
	assistant *Assistant
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       Config
}

func NewOrchestrator(
	sessions *session.Manager,
	assistant *Assistant,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg Config,
) (*Orchestrator, error) {
	if err := cfg.VAD.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetrics("barbercall")
	}
	return &Orchestrator{
		sessions:  sessions,
		assistant: assistant,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// RunConnection serves one client connection until ctx is cancelled or
// inbound is closed. Messages on inbound are the parsed protocol client
// types; everything written to outbound is a protocol server type.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := newConn(ctx, o, s.ID, outbound)
	if err != nil {
		return err
	}
	defer c.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ended:
			if !c.machine.State().Active {
				c.resetCapture()
			}
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.sessions.Touch(s.ID)
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				c.handleAudio(m)
			case protocol.ClientControl:
				c.handleControl(m)
			case protocol.ClientText:
				c.handleText(m)
			default:
				o.logger.Debug("ignoring unexpected inbound message", zap.String("session_id", s.ID))
			}
		}
	}
}

func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	record := func(result string) {
		o.metrics.ObserveOutboundMessage(msgType, result)
	}

	if !critical {
		select {
		case outbound <- msg:
			record("delivered")
		default:
			record("dropped")
			o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		record("delivered")
	case <-timer.C:
		record("timeout")
		o.metrics.SessionEvents.WithLabelValues("outbound_timeout_critical").Inc()
	}
}

// outboundMessageMeta reports the wire type of msg and whether it must not be dropped.
func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.VADEvent:
		return string(m.Type), false
	case protocol.CallState:
		return string(m.Type), true
	case protocol.Transcript:
		return string(m.Type), true
	case protocol.AssistantReply:
		return string(m.Type), true
	case protocol.AssistantSpeakCancel:
		return string(m.Type), true
	case protocol.SystemEvent:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	default:
		return "unknown", false
	}
}

// isRetryable classifies backend failures for error_event.
func isRetryable(err error) bool {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.StatusCode)
	}
	return reliability.IsRetryableError(err)
}

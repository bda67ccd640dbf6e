package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/audio"
	"github.com/ent0n29/barbercall/internal/conversation"
	"github.com/ent0n29/barbercall/internal/observability"
	"github.com/ent0n29/barbercall/internal/protocol"
	"github.com/ent0n29/barbercall/internal/session"
	"github.com/ent0n29/barbercall/internal/transcript"
	"github.com/ent0n29/barbercall/internal/vad"
)

// conn is the state of one live connection. The detector is owned by the
// RunConnection loop; turn goroutines only touch the machine, the recorder
// and the turn fields guarded by turnMu.
type conn struct {
	o         *Orchestrator
	ctx       context.Context
	sessionID string
	outbound  chan<- any
	logger    *zap.Logger

	machine  *conversation.Machine
	detector *vad.Detector
	recorder *audio.Recorder

	// ended is signalled by the change hook when the call returns to idle.
	ended chan struct{}
	// resume is set by the change hook when an error clears, so the next chunk
	// can pick up a speech segment that opened while the call was in error.
	resume atomic.Bool

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnToken  uint64
	turnID     string
	watchdog   *time.Timer
	// chatCancel is set while a text turn outside a call is running.
	chatCancel context.CancelFunc

	turns sync.WaitGroup
}

func newConn(ctx context.Context, o *Orchestrator, sessionID string, outbound chan<- any) (*conn, error) {
	c := &conn{
		o:         o,
		ctx:       ctx,
		sessionID: sessionID,
		outbound:  outbound,
		logger:    o.logger.With(zap.String("session_id", sessionID)),
		ended:     make(chan struct{}, 1),
		recorder: audio.NewRecorder(audio.RecorderConfig{
			SampleRate:  o.cfg.VAD.SampleRate,
			PreRoll:     o.cfg.PreRoll,
			MaxDuration: o.cfg.MaxUtterance,
		}),
	}
	detector, err := vad.New(o.cfg.VAD, vad.Handlers{
		OnSpeechStart: c.onSpeechStart,
		OnSpeechEnd:   c.onSpeechEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("create vad: %w", err)
	}
	c.detector = detector
	c.machine = conversation.NewMachine(o.cfg.Conversation, c.onTransition)
	return c, nil
}

func (c *conn) close() {
	c.cancelTurn()
	c.endChatTurn()
	if c.machine.State().Active {
		_, _ = c.machine.End(conversation.ReasonShutdown)
	}
	c.machine.Close()
	c.turns.Wait()
}

func (c *conn) send(msg any) {
	c.o.send(c.outbound, msg)
}

func (c *conn) sendError(code, source string, retryable bool, err error) {
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	})
}

func (c *conn) sendSystem(code, detail string) {
	c.send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: c.sessionID,
		Code:      code,
		Detail:    detail,
	})
}

// onTransition is the machine's change hook. It must not call back into the machine.
func (c *conn) onTransition(t conversation.Transition) {
	st := t.State
	c.send(protocol.CallState{
		Type:              protocol.TypeCallState,
		SessionID:         c.sessionID,
		Status:            string(st.Status),
		Active:            st.Active,
		Event:             string(t.Event),
		ExchangeCount:     st.ExchangeCount,
		InterruptionCount: st.InterruptionCount,
		LastError:         st.LastError,
		EndReason:         st.EndReason,
		TSMs:              time.Now().UnixMilli(),
	})
	_ = c.o.sessions.UpdateCall(c.sessionID, session.CallMirror{
		Status:            string(st.Status),
		Active:            st.Active,
		ExchangeCount:     st.ExchangeCount,
		InterruptionCount: st.InterruptionCount,
		LastError:         st.LastError,
		EndReason:         st.EndReason,
	})

	m := c.o.metrics
	m.ObserveTransition(string(t.Event), string(t.To))
	switch t.Event {
	case conversation.EventSpeak:
		m.CallExchanges.Inc()
	case conversation.EventInterrupt:
		m.CallInterruptions.Inc()
		m.ObserveEvent("interrupt")
	case conversation.EventClearError:
		c.resume.Store(true)
	case conversation.EventEnd:
		m.SessionEvents.WithLabelValues("call_end_" + t.Reason).Inc()
		if t.From == conversation.StatusSpeaking {
			c.send(protocol.AssistantSpeakCancel{
				Type:      protocol.TypeAssistantSpeakCancel,
				SessionID: c.sessionID,
				Reason:    "call_ended",
			})
		}
		select {
		case c.ended <- struct{}{}:
		default:
		}
	}

	c.logger.Debug("call transition",
		zap.String("event", string(t.Event)),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("reason", t.Reason))
}

// resetCapture drops any audio state left from the previous call.
func (c *conn) resetCapture() {
	c.cancelTurn()
	c.resume.Store(false)
	c.detector.Reset()
	c.recorder.Reset()
}

func (c *conn) handleAudio(m protocol.ClientAudioChunk) {
	if !c.machine.State().Active {
		return
	}
	if m.SampleRate != c.o.cfg.VAD.SampleRate {
		c.sendError("unsupported_sample_rate", "audio", false,
			fmt.Errorf("expected %d Hz audio, got %d Hz", c.o.cfg.VAD.SampleRate, m.SampleRate))
		return
	}
	samples, err := audio.DecodePCM16Base64(m.PCM16Base64)
	if err != nil {
		c.sendError("invalid_audio", "audio", false, err)
		return
	}
	if c.resume.Swap(false) && c.detector.Speaking() && c.machine.Status() == conversation.StatusListening {
		c.recorder.Begin()
	}
	// Feed the recorder and the detector one frame at a time so a speech start
	// found early in a long chunk still sees the pre-roll from before it.
	step := c.o.cfg.VAD.FFTSize
	for len(samples) > 0 {
		n := min(step, len(samples))
		c.recorder.Append(samples[:n])
		c.detector.Process(samples[:n])
		samples = samples[n:]
	}
}

func (c *conn) handleControl(m protocol.ClientControl) {
	switch m.Action {
	case protocol.ActionStartCall:
		if _, err := c.machine.Start(); err != nil {
			c.sendTransitionError(m.Action, err)
			return
		}
		c.resume.Store(false)
		c.detector.Reset()
		c.recorder.Reset()
	case protocol.ActionEndCall:
		c.cancelTurn()
		if _, err := c.machine.End(conversation.ReasonClient); err != nil {
			c.sendTransitionError(m.Action, err)
			return
		}
		// Close any open segment so the client sees a matching speech_end.
		c.detector.Flush()
	case protocol.ActionInterrupt:
		if c.machine.Status() != conversation.StatusSpeaking {
			c.sendTransitionError(m.Action, conversation.ErrInvalidTransition)
			return
		}
		c.bargeIn(reasonManual)
	case protocol.ActionSpeechStarted:
		c.o.metrics.ObserveEvent("playback_started")
	case protocol.ActionSpeechEnded:
		if c.machine.Status() != conversation.StatusSpeaking {
			return
		}
		c.stopWatchdog()
		_, _ = c.machine.SpeechDone()
	case protocol.ActionClearError:
		if _, err := c.machine.ClearError(); err != nil {
			c.sendTransitionError(m.Action, err)
		}
	}
}

func (c *conn) sendTransitionError(action string, err error) {
	c.sendError("invalid_transition", "call", false,
		fmt.Errorf("%s while %s: %w", action, c.machine.Status(), err))
}

func (c *conn) handleText(m protocol.ClientText) {
	st := c.machine.State()
	if !st.Active {
		ctx, ok := c.beginChatTurn()
		if !ok {
			c.sendError("call_busy", "chat", true, errors.New("still answering the previous message"))
			return
		}
		c.goTurn(func() { c.runChatTurn(ctx, m.Text) })
		return
	}
	if st.Status != conversation.StatusListening {
		c.sendError("call_busy", "call", true, fmt.Errorf("cannot take a message while %s", st.Status))
		return
	}
	if _, err := c.machine.Process(); err != nil {
		c.sendTransitionError("client_text", err)
		return
	}
	c.recorder.Discard()
	token, ctx := c.beginTurn()
	c.goTurn(func() { c.runTextTurn(ctx, token, m.Text) })
}

func (c *conn) onSpeechStart(ev vad.Event) {
	c.send(protocol.VADEvent{
		Type:      protocol.TypeVADEvent,
		SessionID: c.sessionID,
		Event:     protocol.VADSpeechStart,
		Level:     ev.Level,
		StreamMs:  ev.At.Milliseconds(),
	})

	switch c.machine.Status() {
	case conversation.StatusListening:
		c.recorder.Begin()
	case conversation.StatusSpeaking:
		if !c.o.cfg.AllowInterruptions {
			return
		}
		c.bargeIn(reasonBargeIn)
		if c.machine.Status() == conversation.StatusListening {
			c.recorder.Begin()
		}
	}
}

func (c *conn) onSpeechEnd(ev vad.Event) {
	c.send(protocol.VADEvent{
		Type:       protocol.TypeVADEvent,
		SessionID:  c.sessionID,
		Event:      protocol.VADSpeechEnd,
		Level:      ev.Level,
		DurationMs: ev.Duration.Milliseconds(),
		StreamMs:   ev.At.Milliseconds(),
	})

	if !c.recorder.Capturing() {
		return
	}
	if c.machine.Status() != conversation.StatusListening {
		c.recorder.Discard()
		return
	}
	if ev.Duration < c.o.cfg.MinUtterance {
		c.recorder.Discard()
		c.o.metrics.VADSegments.WithLabelValues("too_short").Inc()
		c.sendSystem("utterance_too_short", fmt.Sprintf("%dms", ev.Duration.Milliseconds()))
		return
	}

	pcm := c.recorder.Finish()
	if _, err := c.machine.Process(); err != nil {
		return
	}
	c.o.metrics.VADSegments.WithLabelValues("accepted").Inc()
	c.o.metrics.UtteranceSeconds.Observe(audio.PCMDuration(pcm, c.recorder.SampleRate()).Seconds())

	endedAt := time.Now()
	token, ctx := c.beginTurn()
	c.goTurn(func() { c.runVoiceTurn(ctx, token, pcm, endedAt) })
}

// bargeIn stops the current reply and hands the floor back to the caller.
func (c *conn) bargeIn(reason string) {
	turnID := c.currentTurnID()
	c.cancelTurn()
	c.send(protocol.AssistantSpeakCancel{
		Type:      protocol.TypeAssistantSpeakCancel,
		SessionID: c.sessionID,
		TurnID:    turnID,
		Reason:    reason,
	})
	if _, err := c.machine.Interrupt(); err != nil {
		return
	}
	_, _ = c.machine.Listen()
	c.o.metrics.ObserveEvent("interrupt_" + reason)
}

func (c *conn) goTurn(fn func()) {
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		fn()
	}()
}

// beginTurn cancels any running turn and returns the token and context of a new one.
func (c *conn) beginTurn() (uint64, context.Context) {
	ctx, cancel := context.WithCancel(c.ctx)
	turnID := uuid.NewString()

	c.turnMu.Lock()
	if c.turnCancel != nil {
		c.turnCancel()
	}
	stopTimer(&c.watchdog)
	c.turnToken++
	c.turnCancel = cancel
	c.turnID = turnID
	token := c.turnToken
	c.turnMu.Unlock()

	_ = c.o.sessions.StartTurn(c.sessionID, turnID)
	return token, ctx
}

// beginChatTurn starts a text turn outside a call. Only one runs at a time and
// it is independent of call turns.
func (c *conn) beginChatTurn() (context.Context, bool) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.chatCancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.chatCancel = cancel
	return ctx, true
}

func (c *conn) endChatTurn() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.chatCancel != nil {
		c.chatCancel()
		c.chatCancel = nil
	}
}

func (c *conn) cancelTurn() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	stopTimer(&c.watchdog)
	c.turnToken++
	c.turnID = ""
}

func (c *conn) currentTurnID() string {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.turnID
}

// current reports whether token still names the live turn.
func (c *conn) current(ctx context.Context, token uint64) (string, bool) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if token != c.turnToken || ctx.Err() != nil {
		return "", false
	}
	return c.turnID, true
}

func (c *conn) finishTurn(token uint64) {
	c.turnMu.Lock()
	if token != c.turnToken {
		c.turnMu.Unlock()
		return
	}
	turnID := c.turnID
	c.turnMu.Unlock()
	_ = c.o.sessions.FinishTurn(c.sessionID, turnID)
}

// withTurn runs fn while holding the turn lock, provided token still names
// the live turn. fn may dispatch to the machine but must not take turnMu.
func (c *conn) withTurn(ctx context.Context, token uint64, fn func()) bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if token != c.turnToken || ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

func (c *conn) armWatchdogLocked(token uint64) {
	timeout := c.o.cfg.SpeakingTimeout
	if timeout <= 0 {
		return
	}
	stopTimer(&c.watchdog)
	c.watchdog = time.AfterFunc(timeout, func() {
		c.turnMu.Lock()
		live := token == c.turnToken
		c.turnMu.Unlock()
		if !live {
			return
		}
		if _, err := c.machine.SpeechDone(); err == nil {
			c.o.metrics.SessionEvents.WithLabelValues("speaking_watchdog").Inc()
			c.logger.Info("speaking watchdog forced speech_done")
		}
	})
}

func (c *conn) stopWatchdog() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	stopTimer(&c.watchdog)
}

func (c *conn) runVoiceTurn(ctx context.Context, token uint64, pcm []byte, speechEndedAt time.Time) {
	turnID, ok := c.current(ctx, token)
	if !ok {
		return
	}
	defer c.finishTurn(token)

	wav, err := audio.EncodeWAVPCM16LE(pcm, c.recorder.SampleRate())
	if err != nil {
		c.failTurn(ctx, token, "audio_encode_failed", "audio", err)
		return
	}

	text, err := c.o.assistant.Transcribe(ctx, c.sessionID, turnID, wav)
	if err != nil {
		c.failTurn(ctx, token, "transcription_failed", "backend", err)
		return
	}
	if text == "" {
		c.withTurn(ctx, token, func() {
			if _, err := c.machine.Listen(); err == nil {
				c.sendSystem("empty_transcript", "")
			}
		})
		return
	}
	if !c.withTurn(ctx, token, func() {
		c.send(protocol.Transcript{
			Type:      protocol.TypeTranscript,
			SessionID: c.sessionID,
			TurnID:    turnID,
			Text:      text,
			TSMs:      time.Now().UnixMilli(),
		})
	}) {
		return
	}

	reply, err := c.o.assistant.Respond(ctx, c.sessionID, turnID, text, transcript.SourceVoice)
	if err != nil {
		c.failTurn(ctx, token, "reply_failed", "backend", err)
		return
	}
	if c.deliverReply(ctx, token, reply) {
		c.o.metrics.ObserveStage(observability.StageSpeechToReply, time.Since(speechEndedAt))
	}
}

func (c *conn) runTextTurn(ctx context.Context, token uint64, text string) {
	turnID, ok := c.current(ctx, token)
	if !ok {
		return
	}
	defer c.finishTurn(token)

	started := time.Now()
	c.o.assistant.record(c.sessionID, turnID, transcript.RoleUser, transcript.SourceText, text)
	reply, err := c.o.assistant.Respond(ctx, c.sessionID, turnID, text, transcript.SourceText)
	if err != nil {
		c.failTurn(ctx, token, "reply_failed", "backend", err)
		return
	}
	if c.deliverReply(ctx, token, reply) {
		c.o.metrics.ObserveStage(observability.StageTextTurn, time.Since(started))
	}
}

// runChatTurn answers a text message sent while no call is active. The reply
// is never spoken and the call machine is left alone.
func (c *conn) runChatTurn(ctx context.Context, text string) {
	defer c.endChatTurn()

	started := time.Now()
	turnID := uuid.NewString()
	c.o.assistant.record(c.sessionID, turnID, transcript.RoleUser, transcript.SourceText, text)
	reply, err := c.o.assistant.Respond(ctx, c.sessionID, turnID, text, transcript.SourceText)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.sendError("reply_failed", "backend", isRetryable(err), err)
		return
	}
	c.send(assistantReply(c.sessionID, reply, false))
	c.o.metrics.ObserveStage(observability.StageTextTurn, time.Since(started))
}

// deliverReply sends the reply and moves the machine to speaking. Replies for
// superseded turns are dropped.
func (c *conn) deliverReply(ctx context.Context, token uint64, reply Reply) bool {
	speak := len(reply.SpeechChunks) > 0
	return c.withTurn(ctx, token, func() {
		c.send(assistantReply(c.sessionID, reply, speak))
		if !speak {
			// Nothing to say aloud.
			_, _ = c.machine.Listen()
			return
		}
		if _, err := c.machine.Speak(); err == nil {
			c.armWatchdogLocked(token)
		}
	})
}

func assistantReply(sessionID string, reply Reply, speak bool) protocol.AssistantReply {
	return protocol.AssistantReply{
		Type:         protocol.TypeAssistantReply,
		SessionID:    sessionID,
		TurnID:       reply.TurnID,
		Text:         reply.Text,
		SpeechText:   reply.SpeechText,
		SpeechChunks: reply.SpeechChunks,
		Speak:        speak,
	}
}

func (c *conn) failTurn(ctx context.Context, token uint64, code, source string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.withTurn(ctx, token, func() {
		c.logger.Warn("call turn failed", zap.String("code", code), zap.Error(err))
		c.sendError(code, source, isRetryable(err), err)
		_, _ = c.machine.Fail(err)
	})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

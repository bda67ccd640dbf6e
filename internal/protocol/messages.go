package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk     MessageType = "client_audio_chunk"
	TypeClientControl        MessageType = "client_control"
	TypeClientText           MessageType = "client_text"
	TypeCallState            MessageType = "call_state"
	TypeVADEvent             MessageType = "vad_event"
	TypeTranscript           MessageType = "transcript"
	TypeAssistantReply       MessageType = "assistant_reply"
	TypeAssistantSpeakCancel MessageType = "assistant_speak_cancel"
	TypeSystemEvent          MessageType = "system_event"
	TypeErrorEvent           MessageType = "error_event"
)

// Control actions carried by client_control.
const (
	ActionStartCall     = "start_call"
	ActionEndCall       = "end_call"
	ActionInterrupt     = "interrupt"
	ActionSpeechStarted = "speech_started"
	ActionSpeechEnded   = "speech_ended"
	ActionClearError    = "clear_error"
)

// VAD event kinds carried by vad_event.
const (
	VADSpeechStart = "speech_start"
	VADSpeechEnd   = "speech_end"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// CallState mirrors the conversation state after a transition.
type CallState struct {
	Type              MessageType `json:"type"`
	SessionID         string      `json:"session_id"`
	Status            string      `json:"status"`
	Active            bool        `json:"active"`
	Event             string      `json:"event"`
	ExchangeCount     int         `json:"exchange_count"`
	InterruptionCount int         `json:"interruption_count"`
	LastError         string      `json:"last_error,omitempty"`
	EndReason         string      `json:"end_reason,omitempty"`
	TSMs              int64       `json:"ts_ms"`
}

type VADEvent struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Event      string      `json:"event"`
	Level      float64     `json:"level"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	StreamMs   int64       `json:"stream_ms"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// AssistantReply carries the raw markdown reply plus its speakable form.
// Clients synthesize SpeechChunks in order when Speak is set.
type AssistantReply struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	TurnID       string      `json:"turn_id"`
	Text         string      `json:"text"`
	SpeechText   string      `json:"speech_text"`
	SpeechChunks []string    `json:"speech_chunks"`
	Speak        bool        `json:"speak"`
}

type AssistantSpeakCancel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Reason    string      `json:"reason"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func isKnownAction(action string) bool {
	switch action {
	case ActionStartCall, ActionEndCall, ActionInterrupt,
		ActionSpeechStarted, ActionSpeechEnded, ActionClearError:
		return true
	default:
		return false
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if !isKnownAction(msg.Action) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

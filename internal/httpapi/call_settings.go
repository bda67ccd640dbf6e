package httpapi

import "net/http"

// callSettingsResponse tells clients how the gateway segments speech so local
// capture and playback can be tuned to match.
type callSettingsResponse struct {
	SampleRate          int     `json:"sample_rate"`
	FrameSamples        int     `json:"frame_samples"`
	VADThreshold        float64 `json:"vad_threshold"`
	MinSpeechMS         int64   `json:"min_speech_ms"`
	SilenceMS           int64   `json:"silence_ms"`
	MinUtteranceMS      int64   `json:"min_utterance_ms"`
	MaxUtteranceMS      int64   `json:"max_utterance_ms"`
	AllowInterruptions  bool    `json:"allow_interruptions"`
	SessionTimeoutMS    int64   `json:"session_timeout_ms"`
	ErrorClearDelayMS   int64   `json:"error_clear_delay_ms"`
	SpeakingTimeoutMS   int64   `json:"speaking_timeout_ms"`
	MaxExchanges        int     `json:"max_exchanges"`
	SpeechMaxChunkChars int     `json:"speech_max_chunk_chars"`
}

func (s *Server) handleCallSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, callSettingsResponse{
		SampleRate:          s.cfg.VADSampleRate,
		FrameSamples:        s.cfg.VADFFTSize,
		VADThreshold:        s.cfg.VADThreshold,
		MinSpeechMS:         s.cfg.VADMinSpeech.Milliseconds(),
		SilenceMS:           s.cfg.VADSilence.Milliseconds(),
		MinUtteranceMS:      s.cfg.VADMinUtterance.Milliseconds(),
		MaxUtteranceMS:      s.cfg.VADMaxUtterance.Milliseconds(),
		AllowInterruptions:  s.cfg.CallAllowInterruptions,
		SessionTimeoutMS:    s.cfg.CallSessionTimeout.Milliseconds(),
		ErrorClearDelayMS:   s.cfg.CallErrorClearDelay.Milliseconds(),
		SpeakingTimeoutMS:   s.cfg.CallSpeakingTimeout.Milliseconds(),
		MaxExchanges:        s.cfg.CallMaxExchanges,
		SpeechMaxChunkChars: s.cfg.SpeechMaxChunkChars,
	})
}

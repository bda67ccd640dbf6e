package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/audio"
	"github.com/ent0n29/barbercall/internal/call"
	"github.com/ent0n29/barbercall/internal/session"
	"github.com/ent0n29/barbercall/internal/transcript"
)

const maxVoiceUploadBytes = 16 << 20

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type turnResponse struct {
	SessionID string `json:"session_id"`
	call.Reply
	DurationMS int64 `json:"duration_ms"`
}

type messagesResponse struct {
	SessionID string             `json:"session_id"`
	Messages  []transcript.Entry `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "missing_message", "message is required")
		return
	}

	sess, ok := s.resolveSession(w, req.SessionID)
	if !ok {
		return
	}
	reply, err := s.assistant.TextTurn(r.Context(), sess.ID, req.Message)
	if err != nil {
		s.respondTurnError(w, sess.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{
		SessionID:  sess.ID,
		Reply:      reply,
		DurationMS: reply.Duration.Milliseconds(),
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	wav, err := readVoiceUpload(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	if _, _, err := audio.DecodeWAVPCM16(wav); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	sess, ok := s.resolveSession(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	reply, err := s.assistant.VoiceTurn(r.Context(), sess.ID, wav)
	if errors.Is(err, call.ErrEmptyTranscript) {
		respondError(w, http.StatusUnprocessableEntity, "empty_transcript", "no speech was recognized")
		return
	}
	if err != nil {
		s.respondTurnError(w, sess.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{
		SessionID:  sess.ID,
		Reply:      reply,
		DurationMS: reply.Duration.Milliseconds(),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.assistant.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("transcript history failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	respondJSON(w, http.StatusOK, messagesResponse{SessionID: id, Messages: entries})
}

// resolveSession returns the named session, or a new one when id is blank.
func (s *Server) resolveSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.createSession("anonymous"), true
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return nil, false
	}
	_ = s.sessions.Touch(id)
	return sess, true
}

func (s *Server) respondTurnError(w http.ResponseWriter, sessionID string, err error) {
	s.logger.Warn("turn failed", zap.String("session_id", sessionID), zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, http.StatusGatewayTimeout, "backend_timeout", err.Error())
		return
	}
	respondError(w, http.StatusBadGateway, "backend_error", err.Error())
}

// readVoiceUpload accepts either a raw WAV body or a multipart form with the
// recording in the "audio" field.
func readVoiceUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUploadBytes)
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxVoiceUploadBytes); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return data, nil
}

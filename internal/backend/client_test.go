package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/barbercall/internal/audio"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 2})
	require.NoError(t, err)
	return c
}

func toneWAV(t *testing.T, amplitude int16) []byte {
	t.Helper()
	samples := make([]int16, 1600)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	wav, err := audio.EncodeWAVPCM16LE(audio.SamplesToBytes(samples), audio.DefaultSampleRate)
	require.NoError(t, err)
	return wav
}

func TestNewClientModes(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	c, err = NewClient(Config{Mode: "auto", BaseURL: "http://backend.test"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, c)

	_, err = NewClient(Config{Mode: "http"})
	assert.Error(t, err)

	_, err = NewClient(Config{Mode: "grpc"})
	assert.Error(t, err)

	_, err = NewClient(Config{Mode: "http", BaseURL: "ftp://backend.test"})
	assert.Error(t, err)
}

func TestHTTPClientTranscribe(t *testing.T) {
	wav := toneWAV(t, 4000)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transcribe", r.URL.Path)
		file, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "recording.wav", hdr.Filename)
		got, _ := io.ReadAll(file)
		assert.Equal(t, wav, got)
		_ = json.NewEncoder(w).Encode(map[string]string{"transcription": "  a fade please "})
	}))

	text, err := c.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "a fade please", text)

	_, err = c.Transcribe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestHTTPClientReply(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		var req ReplyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s-1", req.SessionID)
		assert.Equal(t, "any openings?", req.Message)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Yes, **10:30**."})
	}))

	out, err := c.Reply(context.Background(), ReplyRequest{SessionID: "s-1", Message: "any openings?"})
	require.NoError(t, err)
	assert.Equal(t, "Yes, **10:30**.", out.Text)
}

func TestHTTPClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))

	out, err := c.Reply(context.Background(), ReplyRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.Health(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing message", http.StatusBadRequest)
	}))

	_, err := c.Reply(context.Background(), ReplyRequest{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "missing message", statusErr.Body)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDecodeText(t *testing.T) {
	got, err := decodeText([]byte(`{"text":"","message":"hello"}`), "text", "message")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = decodeText([]byte("plain words"), "text")
	require.NoError(t, err)
	assert.Equal(t, "plain words", got)

	_, err = decodeText([]byte(`{"error":"model offline"}`), "text")
	assert.EqualError(t, err, "model offline")
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()
	require.NoError(t, c.Health(ctx))

	text, err := c.Transcribe(ctx, toneWAV(t, 4000))
	require.NoError(t, err)
	assert.Equal(t, DefaultMockTranscript, text)

	text, err = c.Transcribe(ctx, toneWAV(t, 10))
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = c.Transcribe(ctx, []byte("not a wav"))
	assert.Error(t, err)

	out, err := c.Reply(ctx, ReplyRequest{Message: "Can I book a haircut?"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Marco")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Reply(cancelled, ReplyRequest{Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/app"
	"github.com/ent0n29/barbercall/internal/audio"
	"github.com/ent0n29/barbercall/internal/backend"
	"github.com/ent0n29/barbercall/internal/config"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://calls.example/base/", "abc 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://calls.example/base/v1/call/session/ws?session_id=abc+1", got)

	_, err = wsURLForSession("ftp://calls.example", "x")
	assert.Error(t, err)
}

func TestChunkPCM(t *testing.T) {
	pcm := make([]byte, 1000)
	chunks := chunkPCM(pcm, 16000, 10)
	require.Len(t, chunks, 4)
	for _, c := range chunks[:3] {
		assert.Len(t, c, 320)
	}
	assert.Len(t, chunks[3], 40)

	assert.Len(t, chunkPCM(make([]byte, 7), 16000, 10), 1)
}

func TestSummarize(t *testing.T) {
	s := summarize([]time.Duration{300 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 200*time.Millisecond, s.Mean)
	assert.Equal(t, 200*time.Millisecond, s.P50)
	assert.Equal(t, 300*time.Millisecond, s.Max)
	assert.Equal(t, Summary{}, summarize(nil))
}

func TestLoadClipRejectsSampleRateMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, audio.WriteWAVPCM16LEFile(path, make([]byte, 320), 8000))

	_, err := loadClip(path, 16000)
	assert.ErrorContains(t, err, "8000 Hz")

	c, err := loadClip(path, 8000)
	require.NoError(t, err)
	assert.Len(t, c.pcm, 320)

	synthetic, err := loadClip("", 16000)
	require.NoError(t, err)
	assert.Equal(t, 1200*time.Millisecond, audio.PCMDuration(synthetic.pcm, 16000))
}

func TestRunAgainstGateway(t *testing.T) {
	cfg := config.Config{
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         "callprobe_test",
		BackendMode:              "mock",
		CallSessionTimeout:       time.Minute,
		CallErrorClearDelay:      time.Second,
		CallAllowInterruptions:   true,
		CallSpeakingTimeout:      10 * time.Second,
		VADSampleRate:            16000,
		VADFFTSize:               512,
		VADThreshold:             30,
		VADMinSpeech:             96 * time.Millisecond,
		VADSilence:               160 * time.Millisecond,
		VADMinUtterance:          100 * time.Millisecond,
		VADPreRoll:               100 * time.Millisecond,
		VADMaxUtterance:          10 * time.Second,
	}
	built, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = built.Cleanup() }()

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	opts := options{
		baseURL:     ts.URL,
		turns:       2,
		chunkMS:     32,
		realtime:    8,
		tailSilence: 400 * time.Millisecond,
		turnTimeout: 5 * time.Second,
	}
	require.NoError(t, opts.validate())

	report, err := run(context.Background(), opts, os.Stderr)
	require.NoError(t, err)
	require.Len(t, report.Turns, 2)
	for _, turn := range report.Turns {
		require.NoError(t, turn.err)
		assert.Equal(t, backend.DefaultMockTranscript, turn.Transcript)
		assert.NotEmpty(t, turn.ReplyText)
		assert.Positive(t, turn.Reply)
	}
	assert.Zero(t, report.Failed())

	var out bytes.Buffer
	report.Print(&out)
	assert.Contains(t, out.String(), "2 turns, 0 failed")
	assert.Contains(t, out.String(), "reply")
}

package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/barbercall/internal/backend"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageTranscribe, 500)
	w.Observe(StageTranscribe, 700)
	w.Observe(StageTranscribe, 900)
	w.Observe(StageTranscribe, -1)
	w.ObserveEvent("barge_in")
	w.ObserveEvent("barge_in")

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)
	s := snap.Stages[0]
	assert.Equal(t, StageTranscribe, s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 900.0, s.LastMS)
	assert.Equal(t, 700.0, s.P50MS)
	assert.Equal(t, 900.0, s.P95MS)
	assert.Equal(t, 900.0, s.P99MS)
	assert.Equal(t, 700.0, s.AvgMS)
	assert.Equal(t, 1500.0, s.TargetP95MS)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, EventCount{Name: "barge_in", Count: 2}, snap.Events[0])

	w.Reset()
	assert.Empty(t, w.Snapshot().Stages)
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageReply, 10)
	w.Observe(StageReply, 20)
	w.Observe(StageReply, 30)

	s := w.Snapshot().Stages[0]
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 25.0, s.AvgMS)
	assert.Equal(t, 30.0, s.LastMS)
}

func TestLatencyWindowPercentilesAreSampleValues(t *testing.T) {
	w := newLatencyWindow(0)
	for i := 20; i >= 1; i-- {
		w.Observe(StageVoiceTurn, float64(i*100))
	}

	s := w.Snapshot().Stages[0]
	assert.Equal(t, 20, s.Samples)
	assert.Equal(t, 100.0, s.LastMS)
	assert.Equal(t, 1050.0, s.AvgMS)
	assert.Equal(t, 1000.0, s.P50MS)
	assert.Equal(t, 1900.0, s.P95MS)
	assert.Equal(t, 2000.0, s.P99MS)
}

func TestMetricsHandlerExposesOwnRegistry(t *testing.T) {
	a := NewMetrics("barbercall_test")
	b := NewMetrics("barbercall_test")
	a.ObserveBackend("chat", 120*time.Millisecond, &backend.StatusError{Op: "chat", StatusCode: http.StatusBadGateway})
	a.ObserveBackend("transcribe", time.Second, errors.New("dial tcp: refused"))
	b.ObserveStage(StageReply, 40*time.Millisecond)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `barbercall_test_backend_errors_total{code="Bad Gateway",op="chat"} 1`)
	assert.Contains(t, string(body), `barbercall_test_backend_errors_total{code="transport",op="transcribe"} 1`)

	assert.Empty(t, a.SnapshotLatency().Stages)
	assert.Len(t, b.SnapshotLatency().Stages, 1)
}

package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         "barbercall_app_test",
		BackendMode:              "auto",
		CallSessionTimeout:       time.Minute,
		CallErrorClearDelay:      time.Second,
		CallMaxExchanges:         3,
		CallAllowInterruptions:   true,
		CallSpeakingTimeout:      30 * time.Second,
		VADSampleRate:            16000,
		VADFFTSize:               512,
		VADThreshold:             25,
		VADMinSpeech:             200 * time.Millisecond,
		VADSilence:               time.Second,
		VADSmoothing:             0.5,
		VADMinUtterance:          300 * time.Millisecond,
		VADPreRoll:               200 * time.Millisecond,
		VADMaxUtterance:          time.Minute,
		SpeechMaxChunkChars:      120,
	}
}

func TestCallConfigMapsSettings(t *testing.T) {
	cc := CallConfig(testConfig())
	assert.Equal(t, 3, cc.Conversation.MaxExchanges)
	assert.Equal(t, time.Minute, cc.Conversation.SessionTimeout)
	assert.Equal(t, 512, cc.VAD.FFTSize)
	assert.Equal(t, 25.0, cc.VAD.Threshold)
	assert.Equal(t, time.Second, cc.VAD.SilenceDuration)
	assert.Equal(t, 300*time.Millisecond, cc.MinUtterance)
	assert.True(t, cc.AllowInterruptions)
	require.NoError(t, cc.VAD.Validate())
}

func TestBuildWithoutBackendURLUsesMock(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, res.Cleanup()) }()

	assert.Equal(t, "mock", res.BackendMode)

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	ready, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestBuildRejectsInvalidVAD(t *testing.T) {
	cfg := testConfig()
	cfg.VADFFTSize = 500
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

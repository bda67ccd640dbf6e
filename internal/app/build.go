package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/backend"
	"github.com/ent0n29/barbercall/internal/call"
	"github.com/ent0n29/barbercall/internal/config"
	"github.com/ent0n29/barbercall/internal/conversation"
	"github.com/ent0n29/barbercall/internal/httpapi"
	"github.com/ent0n29/barbercall/internal/observability"
	"github.com/ent0n29/barbercall/internal/session"
	"github.com/ent0n29/barbercall/internal/transcript"
	"github.com/ent0n29/barbercall/internal/vad"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Assistant    *call.Assistant
	Orchestrator *call.Orchestrator
	Metrics      *observability.Metrics
	// BackendMode is the resolved backend, "http" or "mock".
	BackendMode string

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

// BuildAssistant wires the backend client and transcript store. It is used by
// the server and by the one-shot CLI commands.
func BuildAssistant(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (*call.Assistant, transcript.Store, string, error) {
	client, err := backend.NewClient(backend.Config{
		Mode:       cfg.BackendMode,
		BaseURL:    cfg.BackendURL,
		Timeout:    cfg.BackendTimeout,
		MaxRetries: cfg.BackendMaxRetries,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("backend client init failed: %w", err)
	}
	mode := "http"
	if _, ok := client.(*backend.MockClient); ok {
		mode = "mock"
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, "", fmt.Errorf("transcript store init failed: %w", err)
	}
	return call.NewAssistant(client, store, metrics, logger, cfg.SpeechMaxChunkChars), store, mode, nil
}

// CallConfig maps flat settings onto the per-call tuning.
func CallConfig(cfg config.Config) call.Config {
	return call.Config{
		Conversation: conversation.Options{
			SessionTimeout:  cfg.CallSessionTimeout,
			ErrorClearDelay: cfg.CallErrorClearDelay,
			MaxExchanges:    cfg.CallMaxExchanges,
		},
		VAD: vad.Config{
			SampleRate:        cfg.VADSampleRate,
			FFTSize:           cfg.VADFFTSize,
			Threshold:         cfg.VADThreshold,
			MinSpeechDuration: cfg.VADMinSpeech,
			SilenceDuration:   cfg.VADSilence,
			Smoothing:         cfg.VADSmoothing,
			MinDecibels:       vad.DefaultConfig().MinDecibels,
			MaxDecibels:       vad.DefaultConfig().MaxDecibels,
		},
		AllowInterruptions: cfg.CallAllowInterruptions,
		SpeakingTimeout:    cfg.CallSpeakingTimeout,
		MinUtterance:       cfg.VADMinUtterance,
		PreRoll:            cfg.VADPreRoll,
		MaxUtterance:       cfg.VADMaxUtterance,
	}
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	assistant, store, mode, err := BuildAssistant(ctx, cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info("session expired", zap.String("session_id", s.ID))
	})

	orchestrator, err := call.NewOrchestrator(sessions, assistant, metrics, logger.Named("call"), CallConfig(cfg))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("call orchestrator init failed: %w", err)
	}

	api := httpapi.New(cfg, sessions, orchestrator, assistant, metrics, logger.Named("http"))

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Assistant:    assistant,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		BackendMode:  mode,
		Cleanup:      store.Close,
	}, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the call gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogFormat                string

	BackendMode       string
	BackendURL        string
	BackendTimeout    time.Duration
	BackendMaxRetries int

	DatabaseURL string

	CallSessionTimeout     time.Duration
	CallErrorClearDelay    time.Duration
	CallMaxExchanges       int
	CallAllowInterruptions bool
	CallSpeakingTimeout    time.Duration

	VADSampleRate   int
	VADFFTSize      int
	VADThreshold    float64
	VADMinSpeech    time.Duration
	VADSilence      time.Duration
	VADSmoothing    float64
	VADMinUtterance time.Duration
	VADPreRoll      time.Duration
	VADMaxUtterance time.Duration

	SpeechMaxChunkChars int
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                  ":8080",
	"APP_SHUTDOWN_TIMEOUT":           15 * time.Second,
	"APP_SESSION_INACTIVITY_TIMEOUT": 10 * time.Minute,
	"APP_METRICS_NAMESPACE":          "barbercall",
	"APP_ALLOW_ANY_ORIGIN":           false,
	"APP_LOG_LEVEL":                  "info",
	"APP_LOG_FORMAT":                 "json",
	"BACKEND_MODE":                   "auto",
	"BACKEND_URL":                    "",
	"BACKEND_TIMEOUT":                30 * time.Second,
	"BACKEND_MAX_RETRIES":            2,
	"DATABASE_URL":                   "",
	"CALL_SESSION_TIMEOUT":           5 * time.Minute,
	"CALL_ERROR_CLEAR_DELAY":         3 * time.Second,
	"CALL_MAX_EXCHANGES":             20,
	"CALL_ALLOW_INTERRUPTIONS":       true,
	"CALL_SPEAKING_TIMEOUT":          90 * time.Second,
	"VAD_SAMPLE_RATE":                16000,
	"VAD_FFT_SIZE":                   512,
	"VAD_THRESHOLD":                  30.0,
	"VAD_MIN_SPEECH":                 250 * time.Millisecond,
	"VAD_SILENCE":                    1200 * time.Millisecond,
	"VAD_SMOOTHING":                  0.8,
	"VAD_MIN_UTTERANCE":              400 * time.Millisecond,
	"VAD_PREROLL":                    300 * time.Millisecond,
	"VAD_MAX_UTTERANCE":              60 * time.Second,
	"SPEECH_MAX_CHUNK_CHARS":         200,
}

// Load reads .env, an optional barbercall.yaml in the working directory and
// environment variables, in increasing order of precedence.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A missing explicit file is an error.
func LoadFile(path string) (Config, error) {
	// .env is optional and never overrides variables already set.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("barbercall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	p := parser{v: v}
	cfg := Config{
		BindAddr:                 p.str("APP_BIND_ADDR"),
		ShutdownTimeout:          p.duration("APP_SHUTDOWN_TIMEOUT"),
		SessionInactivityTimeout: p.duration("APP_SESSION_INACTIVITY_TIMEOUT"),
		MetricsNamespace:         p.str("APP_METRICS_NAMESPACE"),
		AllowAnyOrigin:           p.boolean("APP_ALLOW_ANY_ORIGIN"),
		LogLevel:                 strings.ToLower(p.str("APP_LOG_LEVEL")),
		LogFormat:                strings.ToLower(p.str("APP_LOG_FORMAT")),
		BackendMode:              strings.ToLower(p.str("BACKEND_MODE")),
		BackendURL:               p.str("BACKEND_URL"),
		BackendTimeout:           p.duration("BACKEND_TIMEOUT"),
		BackendMaxRetries:        p.integer("BACKEND_MAX_RETRIES"),
		DatabaseURL:              p.str("DATABASE_URL"),
		CallSessionTimeout:       p.duration("CALL_SESSION_TIMEOUT"),
		CallErrorClearDelay:      p.duration("CALL_ERROR_CLEAR_DELAY"),
		CallMaxExchanges:         p.integer("CALL_MAX_EXCHANGES"),
		CallAllowInterruptions:   p.boolean("CALL_ALLOW_INTERRUPTIONS"),
		CallSpeakingTimeout:      p.duration("CALL_SPEAKING_TIMEOUT"),
		VADSampleRate:            p.integer("VAD_SAMPLE_RATE"),
		VADFFTSize:               p.integer("VAD_FFT_SIZE"),
		VADThreshold:             p.float("VAD_THRESHOLD"),
		VADMinSpeech:             p.duration("VAD_MIN_SPEECH"),
		VADSilence:               p.duration("VAD_SILENCE"),
		VADSmoothing:             p.float("VAD_SMOOTHING"),
		VADMinUtterance:          p.duration("VAD_MIN_UTTERANCE"),
		VADPreRoll:               p.duration("VAD_PREROLL"),
		VADMaxUtterance:          p.duration("VAD_MAX_UTTERANCE"),
		SpeechMaxChunkChars:      p.integer("SPEECH_MAX_CHUNK_CHARS"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch c.BackendMode {
	case "auto", "mock":
	case "http":
		if c.BackendURL == "" {
			return fmt.Errorf("BACKEND_URL is required when BACKEND_MODE=http")
		}
	default:
		return fmt.Errorf("BACKEND_MODE must be auto, http or mock, got %q", c.BackendMode)
	}
	if c.BackendMaxRetries < 0 {
		return fmt.Errorf("BACKEND_MAX_RETRIES must be >= 0")
	}
	if c.CallMaxExchanges < 0 {
		return fmt.Errorf("CALL_MAX_EXCHANGES must be >= 0")
	}
	if c.VADMinUtterance < 0 || c.VADPreRoll < 0 {
		return fmt.Errorf("VAD_MIN_UTTERANCE and VAD_PREROLL must be >= 0")
	}
	if c.VADMaxUtterance <= 0 {
		return fmt.Errorf("VAD_MAX_UTTERANCE must be positive")
	}
	if c.SpeechMaxChunkChars <= 0 {
		return fmt.Errorf("SPEECH_MAX_CHUNK_CHARS must be positive")
	}
	return nil
}

// parser converts viper values and keeps the first error.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s parse error: %w", key, err)
	}
}

// raw returns the configured value, treating blank strings as unset.
func (p *parser) raw(key string) any {
	val := p.v.Get(key)
	if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
		return defaults[key]
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s)
	}
	return val
}

func (p *parser) str(key string) string {
	s, err := cast.ToStringE(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return s
}

func (p *parser) duration(key string) time.Duration {
	raw := p.raw(key)
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			p.fail(key, err)
		}
		return d
	}
	d, err := cast.ToDurationE(raw)
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) integer(key string) int {
	n, err := cast.ToIntE(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) float(key string) float64 {
	f, err := cast.ToFloat64E(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) boolean(key string) bool {
	b, err := cast.ToBoolE(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return b
}

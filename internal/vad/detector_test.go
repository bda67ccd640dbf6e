package vad

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 512 samples at 16kHz is 32ms per frame.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Smoothing = 0
	cfg.MinSpeechDuration = 96 * time.Millisecond
	cfg.SilenceDuration = 160 * time.Millisecond
	return cfg
}

func noise(rng *rand.Rand, frames int, amplitude float64) []int16 {
	out := make([]int16, frames*512)
	for i := range out {
		out[i] = int16((rng.Float64()*2 - 1) * amplitude * 32767)
	}
	return out
}

func silence(frames int) []int16 {
	return make([]int16, frames*512)
}

type recorder struct {
	starts []Event
	ends   []Event
	frames []Frame
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnSpeechStart: func(e Event) { r.starts = append(r.starts, e) },
		OnSpeechEnd:   func(e Event) { r.ends = append(r.ends, e) },
		OnFrame:       func(f Frame) { r.frames = append(r.frames, f) },
	}
}

func TestDetectorSpeechSegment(t *testing.T) {
	rec := &recorder{}
	d, err := New(testConfig(), rec.handlers())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	d.Process(noise(rng, 10, 0.3))
	require.Len(t, rec.starts, 1)
	assert.Equal(t, time.Duration(0), rec.starts[0].At)
	assert.True(t, d.Speaking())
	assert.Greater(t, d.Level(), 100.0)

	d.Process(silence(10))
	require.Len(t, rec.ends, 1)
	assert.Equal(t, 320*time.Millisecond, rec.ends[0].Duration)
	assert.Equal(t, 480*time.Millisecond, rec.ends[0].At)
	assert.False(t, d.Speaking())
	assert.Len(t, rec.frames, 20)
	assert.Equal(t, 640*time.Millisecond, d.Elapsed())
}

func TestDetectorIgnoresShortBlip(t *testing.T) {
	rec := &recorder{}
	d, err := New(testConfig(), rec.handlers())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	d.Process(noise(rng, 2, 0.3))
	d.Process(silence(4))
	d.Process(noise(rng, 2, 0.3))
	d.Process(silence(4))

	assert.Empty(t, rec.starts)
	assert.Empty(t, rec.ends)
}

func TestDetectorQuietNoiseIsSilence(t *testing.T) {
	rec := &recorder{}
	d, err := New(testConfig(), rec.handlers())
	require.NoError(t, err)

	d.Process(noise(rand.New(rand.NewSource(3)), 12, 0.0005))
	assert.Empty(t, rec.starts)
	assert.Less(t, d.Level(), 30.0)
}

func TestDetectorShortPauseDoesNotEndSpeech(t *testing.T) {
	rec := &recorder{}
	d, err := New(testConfig(), rec.handlers())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	d.Process(noise(rng, 5, 0.3))
	d.Process(silence(3))
	d.Process(noise(rng, 5, 0.3))
	require.Len(t, rec.starts, 1)
	assert.Empty(t, rec.ends)
	assert.True(t, d.Speaking())
}

func TestDetectorChunkingIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	stream := append(noise(rng, 6, 0.3), silence(8)...)

	whole := &recorder{}
	d1, err := New(testConfig(), whole.handlers())
	require.NoError(t, err)
	d1.Process(stream)

	chunked := &recorder{}
	d2, err := New(testConfig(), chunked.handlers())
	require.NoError(t, err)
	for i := 0; i < len(stream); i += 333 {
		end := i + 333
		if end > len(stream) {
			end = len(stream)
		}
		d2.Process(stream[i:end])
	}

	assert.Equal(t, whole.starts, chunked.starts)
	assert.Equal(t, whole.ends, chunked.ends)
}

func TestDetectorFlushAndReset(t *testing.T) {
	rec := &recorder{}
	d, err := New(testConfig(), rec.handlers())
	require.NoError(t, err)

	d.Process(noise(rand.New(rand.NewSource(9)), 6, 0.3))
	require.True(t, d.Speaking())
	d.Flush()
	require.Len(t, rec.ends, 1)
	assert.Equal(t, 192*time.Millisecond, rec.ends[0].Duration)
	assert.False(t, d.Speaking())

	d.Flush()
	assert.Len(t, rec.ends, 1)

	d.Reset()
	assert.Zero(t, d.Elapsed())
	assert.Zero(t, d.Level())
}

func TestDetectorSmoothingDelaysSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = 0.8
	rec := &recorder{}
	d, err := New(cfg, rec.handlers())
	require.NoError(t, err)

	d.Process(noise(rand.New(rand.NewSource(2)), 8, 0.3))
	require.Len(t, rec.starts, 1)
	d.Process(silence(6))
	assert.Empty(t, rec.ends, "smoothed energy should still read as speech")
	d.Process(silence(40))
	require.Len(t, rec.ends, 1)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"sample rate":   func(c *Config) { c.SampleRate = 0 },
		"fft not pow2":  func(c *Config) { c.FFTSize = 500 },
		"fft too small": func(c *Config) { c.FFTSize = 16 },
		"threshold":     func(c *Config) { c.Threshold = 300 },
		"durations":     func(c *Config) { c.SilenceDuration = -time.Second },
		"smoothing":     func(c *Config) { c.Smoothing = 1 },
		"decibels":      func(c *Config) { c.MinDecibels = -20 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, Handlers{})
			assert.Error(t, err)
		})
	}
	assert.Equal(t, 32*time.Millisecond, DefaultConfig().FrameDuration())
}

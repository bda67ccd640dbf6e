// Package vad segments a microphone stream into speech and silence using the
// average spectral energy of fixed-size frames.
package vad

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Config controls framing, energy scaling and the duration thresholds.
type Config struct {
	SampleRate int
	// FFTSize is the number of samples per analysis frame. Must be a power of two.
	FFTSize int
	// Threshold is the mean frame level (0..255) above which a frame counts as speech.
	Threshold float64
	// MinSpeechDuration is how long energy must stay above Threshold before speech starts.
	MinSpeechDuration time.Duration
	// SilenceDuration is how long energy must stay below Threshold before speech ends.
	SilenceDuration time.Duration
	// Smoothing blends each bin magnitude with the previous frame (0 = none).
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		FFTSize:           512,
		Threshold:         30,
		MinSpeechDuration: 250 * time.Millisecond,
		SilenceDuration:   1200 * time.Millisecond,
		Smoothing:         0.8,
		MinDecibels:       -100,
		MaxDecibels:       -30,
	}
}

func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("vad: sample rate must be positive")
	}
	if c.FFTSize < 32 || c.FFTSize > 32768 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("vad: fft size %d must be a power of two in [32,32768]", c.FFTSize)
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("vad: threshold %.2f out of range [0,255]", c.Threshold)
	}
	if c.MinSpeechDuration < 0 || c.SilenceDuration < 0 {
		return errors.New("vad: durations must be >= 0")
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("vad: smoothing %.2f out of range [0,1)", c.Smoothing)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return errors.New("vad: min decibels must be below max decibels")
	}
	return nil
}

// FrameDuration is the stream time covered by one analysis frame.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(int64(c.FFTSize) * int64(time.Second) / int64(c.SampleRate))
}

// Event describes a speech boundary. At is stream time since the last Reset.
type Event struct {
	At       time.Duration
	Duration time.Duration
	Level    float64
}

// Frame is the per-frame analysis result.
type Frame struct {
	At     time.Duration
	Level  float64
	Speech bool
}

type Handlers struct {
	OnSpeechStart func(Event)
	OnSpeechEnd   func(Event)
	OnFrame       func(Frame)
}

// Detector is not safe for concurrent use; handlers run synchronously inside Process.
type Detector struct {
	cfg      Config
	handlers Handlers
	frameDur time.Duration

	fft      *fourier.FFT
	pending  []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64

	frames   int64
	level    float64
	speaking bool

	aboveSince   time.Duration
	hasAbove     bool
	belowSince   time.Duration
	hasBelow     bool
	speechBegan  time.Duration
	lastFrameEnd time.Duration
}

func New(cfg Config, handlers Handlers) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:      cfg,
		handlers: handlers,
		frameDur: cfg.FrameDuration(),
		fft:      fourier.NewFFT(cfg.FFTSize),
		pending:  make([]float64, 0, cfg.FFTSize),
		frame:    make([]float64, cfg.FFTSize),
		coeffs:   make([]complex128, cfg.FFTSize/2+1),
		smoothed: make([]float64, cfg.FFTSize/2),
	}, nil
}

func (d *Detector) Config() Config { return d.cfg }

// Process consumes PCM16 samples. Samples that do not fill a frame are kept for the next call.
func (d *Detector) Process(samples []int16) {
	for _, s := range samples {
		d.pending = append(d.pending, float64(s)/32768.0)
		if len(d.pending) == d.cfg.FFTSize {
			d.analyze()
			d.pending = d.pending[:0]
		}
	}
}

func (d *Detector) Speaking() bool { return d.speaking }

// Level is the mean byte-scaled spectral level of the last analyzed frame.
func (d *Detector) Level() float64 { return d.level }

// Elapsed is the stream time analyzed since the last Reset.
func (d *Detector) Elapsed() time.Duration { return d.lastFrameEnd }

// Flush ends an in-progress speech segment at the current stream time.
func (d *Detector) Flush() {
	if !d.speaking {
		return
	}
	end := d.lastFrameEnd
	if d.hasBelow {
		end = d.belowSince
	}
	d.endSpeech(end)
}

// Reset clears all state, including spectral smoothing and partial frames.
func (d *Detector) Reset() {
	d.pending = d.pending[:0]
	for i := range d.smoothed {
		d.smoothed[i] = 0
	}
	d.frames = 0
	d.level = 0
	d.speaking = false
	d.hasAbove = false
	d.hasBelow = false
	d.aboveSince = 0
	d.belowSince = 0
	d.speechBegan = 0
	d.lastFrameEnd = 0
}

func (d *Detector) analyze() {
	start := time.Duration(d.frames) * d.frameDur
	d.frames++
	end := start + d.frameDur
	d.lastFrameEnd = end

	d.level = d.frameLevel()
	speech := d.level > d.cfg.Threshold
	if d.handlers.OnFrame != nil {
		d.handlers.OnFrame(Frame{At: start, Level: d.level, Speech: speech})
	}

	if speech {
		d.hasBelow = false
		if d.speaking {
			return
		}
		if !d.hasAbove {
			d.hasAbove = true
			d.aboveSince = start
		}
		if end-d.aboveSince >= d.cfg.MinSpeechDuration {
			d.speaking = true
			d.speechBegan = d.aboveSince
			if d.handlers.OnSpeechStart != nil {
				d.handlers.OnSpeechStart(Event{At: d.aboveSince, Level: d.level})
			}
		}
		return
	}

	d.hasAbove = false
	if !d.speaking {
		return
	}
	if !d.hasBelow {
		d.hasBelow = true
		d.belowSince = start
	}
	if end-d.belowSince >= d.cfg.SilenceDuration {
		d.endSpeech(d.belowSince)
	}
}

func (d *Detector) endSpeech(lastVoiced time.Duration) {
	evt := Event{
		At:       d.lastFrameEnd,
		Duration: lastVoiced - d.speechBegan,
		Level:    d.level,
	}
	d.speaking = false
	d.hasAbove = false
	d.hasBelow = false
	if d.handlers.OnSpeechEnd != nil {
		d.handlers.OnSpeechEnd(evt)
	}
}

// frameLevel windows the pending frame, takes its spectrum and returns the mean
// bin level mapped from [MinDecibels, MaxDecibels] onto 0..255.
func (d *Detector) frameLevel() float64 {
	copy(d.frame, d.pending)
	window.Blackman(d.frame)
	d.coeffs = d.fft.Coefficients(d.coeffs, d.frame)

	n := float64(d.cfg.FFTSize)
	tau := d.cfg.Smoothing
	span := d.cfg.MaxDecibels - d.cfg.MinDecibels
	sum := 0.0
	for k := range d.smoothed {
		c := d.coeffs[k]
		mag := math.Hypot(real(c), imag(c)) / n
		d.smoothed[k] = tau*d.smoothed[k] + (1-tau)*mag
		if d.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(d.smoothed[k])
		v := 255 * (db - d.cfg.MinDecibels) / span
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		sum += math.Floor(v)
	}
	return sum / float64(len(d.smoothed))
}

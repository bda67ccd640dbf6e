package audio

import (
	"sync"
	"time"
)

// RecorderConfig sizes the pre-roll ring and the capture cap.
type RecorderConfig struct {
	SampleRate  int
	PreRoll     time.Duration
	MaxDuration time.Duration
}

// Recorder buffers microphone samples for utterance capture. It always keeps the
// most recent PreRoll of audio so a capture started on a speech-start signal still
// contains the onset that triggered detection.
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	ring       []int16
	ringNext   int
	ringFull   bool
	maxSamples int
	capturing  bool
	capture    []int16
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	r := &Recorder{
		sampleRate: cfg.SampleRate,
		maxSamples: SamplesFor(cfg.MaxDuration, cfg.SampleRate),
	}
	if n := SamplesFor(cfg.PreRoll, cfg.SampleRate); n > 0 {
		r.ring = make([]int16, n)
	}
	return r
}

func (r *Recorder) SampleRate() int { return r.sampleRate }

// Append feeds samples to the pre-roll ring and, while capturing, to the capture.
func (r *Recorder) Append(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capturing {
		room := len(samples)
		if r.maxSamples > 0 {
			room = r.maxSamples - len(r.capture)
			if room > len(samples) {
				room = len(samples)
			}
		}
		if room > 0 {
			r.capture = append(r.capture, samples[:room]...)
		}
	}
	if len(r.ring) == 0 {
		return
	}
	for _, s := range samples {
		r.ring[r.ringNext] = s
		r.ringNext++
		if r.ringNext == len(r.ring) {
			r.ringNext = 0
			r.ringFull = true
		}
	}
}

// Begin starts a capture seeded with the pre-roll. Calling Begin while already
// capturing keeps the current capture.
func (r *Recorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capturing {
		return
	}
	r.capturing = true
	r.capture = r.capture[:0]
	r.capture = append(r.capture, r.preRollLocked()...)
}

// Finish stops the capture and returns its samples as PCM16LE bytes.
func (r *Recorder) Finish() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.capturing {
		return nil
	}
	r.capturing = false
	out := SamplesToBytes(r.capture)
	r.capture = r.capture[:0]
	return out
}

// Discard drops any in-progress capture.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturing = false
	r.capture = r.capture[:0]
}

// Reset drops the capture and clears the pre-roll ring.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturing = false
	r.capture = r.capture[:0]
	r.ringNext = 0
	r.ringFull = false
}

func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Duration is the length of the in-progress capture.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SampleDuration(len(r.capture), r.sampleRate)
}

func (r *Recorder) preRollLocked() []int16 {
	if len(r.ring) == 0 {
		return nil
	}
	if !r.ringFull {
		out := make([]int16, r.ringNext)
		copy(out, r.ring[:r.ringNext])
		return out
	}
	out := make([]int16, 0, len(r.ring))
	out = append(out, r.ring[r.ringNext:]...)
	out = append(out, r.ring[:r.ringNext]...)
	return out
}

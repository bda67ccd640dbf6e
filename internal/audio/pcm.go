package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DecodePCM16Base64 decodes a base64 PCM16LE chunk as sent by capture clients.
func DecodePCM16Base64(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16 base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("decode pcm16 base64: odd byte length %d", len(raw))
	}
	return BytesToSamples(raw), nil
}

// BytesToSamples reinterprets little-endian PCM16 bytes as samples. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SampleDuration is the playback time of n mono samples at sampleRate.
func SampleDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// PCMDuration is the playback time of mono PCM16 bytes at sampleRate.
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	return SampleDuration(len(pcm)/2, sampleRate)
}

// SamplesFor is the number of mono samples covering d at sampleRate.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

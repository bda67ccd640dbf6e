package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03}
	wav, err := EncodeWAVPCM16LE(pcm, 0)
	require.NoError(t, err)
	require.Len(t, wav, 44+len(pcm))

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(DefaultSampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(DefaultSampleRate*2), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, pcm, wav[44:])
}

func TestDecodeWAVPCM16MonoRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	require.NoError(t, err)

	gotPCM, gotSR, err := DecodeWAVPCM16(wav)
	require.NoError(t, err)
	assert.Equal(t, 16000, gotSR)
	assert.Equal(t, pcm, gotPCM)
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => 0. Frame 2: L=3000, R=1000 => 2000.
	stereo := []byte{
		0xE8, 0x03, 0x18, 0xFC,
		0xB8, 0x0B, 0xE8, 0x03,
	}
	gotPCM, gotSR, err := DecodeWAVPCM16(encodeWAV16(t, stereo, 2, 24000, true))
	require.NoError(t, err)
	assert.Equal(t, 24000, gotSR)
	assert.Equal(t, []int16{0, 2000}, BytesToSamples(gotPCM))
}

func TestDecodeWAVPCM16SkipsUnknownChunks(t *testing.T) {
	pcm := SamplesToBytes([]int16{7, -7, 300})
	gotPCM, _, err := DecodeWAVPCM16(encodeWAV16(t, pcm, 1, 8000, true))
	require.NoError(t, err)
	assert.Equal(t, pcm, gotPCM)
}

func TestDecodeWAVPCM16Errors(t *testing.T) {
	_, _, err := DecodeWAVPCM16([]byte("nope"))
	assert.ErrorIs(t, err, ErrNotWAV)

	wav := encodeWAV16(t, []byte{1, 2}, 1, 16000, false)
	binary.LittleEndian.PutUint16(wav[34:36], 8) // bits per sample
	_, _, err = DecodeWAVPCM16(wav)
	assert.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestPCMHelpers(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, samples, BytesToSamples(SamplesToBytes(samples)))
	assert.Equal(t, time.Second, SampleDuration(16000, 16000))
	assert.Equal(t, 500*time.Millisecond, PCMDuration(make([]byte, 16000), 16000))
	assert.Equal(t, 4800, SamplesFor(300*time.Millisecond, 16000))

	_, err := DecodePCM16Base64("AAE=A")
	assert.Error(t, err)
	got, err := DecodePCM16Base64("AQD//w==")
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -1}, got)
}

func encodeWAV16(t *testing.T, pcm []byte, channels, sampleRate int, withList bool) []byte {
	t.Helper()
	var b bytes.Buffer
	list := []byte("INFOtest")
	riffSize := 36 + len(pcm)
	if withList {
		riffSize += 8 + len(list)
	}
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(riffSize))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*channels*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	if withList {
		b.WriteString("LIST")
		_ = binary.Write(&b, binary.LittleEndian, uint32(len(list)))
		b.Write(list)
	}
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

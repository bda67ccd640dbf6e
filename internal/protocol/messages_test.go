package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)

	chunk, ok := msg.(ClientAudioChunk)
	require.True(t, ok, "message type = %T", msg)
	assert.Equal(t, "s1", chunk.SessionID)
	assert.Equal(t, 16000, chunk.SampleRate)
	assert.EqualValues(t, 123, chunk.TSMs)
}

func TestParseClientMessageRejectsIncompleteAudio(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"s1","pcm16_base64":"AQID"}`))
	assert.Error(t, err)
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ParseClientMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":" Start_Call ","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)

	control, ok := msg.(ClientControl)
	require.True(t, ok, "message type = %T", msg)
	assert.Equal(t, ActionStartCall, control.Action)
	assert.EqualValues(t, 456, control.TSMs)
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"approve_task_step"}`))
	assert.ErrorIs(t, err, ErrUnsupportedAction)

	_, err = ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1"}`))
	assert.Error(t, err)
}

func TestParseClientMessageText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_text","session_id":"s1","text":"  any slots friday? "}`))
	require.NoError(t, err)
	text, ok := msg.(ClientText)
	require.True(t, ok)
	assert.Equal(t, "any slots friday?", text.Text)

	_, err = ParseClientMessage([]byte(`{"type":"client_text","session_id":"s1","text":"   "}`))
	assert.Error(t, err)
}

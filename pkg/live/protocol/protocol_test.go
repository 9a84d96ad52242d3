package protocol

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeServerEvent_Audio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	payload := `{"type":"audio","data":"` + base64.StdEncoding.EncodeToString(pcm) + `","format":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}}`

	ev, err := DecodeServerEvent([]byte(payload))
	require.NoError(t, err)

	audio, ok := ev.(ServerAudio)
	require.True(t, ok, "expected ServerAudio, got %T", ev)
	assert.Equal(t, pcm, audio.Data)
	assert.Equal(t, 24000, audio.Format.SampleRateHz)
}

func TestDecodeServerEvent_Transcript(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"transcript","role":"agent","text":"My customer!"}`))
	require.NoError(t, err)

	tr, ok := ev.(ServerTranscript)
	require.True(t, ok)
	assert.Equal(t, RoleAgent, tr.Role)
	assert.Equal(t, "My customer!", tr.Text)
}

func TestDecodeServerEvent_TranscriptBadRole(t *testing.T) {
	_, err := DecodeServerEvent([]byte(`{"type":"transcript","role":"narrator","text":"hi"}`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "role", decodeErr.Param)
}

func TestDecodeServerEvent_ToolCall(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"tool_call","calls":[{"id":"fc-1","name":"navigate_to_page","args":{"page":"Products"}}]}`))
	require.NoError(t, err)

	tc, ok := ev.(ServerToolCall)
	require.True(t, ok)
	require.Len(t, tc.Calls, 1)
	assert.Equal(t, "fc-1", tc.Calls[0].ID)
	assert.Equal(t, "navigate_to_page", tc.Calls[0].Name)
	assert.Equal(t, "Products", tc.Calls[0].Args["page"])
}

func TestDecodeServerEvent_ToolCallMissingID(t *testing.T) {
	_, err := DecodeServerEvent([]byte(`{"type":"tool_call","calls":[{"name":"navigate_to_page"}]}`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeServerEvent_TurnCompleteAndClose(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"turn_complete"}`))
	require.NoError(t, err)
	assert.IsType(t, ServerTurnComplete{}, ev)

	ev, err = DecodeServerEvent([]byte(`{"type":"close","reason":"bye"}`))
	require.NoError(t, err)
	assert.Equal(t, ServerClose{Reason: "bye"}, ev)
}

func TestDecodeServerEvent_UnknownTagIgnored(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"usage_report","tokens":12}`))
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeServerEvent_Garbage(t *testing.T) {
	_, err := DecodeServerEvent([]byte(`not json`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "bad_payload", decodeErr.Code)
}

func TestEncodeClientEvent_RoundTrip(t *testing.T) {
	events := []ClientEvent{
		ClientAudio{Data: []byte{1, 2}, Format: AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1}},
		ClientText{Text: "Oya! Switch language to Hausa for me now!"},
		ClientToolResult{ID: "fc-9", Name: "search_marketplace", Result: "Searching!"},
	}

	for _, ev := range events {
		data, err := EncodeClientEvent(ev)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"`+ev.EventType()+`"`)
	}
}

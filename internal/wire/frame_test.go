package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshal(t *testing.T) {
	f := Frame{
		JoinRef: "1",
		Ref:     "2",
		Topic:   "text-channel:7",
		Event:   "message.created",
		Payload: json.RawMessage(`{"content":"hi"}`),
	}
	b, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["1","2","text-channel:7","message.created",{"content":"hi"}]`, string(b))
}

func TestFrameMarshalNullRefs(t *testing.T) {
	f := Frame{Topic: "phoenix", Event: "heartbeat"}
	b, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[null,null,"phoenix","heartbeat",{}]`, string(b))
}

func TestFrameUnmarshal(t *testing.T) {
	var f Frame
	err := f.UnmarshalJSON([]byte(`["3","4","user:42","phx_reply",{"status":"ok","response":{}}]`))
	require.NoError(t, err)
	assert.Equal(t, "3", f.JoinRef)
	assert.Equal(t, "4", f.Ref)
	assert.Equal(t, "user:42", f.Topic)
	assert.Equal(t, "phx_reply", f.Event)
	assert.JSONEq(t, `{"status":"ok","response":{}}`, string(f.Payload))
}

func TestFrameUnmarshalNullRefs(t *testing.T) {
	var f Frame
	err := f.UnmarshalJSON([]byte(`[null,null,"text-channel:7","message.deleted",{"message_id":"m1"}]`))
	require.NoError(t, err)
	assert.Empty(t, f.JoinRef)
	assert.Empty(t, f.Ref)
}

func TestFrameUnmarshalRejectsBadShapes(t *testing.T) {
	var f Frame
	assert.Error(t, f.UnmarshalJSON([]byte(`{"topic":"x"}`)))
	assert.Error(t, f.UnmarshalJSON([]byte(`["1","2","topic","event"]`)))
	assert.Error(t, f.UnmarshalJSON([]byte(`[1,2,3,4,5,6]`)))
}

func TestReplyIsOK(t *testing.T) {
	assert.True(t, Reply{Status: "ok"}.IsOK())
	assert.False(t, Reply{Status: "error"}.IsOK())
	assert.False(t, Reply{}.IsOK())
}

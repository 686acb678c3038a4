// Package wire holds the realtime wire contract: the framed channel
// protocol and the typed event payloads pushed through it.
package wire

import (
	"encoding/json"
	"fmt"
)

// Reserved channel events of the framing protocol.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	TopicHeartbeat = "phoenix"
)

// Frame is one message on the socket:
// [join_ref, ref, topic, event, payload].
type Frame struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (f Frame) MarshalJSON() ([]byte, error) {
	payload := f.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	arr := [5]any{nullable(f.JoinRef), nullable(f.Ref), f.Topic, f.Event, payload}
	return json.Marshal(arr)
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("frame is not an array: %w", err)
	}
	if len(arr) != 5 {
		return fmt.Errorf("frame has %d elements, want 5", len(arr))
	}
	if err := unmarshalRef(arr[0], &f.JoinRef); err != nil {
		return fmt.Errorf("bad join_ref: %w", err)
	}
	if err := unmarshalRef(arr[1], &f.Ref); err != nil {
		return fmt.Errorf("bad ref: %w", err)
	}
	if err := json.Unmarshal(arr[2], &f.Topic); err != nil {
		return fmt.Errorf("bad topic: %w", err)
	}
	if err := json.Unmarshal(arr[3], &f.Event); err != nil {
		return fmt.Errorf("bad event: %w", err)
	}
	f.Payload = arr[4]
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unmarshalRef(data json.RawMessage, dst *string) error {
	if string(data) == "null" {
		*dst = ""
		return nil
	}
	return json.Unmarshal(data, dst)
}

// Reply is the payload of an EventReply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// IsOK reports whether the server acknowledged the push.
func (r Reply) IsOK() bool { return r.Status == "ok" }

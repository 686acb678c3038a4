package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/wire"
)

func TestChannelStatusString(t *testing.T) {
	assert.Equal(t, "joining", StatusJoining.String())
	assert.Equal(t, "joined", StatusJoined.String())
	assert.Equal(t, "errored", StatusErrored.String())
	assert.Equal(t, "left", StatusLeft.String())
}

func TestDispatchArrivalOrder(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)

	var mu sync.Mutex
	var got []string
	ch.On("message.created", func(payload json.RawMessage) {
		var p struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(payload, &p))
		mu.Lock()
		got = append(got, p.Content)
		mu.Unlock()
	})

	for _, content := range []string{"one", "two", "three"} {
		conn.inject(wire.Frame{
			Topic:   "text-channel:7",
			Event:   "message.created",
			Payload: json.RawMessage(`{"content":"` + content + `"}`),
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 2*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"one", "two", "three"}, got)
	mu.Unlock()
}

func TestOffDetachesHandler(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)

	var mu sync.Mutex
	calls := 0
	ref := ch.On("message.created", func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	conn.inject(wire.Frame{Topic: "text-channel:7", Event: "message.created", Payload: []byte(`{}`)})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, ch.Off(ref))
	assert.ErrorIs(t, ch.Off(ref), ErrNoListener)

	conn.inject(wire.Frame{Topic: "text-channel:7", Event: "message.created", Payload: []byte(`{}`)})
	// A second delivery proves the detached handler stayed silent.
	conn.inject(wire.Frame{Topic: "text-channel:7", Event: "noop", Payload: []byte(`{}`)})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestPresenceSyncRunsBeforeListeners(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch := s.Join("voice-channel:9", nil)
	presence := ch.Presence()

	seen := make(chan int, 1)
	ch.On(wire.EventPresenceState, func(json.RawMessage) {
		seen <- len(presence.List())
	})

	conn.inject(wire.Frame{
		Topic: "voice-channel:9",
		Event: wire.EventPresenceState,
		Payload: json.RawMessage(`{
			"alice": {"metas": [{"phx_ref": "r1", "endpoint_id": "11", "username": "alice"}]}
		}`),
	})

	select {
	case n := <-seen:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("presence_state never dispatched")
	}
}

func TestJoinFailureMarksErrored(t *testing.T) {
	conn := newFakeConn()
	conn.onWrite = func(f wire.Frame) {
		if f.Event == wire.EventJoin {
			conn.inject(wire.Frame{
				Ref:     f.Ref,
				Topic:   f.Topic,
				Event:   wire.EventReply,
				Payload: json.RawMessage(`{"status":"error","response":{"reason":"forbidden"}}`),
			})
		}
	}
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)
	require.Eventually(t, func() bool {
		return ch.Status() == StatusErrored
	}, time.Second, 2*time.Millisecond)
}

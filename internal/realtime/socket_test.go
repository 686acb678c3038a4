package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/wire"
)

// fakeConn is an in-memory transport. Writes are parsed back into
// frames and recorded; reads block on an injectable queue.
type fakeConn struct {
	mu      sync.Mutex
	frames  []wire.Frame
	events  []string
	onWrite func(f wire.Frame)

	incoming  chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 32)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var f wire.Frame
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.events = append(c.events, "write:"+f.Event+":"+f.Topic)
	cb := c.onWrite
	c.mu.Unlock()
	if cb != nil {
		cb(f)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.events = append(c.events, "close")
		c.mu.Unlock()
		close(c.incoming)
	})
	return nil
}

func (c *fakeConn) inject(f wire.Frame) {
	b, err := f.MarshalJSON()
	if err != nil {
		panic(err)
	}
	c.incoming <- b
}

func (c *fakeConn) countWrites(event, topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Event == event && f.Topic == topic {
			n++
		}
	}
	return n
}

func (c *fakeConn) eventLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func okReply(f wire.Frame, response string) wire.Frame {
	return wire.Frame{
		Ref:     f.Ref,
		Topic:   f.Topic,
		Event:   wire.EventReply,
		Payload: json.RawMessage(`{"status":"ok","response":` + response + `}`),
	}
}

// ackLifecycle auto-acknowledges join and leave handshakes.
func ackLifecycle(c *fakeConn) {
	c.onWrite = func(f wire.Frame) {
		if f.Event == wire.EventJoin || f.Event == wire.EventLeave {
			c.inject(okReply(f, `{}`))
		}
	}
}

func newTestSocket(t *testing.T, conn *fakeConn) *Socket {
	t.Helper()
	s := NewSocket("ws://chat.test/socket", Options{
		Heartbeat:    time.Hour,
		PushTimeout:  2 * time.Second,
		ReconnectCap: 10 * time.Millisecond,
		Dialer: func(_ context.Context, _ string) (Conn, error) {
			return conn, nil
		},
	})
	s.Connect("token-1")
	require.Eventually(t, s.Connected, time.Second, 2*time.Millisecond)
	t.Cleanup(s.Disconnect)
	return s
}

func TestBackoff(t *testing.T) {
	cap := 10 * time.Second
	assert.Equal(t, 1*time.Second, Backoff(0, cap))
	assert.Equal(t, 2*time.Second, Backoff(1, cap))
	assert.Equal(t, 5*time.Second, Backoff(4, cap))
	assert.Equal(t, 10*time.Second, Backoff(9, cap))
	assert.Equal(t, 10*time.Second, Backoff(100, cap))
}

func TestJoinIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch1 := s.Join("text-channel:7", nil)
	ch2 := s.Join("text-channel:7", nil)
	require.Same(t, ch1, ch2)

	require.Eventually(t, func() bool {
		return ch1.Status() == StatusJoined
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, conn.countWrites(wire.EventJoin, "text-channel:7"))
}

func TestPushReplyCorrelation(t *testing.T) {
	conn := newFakeConn()
	conn.onWrite = func(f wire.Frame) {
		switch f.Event {
		case wire.EventJoin:
			conn.inject(okReply(f, `{}`))
		case "ping":
			conn.inject(okReply(f, `{"pong":true}`))
		}
	}
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)
	resp, err := ch.Push("ping", map[string]any{}).Await(time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(resp))
}

func TestPushErrorReply(t *testing.T) {
	conn := newFakeConn()
	conn.onWrite = func(f wire.Frame) {
		switch f.Event {
		case wire.EventJoin:
			conn.inject(okReply(f, `{}`))
		case "ping":
			conn.inject(wire.Frame{
				Ref:     f.Ref,
				Topic:   f.Topic,
				Event:   wire.EventReply,
				Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`),
			})
		}
	}
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)
	_, err := ch.Push("ping", map[string]any{}).Await(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestPushTimeout(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)
	_, err := ch.Push("ping", map[string]any{}).Await(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrPushTimeout)
}

func TestDisconnectFailsPending(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	ch := s.Join("text-channel:7", nil)
	push := ch.Push("ping", map[string]any{})
	s.Disconnect()

	_, err := push.Await(time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestLeaveAllBeforeDisconnect(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	s.Join("text-channel:7", nil)
	s.Join("voice-channel:9", nil)
	s.LeaveAll()
	s.Disconnect()

	log := conn.eventLog()
	closeAt := indexOf(log, "close")
	require.GreaterOrEqual(t, closeAt, 0)
	for _, topic := range []string{"text-channel:7", "voice-channel:9"} {
		leaveAt := indexOf(log, "write:phx_leave:"+topic)
		require.GreaterOrEqual(t, leaveAt, 0, topic)
		assert.Less(t, leaveAt, closeAt, topic)
	}
	assert.Empty(t, s.Topics())
}

func TestLeaveRemovesFromRegistry(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	s.Join("text-channel:7", nil)
	s.Leave("text-channel:7")
	assert.Nil(t, s.Channel("text-channel:7"))
	assert.Eventually(t, func() bool {
		return conn.countWrites(wire.EventLeave, "text-channel:7") == 1
	}, time.Second, 2*time.Millisecond)
}

func TestReconnectRejoinsChannels(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	ackLifecycle(conn1)
	ackLifecycle(conn2)

	var mu sync.Mutex
	conns := []*fakeConn{conn1, conn2}
	s := NewSocket("ws://chat.test/socket", Options{
		Heartbeat:    time.Hour,
		PushTimeout:  2 * time.Second,
		ReconnectCap: 10 * time.Millisecond,
		Dialer: func(_ context.Context, _ string) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(conns) == 0 {
				return nil, errors.New("no more connections")
			}
			c := conns[0]
			conns = conns[1:]
			return c, nil
		},
	})
	s.Connect("token-1")
	t.Cleanup(s.Disconnect)
	require.Eventually(t, s.Connected, time.Second, 2*time.Millisecond)

	ch := s.Join("text-channel:7", nil)
	require.Eventually(t, func() bool {
		return ch.Status() == StatusJoined
	}, time.Second, 2*time.Millisecond)

	_ = conn1.Close()

	require.Eventually(t, func() bool {
		return conn2.countWrites(wire.EventJoin, "text-channel:7") == 1
	}, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		return ch.Status() == StatusJoined
	}, time.Second, 2*time.Millisecond)
}

func TestFrameForUnjoinedTopicIgnored(t *testing.T) {
	conn := newFakeConn()
	ackLifecycle(conn)
	s := newTestSocket(t, conn)

	conn.inject(wire.Frame{Topic: "text-channel:99", Event: "message.created", Payload: []byte(`{}`)})

	ch := s.Join("text-channel:7", nil)
	require.Eventually(t, func() bool {
		return ch.Status() == StatusJoined
	}, time.Second, 2*time.Millisecond)
}

func indexOf(list []string, want string) int {
	for i, v := range list {
		if v == want {
			return i
		}
	}
	return -1
}

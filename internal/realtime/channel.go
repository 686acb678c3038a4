package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/wire"
)

var ErrNoListener = errors.New("listener not registered")

type ChannelStatus int

const (
	StatusJoining ChannelStatus = iota
	StatusJoined
	StatusErrored
	StatusLeft
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusJoining:
		return "joining"
	case StatusJoined:
		return "joined"
	case StatusErrored:
		return "errored"
	case StatusLeft:
		return "left"
	}
	return "unknown"
}

// Handler receives raw event payloads in arrival order.
type Handler func(payload json.RawMessage)

// ListenerRef identifies one registered handler for detaching.
type ListenerRef struct {
	event string
	id    int
}

// Channel is one joined topic subscription. It never owns the
// transport; the socket's registry decides its lifetime.
type Channel struct {
	socket *Socket
	topic  string
	params map[string]any

	mu        sync.RWMutex
	joinRef   string
	status    ChannelStatus
	nextID    int
	listeners map[string]map[int]Handler
	presence  *Presence
}

func newChannel(s *Socket, topic string, params map[string]any) *Channel {
	if params == nil {
		params = map[string]any{}
	}
	return &Channel{
		socket:    s,
		topic:     topic,
		params:    params,
		status:    StatusJoining,
		listeners: make(map[string]map[int]Handler),
	}
}

func (c *Channel) Topic() string { return c.topic }

func (c *Channel) Status() ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// On registers a handler for an event. Handlers registered right after
// Join never miss events: the registry entry exists before the join
// handshake resolves.
func (c *Channel) On(event string, fn Handler) ListenerRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]Handler)
	}
	c.listeners[event][c.nextID] = fn
	return ListenerRef{event: event, id: c.nextID}
}

// Off detaches a handler. Detach is best-effort for callers: a missing
// listener (channel already torn down, double detach) is reported but
// non-fatal by convention.
func (c *Channel) Off(ref ListenerRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.listeners[ref.event]
	if !ok {
		return ErrNoListener
	}
	if _, ok := m[ref.id]; !ok {
		return ErrNoListener
	}
	delete(m, ref.id)
	return nil
}

// Push sends an event on this channel and returns the pending reply.
func (c *Channel) Push(event string, payload any) *Push {
	c.mu.RLock()
	joinRef := c.joinRef
	c.mu.RUnlock()
	return c.socket.push(c.topic, event, joinRef, payload)
}

// Presence returns the channel's presence tracker, creating it on
// first use. Sync events are routed into it before other listeners.
func (c *Channel) Presence() *Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == nil {
		c.presence = NewPresence()
	}
	return c.presence
}

func (c *Channel) sendJoin() {
	ref := c.socket.makeRef()
	c.mu.Lock()
	c.joinRef = ref
	c.status = StatusJoining
	params := c.params
	c.mu.Unlock()

	p := c.socket.pushWithRef(c.topic, wire.EventJoin, ref, ref, params)
	go func() {
		_, err := p.Await(c.socket.opts.PushTimeout)
		c.mu.Lock()
		if err != nil {
			c.status = StatusErrored
		} else {
			c.status = StatusJoined
		}
		c.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("module", "realtime.channel").Str("topic", c.topic).Msg("join failed")
			return
		}
		log.Info().Str("module", "realtime.channel").Str("topic", c.topic).Msg("joined")
	}()
}

func (c *Channel) sendLeave() {
	c.mu.Lock()
	c.status = StatusLeft
	c.mu.Unlock()

	p := c.Push(wire.EventLeave, map[string]any{})
	go func() {
		if _, err := p.Await(c.socket.opts.PushTimeout); err != nil {
			log.Warn().Err(err).Str("module", "realtime.channel").Str("topic", c.topic).Msg("leave not acknowledged")
		}
	}()
}

// dispatch runs presence sync and listeners for one incoming frame.
// Payloads are applied strictly in arrival order.
func (c *Channel) dispatch(event string, payload json.RawMessage) {
	c.mu.RLock()
	presence := c.presence
	m := c.listeners[event]
	handlers := make([]Handler, 0, len(m))
	for _, fn := range m {
		handlers = append(handlers, fn)
	}
	c.mu.RUnlock()

	if presence != nil {
		switch event {
		case wire.EventPresenceState:
			presence.syncState(payload)
		case wire.EventPresenceDiff:
			presence.syncDiff(payload)
		}
	}
	for _, fn := range handlers {
		fn(payload)
	}
}

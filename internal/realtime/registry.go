package realtime

import (
	"github.com/rs/zerolog/log"
)

// Join returns the channel for the topic, creating and joining it if
// needed. The registry entry is stored before the join handshake
// resolves so concurrent callers share one handle and one handshake.
// Join failures are logged, not returned; the handle stays usable and
// rejoins on the next reconnect.
func (s *Socket) Join(topic string, params map[string]any) *Channel {
	s.mu.Lock()
	if ch, ok := s.channels[topic]; ok {
		s.mu.Unlock()
		return ch
	}
	ch := newChannel(s, topic, params)
	s.channels[topic] = ch
	s.mu.Unlock()

	log.Info().Str("module", "realtime.registry").Str("topic", topic).Msg("joining channel")
	ch.sendJoin()
	return ch
}

// Channel is a lookup with no side effects.
func (s *Socket) Channel(topic string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[topic]
}

// Leave requests a leave and removes the channel from the registry
// regardless of the acknowledgment's outcome.
func (s *Socket) Leave(topic string) {
	s.mu.Lock()
	ch, ok := s.channels[topic]
	if ok {
		delete(s.channels, topic)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ch.sendLeave()
	log.Info().Str("module", "realtime.registry").Str("topic", topic).Msg("left channel")
}

// LeaveAll leaves every joined channel. Callers tearing the session
// down must call this before Disconnect; leaving after the transport
// is gone is a no-op that leaks server-side channel state.
func (s *Socket) LeaveAll() {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*Channel)
	s.mu.Unlock()

	for topic, ch := range channels {
		ch.sendLeave()
		log.Info().Str("module", "realtime.registry").Str("topic", topic).Msg("left channel")
	}
}

// Topics lists the currently joined topics.
func (s *Socket) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for topic := range s.channels {
		out = append(out, topic)
	}
	return out
}

func (s *Socket) rejoinAll() {
	s.mu.RLock()
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.RUnlock()

	for _, ch := range channels {
		ch.sendJoin()
	}
}

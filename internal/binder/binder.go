// Package binder layers a generic event-to-state mechanism over topic
// channels: each (topic, event) pair may fold payloads into a keyed
// state slice via a reducer, invoke a side-effect handler, or both.
package binder

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/realtime"
)

// Joiner is the slice of the socket manager the binder needs. The
// binder never leaves channels it joined on behalf of a binding unless
// the binding opts in; channel lifetime is the socket manager's
// concern.
type Joiner interface {
	Join(topic string, params map[string]any) *realtime.Channel
	Leave(topic string)
}

// Meta accompanies side-effect invocations.
type Meta struct {
	Topic   string
	Channel *realtime.Channel
	Event   string
}

// Reducer folds one payload into the previous state.
type Reducer func(prev any, payload json.RawMessage, event string) any

// Effect is a side-effect handler invoked on every delivery.
type Effect func(payload json.RawMessage, meta Meta)

// Topic is a topic name that may depend on the current user.
type Topic struct {
	static string
	fn     func(userID string) string
}

func StaticTopic(name string) Topic { return Topic{static: name} }

func UserTopic(fn func(userID string) string) Topic { return Topic{fn: fn} }

func (t Topic) Resolve(userID string) string {
	if t.fn != nil {
		return t.fn(userID)
	}
	return t.static
}

type EventSpec struct {
	Event   string
	Initial any
	Reducer Reducer
	Effect  Effect
}

// LegacyState is the single-reducer descriptor form: one event list,
// one reducer. Kept for older call sites; expanded internally.
type LegacyState struct {
	Events  []string
	Initial any
	Reducer Reducer
}

type Binding struct {
	// ID keys the state slice; defaults to "<topic>:<event>".
	ID     string
	Topic  Topic
	Events []EventSpec
	Legacy *LegacyState

	// LeaveOnDetach makes this a scoped join: the topic is left when
	// the binder detaches.
	LeaveOnDetach bool
}

type attachment struct {
	topic string
	ch    *realtime.Channel
	refs  []realtime.ListenerRef
	leave bool
}

// Binder owns the bindings of one component scope.
type Binder struct {
	socket Joiner
	scope  *Scope
	mode   string

	mu       sync.Mutex
	userID   string
	bindings []Binding
	attached []attachment
}

func New(socket Joiner, scope *Scope, mode string) *Binder {
	if scope == nil {
		scope = NewScope(nil)
	}
	return &Binder{socket: socket, scope: scope, mode: mode}
}

func (b *Binder) Scope() *Scope { return b.scope }

// State reads a state slice by key from this scope chain.
func (b *Binder) State(key string) (any, bool) {
	return b.scope.Get(key)
}

// Bind registers bindings and attaches them with the current user.
func (b *Binder) Bind(bindings ...Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, binding := range bindings {
		binding = b.normalize(binding)
		b.bindings = append(b.bindings, binding)
		b.attach(binding)
	}
}

// SetUser re-resolves every topic against the new user identity and
// reattaches the bindings.
func (b *Binder) SetUser(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.userID == userID {
		return
	}
	b.detachAll()
	b.userID = userID
	for _, binding := range b.bindings {
		b.attach(binding)
	}
}

// Detach unregisters every listener this binder registered. Detach
// failures are swallowed: the channel may already be gone.
func (b *Binder) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachAll()
}

func (b *Binder) normalize(binding Binding) Binding {
	if binding.Legacy == nil {
		return binding
	}
	if len(binding.Events) > 0 {
		// Modern per-event form wins over the legacy descriptor.
		if b.mode != "release" {
			log.Warn().Str("module", "binder").Str("topic", binding.Topic.Resolve(b.userID)).
				Msg("both legacy and per-event bindings supplied; using per-event")
		}
		binding.Legacy = nil
		return binding
	}
	for _, event := range binding.Legacy.Events {
		binding.Events = append(binding.Events, EventSpec{
			Event:   event,
			Initial: binding.Legacy.Initial,
			Reducer: binding.Legacy.Reducer,
		})
	}
	binding.Legacy = nil
	return binding
}

func (b *Binder) attach(binding Binding) {
	topic := binding.Topic.Resolve(b.userID)
	ch := b.socket.Join(topic, nil)
	att := attachment{topic: topic, ch: ch, leave: binding.LeaveOnDetach}

	for _, spec := range binding.Events {
		key := binding.ID
		if key == "" {
			key = topic + ":" + spec.Event
		}
		att.refs = append(att.refs, ch.On(spec.Event, b.handler(spec, key, topic, ch)))
	}
	b.attached = append(b.attached, att)
}

// handler applies payloads in the order the listener receives them:
// no reordering is attempted for out-of-order network delivery.
func (b *Binder) handler(spec EventSpec, key, topic string, ch *realtime.Channel) realtime.Handler {
	return func(payload json.RawMessage) {
		if spec.Reducer != nil {
			prev, ok := b.scope.Get(key)
			if !ok {
				prev = spec.Initial
			}
			b.scope.Set(key, spec.Reducer(prev, payload, spec.Event))
		}
		if spec.Effect != nil {
			spec.Effect(payload, Meta{Topic: topic, Channel: ch, Event: spec.Event})
		}
	}
}

func (b *Binder) detachAll() {
	for _, att := range b.attached {
		for _, ref := range att.refs {
			if err := att.ch.Off(ref); err != nil {
				log.Debug().Err(err).Str("module", "binder").Str("topic", att.topic).Msg("detach listener")
			}
		}
		if att.leave {
			b.socket.Leave(att.topic)
		}
	}
	b.attached = nil
}

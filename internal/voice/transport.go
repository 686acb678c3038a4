package voice

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/realtime"
)

// PeerTransport abstracts the peer connection so the controller can
// be exercised against a fake. The real implementation wraps pion;
// see rtc.go.
type PeerTransport interface {
	// CreateOffer builds a local offer, applies it locally and waits
	// for candidate gathering before returning the final description.
	CreateOffer() (webrtc.SessionDescription, error)
	// SetRemoteAnswer applies an answer to a previously sent offer.
	SetRemoteAnswer(sdp string) error
	// SetRemoteOffer applies a remote offer and returns the local
	// answer, already applied locally.
	SetRemoteOffer(sdp string) (webrtc.SessionDescription, error)
	CreateDataChannel(label string) (DataChannel, error)
	AddSendTransceiver(track webrtc.TrackLocal) (Transceiver, error)
	OnTrack(fn func(track *webrtc.TrackRemote))
	OnICEStateChange(fn func(state webrtc.ICEConnectionState))
	ICEState() webrtc.ICEConnectionState
	Close() error
}

type DataChannel interface {
	OnMessage(fn func(data []byte))
	Send(data []byte) error
	Close() error
}

type Transceiver interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Stop() error
}

// TransportFactory builds a fresh peer transport per session.
type TransportFactory func() (PeerTransport, error)

// PushReply is the awaitable handle of an issued channel push.
type PushReply interface {
	Await(timeout time.Duration) (json.RawMessage, error)
}

// SignalChannel is the slice of a joined topic channel the controller
// signals through.
type SignalChannel interface {
	Push(event string, payload any) PushReply
	OnEvent(event string, fn func(payload json.RawMessage))
	OnPresence(fn func(entries []realtime.Entry))
}

// Signaler joins and leaves signaling topics.
type Signaler interface {
	Join(topic string, params map[string]any) SignalChannel
	Leave(topic string)
}

// SocketSignaler adapts the realtime socket to the Signaler interface.
type SocketSignaler struct {
	Socket *realtime.Socket
}

func (s SocketSignaler) Join(topic string, params map[string]any) SignalChannel {
	return channelSignal{ch: s.Socket.Join(topic, params)}
}

func (s SocketSignaler) Leave(topic string) {
	s.Socket.Leave(topic)
}

type channelSignal struct {
	ch *realtime.Channel
}

func (c channelSignal) Push(event string, payload any) PushReply {
	return c.ch.Push(event, payload)
}

func (c channelSignal) OnEvent(event string, fn func(payload json.RawMessage)) {
	c.ch.On(event, realtime.Handler(fn))
}

func (c channelSignal) OnPresence(fn func(entries []realtime.Entry)) {
	p := c.ch.Presence()
	p.OnSync(func() {
		fn(p.List())
	})
}

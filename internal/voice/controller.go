// Package voice drives the peer-to-peer media session for one voice
// channel membership: offer/answer exchange through the channel
// transport, in-call renegotiation over a dedicated data channel,
// presence-based roster reconciliation and local device toggles.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/wire"
)

var ErrNoSession = errors.New("no active voice session")

const signalChannelLabel = "signaling"

type Options struct {
	NegotiationTimeout time.Duration
	PushTimeout        time.Duration
}

// Controller is the per-client voice session state machine. At most
// one peer connection is active at a time; starting a new session
// tears the previous one down first.
type Controller struct {
	signaler Signaler
	capture  media.Capture
	factory  TransportFactory
	opts     Options

	iceState atomic.Int32

	mu        sync.Mutex
	sessionID string
	username  string
	joined    bool
	pc        PeerTransport
	dc        DataChannel
	neg       *negotiator
	ch        SignalChannel
	roster    *Roster

	camTrack media.Track
	micTrack media.Track
	camXcvr  Transceiver
	micXcvr  Transceiver
	camOn    bool
	micOn    bool
}

func NewController(signaler Signaler, capture media.Capture, factory TransportFactory, opts Options) *Controller {
	c := &Controller{
		signaler: signaler,
		capture:  capture,
		factory:  factory,
		opts:     opts,
		roster:   NewRoster(),
	}
	c.iceState.Store(int32(webrtc.ICEConnectionStateNew))
	return c
}

// Status is the session state exposed to the UI layer.
type Status struct {
	Joined     bool   `json:"joined"`
	SessionID  string `json:"session_id,omitempty"`
	ICE        string `json:"ice"`
	CamEnabled bool   `json:"cam_enabled"`
	MicEnabled bool   `json:"mic_enabled"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Joined:     c.joined,
		SessionID:  c.sessionID,
		ICE:        c.ICEState().String(),
		CamEnabled: c.camOn,
		MicEnabled: c.micOn,
	}
}

func (c *Controller) ICEState() webrtc.ICEConnectionState {
	return webrtc.ICEConnectionState(c.iceState.Load())
}

// Roster returns the remote participant roster.
func (c *Controller) Roster() *Roster { return c.roster }

// Join starts a voice session. A repeat call for the same session
// with ICE already connected is a no-op. The initial offer goes
// through the channel transport; the data channel is reserved for
// later renegotiations.
func (c *Controller) Join(sessionID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.joined && c.sessionID == sessionID &&
		c.ICEState() == webrtc.ICEConnectionStateConnected {
		return nil
	}
	if c.joined {
		c.teardownLocked(true)
	}

	pc, err := c.factory()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel(signalChannelLabel)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	c.pc = pc
	c.dc = dc
	c.neg = newNegotiator(c.opts.NegotiationTimeout)
	c.sessionID = sessionID
	c.username = username
	c.iceState.Store(int32(webrtc.ICEConnectionStateNew))

	dc.OnMessage(c.onSignalMessage)
	pc.OnTrack(c.onRemoteTrack)
	pc.OnICEStateChange(c.onICEState)

	ch := c.signaler.Join(wire.VoiceTopic(sessionID), map[string]any{"username": username})
	c.ch = ch
	ch.OnPresence(c.onPresence)

	offer, err := pc.CreateOffer()
	if err != nil {
		c.teardownLocked(false)
		return fmt.Errorf("create offer: %w", err)
	}
	resp, err := ch.Push(wire.PushOffer, wire.Offer{SessionID: sessionID, OfferSDP: offer.SDP}).
		Await(c.opts.PushTimeout)
	if err != nil {
		c.teardownLocked(false)
		return fmt.Errorf("offer push: %w", err)
	}
	answer, err := wire.Decode[wire.OfferAnswer](resp)
	if err != nil {
		c.teardownLocked(false)
		return fmt.Errorf("offer reply: %w", err)
	}
	if err := pc.SetRemoteAnswer(answer.AnswerSDP); err != nil {
		c.teardownLocked(false)
		return fmt.Errorf("apply answer: %w", err)
	}

	c.joined = true
	log.Info().Str("module", "voice").Str("session", sessionID).Str("username", username).Msg("joined voice session")
	return nil
}

// Leave tears the session down in a fixed order: camera, microphone,
// peer connection, roster, then best-effort server notification.
// Local cleanup always completes whether or not the server hears
// about it. Safe to call twice.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked(true)
}

// teardownLocked releases local resources. Every step is a safe no-op
// on already-released state so a concurrent auto-teardown cannot make
// it double-run destructively.
func (c *Controller) teardownLocked(notify bool) {
	sessionID := c.sessionID
	ch := c.ch

	c.releasePeerLocked()
	c.roster.Clear()

	if ch != nil {
		if notify {
			push := ch.Push(wire.PushLeave, wire.VoiceLeave{SessionID: sessionID})
			go func() {
				if _, err := push.Await(c.opts.PushTimeout); err != nil {
					log.Debug().Err(err).Str("module", "voice").Msg("leave push not acknowledged")
				}
			}()
		}
		c.signaler.Leave(wire.VoiceTopic(sessionID))
	}
	c.ch = nil
	c.sessionID = ""
	c.username = ""
}

// releasePeerLocked stops local tracks and closes the peer
// connection, resetting the enabled flags.
func (c *Controller) releasePeerLocked() {
	if c.camXcvr != nil {
		if err := c.camXcvr.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "voice").Msg("stop camera transceiver")
		}
		c.camXcvr = nil
	}
	if c.camTrack != nil {
		c.camTrack.Stop()
		c.camTrack = nil
	}
	if c.micXcvr != nil {
		if err := c.micXcvr.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "voice").Msg("stop microphone transceiver")
		}
		c.micXcvr = nil
	}
	if c.micTrack != nil {
		c.micTrack.Stop()
		c.micTrack = nil
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "voice").Msg("close peer connection")
		}
		c.pc = nil
	}
	c.dc = nil
	c.camOn = false
	c.micOn = false
	c.joined = false
}

func (c *Controller) StartCam() error { return c.startTrack(true) }
func (c *Controller) StopCam() error  { return c.stopTrack(true) }
func (c *Controller) StartMic() error { return c.startTrack(false) }
func (c *Controller) StopMic() error  { return c.stopTrack(false) }

// startTrack acquires the device and attaches it as a sendonly
// transceiver. Only the first attachment of a media kind triggers a
// renegotiation; later toggles just swap the transceiver's track.
func (c *Controller) startTrack(video bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return ErrNoSession
	}
	enabled := &c.micOn
	xcvr := &c.micXcvr
	slot := &c.micTrack
	open := c.capture.OpenMic
	if video {
		enabled, xcvr, slot, open = &c.camOn, &c.camXcvr, &c.camTrack, c.capture.OpenCam
	}
	if *enabled {
		return nil
	}

	track, err := open()
	if err != nil {
		return err
	}

	if *xcvr == nil {
		t, err := c.pc.AddSendTransceiver(track.Local())
		if err != nil {
			track.Stop()
			return fmt.Errorf("add transceiver: %w", err)
		}
		*xcvr = t
		*slot = track
		// Degraded-but-open on failure: the session stays up with a
		// stale remote description.
		if err := c.negotiateLocked(); err != nil {
			log.Error().Err(err).Str("module", "voice").Bool("video", video).Msg("renegotiation failed")
		}
	} else {
		if err := (*xcvr).ReplaceTrack(track.Local()); err != nil {
			track.Stop()
			return fmt.Errorf("replace track: %w", err)
		}
		*slot = track
	}

	*enabled = true
	c.pushStateLocked()
	return nil
}

func (c *Controller) stopTrack(video bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return ErrNoSession
	}
	enabled := &c.micOn
	xcvr := &c.micXcvr
	slot := &c.micTrack
	if video {
		enabled, xcvr, slot = &c.camOn, &c.camXcvr, &c.camTrack
	}
	if !*enabled {
		return nil
	}

	if *xcvr != nil {
		if err := (*xcvr).ReplaceTrack(nil); err != nil {
			log.Debug().Err(err).Str("module", "voice").Bool("video", video).Msg("null out track")
		}
	}
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
	*enabled = false
	c.pushStateLocked()
	return nil
}

// negotiateLocked runs one renegotiation cycle over the data channel:
// offer out, matching answer back, remote description applied.
func (c *Controller) negotiateLocked() error {
	if c.dc == nil {
		return ErrNoSession
	}
	offer, err := c.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	ref := uuid.NewString()
	waiter := c.neg.expect(ref)

	b, err := json.Marshal(wire.SignalDescription{Type: "offer", SDP: offer.SDP, Ref: ref})
	if err != nil {
		c.neg.cancel(ref)
		return err
	}
	if err := c.dc.Send(b); err != nil {
		c.neg.cancel(ref)
		return fmt.Errorf("send offer: %w", err)
	}
	answer, err := c.neg.await(ref, waiter)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteAnswer(answer.SDP); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// pushStateLocked announces the current enabled flags so peers can
// update their roster display.
func (c *Controller) pushStateLocked() {
	if c.ch == nil {
		return
	}
	push := c.ch.Push(wire.PushStateChange, wire.StateChange{Video: c.camOn, Audio: c.micOn})
	go func() {
		if _, err := push.Await(c.opts.PushTimeout); err != nil {
			log.Debug().Err(err).Str("module", "voice").Msg("state_change not acknowledged")
		}
	}()
}

func (c *Controller) onSignalMessage(data []byte) {
	desc, err := wire.Decode[wire.SignalDescription](data)
	if err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("bad signal message")
		return
	}
	switch desc.Type {
	case "answer":
		if !c.neg.deliver(desc) {
			log.Debug().Str("module", "voice").Str("ref", desc.Ref).Msg("answer with no pending offer")
		}
	case "offer":
		c.onRemoteOffer(desc)
	}
}

// onRemoteOffer handles a server-initiated renegotiation, typically
// when a new remote track is about to arrive.
func (c *Controller) onRemoteOffer(desc wire.SignalDescription) {
	c.mu.Lock()
	pc, dc := c.pc, c.dc
	c.mu.Unlock()
	if pc == nil || dc == nil {
		return
	}
	answer, err := pc.SetRemoteOffer(desc.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("apply remote offer")
		return
	}
	b, err := json.Marshal(wire.SignalDescription{Type: "answer", SDP: answer.SDP, Ref: desc.Ref})
	if err != nil {
		return
	}
	if err := dc.Send(b); err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("send answer")
	}
}

func (c *Controller) onRemoteTrack(track *webrtc.TrackRemote) {
	endpoint := endpointFromStreamID(track.StreamID())
	if endpoint == "" {
		log.Debug().Str("module", "voice").Str("stream_id", track.StreamID()).Msg("track without endpoint prefix dropped")
		return
	}
	c.roster.AttachTrack(endpoint, track)
}

func (c *Controller) onPresence(entries []realtime.Entry) {
	c.roster.Rebuild(entries)
}

// onICEState records connectivity transitions. Disconnection and
// failure trigger an unconditional local teardown; a concurrent
// Leave observing already-released state is a safe no-op.
func (c *Controller) onICEState(state webrtc.ICEConnectionState) {
	c.iceState.Store(int32(state))
	log.Info().Str("module", "voice").Str("ice_state", state.String()).Msg("ICE state")
	if state == webrtc.ICEConnectionStateDisconnected ||
		state == webrtc.ICEConnectionStateFailed {
		go func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.releasePeerLocked()
			c.roster.Clear()
		}()
	}
}

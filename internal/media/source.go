// Package media provides local capture sources for voice sessions.
// The daemon has no device stack of its own; capture is fed as RTP
// from an external encoder into local tracks.
package media

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type SourceState int32

const (
	StateOk SourceState = iota
	StateMuted
	StateStopped
)

// Track is one acquired local media source. Stop releases the device
// and is a safe no-op when already stopped.
type Track interface {
	Local() webrtc.TrackLocal
	Stop()
}

// Capture acquires local devices. Acquisition errors (port in use,
// device unavailable) propagate to the caller; there is no retry.
type Capture interface {
	OpenMic() (Track, error)
	OpenCam() (Track, error)
}

// RTPCapture reads RTP from local UDP ports, one per media kind.
type RTPCapture struct {
	MicPort int
	CamPort int
}

func NewRTPCapture(micPort, camPort int) *RTPCapture {
	return &RTPCapture{MicPort: micPort, CamPort: camPort}
}

func (c *RTPCapture) OpenMic() (Track, error) {
	return openRTPTrack(c.MicPort, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
	}, "audio")
}

func (c *RTPCapture) OpenCam() (Track, error) {
	return openRTPTrack(c.CamPort, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
	}, "video")
}

type rtpTrack struct {
	track *webrtc.TrackLocalStaticRTP
	conn  *net.UDPConn
	state atomic.Int32
}

func openRTPTrack(port int, codec webrtc.RTPCodecCapability, kind string) (Track, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", kind, err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, kind, kind+"-"+uuid.NewString())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &rtpTrack{track: track, conn: conn}
	go t.pump(kind)
	return t, nil
}

// pump forwards packets from the encoder into the local track until
// the source is stopped.
func (t *rtpTrack) pump(kind string) {
	buf := make([]byte, 1500)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if SourceState(t.state.Load()) != StateStopped {
				log.Warn().Err(err).Str("module", "media").Str("kind", kind).Msg("source read error")
			}
			return
		}
		switch SourceState(t.state.Load()) {
		case StateStopped:
			return
		case StateMuted:
			continue
		case StateOk:
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("kind", kind).Msg("bad RTP packet")
			continue
		}
		if err := t.track.WriteRTP(&pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Err(err).Str("module", "media").Str("kind", kind).Msg("track write error")
		}
	}
}

func (t *rtpTrack) Local() webrtc.TrackLocal { return t.track }

func (t *rtpTrack) Stop() {
	if t.state.Swap(int32(StateStopped)) == int32(StateStopped) {
		return
	}
	_ = t.conn.Close()
}

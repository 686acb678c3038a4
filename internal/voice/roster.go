package voice

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/realtime"
)

// RemoteTrack is the slice of *webrtc.TrackRemote the roster needs.
type RemoteTrack interface {
	Kind() webrtc.RTPCodecType
	StreamID() string
}

// Participant is one remote member of the voice session.
type Participant struct {
	EndpointID string
	Username   string
	Audio      bool
	Video      bool

	AudioTrack RemoteTrack
	VideoTrack RemoteTrack
}

// Roster reconciles presence entries with attached remote media.
type Roster struct {
	mu           sync.RWMutex
	participants []*Participant
}

func NewRoster() *Roster {
	return &Roster{}
}

// Rebuild replaces the roster from a presence sync. Existing
// participants are matched by username and keep their attached
// tracks; new entries start with empty media slots. Two participants
// sharing a display name collide; the server is expected to keep
// usernames unique per session.
func (r *Roster) Rebuild(entries []realtime.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]*Participant, len(r.participants))
	for _, p := range r.participants {
		byName[p.Username] = p
	}

	next := make([]*Participant, 0, len(entries))
	for _, entry := range entries {
		for _, meta := range entry.Metas {
			if existing, ok := byName[meta.Username]; ok {
				existing.EndpointID = string(meta.EndpointID)
				existing.Audio = meta.Audio
				existing.Video = meta.Video
				next = append(next, existing)
				continue
			}
			next = append(next, &Participant{
				EndpointID: string(meta.EndpointID),
				Username:   meta.Username,
				Audio:      meta.Audio,
				Video:      meta.Video,
			})
		}
	}
	r.participants = next
}

// AttachTrack assigns a remote track to the participant with the
// given endpoint id. A track arriving before its participant exists
// is dropped: there is nobody to attach it to.
func (r *Roster) AttachTrack(endpointID string, track RemoteTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.EndpointID != endpointID {
			continue
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			p.VideoTrack = track
		} else {
			p.AudioTrack = track
		}
		return true
	}
	log.Debug().Str("module", "voice.roster").Str("endpoint", endpointID).Msg("track for unknown participant dropped")
	return false
}

// List returns the current participants in presence order.
func (r *Roster) List() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

func (r *Roster) Clear() {
	r.mu.Lock()
	r.participants = nil
	r.mu.Unlock()
}

// endpointFromStreamID extracts the numeric endpoint prefix from a
// media stream identification string ("<endpoint>-<rest>").
func endpointFromStreamID(streamID string) string {
	idx := strings.IndexByte(streamID, '-')
	if idx <= 0 {
		return ""
	}
	prefix := streamID[:idx]
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return prefix
}

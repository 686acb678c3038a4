package stream

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/binder"
	"github.com/parley-chat/parley/internal/wire"
)

// Follower binds one text channel's live events onto the message
// stream reducer. Deduplication of live creates happens here, at the
// handler, before dispatching into the reducer: the reducer itself
// trusts its caller.
type Follower struct {
	binder    *binder.Binder
	channelID string
	key       string
}

// Follow attaches the text-channel bindings for channelID onto b.
func Follow(b *binder.Binder, channelID string) *Follower {
	topic := wire.TextTopic(channelID)
	f := &Follower{
		binder:    b,
		channelID: channelID,
		key:       topic + ":stream",
	}
	b.Bind(binder.Binding{
		ID:            f.key,
		Topic:         binder.StaticTopic(topic),
		LeaveOnDetach: true,
		Events: []binder.EventSpec{
			{Event: wire.EventMessageCreated, Initial: State{}, Reducer: f.reduce},
			{Event: wire.EventMessageUpdated, Initial: State{}, Reducer: f.reduce},
			{Event: wire.EventMessageDeleted, Initial: State{}, Reducer: f.reduce},
		},
	})
	return f
}

// State returns the current merged view of the channel's messages.
func (f *Follower) State() State {
	v, ok := f.binder.State(f.key)
	if !ok {
		return State{}
	}
	s, ok := v.(State)
	if !ok {
		return State{}
	}
	return s
}

// SetHistory replaces the fetched history after a fresh page fetch.
// Live messages are cleared: the fetch supersedes them.
func (f *Follower) SetHistory(msgs []Message) {
	f.binder.Scope().Set(f.key, SetFetched(f.State(), msgs))
}

// AddPending records a locally created message awaiting its live
// confirmation.
func (f *Follower) AddPending(m Message) {
	m.Status = StatusPending
	f.binder.Scope().Set(f.key, AddLive(f.State(), m))
}

func (f *Follower) reduce(prev any, payload json.RawMessage, event string) any {
	s, ok := prev.(State)
	if !ok {
		s = State{}
	}
	switch event {
	case wire.EventMessageCreated:
		p, err := wire.Decode[wire.MessageCreated](payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "stream").Msg("bad message.created payload")
			return s
		}
		// A live create matching a pending local message confirms it
		// instead of duplicating it.
		if _, exists := FindLive(s, p.MessageID); exists {
			sent := StatusSent
			return UpdateLive(s, p.MessageID, Patch{Status: &sent})
		}
		return AddLive(s, Message{
			ID:        p.MessageID,
			ChannelID: p.ChannelID,
			AuthorID:  p.AuthorID,
			Content:   p.Content,
			CreatedAt: parseTime(p.CreatedAt),
			UpdatedAt: parseTime(p.UpdatedAt),
			ReplyTo:   p.ReplyToMessageID,
			Status:    StatusSent,
		})
	case wire.EventMessageUpdated:
		p, err := wire.Decode[wire.MessageUpdated](payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "stream").Msg("bad message.updated payload")
			return s
		}
		patch := Patch{Content: &p.Content, Pinned: &p.IsPinned}
		s = UpdateFetched(s, p.MessageID, patch)
		return UpdateLive(s, p.MessageID, patch)
	case wire.EventMessageDeleted:
		p, err := wire.Decode[wire.MessageDeleted](payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "stream").Msg("bad message.deleted payload")
			return s
		}
		s = DeleteFetched(s, p.MessageID)
		return DeleteLive(s, p.MessageID)
	}
	return s
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

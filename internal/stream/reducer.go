// Package stream merges server-fetched message history with live
// socket-delivered messages. All transitions are pure: the prior
// state is never mutated.
package stream

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	ReplyTo   string
	Pinned    bool
	Status    Status
}

// State holds the two ordered collections: authoritative fetched
// history and live messages possibly awaiting server confirmation.
type State struct {
	Fetched []Message
	Live    []Message
}

// Patch is a partial update applied by id. Nil fields are untouched.
type Patch struct {
	Content   *string
	Pinned    *bool
	Status    *Status
	UpdatedAt *time.Time
}

func (p Patch) apply(m Message) Message {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.UpdatedAt != nil {
		m.UpdatedAt = *p.UpdatedAt
	}
	return m
}

// SetFetched replaces the fetched history and clears live messages:
// a fresh fetch supersedes anything delivered in the meantime.
func SetFetched(s State, msgs []Message) State {
	fetched := make([]Message, len(msgs))
	copy(fetched, msgs)
	return State{Fetched: fetched}
}

func AddFetched(s State, m Message) State {
	return State{Fetched: appendCopy(s.Fetched, m), Live: s.Live}
}

func UpdateFetched(s State, id string, p Patch) State {
	return State{Fetched: patchCopy(s.Fetched, id, p), Live: s.Live}
}

func DeleteFetched(s State, id string) State {
	return State{Fetched: deleteCopy(s.Fetched, id), Live: s.Live}
}

// AddLive appends a live message. Duplicate ids are not deduplicated
// here; the dispatching handler checks for an existing entry first.
func AddLive(s State, m Message) State {
	return State{Fetched: s.Fetched, Live: appendCopy(s.Live, m)}
}

func UpdateLive(s State, id string, p Patch) State {
	return State{Fetched: s.Fetched, Live: patchCopy(s.Live, id, p)}
}

func DeleteLive(s State, id string) State {
	return State{Fetched: s.Fetched, Live: deleteCopy(s.Live, id)}
}

func ClearLive(s State) State {
	return State{Fetched: s.Fetched}
}

// MergeLive folds the live messages into the fetched history and
// empties the live list.
func MergeLive(s State) State {
	merged := make([]Message, 0, len(s.Fetched)+len(s.Live))
	merged = append(merged, s.Fetched...)
	merged = append(merged, s.Live...)
	return State{Fetched: merged}
}

// FindLive returns the live message with the given id, if present.
func FindLive(s State, id string) (Message, bool) {
	for _, m := range s.Live {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func appendCopy(msgs []Message, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, m)
}

func patchCopy(msgs []Message, id string, p Patch) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ID == id {
			m = p.apply(m)
		}
		out[i] = m
	}
	return out
}

func deleteCopy(msgs []Message, id string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

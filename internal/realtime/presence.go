package realtime

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// FlexID tolerates numeric or string endpoint ids on the wire.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Meta is one presence entry's metadata.
type Meta struct {
	Ref        string `json:"phx_ref"`
	EndpointID FlexID `json:"endpoint_id"`
	Username   string `json:"username"`
	Audio      bool   `json:"audio"`
	Video      bool   `json:"video"`
}

// Entry is one participant as listed from presence state.
type Entry struct {
	Key   string
	Metas []Meta
}

type metaList struct {
	Metas []Meta `json:"metas"`
}

// Presence tracks the server-pushed roster for one topic.
type Presence struct {
	mu     sync.RWMutex
	state  map[string][]Meta
	onSync []func()
}

func NewPresence() *Presence {
	return &Presence{state: make(map[string][]Meta)}
}

// OnSync registers a callback fired after every state or diff sync.
func (p *Presence) OnSync(fn func()) {
	p.mu.Lock()
	p.onSync = append(p.onSync, fn)
	p.mu.Unlock()
}

// List returns current entries ordered by key.
func (p *Presence) List() []Entry {
	p.mu.RLock()
	out := make([]Entry, 0, len(p.state))
	for key, metas := range p.state {
		out = append(out, Entry{Key: key, Metas: metas})
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (p *Presence) syncState(payload json.RawMessage) {
	var state map[string]metaList
	if err := json.Unmarshal(payload, &state); err != nil {
		log.Error().Err(err).Str("module", "realtime.presence").Msg("bad presence_state payload")
		return
	}
	p.mu.Lock()
	p.state = make(map[string][]Meta, len(state))
	for key, ml := range state {
		p.state[key] = ml.Metas
	}
	p.mu.Unlock()
	p.fireSync()
}

func (p *Presence) syncDiff(payload json.RawMessage) {
	var diff struct {
		Joins  map[string]metaList `json:"joins"`
		Leaves map[string]metaList `json:"leaves"`
	}
	if err := json.Unmarshal(payload, &diff); err != nil {
		log.Error().Err(err).Str("module", "realtime.presence").Msg("bad presence_diff payload")
		return
	}

	p.mu.Lock()
	for key, ml := range diff.Leaves {
		gone := make(map[string]bool, len(ml.Metas))
		for _, m := range ml.Metas {
			gone[m.Ref] = true
		}
		kept := make([]Meta, 0, len(p.state[key]))
		for _, m := range p.state[key] {
			if !gone[m.Ref] {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(p.state, key)
		} else {
			p.state[key] = kept
		}
	}
	for key, ml := range diff.Joins {
		p.state[key] = append(p.state[key], ml.Metas...)
	}
	p.mu.Unlock()
	p.fireSync()
}

func (p *Presence) fireSync() {
	p.mu.RLock()
	callbacks := make([]func(), len(p.onSync))
	copy(callbacks, p.onSync)
	p.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

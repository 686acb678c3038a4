package voice

import (
	"errors"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/wire"
)

var ErrNegotiationTimeout = errors.New("negotiation timed out")

// negotiator correlates renegotiation offers sent over the data
// channel with the answers delivered back on it. The source client
// awaited answers forever; here every pending exchange is keyed by a
// ref and bounded by a configurable timeout.
type negotiator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan wire.SignalDescription
}

func newNegotiator(timeout time.Duration) *negotiator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &negotiator{
		timeout: timeout,
		pending: make(map[string]chan wire.SignalDescription),
	}
}

func (n *negotiator) expect(ref string) chan wire.SignalDescription {
	ch := make(chan wire.SignalDescription, 1)
	n.mu.Lock()
	n.pending[ref] = ch
	n.mu.Unlock()
	return ch
}

func (n *negotiator) cancel(ref string) {
	n.mu.Lock()
	delete(n.pending, ref)
	n.mu.Unlock()
}

// deliver routes an answer to its pending exchange. Answers without a
// ref fall through to the single pending exchange if there is exactly
// one, for peers that do not echo refs.
func (n *negotiator) deliver(desc wire.SignalDescription) bool {
	n.mu.Lock()
	ch, ok := n.pending[desc.Ref]
	if !ok && desc.Ref == "" && len(n.pending) == 1 {
		for ref, only := range n.pending {
			ch, ok = only, true
			delete(n.pending, ref)
		}
	} else if ok {
		delete(n.pending, desc.Ref)
	}
	n.mu.Unlock()
	if !ok {
		return false
	}
	ch <- desc
	return true
}

func (n *negotiator) await(ref string, ch chan wire.SignalDescription) (wire.SignalDescription, error) {
	select {
	case desc := <-ch:
		return desc, nil
	case <-time.After(n.timeout):
		n.cancel(ref)
		return wire.SignalDescription{}, ErrNegotiationTimeout
	}
}

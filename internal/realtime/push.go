package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/wire"
)

var ErrPushTimeout = errors.New("push timed out")

// Push is one in-flight request on the socket, correlated by ref.
type Push struct {
	ref     string
	timeout time.Duration

	once  sync.Once
	done  chan struct{}
	reply wire.Reply
	err   error
}

func newPush(ref string, timeout time.Duration) *Push {
	return &Push{ref: ref, timeout: timeout, done: make(chan struct{})}
}

func (p *Push) Ref() string { return p.ref }

func (p *Push) resolve(reply wire.Reply) {
	p.once.Do(func() {
		p.reply = reply
		close(p.done)
	})
}

func (p *Push) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the server replies or the timeout elapses. A
// zero duration falls back to the socket's configured push timeout.
// An error-status reply is returned as an error carrying the raw
// response payload.
func (p *Push) Await(timeout time.Duration) (json.RawMessage, error) {
	if timeout == 0 {
		timeout = p.timeout
	}
	select {
	case <-p.done:
	case <-time.After(timeout):
		return nil, ErrPushTimeout
	}
	if p.err != nil {
		return nil, p.err
	}
	if !p.reply.IsOK() {
		return p.reply.Response, fmt.Errorf("push %s rejected: %s", p.ref, string(p.reply.Response))
	}
	return p.reply.Response, nil
}

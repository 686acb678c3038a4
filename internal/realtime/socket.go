// Package realtime implements the client side of the framed channel
// protocol: one socket per authenticated session, topic channels with
// join/leave lifecycle, push/reply correlation and presence sync.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/wire"
)

var (
	ErrNotConnected = errors.New("socket not connected")
	ErrDisconnected = errors.New("socket disconnected")
)

// Conn is an indirection over *websocket.Conn to ease testing.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a transport connection to the given URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

func wsDialer(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	return c, err
}

type Options struct {
	Heartbeat    time.Duration
	PushTimeout  time.Duration
	ReconnectCap time.Duration
	Dialer       Dialer
}

func (o *Options) withDefaults() {
	if o.Heartbeat == 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.PushTimeout == 0 {
		o.PushTimeout = 10 * time.Second
	}
	if o.ReconnectCap == 0 {
		o.ReconnectCap = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = wsDialer
	}
}

// Socket owns exactly one transport connection and the registry of
// joined channels. Connect errors never surface as thrown errors;
// callers observe Connected instead.
type Socket struct {
	opts Options
	url  string

	refs atomic.Uint64

	mu        sync.RWMutex
	token     string
	conn      Conn
	connected bool
	running   bool
	runCancel context.CancelFunc
	channels  map[string]*Channel
	pending   map[string]*Push

	writeMu sync.Mutex
}

func NewSocket(rawURL string, opts Options) *Socket {
	opts.withDefaults()
	return &Socket{
		opts:     opts,
		url:      rawURL,
		channels: make(map[string]*Channel),
		pending:  make(map[string]*Push),
	}
}

// Backoff is the reconnect delay after the given number of failed
// attempts: linear with a cap.
func Backoff(tries int, cap time.Duration) time.Duration {
	d := time.Duration(tries*1000+1000) * time.Millisecond
	if d > cap {
		return cap
	}
	return d
}

// Connect starts the connection loop. Idempotent: a second call while
// the socket is alive is a no-op.
func (s *Socket) Connect(token string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.token = token
	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Connected reports the current transport state.
func (s *Socket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// UpdateToken replaces the auth parameter used on the next (re)dial.
func (s *Socket) UpdateToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	log.Info().Str("module", "realtime.socket").Msg("auth token rotated")
}

// Disconnect tears the transport down and stops reconnecting. The
// channel registry is left to the caller (leave before disconnecting,
// or server-side channel state leaks).
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.connected = false
	cancel := s.runCancel
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.failPending(ErrDisconnected)
	log.Info().Str("module", "realtime.socket").Msg("disconnected")
}

func (s *Socket) run(ctx context.Context) {
	tries := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.opts.Dialer(ctx, s.dialURL())
		if err != nil {
			tries++
			log.Warn().Err(err).Str("module", "realtime.socket").Int("tries", tries).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(Backoff(tries, s.opts.ReconnectCap)):
			}
			continue
		}
		tries = 0

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.connected = true
		s.mu.Unlock()
		log.Info().Str("module", "realtime.socket").Msg("connected")

		s.rejoinAll()

		hbCtx, hbCancel := context.WithCancel(ctx)
		go s.heartbeatLoop(hbCtx)
		s.readLoop(ctx, conn)
		hbCancel()

		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		s.failPending(ErrDisconnected)

		if ctx.Err() != nil {
			return
		}
		tries = 1
		select {
		case <-ctx.Done():
			return
		case <-time.After(Backoff(tries, s.opts.ReconnectCap)):
		}
	}
}

func (s *Socket) dialURL() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	q := url.Values{}
	q.Set("vsn", "2.0.0")
	if token != "" {
		q.Set("token", token)
	}
	return s.url + "?" + q.Encode()
}

func (s *Socket) readLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "realtime.socket").Msg("read error")
			_ = conn.Close()
			return
		}
		var f wire.Frame
		if err := f.UnmarshalJSON(data); err != nil {
			log.Error().Err(err).Str("module", "realtime.socket").Msg("bad frame")
			continue
		}
		s.route(f)
	}
}

func (s *Socket) route(f wire.Frame) {
	if f.Event == wire.EventReply {
		s.mu.Lock()
		p, ok := s.pending[f.Ref]
		if ok {
			delete(s.pending, f.Ref)
		}
		s.mu.Unlock()
		if ok {
			var reply wire.Reply
			if err := json.Unmarshal(f.Payload, &reply); err != nil {
				p.fail(err)
				return
			}
			p.resolve(reply)
		}
		return
	}

	s.mu.RLock()
	ch := s.channels[f.Topic]
	s.mu.RUnlock()
	if ch == nil {
		log.Debug().Str("module", "realtime.socket").Str("topic", f.Topic).Str("event", f.Event).Msg("frame for unjoined topic")
		return
	}
	ch.dispatch(f.Event, f.Payload)
}

func (s *Socket) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := wire.Frame{
				Ref:     s.makeRef(),
				Topic:   wire.TopicHeartbeat,
				Event:   wire.EventHeartbeat,
				Payload: []byte(`{}`),
			}
			if err := s.writeFrame(f); err != nil {
				log.Warn().Err(err).Str("module", "realtime.socket").Msg("heartbeat send failed")
			}
		}
	}
}

func (s *Socket) makeRef() string {
	return strconv.FormatUint(s.refs.Add(1), 10)
}

func (s *Socket) writeFrame(f wire.Frame) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// push issues a correlated push and returns its pending handle.
func (s *Socket) push(topic, event, joinRef string, payload any) *Push {
	return s.pushWithRef(topic, event, s.makeRef(), joinRef, payload)
}

func (s *Socket) pushWithRef(topic, event, ref, joinRef string, payload any) *Push {
	p := newPush(ref, s.opts.PushTimeout)

	b, err := json.Marshal(payload)
	if err != nil {
		p.fail(err)
		return p
	}

	s.mu.Lock()
	s.pending[ref] = p
	s.mu.Unlock()

	f := wire.Frame{JoinRef: joinRef, Ref: ref, Topic: topic, Event: event, Payload: b}
	if err := s.writeFrame(f); err != nil {
		s.mu.Lock()
		delete(s.pending, ref)
		s.mu.Unlock()
		p.fail(err)
	}
	return p
}

func (s *Socket) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*Push)
	s.mu.Unlock()
	for _, p := range pending {
		p.fail(err)
	}
}

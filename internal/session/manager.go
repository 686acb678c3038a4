// Package session ties the socket lifetime to authentication state:
// connect and auto-join the personal topic on login, leave everything
// and disconnect on logout.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/wire"
)

// Transport is the slice of the socket manager the session drives.
type Transport interface {
	Connect(token string)
	Disconnect()
	Join(topic string, params map[string]any) *realtime.Channel
	Leave(topic string)
	LeaveAll()
	UpdateToken(token string)
	Connected() bool
}

type Manager struct {
	socket Transport

	mu            sync.Mutex
	authenticated bool
	userID        string
}

func NewManager(socket Transport) *Manager {
	return &Manager{socket: socket}
}

// Authenticate reads the user id out of the bearer token's subject
// claim and opens the session. The signature is the server's to
// verify; the client only needs the identity.
func (m *Manager) Authenticate(token string) error {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("token has no subject claim: %w", err)
	}
	m.SetSession(sub, token)
	return nil
}

// SetSession transitions to the authenticated state for userID. A
// repeat call for the same user only rotates the token; a different
// user tears the old session down first.
func (m *Manager) SetSession(userID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.authenticated && m.userID == userID {
		m.socket.UpdateToken(token)
		return
	}
	if m.authenticated {
		m.logoutLocked()
	}

	m.authenticated = true
	m.userID = userID
	m.socket.Connect(token)

	topic := wire.UserTopic(userID)
	ch := m.socket.Join(topic, nil)
	ch.On(wire.EventTokenExpired, func(_ json.RawMessage) {
		m.refreshToken(ch)
	})
	log.Info().Str("module", "session").Str("user_id", userID).Msg("session opened")
}

// Logout leaves every joined channel before disconnecting the
// transport. The ordering matters: leaving after disconnect is a
// no-op that leaks server-side channel state.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return
	}
	m.logoutLocked()
}

func (m *Manager) logoutLocked() {
	m.socket.LeaveAll()
	m.socket.Disconnect()
	m.authenticated = false
	m.userID = ""
	log.Info().Str("module", "session").Msg("session closed")
}

func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// refreshToken asks the server for a fresh auth parameter when it
// signals expiry, then swaps it into the transport for the next dial.
func (m *Manager) refreshToken(ch *realtime.Channel) {
	push := ch.Push(wire.PushRefreshToken, map[string]any{})
	go func() {
		resp, err := push.Await(0)
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("token refresh failed")
			return
		}
		payload, err := wire.Decode[wire.RefreshToken](resp)
		if err != nil {
			log.Error().Err(err).Str("module", "session").Msg("bad refresh_token reply")
			return
		}
		m.socket.UpdateToken(payload.Token)
	}()
}

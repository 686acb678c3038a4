// Package control exposes the headless client over a local HTTP API:
// session login/logout, channel state, voice controls.
package control

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/binder"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/stream"
	"github.com/parley-chat/parley/internal/voice"
	"github.com/parley-chat/parley/internal/wire"
)

type Server struct {
	cfg     *config.Config
	socket  *realtime.Socket
	session *session.Manager
	voice   *voice.Controller
	binder  *binder.Binder

	mu        sync.Mutex
	followers map[string]*stream.Follower
}

func NewServer(cfg *config.Config, socket *realtime.Socket, sess *session.Manager, vc *voice.Controller, b *binder.Binder) *Server {
	return &Server{
		cfg:       cfg,
		socket:    socket,
		session:   sess,
		voice:     vc,
		binder:    b,
		followers: make(map[string]*stream.Follower),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/status", s.handleStatus)
	api.POST("/login", s.handleLogin)
	api.POST("/logout", s.handleLogout)
	api.GET("/channels", s.handleChannels)

	api.POST("/voice/join", s.handleVoiceJoin)
	api.POST("/voice/leave", s.handleVoiceLeave)
	api.POST("/voice/cam", s.handleCam)
	api.POST("/voice/mic", s.handleMic)
	api.GET("/voice/roster", s.handleRoster)

	api.POST("/channels/:id/follow", s.handleFollow)
	api.GET("/channels/:id/messages", s.handleMessages)

	api.POST("/servers/:id/watch", s.handleServerWatch)
	api.GET("/servers/:id/online", s.handleServerOnline)

	log.Info().Str("module", "control").Int("port", s.cfg.ControlPort).Msg("router setup")
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected":     s.socket.Connected(),
		"authenticated": s.session.Authenticated(),
		"user_id":       s.session.UserID(),
		"voice":         s.voice.Status(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if err := s.session.Authenticate(req.Token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": s.session.UserID()})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.binder.Detach()
	s.mu.Lock()
	s.followers = make(map[string]*stream.Follower)
	s.mu.Unlock()
	s.session.Logout()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"topics": s.socket.Topics()})
}

func (s *Server) handleVoiceJoin(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
		Username  string `json:"username"`
	}
	if err := c.BindJSON(&req); err != nil || req.SessionID == "" || req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id or username"})
		return
	}
	if err := s.voice.Join(req.SessionID, req.Username); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.voice.Status())
}

func (s *Server) handleVoiceLeave(c *gin.Context) {
	s.voice.Leave()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCam(c *gin.Context) {
	s.handleToggle(c, s.voice.StartCam, s.voice.StopCam)
}

func (s *Server) handleMic(c *gin.Context) {
	s.handleToggle(c, s.voice.StartMic, s.voice.StopMic)
}

func (s *Server) handleToggle(c *gin.Context, start, stop func() error) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	toggle := stop
	if req.Enabled {
		toggle = start
	}
	if err := toggle(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.voice.Status())
}

func (s *Server) handleRoster(c *gin.Context) {
	participants := s.voice.Roster().List()
	out := make([]gin.H, 0, len(participants))
	for _, p := range participants {
		out = append(out, gin.H{
			"endpoint_id": p.EndpointID,
			"username":    p.Username,
			"audio":       p.Audio,
			"video":       p.Video,
		})
	}
	c.JSON(http.StatusOK, gin.H{"participants": out})
}

func (s *Server) handleFollow(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	if _, ok := s.followers[id]; !ok {
		s.followers[id] = stream.Follow(s.binder, id)
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

// handleServerWatch joins the server topic and arms its presence
// tracker so member sync frames are applied from the first delivery.
func (s *Server) handleServerWatch(c *gin.Context) {
	ch := s.socket.Join(wire.ServerTopic(c.Param("id")), nil)
	ch.Presence()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleServerOnline(c *gin.Context) {
	ch := s.socket.Channel(wire.ServerTopic(c.Param("id")))
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not watched"})
		return
	}
	entries := ch.Presence().List()
	online := make([]string, 0, len(entries))
	for _, e := range entries {
		online = append(online, e.Key)
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

func (s *Server) handleMessages(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	f, ok := s.followers[id]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not followed"})
		return
	}
	state := f.State()
	c.JSON(http.StatusOK, gin.H{
		"fetched": state.Fetched,
		"live":    state.Live,
	})
}

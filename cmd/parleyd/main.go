package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/binder"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/control"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/voice"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	socketURL, err := cfg.SocketURL()
	if err != nil {
		log.Fatal().Err(err).Msg("bad realtime endpoint")
	}

	socket := realtime.NewSocket(socketURL, realtime.Options{
		Heartbeat:    cfg.Heartbeat,
		PushTimeout:  cfg.PushTimeout,
		ReconnectCap: cfg.ReconnectCap,
	})
	sess := session.NewManager(socket)
	rootBinder := binder.New(socket, nil, cfg.Mode)

	capture := media.NewRTPCapture(cfg.MicRTPPort, cfg.CamRTPPort)
	voiceCtl := voice.NewController(
		voice.SocketSignaler{Socket: socket},
		capture,
		func() (voice.PeerTransport, error) {
			return voice.NewPeerTransport(voice.DefaultWebRTCConfig())
		},
		voice.Options{
			NegotiationTimeout: cfg.NegotiationTimeout,
			PushTimeout:        cfg.PushTimeout,
		},
	)

	ctl := control.NewServer(cfg, socket, sess, voiceCtl, rootBinder)
	r := ctl.SetupRouter()
	addr := fmt.Sprintf(":%d", cfg.ControlPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	voiceCtl.Leave()
	socket.LeaveAll()
	socket.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

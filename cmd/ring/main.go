package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Ring/internal/adapters/http"
	"github.com/dkeye/Ring/internal/adapters/rtc"
	signalbus "github.com/dkeye/Ring/internal/adapters/signal"
	"github.com/dkeye/Ring/internal/app/call"
	"github.com/dkeye/Ring/internal/config"
	"github.com/dkeye/Ring/internal/domain"
	"github.com/dkeye/Ring/internal/media"
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
		return
	}

	self := domain.PeerIdentity{
		ID:       domain.PeerID(uuid.NewString()),
		Username: cfg.Username,
	}
	log.Info().Str("id", string(self.ID)).Str("username", self.Username).Msg("local identity")

	controller, api, err := media.DeviceStack()
	if err != nil {
		log.Error().Err(err).Msg("failed to build media stack")
		return
	}

	bus := signalbus.NewBus(cfg.RelayURL, cfg.ReadLimit, cfg.PingPeriod)
	factory := rtc.Factory(rtc.WebRTCConfig(cfg.STUNServers), api)

	engine := call.NewEngine(self, bus, controller, factory, call.Options{
		DenyOnAnswerMediaFailure: cfg.AnswerPolicy == config.AnswerDeny,
		RingTimeout:              cfg.RingTimeout,
	})
	if err := engine.Run(); err != nil {
		log.Error().Err(err).Msg("failed to subscribe to relay")
		return
	}
	defer engine.Close()

	r := router.SetupRouter(cfg, engine)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Ring client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

// mockgateway serves the auth gateway contract in memory for local development of adminctl.
// Tokens are real signed JWTs; state is lost on restart.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/gatewaytest"
	"jobs-admin/client/internal/logger"
	"jobs-admin/client/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	key, err := security.SigningKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("signing key")
	}
	if cfg.JWTPrivateKey == "" {
		log.Warn().Msg("JWT_PRIVATE_KEY not set; using an ephemeral key")
	}
	tokens := security.NewTokenProvider(key, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	gw := gatewaytest.New(tokens, security.NewPasswordHasher(cfg.BcryptCost))
	if err := seed(gw); err != nil {
		log.Fatal().Err(err).Msg("seed")
	}

	srv := &http.Server{
		Addr:              cfg.MockGatewayAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.MockGatewayAddr).Dur("access_ttl", cfg.AccessTTL()).Msg("mock gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down mock gateway...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("mock gateway stopped")
}

// Package internal wires the authentication broker together: the two
// upstream clients, the flow orchestrator, the session resolver, the
// rate limiter and the HTTP surface.
package internal

import (
	"context"
	"time"

	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/flow"
	"github.com/merchantdash/auth-front/internal/hydra"
	"github.com/merchantdash/auth-front/internal/identity"
	"github.com/merchantdash/auth-front/internal/log"
	"github.com/merchantdash/auth-front/internal/ratelimit"
	"github.com/merchantdash/auth-front/internal/resolver"
	"github.com/merchantdash/auth-front/internal/server"
	"github.com/merchantdash/auth-front/internal/tokens"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Minute

// AuthFront is the assembled broker application.
type AuthFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	limiter    *ratelimit.Limiter
}

// NewAuthFront builds the application from config.
func NewAuthFront(cfg config.Config) *AuthFront {
	log.LogInfoWithFields("authfront", "Building authentication broker", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"identity": cfg.Identity.PublicURL,
		"hydra":    cfg.Hydra.PublicURL,
	})

	identityClient := identity.New(cfg.Identity)
	hydraClient := hydra.New(cfg.Hydra)
	tokenManager := tokens.NewManager(cfg.Hydra)

	orchestrator := flow.New(identityClient, hydraClient, tokenManager)
	sessionResolver := resolver.New(
		resolver.NewIdentitySource(identityClient),
		resolver.NewTokenSource(hydraClient, tokenManager),
	)

	limiter := ratelimit.New(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window.Std())

	handlers := server.NewAuthHandlers(
		orchestrator,
		sessionResolver,
		identityClient,
		hydraClient,
		tokenManager,
		cfg.Server.BaseURL,
	)

	router := server.NewRouter(handlers, limiter, cfg)

	return &AuthFront{
		config:     cfg,
		httpServer: server.NewHTTPServer(router, cfg.Server.Addr),
		limiter:    limiter,
	}
}

// Run starts the HTTP server and the rate-limit sweeper, blocking until
// ctx is cancelled or the server fails.
func (a *AuthFront) Run(ctx context.Context) error {
	a.limiter.StartSweeper(ctx, sweepInterval)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.httpServer.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a.limiter.Stop()
		return a.httpServer.Stop(shutdownCtx)
	})

	return group.Wait()
}

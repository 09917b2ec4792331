package internal

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgellow/xpost/internal/authflow"
	"github.com/dgellow/xpost/internal/compose"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/httpclient"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/platform"
	"github.com/dgellow/xpost/internal/publish"
	"github.com/dgellow/xpost/internal/server"
	"github.com/dgellow/xpost/internal/session"
)

// shutdownTimeout bounds how long in-flight requests may take after a
// shutdown signal
const shutdownTimeout = 30 * time.Second

// generatorRetries is how often a failed model call is retried before the
// templates are used
const generatorRetries = 2

// XPost is the assembled application
type XPost struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewXPost builds every component from cfg
func NewXPost(cfg config.Config) (*XPost, error) {
	log.LogInfoWithFields("xpost", "Building application", map[string]any{
		"baseURL": cfg.BaseURL,
		"flow":    string(cfg.X.Flow),
		"compose": cfg.Compose.Enabled(),
	})

	store, err := session.NewCookieStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	// X calls are never retried blindly: a repeated post could publish twice
	xClient := httpclient.New()
	api := platform.NewClient(cfg.X.Endpoints.APIBaseURL, xClient)

	flow, err := authflow.New(cfg, api, xClient)
	if err != nil {
		return nil, fmt.Errorf("failed to set up auth flow: %w", err)
	}
	if !cfg.X.HasCredentials() {
		log.LogWarnWithFields("xpost", "X credentials are not configured, login is disabled", map[string]any{
			"flow": string(cfg.X.Flow),
		})
	}

	publisher := publish.NewPublisher(flow, api)
	generator := compose.NewGenerator(cfg.Compose, httpclient.NewRetrying(generatorRetries))

	handler := server.NewRouter(server.Routes{
		Auth:           server.NewAuthHandlers(cfg, store, flow),
		Posts:          server.NewPostHandlers(store, publisher, generator),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &XPost{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
	}, nil
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts down gracefully
func (x *XPost) Run(ctx context.Context) error {
	log.LogInfoWithFields("xpost", "Starting application", map[string]any{
		"addr": x.config.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := x.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		reason := "shutdown requested"
		if cause := context.Cause(gctx); cause != nil && !errors.Is(cause, context.Canceled) {
			reason = cause.Error()
		}
		log.LogInfoWithFields("xpost", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": shutdownTimeout.String(),
		})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return x.httpServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.LogErrorWithFields("xpost", "Application stopped with error", map[string]any{
			"error": err,
		})
		return err
	}

	log.LogInfoWithFields("xpost", "Application shutdown complete", nil)
	return nil
}

// Command server runs the entrystore HTTP API and MCP endpoint.
//
// Build: CGO_ENABLED=1 go build -o bin/server ./cmd/server
// Run:   ./bin/server --test
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/entrystore/internal/api"
	"github.com/kuitang/entrystore/internal/config"
	"github.com/kuitang/entrystore/internal/db"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/manifest"
	"github.com/kuitang/entrystore/internal/mcp"
	"github.com/kuitang/entrystore/internal/obs"
	"github.com/kuitang/entrystore/internal/ratelimit"
	"github.com/kuitang/entrystore/internal/s3client"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 120 * time.Second
)

func main() {
	obs.Init()
	cfg := config.MustLoadConfig(config.ParseFlags())
	obs.SetLevel(cfg.LogLevel)
	cfg.PrintStartupSummary()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Pkg("main").Error("server exited", "error", err)
		os.Exit(1)
	}
}

// app is everything the server owns and must release on exit.
type app struct {
	store   *db.Store
	limiter *ratelimit.RateLimiter
	handler http.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	opts, err := cfg.DBOptions()
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	src, err := newManifestSource(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	entrySvc := entries.NewService(store)
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	handler := api.NewRouter(api.RouterConfig{
		Entries:  entrySvc,
		Manifest: src,
		MCP:      mcp.NewServer(entrySvc),
		Limiter:  limiter,
	})
	return &app{store: store, limiter: limiter, handler: handler}, nil
}

func (a *app) Close() error {
	a.limiter.Stop()
	return a.store.Close()
}

func newManifestSource(ctx context.Context, cfg *config.Config) (manifest.Source, error) {
	if cfg.ManifestS3Key == "" {
		return manifest.FileSource{Path: cfg.ManifestPath}, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return manifest.S3Source{Client: client, Key: cfg.ManifestS3Key}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := obs.Pkg("main")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "dialect", string(a.store.Dialect()))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

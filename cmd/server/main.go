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

	"go.uber.org/zap"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/api"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/config"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/core"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/realtime"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	chatService := core.NewChatService(st, cfg.DemoUserID, logger.Named("chat"))

	// Weather agent relay
	agentClient := agent.NewClient(cfg.AgentURL, cfg.AgentHeaderTimeout)
	relay := agent.NewRelay(agentClient, agent.RelayConfig{
		MaxConcurrent: cfg.RelayMaxConcurrent,
		QueueTimeout:  cfg.RelayQueueTimeout,
		Params: agent.Params{
			RunID:           cfg.AgentRunID,
			ResourceID:      cfg.AgentResourceID,
			DefaultThreadID: cfg.AgentDefaultThread,
			MaxRetries:      cfg.AgentMaxRetries,
			MaxSteps:        cfg.AgentMaxSteps,
			Temperature:     cfg.AgentTemperature,
			TopP:            cfg.AgentTopP,
		},
	}, logger.Named("relay"))

	hub := realtime.NewHub(realtime.Config{
		TypingRate:  cfg.WSTypingRate,
		TypingBurst: cfg.WSTypingBurst,
	}, logger.Named("ws"))

	apiHandler := api.NewAPIHandler(chatService, relay, logger.Named("api"))
	router := api.NewRouter(apiHandler, hub, logger.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout, // Covers a whole agent stream
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("agent_url", cfg.AgentURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Websocket connections are hijacked, so Shutdown does not wait for them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	hub.Close()

	logger.Info("server exited")
	return nil
}

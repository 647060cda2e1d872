package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/app"
	"github.com/ClareAI/astra-routing-service/internal/config"
	"github.com/ClareAI/astra-routing-service/internal/handler"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the conversation routing server
type Server struct {
	config *config.RoutingConfig
	app    *app.App
	http   *http.Server
}

// NewServer wires the routing components and the HTTP surface
func NewServer(ctx context.Context, cfg *config.RoutingConfig) (*Server, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	handlerManager := handler.NewHandlerManager(cfg, a.Repos, a.Balancer, a.Evaluator)
	handlerManager.EventStats = a.Events.Stats
	handlerManager.SetupAllRoutes(router)

	addr := fmt.Sprintf(":%s", cfg.Port)
	return &Server{
		config: cfg,
		app:    a,
		http: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if err := s.app.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.app.Close()
		return err
	case <-ctx.Done():
	}

	logger.L().Infof("Shutting down server on %s", s.http.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Base().Warn("HTTP shutdown did not complete", zap.Error(err))
	}
	return s.app.Close()
}

func main() {
	// Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadRoutingConfigFromEnv()
	if _, err := logger.Init(cfg.LogEnv); err != nil {
		log.Printf("Failed to initialize zap logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Base().Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Base().Fatal("Failed to create server", zap.Error(err))
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.Bool("redis", server.app.Redis != nil))

	if err := server.Run(ctx); err != nil {
		logger.Base().Fatal("Server stopped with error", zap.Error(err))
	}
}

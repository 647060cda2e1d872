package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/config"
	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager owns the routing service's HTTP surface
type HandlerManager struct {
	config    *config.RoutingConfig
	repos     repository.RepositoryManager
	lb        *routing.LoadBalancer
	evaluator *routing.EscalationEvaluator

	// QueuePollInterval is how often the queue websocket re-reads the position
	QueuePollInterval time.Duration
	// EventStats, when set, is reported by /health
	EventStats func() event.BusStats
}

// NewHandlerManager creates a handler manager over the routing components
func NewHandlerManager(cfg *config.RoutingConfig, repos repository.RepositoryManager, lb *routing.LoadBalancer, evaluator *routing.EscalationEvaluator) *HandlerManager {
	return &HandlerManager{
		config:            cfg,
		repos:             repos,
		lb:                lb,
		evaluator:         evaluator,
		QueuePollInterval: DefaultQueuePollInterval,
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Apply global middleware
	router.Use(CORSMiddleware(hm.config.CORSOrigins))
	router.Use(LoggingMiddleware)

	router.HandleFunc("/health", hm.health).Methods("GET")

	hm.SetupAPIRoutes(router)
	hm.SetupWebSocketRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupAPIRoutes sets up the tenant-scoped API under /api
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(ValidationMiddleware)
	apiRouter.Use(AuthMiddleware(hm.config.SecretKey, hm.config.DevMode))

	NewRoutingHandler(hm.lb, hm.evaluator).SetupRoutingRoutes(apiRouter)
	NewAgentHandler(hm.lb).SetupAgentRoutes(apiRouter)
	NewRuleHandler(hm.lb.Registry()).SetupRuleRoutes(apiRouter)

	// CORS preflight for API routes
	router.PathPrefix("/api/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("routing api routes registered", zap.Bool("dev_mode", hm.config.DevMode))
}

// SetupWebSocketRoutes sets up the queue position stream
func (hm *HandlerManager) SetupWebSocketRoutes(router *mux.Router) {
	wsRouter := router.PathPrefix("/ws").Subrouter()
	wsRouter.Use(AuthMiddleware(hm.config.SecretKey, hm.config.DevMode))

	NewQueueWatchHandler(hm.lb, hm.repos, hm.QueuePollInterval).SetupQueueWatchRoutes(wsRouter)

	logger.Base().Info("websocket routes registered")
}

func (hm *HandlerManager) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := hm.repos.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	resp := map[string]interface{}{"status": "ok"}
	if hm.EventStats != nil {
		resp["events"] = hm.EventStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCORS answers preflight requests
func handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

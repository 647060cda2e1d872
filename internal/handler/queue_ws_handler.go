package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultQueuePollInterval = 2 * time.Second
	wsWriteTimeout           = 5 * time.Second
)

// Queue watch states pushed to the client
const (
	WatchQueued    = "queued"
	WatchAssigned  = "assigned"
	WatchNotQueued = "not_queued"
)

// QueueUpdate is one message on the queue watch socket
type QueueUpdate struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Position       int    `json:"position,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
}

func (u QueueUpdate) final() bool {
	return u.Status != WatchQueued
}

// QueueWatchHandler streams a conversation's queue position until it is assigned
type QueueWatchHandler struct {
	lb       *routing.LoadBalancer
	repos    repository.RepositoryManager
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewQueueWatchHandler creates a queue watch handler polling every interval
func NewQueueWatchHandler(lb *routing.LoadBalancer, repos repository.RepositoryManager, interval time.Duration) *QueueWatchHandler {
	if interval <= 0 {
		interval = DefaultQueuePollInterval
	}
	return &QueueWatchHandler{
		lb:       lb,
		repos:    repos,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are enforced by CORSMiddleware and the token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WatchQueue upgrades the request and pushes a QueueUpdate whenever the state changes
func (h *QueueWatchHandler) WatchQueue(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantOf(r)
	conversationID := mux.Vars(r)["conversation_id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(logger.WithConversation(context.Background(), tenantID, conversationID))
	defer cancel()

	// the client only ever closes; reading surfaces that
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last QueueUpdate
	for {
		update, err := h.snapshot(ctx, tenantID, conversationID)
		if err != nil {
			logger.Warn(ctx, "queue watch poll failed", zap.Error(err))
		} else if update != last {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
			last = update
			if update.final() {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, update.Status))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *QueueWatchHandler) snapshot(ctx context.Context, tenantID, conversationID string) (QueueUpdate, error) {
	update := QueueUpdate{ConversationID: conversationID}

	pos, err := h.lb.GetQueuePosition(ctx, tenantID, conversationID)
	if err == nil {
		update.Status = WatchQueued
		update.Position = pos
		return update, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return update, err
	}

	a, err := h.repos.Assignment().Get(ctx, tenantID, conversationID)
	switch {
	case err == nil && a.Status == domain.AssignmentActive:
		update.Status = WatchAssigned
		update.AgentID = a.AgentID
	case err == nil || errors.Is(err, domain.ErrNotFound):
		update.Status = WatchNotQueued
	default:
		return update, err
	}
	return update, nil
}

// SetupQueueWatchRoutes registers the websocket endpoint
func (h *QueueWatchHandler) SetupQueueWatchRoutes(router *mux.Router) {
	router.HandleFunc("/queue/{conversation_id}", h.WatchQueue).Methods("GET")
}

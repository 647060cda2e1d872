package handler

import (
	"net/http"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AgentHandler handles HTTP requests for agent capacity
type AgentHandler struct {
	lb *routing.LoadBalancer
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(lb *routing.LoadBalancer) *AgentHandler {
	return &AgentHandler{lb: lb}
}

// CreateAgent godoc
// @Summary Provision an agent for routing
// @Tags agents
// @Accept json
// @Produce json
// @Param agent body domain.CreateAgentCapacityRequest true "Agent capacity"
// @Success 201 {object} domain.AgentCapacity
// @Failure 400 {object} map[string]string "Invalid agent"
// @Failure 409 {object} map[string]string "Agent already exists"
// @Router /api/routing/agents [post]
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAgentCapacityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.lb.Capacity().CreateAgent(r.Context(), tenantOf(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.drainIfServing(r, agent)
	writeJSON(w, http.StatusCreated, agent)
}

// GetAgent returns one agent
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.lb.Capacity().GetAgent(r.Context(), tenantOf(r), mux.Vars(r)["agent_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ListAgents returns all agents of the tenant
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.lb.Capacity().ListAgents(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []*domain.AgentCapacity{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// UpdateAgent godoc
// @Summary Update an agent's status or limits
// @Description An agent that becomes able to serve picks up queued conversations right away
// @Tags agents
// @Accept json
// @Produce json
// @Param agent_id path string true "Agent ID"
// @Param agent body domain.UpdateAgentCapacityRequest true "Fields to change"
// @Success 200 {object} domain.AgentCapacity
// @Failure 400 {object} map[string]string "Invalid update"
// @Failure 404 {object} map[string]string "Agent not found"
// @Router /api/routing/agents/{agent_id} [put]
func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateAgentCapacityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.lb.Capacity().UpdateAgent(r.Context(), tenantOf(r), mux.Vars(r)["agent_id"], &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status != nil || req.MaxConcurrentConversations != nil || req.AutoAssignEnabled != nil {
		h.drainIfServing(r, agent)
	}
	writeJSON(w, http.StatusOK, agent)
}

// DisableAgent takes the agent out of routing
func (h *AgentHandler) DisableAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.lb.Capacity().DisableAgent(r.Context(), tenantOf(r), mux.Vars(r)["agent_id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// drainIfServing hands queued work to an agent that can take it. Failures are left to the sweeper.
func (h *AgentHandler) drainIfServing(r *http.Request, agent *domain.AgentCapacity) {
	if agent.Status != domain.AgentStatusAvailable || !agent.AutoAssignEnabled || !agent.HasFreeSlot(0) {
		return
	}
	if _, err := h.lb.DrainQueue(r.Context(), agent.TenantID); err != nil {
		logger.Warn(r.Context(), "Failed to drain queue after agent update",
			zap.String("agent_id", agent.AgentID),
			zap.Error(err))
	}
}

// SetupAgentRoutes registers the agent capacity endpoints
func (h *AgentHandler) SetupAgentRoutes(router *mux.Router) {
	admin := RequireRole(RoleAdmin)
	router.HandleFunc("/routing/agents", h.ListAgents).Methods("GET")
	router.Handle("/routing/agents", admin(http.HandlerFunc(h.CreateAgent))).Methods("POST")
	router.HandleFunc("/routing/agents/{agent_id}", h.GetAgent).Methods("GET")
	router.HandleFunc("/routing/agents/{agent_id}", h.UpdateAgent).Methods("PUT")
	router.Handle("/routing/agents/{agent_id}", admin(http.HandlerFunc(h.DisableAgent))).Methods("DELETE")
}

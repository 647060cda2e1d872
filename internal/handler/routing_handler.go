package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/gorilla/mux"
)

// RoutingHandler serves the conversation routing endpoints
type RoutingHandler struct {
	lb        *routing.LoadBalancer
	evaluator *routing.EscalationEvaluator
}

// NewRoutingHandler creates a new routing handler
func NewRoutingHandler(lb *routing.LoadBalancer, evaluator *routing.EscalationEvaluator) *RoutingHandler {
	return &RoutingHandler{lb: lb, evaluator: evaluator}
}

type releaseRequest struct {
	AgentID string `json:"agent_id"`
}

type releaseResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Released       bool                    `json:"released"`
	Drained        []*routing.AssignResult `json:"drained"`
}

type reassignRequest struct {
	ToAgentID string `json:"to_agent_id"`
}

type rejectRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

type positionResponse struct {
	ConversationID string `json:"conversation_id"`
	Position       int    `json:"position"`
}

// AssignConversation godoc
// @Summary Route a conversation to an agent
// @Description Assigns the conversation or queues it when no agent is eligible
// @Tags routing
// @Accept json
// @Produce json
// @Param conversation body domain.Conversation true "Conversation to route"
// @Success 200 {object} routing.AssignResult
// @Failure 400 {object} map[string]string "Invalid conversation"
// @Failure 409 {object} map[string]string "Conversation already assigned"
// @Router /api/routing/conversations/assign [post]
func (h *RoutingHandler) AssignConversation(w http.ResponseWriter, r *http.Request) {
	var conv domain.Conversation
	if !decodeJSON(w, r, &conv) {
		return
	}
	conv.TenantID = tenantOf(r)

	res, err := h.lb.AssignConversation(r.Context(), &conv)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReleaseConversation godoc
// @Summary Release a conversation from its agent
// @Description Frees the agent's slot and drains the tenant queue into it
// @Tags routing
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} releaseResponse
// @Failure 404 {object} map[string]string "Conversation not assigned"
// @Failure 409 {object} map[string]string "Agent does not hold the conversation"
// @Router /api/routing/conversations/{id}/release [post]
func (h *RoutingHandler) ReleaseConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req releaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeMessage(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	drained, err := h.lb.ReleaseConversation(r.Context(), tenantOf(r), id, req.AgentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drained == nil {
		drained = []*routing.AssignResult{}
	}
	writeJSON(w, http.StatusOK, releaseResponse{ConversationID: id, Released: true, Drained: drained})
}

// ReassignConversation moves an active conversation to another agent
func (h *RoutingHandler) ReassignConversation(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ToAgentID == "" {
		writeMessage(w, http.StatusBadRequest, "to_agent_id is required")
		return
	}

	res, err := h.lb.ReassignConversation(r.Context(), tenantOf(r), mux.Vars(r)["id"], req.ToAgentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RejectConversation hands a conversation back and routes it to someone else
func (h *RoutingHandler) RejectConversation(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeMessage(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	res, err := h.lb.RejectConversation(r.Context(), tenantOf(r), mux.Vars(r)["id"], req.AgentID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RecordInbound marks a customer message awaiting an agent reply
func (h *RoutingHandler) RecordInbound(w http.ResponseWriter, r *http.Request) {
	if err := h.lb.RecordInbound(r.Context(), tenantOf(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordAgentResponse clears the reply clock of an assigned conversation
func (h *RoutingHandler) RecordAgentResponse(w http.ResponseWriter, r *http.Request) {
	if err := h.lb.RecordAgentResponse(r.Context(), tenantOf(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQueuePosition godoc
// @Summary Queue position of a conversation
// @Tags routing
// @Produce json
// @Param conversation_id path string true "Conversation ID"
// @Success 200 {object} positionResponse
// @Failure 404 {object} map[string]string "Conversation is not queued"
// @Router /api/routing/queue/{conversation_id}/position [get]
func (h *RoutingHandler) GetQueuePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conversation_id"]
	pos, err := h.lb.GetQueuePosition(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{ConversationID: id, Position: pos})
}

// DrainQueue assigns queued conversations while agents have room
func (h *RoutingHandler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	results, err := h.lb.DrainQueue(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []*routing.AssignResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// QueryHistory godoc
// @Summary Routing audit history
// @Tags routing
// @Produce json
// @Param conversation_id query string false "Conversation ID"
// @Param agent_id query string false "Selected agent ID"
// @Param outcome query string false "assigned, queued, rejected_by_agent, reassigned, released"
// @Param strategy query string false "Strategy used"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Page size, at most 1000" default(100)
// @Param offset query int false "Entries to skip"
// @Param order query string false "asc (default) or desc"
// @Success 200 {array} domain.RoutingHistoryEntry
// @Router /api/routing/history [get]
func (h *RoutingHandler) QueryHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.HistoryFilter{
		ConversationID: q.Get("conversation_id"),
		AgentID:        q.Get("agent_id"),
		Outcome:        domain.RoutingOutcome(q.Get("outcome")),
		Strategy:       domain.Strategy(q.Get("strategy")),
		NewestFirst:    strings.EqualFold(q.Get("order"), "desc"),
	}

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		writeMessage(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		writeMessage(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeMessage(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeMessage(w, http.StatusBadRequest, "offset must be a number")
		return
	}

	entries, err := h.lb.QueryRoutingHistory(r.Context(), tenantOf(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.RoutingHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListEscalations returns the tenant's current SLA breaches without notifying anyone
func (h *RoutingHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	breaches, err := h.evaluator.CheckBreaches(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if breaches == nil {
		breaches = []domain.EscalationCandidate{}
	}
	writeJSON(w, http.StatusOK, breaches)
}

// SetupRoutingRoutes registers the routing endpoints
func (h *RoutingHandler) SetupRoutingRoutes(router *mux.Router) {
	router.HandleFunc("/routing/conversations/assign", h.AssignConversation).Methods("POST")
	router.HandleFunc("/routing/conversations/{id}/release", h.ReleaseConversation).Methods("POST")
	router.HandleFunc("/routing/conversations/{id}/reassign", h.ReassignConversation).Methods("POST")
	router.HandleFunc("/routing/conversations/{id}/reject", h.RejectConversation).Methods("POST")
	router.HandleFunc("/routing/conversations/{id}/inbound", h.RecordInbound).Methods("POST")
	router.HandleFunc("/routing/conversations/{id}/response", h.RecordAgentResponse).Methods("POST")
	router.HandleFunc("/routing/queue/{conversation_id}/position", h.GetQueuePosition).Methods("GET")
	router.Handle("/routing/queue/drain", RequireRole(RoleAdmin)(http.HandlerFunc(h.DrainQueue))).Methods("POST")
	router.HandleFunc("/routing/history", h.QueryHistory).Methods("GET")
	router.HandleFunc("/routing/escalations", h.ListEscalations).Methods("GET")
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

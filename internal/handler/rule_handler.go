package handler

import (
	"net/http"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/gorilla/mux"
)

// RuleHandler handles HTTP requests for routing rules and tenant settings
type RuleHandler struct {
	registry *routing.RuleRegistry
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(registry *routing.RuleRegistry) *RuleHandler {
	return &RuleHandler{registry: registry}
}

// CreateRule godoc
// @Summary Create a routing rule
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body domain.CreateRoutingRuleRequest true "Routing rule"
// @Success 201 {object} domain.RoutingRule
// @Failure 400 {object} map[string]string "Invalid rule"
// @Router /api/routing/rules [post]
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRoutingRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := h.registry.CreateRule(r.Context(), tenantOf(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.registry.GetRule(r.Context(), tenantOf(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ListRules returns the tenant's rules in evaluation order
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.registry.ListRules(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []*domain.RoutingRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateRoutingRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := h.registry.UpdateRule(r.Context(), tenantOf(r), mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteRule(r.Context(), tenantOf(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the tenant's routing settings, defaults included
func (h *RuleHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.registry.GetSettings(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpsertSettings applies a partial update to the tenant's routing settings
func (h *RuleHandler) UpsertSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertTenantSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.registry.UpsertSettings(r.Context(), tenantOf(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// SetupRuleRoutes registers the rule and settings endpoints; writes need the admin role
func (h *RuleHandler) SetupRuleRoutes(router *mux.Router) {
	admin := RequireRole(RoleAdmin)
	router.HandleFunc("/routing/rules", h.ListRules).Methods("GET")
	router.Handle("/routing/rules", admin(http.HandlerFunc(h.CreateRule))).Methods("POST")
	router.HandleFunc("/routing/rules/{id}", h.GetRule).Methods("GET")
	router.Handle("/routing/rules/{id}", admin(http.HandlerFunc(h.UpdateRule))).Methods("PUT")
	router.Handle("/routing/rules/{id}", admin(http.HandlerFunc(h.DeleteRule))).Methods("DELETE")

	router.HandleFunc("/routing/settings", h.GetSettings).Methods("GET")
	router.Handle("/routing/settings", admin(http.HandlerFunc(h.UpsertSettings))).Methods("PUT")
}

// Package api exposes the coordination facade over HTTP with JSON bodies.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	domainerrors "github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/coordination"
	regulatorysvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulatory"
)

// Handler routes compliance API requests to the coordination facade and the
// regulatory tracker.
type Handler struct {
	logger  *zap.Logger
	service *coordination.Service
	tracker *regulatorysvc.Tracker
	version string
}

// NewHandler creates the API handler.
func NewHandler(logger *zap.Logger, svc *coordination.Service, tracker *regulatorysvc.Tracker, version string) *Handler {
	return &Handler{logger: logger, service: svc, tracker: tracker, version: version}
}

// Routes returns the configured request multiplexer.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /v1/compliance/checks", h.runComplianceCheck)
	mux.HandleFunc("POST /v1/compliance/handoffs", h.validateHandoff)
	mux.HandleFunc("POST /v1/regulatory/changes", h.registerChange)
	mux.HandleFunc("GET /v1/organizations/{org}/milestones", h.milestones)
	mux.HandleFunc("GET /v1/organizations/{org}/eligibility", h.eligibility)
	return mux
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

type checkRequest struct {
	ContextID      string                 `json:"context_id"`
	ServiceRole    string                 `json:"service_role"`
	ServiceName    string                 `json:"service_name"`
	Operation      string                 `json:"operation"`
	TargetServices []string               `json:"target_services"`
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
	OrganizationID string                 `json:"organization_id"`
}

func (h *Handler) runComplianceCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.RunComprehensiveComplianceCheck(r.Context(), coordination.CheckRequest{
		ContextID:      req.ContextID,
		ServiceRole:    regulation.ServiceRole(req.ServiceRole),
		ServiceName:    req.ServiceName,
		Operation:      req.Operation,
		TargetServices: req.TargetServices,
		Data:           req.Data,
		Metadata:       req.Metadata,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type handoffRequest struct {
	ContextID   string                 `json:"context_id"`
	SourceRole  string                 `json:"source_role"`
	TargetRole  string                 `json:"target_role"`
	ServiceName string                 `json:"service_name"`
	Phase       string                 `json:"phase"`
	Data        map[string]interface{} `json:"data"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *Handler) validateHandoff(w http.ResponseWriter, r *http.Request) {
	var req handoffRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.ValidateCrossRoleHandoff(r.Context(), coordination.HandoffRequest{
		ContextID:   req.ContextID,
		SourceRole:  regulation.ServiceRole(req.SourceRole),
		TargetRole:  regulation.ServiceRole(req.TargetRole),
		ServiceName: req.ServiceName,
		Phase:       validation.Phase(req.Phase),
		Data:        req.Data,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) registerChange(w http.ResponseWriter, r *http.Request) {
	var change regulatory.Change
	if !h.decode(w, r, &change) {
		return
	}

	analysis, err := h.tracker.RegisterRegulatoryChange(r.Context(), &change)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, analysis)
}

func (h *Handler) milestones(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.tracker.MonitorMilestoneRequirements(r.Context(), r.PathValue("org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	eligibility, err := h.tracker.TrackGrantEligibility(r.Context(), r.PathValue("org"), refresh)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, eligibility)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := domainerrors.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

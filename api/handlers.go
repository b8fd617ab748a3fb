/*
handlers.go - HTTP API handlers for the report calculation service

PURPOSE:
  Exposes the calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the report service.

ENDPOINTS:
  Reports:
    POST   /api/clients/{id}/reports    Submit raw inputs for a period
    POST   /api/clients/{id}/runs       Calculate a submitted period
    GET    /api/clients/{id}/snapshots  Client's snapshot history

  Overrides:
    GET    /api/clients/{id}/overrides            List overrides
    PUT    /api/clients/{id}/overrides/{variable} Set an override
    DELETE /api/clients/{id}/overrides/{variable} Remove an override

  Snapshots:
    GET    /api/snapshots/{id}          One snapshot by ID

  Catalog:
    GET    /api/catalog                 Variable definitions with levels

  Admin:
    POST   /api/admin/run-pending       Sweep all pending submissions
    GET    /api/health                  Liveness check

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  deploy behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/meridian/report-engine/reports"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *reports.Service
	Store   reports.Store
	Log     *logrus.Logger
}

// NewHandler creates a handler over the report service and its store.
func NewHandler(svc *reports.Service, store reports.Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Service: svc, Store: store, Log: log}
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// SubmitReport stores raw input values for a client period.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	var req SubmitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	periodEnd, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "At least one input value is required", nil)
		return
	}

	if err := h.Store.SubmitInputs(r.Context(), clientID, periodEnd, req.Values); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store inputs", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"client_id": clientID,
		"period":    periodEnd.Format("2006-01"),
		"status":    "pending",
	})
}

// TriggerRun calculates the report for a submitted period and returns the
// resulting snapshot.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	periodEnd, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}

	snap, err := h.Service.Run(r.Context(), clientID, periodEnd)
	if err != nil {
		if errors.Is(err, reports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No inputs submitted for that period", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// GetClientHistory returns the client's snapshots, newest period first.
func (h *Handler) GetClientHistory(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	snaps, err := h.Service.History(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}
	dtos := make([]SnapshotDTO, 0, len(snaps))
	for _, snap := range snaps {
		dtos = append(dtos, toSnapshotDTO(snap))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSnapshot returns one snapshot by ID.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.Service.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, reports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Snapshot not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// =============================================================================
// OVERRIDE HANDLERS
// =============================================================================

// ListOverrides returns the client's static overrides.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	overrides, err := h.Store.Overrides(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list overrides", err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

// PutOverride sets one override value. The variable must exist in the
// catalog; overriding an unknown name is almost always a typo.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	variable := chi.URLParam(r, "variable")

	if _, ok := h.Service.Calculator().Definition(variable); !ok {
		writeError(w, http.StatusBadRequest, "Unknown catalog variable: "+variable, nil)
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Store.SetOverride(r.Context(), clientID, variable, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store override", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteOverride removes one override.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	variable := chi.URLParam(r, "variable")

	if err := h.Store.DeleteOverride(r.Context(), clientID, variable); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATALOG AND ADMIN HANDLERS
// =============================================================================

// GetCatalog returns the variable definitions with their assigned levels.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	calc := h.Service.Calculator()
	defs := calc.Definitions()

	dtos := make([]VariableDTO, 0, len(defs))
	for _, def := range defs {
		level, _ := calc.Graph().Level(def.Name)
		dtos = append(dtos, toVariableDTO(def, level))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunPending sweeps all submissions awaiting calculation.
func (h *Handler) RunPending(w http.ResponseWriter, r *http.Request) {
	done, err := h.Service.RunPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RunSweepDTO{Completed: done})
}

// Health is the liveness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// ABOUTME: HTTP API handlers for the project state, checklist and codex
// ABOUTME: Every response is enveloped; domain errors map to 400, 409, 503 or 500

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/wire"
)

// maxBodyBytes bounds request bodies; a full state with 300 steps is far below it.
const maxBodyBytes = 1 << 20

// handleProjectState serves GET and POST /api/project-state.
func (g *Gateway) handleProjectState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := g.service.GetState(r.Context())
		if err != nil {
			g.sendServiceError(w, r, err)
			return
		}
		g.sendJSON(w, http.StatusOK, wire.OK(st))
	case http.MethodPost:
		var next projectstate.ProjectState
		if err := decodeJSON(w, r, &next); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		st, err := g.service.ReplaceState(r.Context(), &next)
		if err != nil {
			g.sendServiceError(w, r, err)
			return
		}
		g.requestLogger(r).Info("state replaced", "revision", st.Revision, "subject", subject(r))
		g.sendJSON(w, http.StatusOK, wire.OK(st))
	default:
		g.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleBatch serves POST /api/checklist/batch.
func (g *Gateway) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req wire.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	updates, err := toUpdates(req.Updates)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := g.service.BatchUpdate(r.Context(), updates)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.requestLogger(r).Info("checklist batch applied", "updates", len(updates), "revision", st.Revision, "subject", subject(r))
	g.sendJSON(w, http.StatusOK, wire.OK(st))
}

// toUpdates rejects entries without a value so a missing field never reads as false.
func toUpdates(in []wire.StepUpdate) ([]checklist.Update, error) {
	out := make([]checklist.Update, 0, len(in))
	for i, u := range in {
		if u.Value == nil {
			return nil, fmt.Errorf("updates[%d].value is required", i)
		}
		out = append(out, checklist.Update{ID: u.ID, Value: *u.Value})
	}
	return out, nil
}

// handleChecklist serves GET /api/checklist.
func (g *Gateway) handleChecklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.methodNotAllowed(w, http.MethodGet)
		return
	}
	view, err := g.service.Checklist(r.Context())
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, wire.OK(view))
}

// handleSingularity serves POST /api/singularity/one-click.
func (g *Gateway) handleSingularity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.methodNotAllowed(w, http.MethodPost)
		return
	}
	st, err := g.service.RunSingularity(r.Context())
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.requestLogger(r).Info("all steps completed", "revision", st.Revision, "subject", subject(r))
	g.sendJSON(w, http.StatusOK, wire.OK(st))
}

// handleCustomCodex serves POST /api/codex/custom.
func (g *Gateway) handleCustomCodex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.methodNotAllowed(w, http.MethodPost)
		return
	}
	var item projectstate.CodexItem
	if err := decodeJSON(w, r, &item); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := g.service.AddCustomCodexItem(r.Context(), item)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, wire.OK(st))
}

// handleCodex serves GET /api/codex.
func (g *Gateway) handleCodex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.methodNotAllowed(w, http.MethodGet)
		return
	}
	g.sendJSON(w, http.StatusOK, wire.OK(g.service.Codex(r.Context())))
}

// handleSteps serves GET /api/steps.
func (g *Gateway) handleSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.methodNotAllowed(w, http.MethodGet)
		return
	}
	g.sendJSON(w, http.StatusOK, wire.OK(g.service.Steps()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusFor maps a service error to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case projectstate.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case projectstate.IsConflict(err):
		return http.StatusConflict, err.Error()
	case projectstate.IsPersistence(err), errors.Is(err, projectstate.ErrClosed):
		return http.StatusServiceUnavailable, "state store unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (g *Gateway) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	logger := g.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	g.sendJSONError(w, status, msg)
}

func (g *Gateway) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// sendJSONError writes an enveloped error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, wire.Fail(message))
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body wire.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Warn("failed to write response", "error", err)
	}
}

func (g *Gateway) requestLogger(r *http.Request) *slog.Logger {
	if id := requestIDFrom(r.Context()); id != "" {
		return g.logger.With("request_id", id)
	}
	return g.logger
}

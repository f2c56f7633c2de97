package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agroalert/internal/types"
)

// handleListAlerts returns all live alerts for a user, newest first. The user
// must exist in the directory; unknown users are a 404, a known user with no
// alerts is an empty list.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"userID path parameter is required", nil))
		return
	}

	if _, err := s.directory.GetUser(r.Context(), userID); err != nil {
		Error(w, r, err)
		return
	}

	alerts, err := s.store.ListForUser(r.Context(), userID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: alerts})
}

// evaluationRequest is the body of the manual re-evaluation hook. UserID is
// optional; empty means a full evaluation pass over every eligible user.
type evaluationRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// handleTriggerEvaluation runs an immediate evaluation. It is synchronous:
// the response reports a completed pass, which the dashboard relies on to
// refresh alert lists right after.
func (s *Server) handleTriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			Error(w, r, err)
			return
		}
	}

	if err := s.trigger.TriggerEvaluationNow(r.Context(), req.UserID); err != nil {
		Error(w, r, err)
		return
	}

	scope := "all_users"
	if req.UserID != "" {
		scope = req.UserID
	}
	JSON(w, r, http.StatusAccepted, APIResponse{Data: map[string]string{
		"status": "evaluated",
		"scope":  scope,
	}})
}

// handleStats returns the dispatch observability snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: stats})
}

// handleHealth reports process liveness plus the wiring selected at startup
// so operators can tell at a glance which backends a deployment runs on.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"info":   s.health,
	})
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// sessionSummary is the list view of a session; answers are left to GET /sessions/{id}.
type sessionSummary struct {
	UserID             string           `json:"user_id"`
	DisplayName        string           `json:"display_name,omitempty"`
	State              models.StateType `json:"state"`
	Language           models.Language  `json:"language,omitempty"`
	AdviceEnrolled     bool             `json:"advice_enrolled"`
	DailyCheckEnrolled bool             `json:"daily_check_enrolled"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// healthHandler reports liveness plus session and hook counts. A failing store makes it 503.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if sessions, err := s.sessions.ListSessions(ctx); err != nil {
		slog.Warn("Health check: failed to list sessions", "error", err)
		health["status"] = "degraded"
		health["error"] = "Failed to read session store"
	} else {
		health["sessions"] = len(sessions)
	}
	if s.opts.Hooks != nil {
		health["scheduled_hooks"] = s.opts.Hooks.Len()
	}

	statusCode := http.StatusOK
	if health["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, health)
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		slog.Error("Server.listSessionsHandler: failed to list sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	state := models.StateType(r.URL.Query().Get("state"))
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		if state != "" && sess.State != state {
			continue
		}
		out = append(out, sessionSummary{
			UserID:             sess.UserID,
			DisplayName:        sess.DisplayName,
			State:              sess.State,
			Language:           sess.Language,
			AdviceEnrolled:     sess.AdviceEnrolled,
			DailyCheckEnrolled: sess.DailyCheckEnrolled,
			UpdatedAt:          sess.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	slog.Debug("Server.listSessionsHandler: sessions listed", "count", len(out), "state", state)
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "error", err, "userID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// restartSessionHandler sends the session back to the language prompt, as /start would.
func (s *Server) restartSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.ctl.Restart(r.Context(), id)
	if err != nil {
		s.writeControlError(w, "restart", id, err)
		return
	}
	slog.Info("Server.restartSessionHandler: session restarted", "userID", id, "result", res.Kind)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session restarted", map[string]interface{}{
		"user_id": id,
		"result":  res.Kind.String(),
	}))
}

// fireHookHandler runs a scheduler hook immediately for one user.
func (s *Server) fireHookHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hook := models.HookKind(r.PathValue("hook"))
	if !hook.IsValid() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown hook: "+string(hook)))
		return
	}
	firedAt := s.now()
	res, err := s.ctl.Fire(r.Context(), id, hook)
	if err != nil {
		s.writeControlError(w, "fire hook", id, err)
		return
	}
	run := models.HookRun{UserID: id, Hook: hook, FiredAt: firedAt}
	if sess, err := s.sessions.GetSession(r.Context(), id); err == nil && sess != nil {
		run.State = sess.State
	}
	slog.Info("Server.fireHookHandler: hook fired", "userID", id, "hook", hook, "result", res.Kind)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Hook fired", run))
}

func (s *Server) graphHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Graph == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Transition graph not available"))
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.opts.Graph)); err != nil {
		slog.Error("Server.graphHandler: failed to write graph", "error", err)
	}
}

func (s *Server) writeControlError(w http.ResponseWriter, action, id string, err error) {
	if errors.Is(err, flow.ErrNoSession) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Error("Server: admin action failed", "action", action, "userID", id, "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to "+action))
}

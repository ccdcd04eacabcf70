package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/auth"
	"github.com/chipwarmer/chipwarmer/internal/journal"
)

type createAccountRequest struct {
	Owner    string `json:"owner"`
	PlanTier string `json:"plan_tier"`
}

type createAccountResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "owner is required")
		return
	}

	acc, err := s.registry.Create(req.Owner, req.PlanTier)
	if err != nil {
		if errors.Is(err, account.ErrQuotaExceeded) {
			s.metrics.AccountEvents.WithLabelValues("quota_exceeded").Inc()
			respondError(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}

	if err := s.runner.Start(acc.ID); err != nil {
		s.registry.Remove(acc.ID)
		respondError(w, http.StatusInternalServerError, "agent_start_failed", err.Error())
		return
	}

	s.metrics.ActiveAccounts.Set(float64(len(s.registry.List())))
	s.metrics.AccountEvents.WithLabelValues("created").Inc()
	s.record(r.Context(), acc.ID, "account_created", req.Owner)
	slog.Info("account session created", "session_id", acc.ID, "owner", req.Owner)

	respondJSON(w, http.StatusCreated, createAccountResponse{SessionID: acc.ID})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"accounts": s.registry.List(),
	})
}

// handleRemoveAccount tears a session down end to end: the owning
// conversation, the agent process, the relay channels, the registry record
// and the persisted login state. It is idempotent.
func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	s.warmer.CancelFor(id)
	s.runner.Stop(id)
	s.hub.UnregisterAgent(id)
	s.hub.UnregisterObserver(id)
	_, existed := s.registry.Remove(id)
	s.runner.CleanupSession(id)

	if existed {
		s.metrics.ActiveAccounts.Set(float64(len(s.registry.List())))
		s.metrics.AccountEvents.WithLabelValues("removed").Inc()
		s.record(r.Context(), id, "account_removed", "")
		slog.Info("account session removed", "session_id", id)
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("account %s removed", id),
	})
}

type conversationItem struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Script       string    `json:"script"`
	Step         int       `json:"step"`
	TotalSteps   int       `json:"total_steps"`
	StartedAt    time.Time `json:"started_at"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	views := s.table.Views()
	items := make([]conversationItem, 0, len(views))
	for _, v := range views {
		names := make([]string, 0, len(v.Participants))
		for _, id := range v.Participants {
			names = append(names, s.displayName(id))
		}
		items = append(items, conversationItem{
			ID:           v.ID,
			Participants: names,
			Script:       v.ScriptName,
			Step:         v.Step,
			TotalSteps:   v.TotalSteps,
			StartedAt:    v.StartedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) displayName(sessionID string) string {
	acc, err := s.registry.Get(sessionID)
	if err != nil || acc.Numero == "" {
		return sessionID
	}
	return acc.Numero
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(s.startedAt)
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	respondJSON(w, http.StatusOK, map[string]any{
		"uptime":               fmt.Sprintf("%dd %dh %dm", days, hours, minutes),
		"accounts":             len(s.registry.List()),
		"active_conversations": s.table.Count(),
		"messages_sent":        s.warmer.Sent(),
		"connected_agents":     s.hub.AgentCount(),
		"connected_observers":  s.hub.ObserverCount(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	res, err := s.authn.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		s.metrics.AuthRequests.WithLabelValues("ok").Inc()
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, auth.ErrUnauthorized):
		s.metrics.AuthRequests.WithLabelValues("unauthorized").Inc()
		respondError(w, http.StatusUnauthorized, "unauthorized", "credentials rejected")
	case errors.Is(err, auth.ErrUnavailable), errors.Is(err, auth.ErrNotConfigured):
		s.metrics.AuthRequests.WithLabelValues("unavailable").Inc()
		respondError(w, http.StatusServiceUnavailable, "auth_unavailable", "authentication backend unavailable, retry later")
	default:
		s.metrics.AuthRequests.WithLabelValues("error").Inc()
		respondError(w, http.StatusInternalServerError, "auth_error", err.Error())
	}
}

func (s *Server) record(ctx context.Context, sessionID, event, detail string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, journal.Entry{SessionID: sessionID, Event: event, Detail: detail}); err != nil {
		slog.Warn("journal record failed", "event", event, "error", err)
	}
}

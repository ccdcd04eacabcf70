package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/agent"
	"github.com/chipwarmer/chipwarmer/internal/auth"
	"github.com/chipwarmer/chipwarmer/internal/config"
	"github.com/chipwarmer/chipwarmer/internal/hub"
	"github.com/chipwarmer/chipwarmer/internal/journal"
	"github.com/chipwarmer/chipwarmer/internal/observability"
	"github.com/chipwarmer/chipwarmer/internal/warming"
)

type Server struct {
	cfg      config.Config
	cfgStore *config.Store
	registry *account.Registry
	table    *warming.Table
	warmer   *warming.Warmer
	hub      *hub.Hub
	runner   *agent.Runner
	authn    *auth.Client
	journal  journal.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	startedAt time.Time
}

func New(cfg config.Config, cfgStore *config.Store, registry *account.Registry, table *warming.Table, warmer *warming.Warmer, h *hub.Hub, runner *agent.Runner, authn *auth.Client, jrnl journal.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		cfgStore:  cfgStore,
		registry:  registry,
		table:     table,
		warmer:    warmer,
		hub:       h,
		runner:    runner,
		authn:     authn,
		journal:   jrnl,
		metrics:   metrics,
		startedAt: time.Now().UTC(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. Agents and other non-browser clients omit the
				// Origin header and are allowed through.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/accounts", s.handleCreateAccount)
	r.Get("/v1/accounts", s.handleListAccounts)
	r.Delete("/v1/accounts/{id}", s.handleRemoveAccount)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/events", s.handleListEvents)
	r.Get("/v1/system/stats", s.handleSystemStats)
	r.Post("/v1/auth/login", s.handleLogin)

	r.Get("/v1/config/warming", s.handleGetWarmingConfig)
	r.Put("/v1/config/warming", s.handlePutWarmingConfig)
	r.Get("/v1/config/system", s.handleGetSystemConfig)
	r.Put("/v1/config/system", s.handlePutSystemConfig)
	r.Get("/v1/config/security", s.handleGetSecurityConfig)
	r.Put("/v1/config/security", s.handlePutSecurityConfig)

	r.Get("/ws/panel/{id}", s.handlePanelWS)
	r.Get("/ws/agent/{id}", s.handleAgentWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"accounts": len(s.registry.List()),
		"warming":  s.table.Count(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

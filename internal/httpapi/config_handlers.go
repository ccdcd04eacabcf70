package httpapi

import (
	"net/http"
	"time"

	"github.com/chipwarmer/chipwarmer/internal/config"
)

// Config endpoints replace whole objects; there is no partial update. The
// wire shapes use millisecond integers for durations so dashboards never deal
// with Go duration encoding.

type warmingConfigDTO struct {
	Enabled          bool     `json:"enabled"`
	IntervalMS       int64    `json:"interval_ms"`
	MaxConversations int      `json:"max_conversations"`
	ActiveScripts    []string `json:"active_scripts"`
	MinReplyDelayMS  int64    `json:"min_reply_delay_ms"`
	MaxReplyDelayMS  int64    `json:"max_reply_delay_ms"`
}

type securityConfigDTO struct {
	MaxSessions      int   `json:"max_sessions"`
	SessionTimeoutMS int64 `json:"session_timeout_ms"`
}

func toWarmingDTO(w config.Warming) warmingConfigDTO {
	return warmingConfigDTO{
		Enabled:          w.Enabled,
		IntervalMS:       w.Interval.Milliseconds(),
		MaxConversations: w.MaxConversations,
		ActiveScripts:    w.ActiveScripts,
		MinReplyDelayMS:  w.MinReplyDelay.Milliseconds(),
		MaxReplyDelayMS:  w.MaxReplyDelay.Milliseconds(),
	}
}

func fromWarmingDTO(d warmingConfigDTO) config.Warming {
	return config.Warming{
		Enabled:          d.Enabled,
		Interval:         time.Duration(d.IntervalMS) * time.Millisecond,
		MaxConversations: d.MaxConversations,
		ActiveScripts:    d.ActiveScripts,
		MinReplyDelay:    time.Duration(d.MinReplyDelayMS) * time.Millisecond,
		MaxReplyDelay:    time.Duration(d.MaxReplyDelayMS) * time.Millisecond,
	}
}

func (s *Server) handleGetWarmingConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, toWarmingDTO(s.cfgStore.Warming()))
}

func (s *Server) handlePutWarmingConfig(w http.ResponseWriter, r *http.Request) {
	var dto warmingConfigDTO
	if err := decodeJSON(r, &dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.cfgStore.ReplaceWarming(fromWarmingDTO(dto)); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toWarmingDTO(s.cfgStore.Warming()))
}

func (s *Server) handleGetSystemConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.cfgStore.System())
}

func (s *Server) handlePutSystemConfig(w http.ResponseWriter, r *http.Request) {
	var sys config.System
	if err := decodeJSON(r, &sys); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.cfgStore.ReplaceSystem(sys); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.cfgStore.System())
}

func (s *Server) handleGetSecurityConfig(w http.ResponseWriter, _ *http.Request) {
	sec := s.cfgStore.Security()
	respondJSON(w, http.StatusOK, securityConfigDTO{
		MaxSessions:      sec.MaxSessions,
		SessionTimeoutMS: sec.SessionTimeout.Milliseconds(),
	})
}

func (s *Server) handlePutSecurityConfig(w http.ResponseWriter, r *http.Request) {
	var dto securityConfigDTO
	if err := decodeJSON(r, &dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sec := config.Security{
		MaxSessions:    dto.MaxSessions,
		SessionTimeout: time.Duration(dto.SessionTimeoutMS) * time.Millisecond,
	}
	if err := s.cfgStore.ReplaceSecurity(sec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	sec = s.cfgStore.Security()
	respondJSON(w, http.StatusOK, securityConfigDTO{
		MaxSessions:      sec.MaxSessions,
		SessionTimeoutMS: sec.SessionTimeout.Milliseconds(),
	})
}

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Warming controls the pairing scheduler.
type Warming struct {
	Enabled          bool          `json:"enabled"`
	Interval         time.Duration `json:"interval"`
	MaxConversations int           `json:"max_conversations"`
	ActiveScripts    []string      `json:"active_scripts"`
	MinReplyDelay    time.Duration `json:"min_reply_delay"`
	MaxReplyDelay    time.Duration `json:"max_reply_delay"`
}

// System holds process-wide behavior toggles.
type System struct {
	Debug         bool `json:"debug"`
	Notifications bool `json:"notifications"`
}

// Security bounds the session surface.
type Security struct {
	MaxSessions    int           `json:"max_sessions"`
	SessionTimeout time.Duration `json:"session_timeout"`
}

// Store holds the three hot-swappable runtime config objects. Each is
// replaced whole; last writer wins and no history is kept.
type Store struct {
	mu       sync.RWMutex
	warming  Warming
	system   System
	security Security
}

// NewStore builds a runtime store seeded from the environment, falling back
// to defaults that keep a fresh install safe to run.
func NewStore() (*Store, error) {
	w := Warming{
		Enabled:          true,
		Interval:         45 * time.Second,
		MaxConversations: 10,
		ActiveScripts:    []string{"small-talk", "weekend-plans"},
		MinReplyDelay:    3 * time.Second,
		MaxReplyDelay:    12 * time.Second,
	}
	sys := System{Debug: false, Notifications: true}
	sec := Security{MaxSessions: 50, SessionTimeout: 2 * time.Minute}

	var err error
	w.Enabled, err = boolFromEnv("WARMING_ENABLED", w.Enabled)
	if err != nil {
		return nil, err
	}
	w.Interval, err = durationFromEnv("WARMING_INTERVAL", w.Interval)
	if err != nil {
		return nil, err
	}
	w.MaxConversations, err = intFromEnv("WARMING_MAX_CONVERSATIONS", w.MaxConversations)
	if err != nil {
		return nil, err
	}
	if scripts := stringsTrimSpace("WARMING_ACTIVE_SCRIPTS"); scripts != "" {
		w.ActiveScripts = splitList(scripts)
	}
	sys.Debug, err = boolFromEnv("SYSTEM_DEBUG", sys.Debug)
	if err != nil {
		return nil, err
	}
	sec.MaxSessions, err = intFromEnv("SECURITY_MAX_SESSIONS", sec.MaxSessions)
	if err != nil {
		return nil, err
	}
	sec.SessionTimeout, err = durationFromEnv("SECURITY_SESSION_TIMEOUT", sec.SessionTimeout)
	if err != nil {
		return nil, err
	}

	s := &Store{warming: w, system: sys, security: sec}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) validate() error {
	if err := validateWarming(s.warming); err != nil {
		return err
	}
	return validateSecurity(s.security)
}

func validateWarming(w Warming) error {
	if w.Interval <= 0 {
		return fmt.Errorf("warming interval must be positive")
	}
	if w.MaxConversations <= 0 {
		return fmt.Errorf("warming max_conversations must be positive")
	}
	if w.MinReplyDelay < 0 || w.MaxReplyDelay < w.MinReplyDelay {
		return fmt.Errorf("warming reply delay bounds are invalid")
	}
	return nil
}

func validateSecurity(sec Security) error {
	if sec.MaxSessions < 0 {
		return fmt.Errorf("security max_sessions must not be negative")
	}
	if sec.SessionTimeout <= 0 {
		return fmt.Errorf("security session_timeout must be positive")
	}
	return nil
}

func (s *Store) Warming() Warming {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := s.warming
	w.ActiveScripts = append([]string(nil), s.warming.ActiveScripts...)
	return w
}

func (s *Store) System() System {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

func (s *Store) Security() Security {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.security
}

// ReplaceWarming swaps the warming config wholesale.
func (s *Store) ReplaceWarming(w Warming) error {
	if err := validateWarming(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warming = w
	return nil
}

// ReplaceSystem swaps the system config wholesale.
func (s *Store) ReplaceSystem(sys System) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = sys
	return nil
}

// ReplaceSecurity swaps the security config wholesale.
func (s *Store) ReplaceSecurity(sec Security) error {
	if err := validateSecurity(sec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = sec
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

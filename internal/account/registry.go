// Package account holds the in-memory registry of messaging accounts and
// their status lifecycle. The registry is the only owner of account records;
// every mutation goes through its methods.
package account

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusOnline       Status = "online"
	StatusWarming      Status = "warming"
	StatusError        Status = "error"
	StatusRemoved      Status = "removed"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrQuotaExceeded     = errors.New("account quota exceeded")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Account is one managed messaging identity. Numero is the masked display
// form; RawNumber is the routable address as reported by the agent. Both are
// unknown until the agent comes online.
type Account struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Numero         string    `json:"numero"`
	RawNumber      string    `json:"raw_number,omitempty"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// PlanCeiling maps a plan tier to the maximum number of simultaneous accounts
// an owner may hold. The tier comes from the auth collaborator and is supplied
// by the caller on every create; it is not stored server-side.
func PlanCeiling(tier string) int {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "agency":
		return 20
	case "pro":
		return 5
	default:
		return 1
	}
}

// Registry maps session ids to account records. Critical sections are short
// lookups and single-field writes; no lock is ever held across a network send
// or a delay.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	onChange     func()
	sessionLimit func() int
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// SetNotifier installs the hook fired after every externally visible
// mutation. This is the only change-notification mechanism; observers re-fetch
// the full snapshot.
func (r *Registry) SetNotifier(hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = hook
}

// SetSessionLimit installs a hook returning the global cap on concurrent
// accounts (security config). Zero or negative means unlimited.
func (r *Registry) SetSessionLimit(hook func() int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionLimit = hook
}

// Create registers a new pending account for the owner. It fails with
// ErrQuotaExceeded when the owner already holds their plan ceiling, or when
// the global session cap is reached.
func (r *Registry) Create(owner, planTier string) (*Account, error) {
	now := time.Now().UTC()
	a := &Account{
		ID:             uuid.NewString(),
		Owner:          owner,
		Numero:         "",
		Status:         StatusPending,
		LastActivityAt: now,
		CreatedAt:      now,
	}

	r.mu.Lock()
	ceiling := PlanCeiling(planTier)
	owned := 0
	for _, acc := range r.accounts {
		if acc.Owner == owner {
			owned++
		}
	}
	if owned >= ceiling {
		r.mu.Unlock()
		return nil, ErrQuotaExceeded
	}
	if r.sessionLimit != nil {
		if max := r.sessionLimit(); max > 0 && len(r.accounts) >= max {
			r.mu.Unlock()
			return nil, ErrQuotaExceeded
		}
	}
	r.accounts[a.ID] = a
	hook := r.onChange
	r.mu.Unlock()

	notify(hook)
	return clone(a), nil
}

func (r *Registry) Get(id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

// List returns a snapshot of all accounts ordered by creation time.
func (r *Registry) List() []*Account {
	r.mu.RLock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, clone(a))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OnlineIDs returns the ids of accounts whose status is exactly online.
func (r *Registry) OnlineIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, a := range r.accounts {
		if a.Status == StatusOnline {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetAwaitingScan records that the agent produced a scannable QR artifact.
func (r *Registry) SetAwaitingScan(id string) error {
	return r.transition(id, func(a *Account) error {
		if a.Status != StatusPending && a.Status != StatusAwaitingScan {
			return ErrInvalidTransition
		}
		a.Status = StatusAwaitingScan
		return nil
	})
}

// SetOnline records the agent as ready with its routable number. The raw
// number is kept verbatim and the display form is derived from it.
func (r *Registry) SetOnline(id, rawNumber string) error {
	return r.transition(id, func(a *Account) error {
		switch a.Status {
		case StatusPending, StatusAwaitingScan, StatusWarming, StatusError, StatusOnline:
		default:
			return ErrInvalidTransition
		}
		a.Status = StatusOnline
		if rawNumber != "" {
			a.RawNumber = rawNumber
			a.Numero = FormatNumber(rawNumber)
		}
		return nil
	})
}

// SetWarming places an online account into an active conversation.
func (r *Registry) SetWarming(id string) error {
	return r.transition(id, func(a *Account) error {
		if a.Status != StatusOnline {
			return ErrInvalidTransition
		}
		a.Status = StatusWarming
		return nil
	})
}

// SetIdle restores a warming account to online and refreshes its activity
// timestamp. Restoring a non-warming account is a no-op: the peer may already
// have been marked error or removed.
func (r *Registry) SetIdle(id string) {
	_ = r.transition(id, func(a *Account) error {
		if a.Status != StatusWarming {
			return nil
		}
		a.Status = StatusOnline
		return nil
	})
}

// MarkError flags the account after an agent disconnect or unhandled fault.
func (r *Registry) MarkError(id string) {
	_ = r.transition(id, func(a *Account) error {
		a.Status = StatusError
		return nil
	})
}

// Touch refreshes the last-activity timestamp without a status change.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if a, ok := r.accounts[id]; ok {
		a.LastActivityAt = time.Now().UTC()
	}
	r.mu.Unlock()
}

// Remove evicts the account record. It reports whether a record existed; the
// caller is responsible for cancelling any owning conversation and tearing
// down the external agent process first.
func (r *Registry) Remove(id string) (*Account, bool) {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if ok {
		a.Status = StatusRemoved
		delete(r.accounts, id)
	}
	hook := r.onChange
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	notify(hook)
	return clone(a), true
}

func (r *Registry) transition(id string, mutate func(*Account) error) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	before := a.Status
	if err := mutate(a); err != nil {
		r.mu.Unlock()
		return err
	}
	a.LastActivityAt = time.Now().UTC()
	changed := a.Status != before
	hook := r.onChange
	r.mu.Unlock()

	if changed {
		notify(hook)
	}
	return nil
}

func notify(hook func()) {
	if hook != nil {
		hook()
	}
}

func clone(a *Account) *Account {
	c := *a
	return &c
}

// FormatNumber masks a raw routable number into the display grouping used by
// the dashboard: +CC AA NNNNN-NNNN. Numbers too short to split are shown with
// just the plus prefix.
func FormatNumber(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) < 10 {
		if digits == "" {
			return raw
		}
		return "+" + digits
	}
	return "+" + digits[:2] + " " + digits[2:4] + " " + digits[4:9] + "-" + digits[9:]
}

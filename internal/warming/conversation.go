// Package warming drives scripted two-party conversations between idle
// accounts: the pairing scheduler, the conversation table and the per
// conversation state machine.
package warming

import (
	"sync"
	"time"

	"github.com/chipwarmer/chipwarmer/internal/script"
)

// Conversation is one live scripted exchange. Initiator/Peer keep the order
// fixed at creation; the id is canonical so (A,B) and (B,A) collide. Step and
// deletion are guarded by mu; done is closed exactly once, when the
// conversation leaves the table, and interrupts any in-flight reply wait.
type Conversation struct {
	ID         string
	Initiator  string
	Peer       string
	ScriptName string
	Steps      []script.Step
	Step       int
	StartedAt  time.Time

	mu   sync.Mutex
	done chan struct{}
}

// Other returns the participant opposite to the given session id.
func (c *Conversation) Other(sessionID string) string {
	if sessionID == c.Initiator {
		return c.Peer
	}
	return c.Initiator
}

// PairID derives the canonical conversation id for an unordered pair.
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// View is the read-only projection served to the dashboard.
type View struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	ScriptName   string    `json:"script"`
	Step         int       `json:"step"`
	TotalSteps   int       `json:"total_steps"`
	StartedAt    time.Time `json:"started_at"`
}

// Table owns the set of live conversations. Creation and deletion are atomic
// check-then-act operations: creation under the table lock, deletion under
// the conversation lock with a presence re-check.
type Table struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewTable() *Table {
	return &Table{convs: make(map[string]*Conversation)}
}

// Create inserts a new conversation at step 0 unless the pair already has one
// (in either order) or either participant is committed elsewhere. The check
// and the insert happen under one critical section.
func (t *Table) Create(initiator, peer, scriptName string, steps []script.Step) (*Conversation, bool) {
	id := PairID(initiator, peer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.convs[id]; exists {
		return nil, false
	}
	for _, c := range t.convs {
		if c.Initiator == initiator || c.Peer == initiator || c.Initiator == peer || c.Peer == peer {
			return nil, false
		}
	}

	c := &Conversation{
		ID:         id,
		Initiator:  initiator,
		Peer:       peer,
		ScriptName: scriptName,
		Steps:      steps,
		Step:       0,
		StartedAt:  time.Now().UTC(),
		done:       make(chan struct{}),
	}
	t.convs[id] = c
	return c, true
}

// Contains reports whether the conversation is still live. Callers use it to
// re-verify existence after acquiring the conversation lock.
func (t *Table) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.convs[id]
	return ok
}

// FindByParticipant returns the conversation the session is part of, if any.
// The result is an optimistic lookup; it may be deleted before the caller
// acquires its lock.
func (t *Table) FindByParticipant(sessionID string) *Conversation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.convs {
		if c.Initiator == sessionID || c.Peer == sessionID {
			return c
		}
	}
	return nil
}

// remove deletes the conversation and closes its done channel. The caller
// must hold c.mu and have verified presence; the presence check makes the
// close safe against double deletion.
func (t *Table) remove(c *Conversation) {
	t.mu.Lock()
	delete(t.convs, c.ID)
	t.mu.Unlock()
	close(c.done)
}

// Committed returns the set of session ids currently in a conversation.
func (t *Table) Committed() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.convs)*2)
	for _, c := range t.convs {
		out[c.Initiator] = true
		out[c.Peer] = true
	}
	return out
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.convs)
}

// Views snapshots every live conversation for the dashboard.
func (t *Table) Views() []View {
	t.mu.RLock()
	convs := make([]*Conversation, 0, len(t.convs))
	for _, c := range t.convs {
		convs = append(convs, c)
	}
	t.mu.RUnlock()

	out := make([]View, 0, len(convs))
	for _, c := range convs {
		c.mu.Lock()
		out = append(out, View{
			ID:           c.ID,
			Participants: []string{c.Initiator, c.Peer},
			ScriptName:   c.ScriptName,
			Step:         c.Step,
			TotalSteps:   len(c.Steps),
			StartedAt:    c.StartedAt,
		})
		c.mu.Unlock()
	}
	return out
}

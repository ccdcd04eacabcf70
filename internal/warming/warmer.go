package warming

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/config"
	"github.com/chipwarmer/chipwarmer/internal/journal"
	"github.com/chipwarmer/chipwarmer/internal/observability"
	"github.com/chipwarmer/chipwarmer/internal/protocol"
	"github.com/chipwarmer/chipwarmer/internal/script"
)

// Pacing between consecutive pairings in one cycle. The spacing avoids bursts
// of simultaneous outbound sends that look automated to the external network.
const (
	pacingMinDelay = 500 * time.Millisecond
	pacingMaxDelay = 2 * time.Second
)

// Relay is the outbound surface the warmer needs from the hub.
type Relay interface {
	SendToAgent(sessionID string, event any)
}

// Warmer runs the pairing scheduler and the per-conversation state machine.
// All shared state it touches is owned elsewhere (registry, table) and
// accessed through those owners' methods.
type Warmer struct {
	registry *account.Registry
	table    *Table
	catalog  *script.Catalog
	relay    Relay
	cfg      *config.Store
	metrics  *observability.Metrics
	journal  journal.Store

	sent atomic.Uint64

	// jitter is swapped out in tests to remove the random waits.
	jitter func(min, max time.Duration) time.Duration
}

// Sent reports how many scripted messages have been instructed so far.
func (w *Warmer) Sent() uint64 {
	return w.sent.Load()
}

func New(registry *account.Registry, table *Table, catalog *script.Catalog, relay Relay, cfg *config.Store, metrics *observability.Metrics, jrnl journal.Store) *Warmer {
	return &Warmer{
		registry: registry,
		table:    table,
		catalog:  catalog,
		relay:    relay,
		cfg:      cfg,
		metrics:  metrics,
		journal:  jrnl,
		jitter:   randomDelay,
	}
}

// Run executes the scheduler loop until the context is cancelled. The
// interval is re-read from config every cycle so replacements take effect on
// the next tick.
func (w *Warmer) Run(ctx context.Context) {
	for {
		interval := w.cfg.Warming().Interval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			w.RunCycle(ctx)
		}
	}
}

// RunCycle performs one pairing pass: shuffle the online accounts, pair them
// adjacently skipping anyone already committed, and start conversations until
// the concurrency ceiling is reached.
func (w *Warmer) RunCycle(ctx context.Context) {
	cfg := w.cfg.Warming()
	if !cfg.Enabled {
		return
	}

	online := w.registry.OnlineIDs()
	rand.Shuffle(len(online), func(i, j int) {
		online[i], online[j] = online[j], online[i]
	})

	committed := w.table.Committed()
	eligible := online[:0]
	for _, id := range online {
		if !committed[id] {
			eligible = append(eligible, id)
		}
	}

	for i := 0; i+1 < len(eligible); i += 2 {
		if ctx.Err() != nil {
			return
		}
		if w.table.Count() >= cfg.MaxConversations {
			return
		}

		sc, ok := w.catalog.Pick(cfg.ActiveScripts)
		if !ok {
			slog.Debug("no active script available, skipping warming cycle")
			return
		}

		if !w.startConversation(ctx, eligible[i], eligible[i+1], sc) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.jitter(pacingMinDelay, pacingMaxDelay)):
		}
	}
}

func (w *Warmer) startConversation(ctx context.Context, initiator, peer string, sc script.Script) bool {
	c, ok := w.table.Create(initiator, peer, sc.Name, sc.Steps)
	if !ok {
		return false
	}

	if err := w.registry.SetWarming(initiator); err != nil {
		w.abandon(c)
		return false
	}
	if err := w.registry.SetWarming(peer); err != nil {
		w.registry.SetIdle(initiator)
		w.abandon(c)
		return false
	}

	peerAcc, err := w.registry.Get(peer)
	if err != nil {
		// Peer was removed between pairing and lookup.
		w.CancelFor(peer)
		return false
	}

	c.mu.Lock()
	if w.table.Contains(c.ID) {
		w.sendStep(initiator, peerAcc.RawNumber, c.Steps[0])
	}
	c.mu.Unlock()

	w.metrics.ActiveConversations.Set(float64(w.table.Count()))
	w.record(ctx, initiator, "warming_started", sc.Name)
	slog.Info("warming conversation started", "conversation", c.ID, "script", sc.Name)
	return true
}

// abandon rolls back a conversation that never got off the ground.
func (w *Warmer) abandon(c *Conversation) {
	c.mu.Lock()
	if w.table.Contains(c.ID) {
		w.table.remove(c)
	}
	c.mu.Unlock()
}

// HandleMessage advances the conversation the reporting account is part of.
// Events for accounts that are not warming are dropped; that is the normal
// case for organic inbound traffic, not an error.
func (w *Warmer) HandleMessage(ctx context.Context, sessionID, from string) {
	c := w.table.FindByParticipant(sessionID)
	if c == nil {
		return
	}

	c.mu.Lock()
	if !w.table.Contains(c.ID) {
		// Deleted between lookup and lock acquisition.
		c.mu.Unlock()
		return
	}
	c.Step++
	if c.Step >= len(c.Steps) {
		w.finalizeLocked(ctx, c, "warming_finished")
		c.mu.Unlock()
		return
	}
	next := c.Steps[c.Step]
	done := c.done
	c.mu.Unlock()

	// Human reply latency. Interrupted when the conversation is torn down
	// (account removal, disconnect) or the process shuts down.
	cfg := w.cfg.Warming()
	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	case <-time.After(w.jitter(cfg.MinReplyDelay, cfg.MaxReplyDelay)):
	}

	c.mu.Lock()
	if w.table.Contains(c.ID) {
		w.sendStep(sessionID, from, next)
		w.registry.Touch(sessionID)
	}
	c.mu.Unlock()
}

// CancelFor tears down the conversation the session is part of, restoring the
// surviving peer to online. It reports whether a conversation was cancelled.
func (w *Warmer) CancelFor(sessionID string) bool {
	c := w.table.FindByParticipant(sessionID)
	if c == nil {
		return false
	}

	c.mu.Lock()
	if !w.table.Contains(c.ID) {
		c.mu.Unlock()
		return false
	}
	w.finalizeLocked(context.Background(), c, "warming_cancelled")
	c.mu.Unlock()
	return true
}

// finalizeLocked deletes the conversation and returns both participants to
// idle. The caller holds c.mu and has verified presence; deleting while still
// holding the lock prevents a racing event from re-entering a half-finished
// conversation.
func (w *Warmer) finalizeLocked(ctx context.Context, c *Conversation, event string) {
	w.table.remove(c)
	w.registry.SetIdle(c.Initiator)
	w.registry.SetIdle(c.Peer)
	w.metrics.ActiveConversations.Set(float64(w.table.Count()))
	w.record(ctx, c.Initiator, event, c.ScriptName)
	slog.Info("warming conversation ended", "conversation", c.ID, "event", event, "step", c.Step)
}

func (w *Warmer) sendStep(sessionID, to string, st script.Step) {
	switch st.Kind {
	case script.KindAudio:
		w.relay.SendToAgent(sessionID, protocol.SendAudio{
			Type:      protocol.TypeSendAudio,
			To:        to,
			AudioFile: st.File,
			Caption:   st.Caption,
		})
	default:
		w.relay.SendToAgent(sessionID, protocol.SendMessage{
			Type: protocol.TypeSendMessage,
			To:   to,
			Text: st.Content,
		})
	}
	w.metrics.WarmingMessages.Inc()
	w.sent.Add(1)
}

func (w *Warmer) record(ctx context.Context, sessionID, event, detail string) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Record(ctx, journal.Entry{SessionID: sessionID, Event: event, Detail: detail}); err != nil {
		slog.Warn("journal record failed", "event", event, "error", err)
	}
}

func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

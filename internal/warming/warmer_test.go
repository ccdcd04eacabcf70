package warming

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/config"
	"github.com/chipwarmer/chipwarmer/internal/journal"
	"github.com/chipwarmer/chipwarmer/internal/observability"
	"github.com/chipwarmer/chipwarmer/internal/protocol"
	"github.com/chipwarmer/chipwarmer/internal/script"
)

type captured struct {
	session string
	event   any
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []captured
}

func (r *fakeRelay) SendToAgent(sessionID string, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, captured{session: sessionID, event: event})
}

func (r *fakeRelay) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]captured, len(r.sent))
	copy(out, r.sent)
	return out
}

type fixture struct {
	registry *account.Registry
	table    *Table
	relay    *fakeRelay
	cfg      *config.Store
	warmer   *Warmer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	content := `name = "ping-pong"

[[steps]]
kind = "text"
content = "oi"

[[steps]]
kind = "text"
content = "tchau"
`
	if err := os.WriteFile(filepath.Join(dir, "ping-pong.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	catalog, err := script.Load(dir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	cfg, err := config.NewStore()
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	if err := cfg.ReplaceWarming(config.Warming{
		Enabled:          true,
		Interval:         10 * time.Millisecond,
		MaxConversations: 10,
		ActiveScripts:    []string{"ping-pong"},
	}); err != nil {
		t.Fatalf("replace warming config: %v", err)
	}

	registry := account.NewRegistry()
	table := NewTable()
	relay := &fakeRelay{}
	metrics := observability.NewMetrics(fmt.Sprintf("test_warming_%d", time.Now().UnixNano()))
	w := New(registry, table, catalog, relay, cfg, metrics, journal.NewInMemoryStore(0))
	w.jitter = func(min, max time.Duration) time.Duration { return 0 }

	return &fixture{registry: registry, table: table, relay: relay, cfg: cfg, warmer: w}
}

func (f *fixture) onlineAccount(t *testing.T, owner, raw string) *account.Account {
	t.Helper()
	a, err := f.registry.Create(owner, "agency")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := f.registry.SetOnline(a.ID, raw); err != nil {
		t.Fatalf("set online: %v", err)
	}
	got, _ := f.registry.Get(a.ID)
	return got
}

func TestCyclePairsTwoOnlineAccounts(t *testing.T) {
	f := newFixture(t)
	a := f.onlineAccount(t, "alice", "5511900000001")
	b := f.onlineAccount(t, "alice", "5511900000002")

	f.warmer.RunCycle(context.Background())

	if f.table.Count() != 1 {
		t.Fatalf("conversations = %d, want 1", f.table.Count())
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := f.registry.Get(id)
		if got.Status != account.StatusWarming {
			t.Fatalf("account %s status = %q, want warming", id, got.Status)
		}
	}

	sent := f.relay.all()
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1 (step 0)", len(sent))
	}
	msg, ok := sent[0].event.(protocol.SendMessage)
	if !ok {
		t.Fatalf("event type = %T, want SendMessage", sent[0].event)
	}
	if msg.Text != "oi" {
		t.Fatalf("step 0 text = %q, want oi", msg.Text)
	}

	// The instruction goes to the initiator's agent, addressed to the peer's
	// raw number.
	c := f.table.FindByParticipant(a.ID)
	if sent[0].session != c.Initiator {
		t.Fatalf("step 0 sent via %s, want initiator %s", sent[0].session, c.Initiator)
	}
	peer, _ := f.registry.Get(c.Peer)
	if msg.To != peer.RawNumber {
		t.Fatalf("step 0 addressed to %q, want peer raw number %q", msg.To, peer.RawNumber)
	}
}

func TestCycleSkipsWhenWarmingDisabled(t *testing.T) {
	f := newFixture(t)
	f.onlineAccount(t, "alice", "5511900000001")
	f.onlineAccount(t, "alice", "5511900000002")

	w := f.cfg.Warming()
	w.Enabled = false
	if err := f.cfg.ReplaceWarming(w); err != nil {
		t.Fatalf("replace config: %v", err)
	}

	f.warmer.RunCycle(context.Background())
	if f.table.Count() != 0 {
		t.Fatalf("disabled warming should not pair, got %d conversations", f.table.Count())
	}
}

func TestCycleSkipsWithEmptyScriptIntersection(t *testing.T) {
	f := newFixture(t)
	f.onlineAccount(t, "alice", "5511900000001")
	f.onlineAccount(t, "alice", "5511900000002")

	w := f.cfg.Warming()
	w.ActiveScripts = []string{"does-not-exist"}
	if err := f.cfg.ReplaceWarming(w); err != nil {
		t.Fatalf("replace config: %v", err)
	}

	f.warmer.RunCycle(context.Background())
	if f.table.Count() != 0 {
		t.Fatalf("empty intersection should skip the cycle, got %d conversations", f.table.Count())
	}
}

func TestCycleNeverPairsCommittedAccounts(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.onlineAccount(t, "alice", fmt.Sprintf("55119000000%02d", i))
	}

	f.warmer.RunCycle(context.Background())
	if f.table.Count() != 2 {
		t.Fatalf("conversations = %d, want 2", f.table.Count())
	}

	// A second cycle has nobody online left to pair.
	f.warmer.RunCycle(context.Background())
	if f.table.Count() != 2 {
		t.Fatalf("committed accounts were paired again, conversations = %d", f.table.Count())
	}
}

func TestCycleHonorsConcurrencyCeiling(t *testing.T) {
	f := newFixture(t)
	w := f.cfg.Warming()
	w.MaxConversations = 1
	if err := f.cfg.ReplaceWarming(w); err != nil {
		t.Fatalf("replace config: %v", err)
	}
	for i := 0; i < 6; i++ {
		f.onlineAccount(t, "alice", fmt.Sprintf("55119000000%02d", i))
	}

	f.warmer.RunCycle(context.Background())
	if f.table.Count() != 1 {
		t.Fatalf("conversations = %d, want ceiling of 1", f.table.Count())
	}
}

func TestMessageAdvancesStepAndSendsReply(t *testing.T) {
	f := newFixture(t)
	a := f.onlineAccount(t, "alice", "5511900000001")
	f.onlineAccount(t, "alice", "5511900000002")
	f.warmer.RunCycle(context.Background())

	c := f.table.FindByParticipant(a.ID)
	if c == nil {
		t.Fatalf("expected a live conversation")
	}
	initiator, _ := f.registry.Get(c.Initiator)

	// The peer's agent reports the inbound step 0 message.
	f.warmer.HandleMessage(context.Background(), c.Peer, initiator.RawNumber)

	c.mu.Lock()
	step := c.Step
	c.mu.Unlock()
	if step != 1 {
		t.Fatalf("step = %d, want 1", step)
	}

	sent := f.relay.all()
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want 2", len(sent))
	}
	reply, ok := sent[1].event.(protocol.SendMessage)
	if !ok {
		t.Fatalf("reply type = %T, want SendMessage", sent[1].event)
	}
	if sent[1].session != c.Peer {
		t.Fatalf("reply sent via %s, want reporting account %s", sent[1].session, c.Peer)
	}
	if reply.To != initiator.RawNumber {
		t.Fatalf("reply addressed to %q, want sender %q", reply.To, initiator.RawNumber)
	}
	if reply.Text != "tchau" {
		t.Fatalf("reply text = %q, want tchau", reply.Text)
	}
}

func TestLastStepFinishesConversation(t *testing.T) {
	f := newFixture(t)
	a := f.onlineAccount(t, "alice", "5511900000001")
	b := f.onlineAccount(t, "alice", "5511900000002")
	f.warmer.RunCycle(context.Background())

	c := f.table.FindByParticipant(a.ID)
	initiator, _ := f.registry.Get(c.Initiator)
	peerRaw := "5511900000002"
	if c.Peer == a.ID {
		peerRaw = "5511900000001"
	}

	f.warmer.HandleMessage(context.Background(), c.Peer, initiator.RawNumber)
	// The initiator's agent reports the reply; the script is exhausted.
	f.warmer.HandleMessage(context.Background(), c.Initiator, peerRaw)

	if f.table.Count() != 0 {
		t.Fatalf("conversation should be deleted when the script ends")
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := f.registry.Get(id)
		if got.Status != account.StatusOnline {
			t.Fatalf("account %s status = %q, want online", id, got.Status)
		}
	}

	// A straggler event for the finished conversation is dropped quietly.
	f.warmer.HandleMessage(context.Background(), c.Peer, initiator.RawNumber)
	if f.table.Count() != 0 {
		t.Fatalf("straggler event must not resurrect the conversation")
	}
}

func TestMessageForNonWarmingAccountIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.onlineAccount(t, "alice", "5511900000001")

	f.warmer.HandleMessage(context.Background(), a.ID, "5511999999999")
	if len(f.relay.all()) != 0 {
		t.Fatalf("no instruction should be sent for a non-warming account")
	}
}

func TestCancelForRestoresPeerAndInterruptsReplyWait(t *testing.T) {
	f := newFixture(t)
	a := f.onlineAccount(t, "alice", "5511900000001")
	b := f.onlineAccount(t, "alice", "5511900000002")
	f.warmer.RunCycle(context.Background())

	c := f.table.FindByParticipant(a.ID)
	initiator, _ := f.registry.Get(c.Initiator)

	// Park a reply wait so cancellation has something to interrupt.
	f.warmer.jitter = func(min, max time.Duration) time.Duration { return 5 * time.Second }
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		f.warmer.HandleMessage(context.Background(), c.Peer, initiator.RawNumber)
	}()

	// Give the handler time to enter the wait.
	time.Sleep(50 * time.Millisecond)

	if !f.warmer.CancelFor(a.ID) {
		t.Fatalf("CancelFor() should cancel the live conversation")
	}

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("reply wait was not interrupted by cancellation")
	}

	if f.table.Count() != 0 {
		t.Fatalf("conversation should be deleted on cancel")
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := f.registry.Get(id)
		if got.Status != account.StatusOnline {
			t.Fatalf("account %s status = %q, want online after cancel", id, got.Status)
		}
	}
	if len(f.relay.all()) != 1 {
		t.Fatalf("interrupted reply wait must not send, got %d events", len(f.relay.all()))
	}

	if f.warmer.CancelFor(a.ID) {
		t.Fatalf("second CancelFor() should be a no-op")
	}
}

package warming

import (
	"sync"
	"testing"

	"github.com/chipwarmer/chipwarmer/internal/script"
)

func twoSteps() []script.Step {
	return []script.Step{
		{Kind: script.KindText, Content: "oi"},
		{Kind: script.KindText, Content: "tchau"},
	}
}

func TestPairIDIsCanonical(t *testing.T) {
	if PairID("a", "b") != PairID("b", "a") {
		t.Fatalf("PairID should be order independent")
	}
	if PairID("a", "b") == PairID("a", "c") {
		t.Fatalf("distinct pairs should get distinct ids")
	}
}

func TestCreateRejectsBothOrders(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Create("a", "b", "s", twoSteps()); !ok {
		t.Fatalf("first Create() should succeed")
	}
	if _, ok := tbl.Create("b", "a", "s", twoSteps()); ok {
		t.Fatalf("reversed pair must not coexist")
	}
	if tbl.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tbl.Count())
	}
}

func TestCreateRejectsCommittedParticipant(t *testing.T) {
	tbl := NewTable()
	tbl.Create("a", "b", "s", twoSteps())
	if _, ok := tbl.Create("a", "c", "s", twoSteps()); ok {
		t.Fatalf("participant already committed must not be paired again")
	}
}

func TestConcurrentCreateBothOrdersOnlyOneSurvives(t *testing.T) {
	for round := 0; round < 50; round++ {
		tbl := NewTable()
		var wg sync.WaitGroup
		created := make([]bool, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, created[0] = tbl.Create("a", "b", "s", twoSteps())
		}()
		go func() {
			defer wg.Done()
			_, created[1] = tbl.Create("b", "a", "s", twoSteps())
		}()
		wg.Wait()

		if created[0] == created[1] {
			t.Fatalf("round %d: exactly one creation should win, got %v", round, created)
		}
		if tbl.Count() != 1 {
			t.Fatalf("round %d: Count() = %d, want 1", round, tbl.Count())
		}
	}
}

func TestFindByParticipantAndOther(t *testing.T) {
	tbl := NewTable()
	c, _ := tbl.Create("a", "b", "s", twoSteps())
	if got := tbl.FindByParticipant("b"); got != c {
		t.Fatalf("FindByParticipant(b) = %v, want the created conversation", got)
	}
	if tbl.FindByParticipant("x") != nil {
		t.Fatalf("FindByParticipant(x) should be nil")
	}
	if c.Other("a") != "b" || c.Other("b") != "a" {
		t.Fatalf("Other() mismatch")
	}
}

func TestCommittedAndViews(t *testing.T) {
	tbl := NewTable()
	tbl.Create("a", "b", "greeting", twoSteps())

	committed := tbl.Committed()
	if !committed["a"] || !committed["b"] || len(committed) != 2 {
		t.Fatalf("Committed() = %v", committed)
	}

	views := tbl.Views()
	if len(views) != 1 {
		t.Fatalf("Views() len = %d, want 1", len(views))
	}
	v := views[0]
	if v.ScriptName != "greeting" || v.Step != 0 || v.TotalSteps != 2 {
		t.Fatalf("unexpected view: %+v", v)
	}
}

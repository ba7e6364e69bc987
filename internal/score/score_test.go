package score

import (
	"strings"
	"testing"

	"github.com/hindsight-dev/hindsight/internal/model"
)

func TestScoreRange(t *testing.T) {
	events := []model.SourceEvent{
		{},
		{SourceType: "push", Title: "chore: bump deps typo whitespace wip formatting"},
		{SourceType: "incident", Title: "critical security vulnerability outage data loss",
			Body:       strings.Repeat("breaking change rollback hotfix regression ", 30),
			References: make([]model.Reference, 20)},
		{SourceType: "unknown_event_type", Title: "something"},
	}
	for _, ev := range events {
		r := Event(ev)
		if r.Score < 0 || r.Score > 100 {
			t.Errorf("score out of range for %q: %d", ev.Title, r.Score)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	ev := model.SourceEvent{
		SourceType: "pull_request",
		Title:      "Fix critical regression in checkout",
		Body:       "Rollback of the payment migration. " + strings.Repeat("details ", 40),
		References: []model.Reference{{Type: "issue", ID: "PROJ-1"}},
	}
	a := Event(ev)
	b := Event(ev)
	if a.Score != b.Score {
		t.Errorf("scores differ: %d vs %d", a.Score, b.Score)
	}
	if len(a.Factors) != len(b.Factors) {
		t.Fatalf("factor counts differ: %v vs %v", a.Factors, b.Factors)
	}
	for i := range a.Factors {
		if a.Factors[i] != b.Factors[i] {
			t.Errorf("factor %d differs: %q vs %q", i, a.Factors[i], b.Factors[i])
		}
	}
}

// A critical security release must outrank a routine dependency bump.
func TestCriticalReleaseOutranksChorePush(t *testing.T) {
	release := Event(model.SourceEvent{
		SourceType: "release_published",
		Title:      "v2.4.1 critical security release",
	})
	chore := Event(model.SourceEvent{
		SourceType: "push",
		Title:      "chore: bump deps",
	})
	if release.Score <= chore.Score {
		t.Errorf("expected release (%d) > chore push (%d)", release.Score, chore.Score)
	}
}

func TestReferenceBonusCapped(t *testing.T) {
	few := Event(model.SourceEvent{SourceType: "issue", References: make([]model.Reference, 2)})
	many := Event(model.SourceEvent{SourceType: "issue", References: make([]model.Reference, 50)})
	if many.Score-few.Score != 15-6 {
		t.Errorf("reference bonus not capped at 15: few=%d many=%d", few.Score, many.Score)
	}
}

func TestBodyLengthTiers(t *testing.T) {
	short := Event(model.SourceEvent{SourceType: "issue", Body: strings.Repeat("x", 100)})
	medium := Event(model.SourceEvent{SourceType: "issue", Body: strings.Repeat("x", 300)})
	long := Event(model.SourceEvent{SourceType: "issue", Body: strings.Repeat("x", 600)})
	if medium.Score != short.Score+2 {
		t.Errorf("expected +2 for >200 chars, got %d vs %d", medium.Score, short.Score)
	}
	if long.Score != short.Score+5 {
		t.Errorf("expected +5 for >500 chars, got %d vs %d", long.Score, short.Score)
	}
}

func TestWipSignalIsWordBounded(t *testing.T) {
	plain := Event(model.SourceEvent{SourceType: "pull_request", Title: "Add carousel gesture"})
	swipe := Event(model.SourceEvent{SourceType: "pull_request", Title: "Add swipe gesture"})
	if swipe.Score != plain.Score {
		t.Errorf("'swipe' must not trigger the wip penalty: %d vs %d", swipe.Score, plain.Score)
	}

	wip := Event(model.SourceEvent{SourceType: "pull_request", Title: "wip: carousel gesture"})
	if wip.Score != plain.Score-5 {
		t.Errorf("expected wip penalty of -5, got %d vs %d", wip.Score, plain.Score)
	}
}

func TestUnknownTypeUsesDefaultBase(t *testing.T) {
	r := Event(model.SourceEvent{SourceType: "mystery"})
	if r.Score != 20 {
		t.Errorf("expected default base 20, got %d", r.Score)
	}
}

package classify

import "testing"

func TestPrimaryFirstMatchWins(t *testing.T) {
	// Both "incident" and "fix" appear; incident is earlier in the rule order.
	r := Text("Postmortem: fix for the checkout incident")
	if r.PrimaryCategory != "incident" {
		t.Errorf("expected incident, got %s", r.PrimaryCategory)
	}
}

func TestPrimaryFallback(t *testing.T) {
	r := Text("weekly sync notes")
	if r.PrimaryCategory != FallbackCategory {
		t.Errorf("expected %s, got %s", FallbackCategory, r.PrimaryCategory)
	}
}

func TestSecondaryCappedAtThree(t *testing.T) {
	r := Text("api server sql migration terraform docker ci pipeline react css ios typescript")
	if len(r.SecondaryCategories) > 3 {
		t.Errorf("expected at most 3 secondaries, got %v", r.SecondaryCategories)
	}
}

func TestSecondaryDeduplicated(t *testing.T) {
	r := Text("sql sql sql database schema")
	count := 0
	for _, c := range r.SecondaryCategories {
		if c == "database" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("database tagged %d times: %v", count, r.SecondaryCategories)
	}
}

func TestSecondaryIndependentOfPrimary(t *testing.T) {
	// No primary pattern matches, but secondary tags still apply.
	r := Text("golang backend endpoint notes")
	if r.PrimaryCategory != FallbackCategory {
		t.Errorf("expected fallback primary, got %s", r.PrimaryCategory)
	}
	if len(r.SecondaryCategories) == 0 {
		t.Error("expected secondary tags despite fallback primary")
	}
}

func TestTopicsPrimaryFirst(t *testing.T) {
	r := Result{PrimaryCategory: "bugfix", SecondaryCategories: []string{"backend", "go"}}
	topics := r.Topics()
	if len(topics) != 3 || topics[0] != "bugfix" {
		t.Errorf("unexpected topics: %v", topics)
	}
}

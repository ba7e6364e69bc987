package extract

import "testing"

func findCategory(t *testing.T, text, category, key string) bool {
	t.Helper()
	for _, e := range Entities(text) {
		if e.Category == category && e.Key == key {
			return true
		}
	}
	return false
}

func TestExtractIssueKey(t *testing.T) {
	if !findCategory(t, "Resolves PROJ-123 and ENG-4521", CategoryIssueKey, "PROJ-123") {
		t.Error("expected PROJ-123")
	}
	if !findCategory(t, "Resolves PROJ-123 and ENG-4521", CategoryIssueKey, "ENG-4521") {
		t.Error("expected ENG-4521")
	}
}

func TestExtractCommitSHA(t *testing.T) {
	text := "Reverts a1b2c3d4e5f and cherry-picks deadbeef0123456789abcdef0123456789abcdef"
	if !findCategory(t, text, CategoryCommitSHA, "a1b2c3d4e5f") {
		t.Error("expected abbreviated sha")
	}
	if !findCategory(t, text, CategoryCommitSHA, "deadbeef0123456789abcdef0123456789abcdef") {
		t.Error("expected full sha")
	}
}

func TestExtractRejectsAllDigitSHA(t *testing.T) {
	// 10-digit run is hex-shaped but is a timestamp, not a commit.
	if findCategory(t, "build 1706000000 finished", CategoryCommitSHA, "1706000000") {
		t.Error("all-digit run should not be a sha")
	}
}

func TestExtractPRNumber(t *testing.T) {
	if !findCategory(t, "Fixes #123 in the cart flow", CategoryPRNumber, "#123") {
		t.Error("expected #123")
	}
	// Anchors in URLs should not match.
	if findCategory(t, "see https://example.com/page#123", CategoryPRNumber, "#123") {
		t.Error("URL fragment should not be a PR reference")
	}
}

func TestExtractBranch(t *testing.T) {
	if !findCategory(t, "merged into release/v2.1 from feature/checkout-fix", CategoryBranch, "release/v2.1") {
		t.Error("expected release/v2.1")
	}
	if !findCategory(t, "merged into release/v2.1 from feature/checkout-fix", CategoryBranch, "feature/checkout-fix") {
		t.Error("expected feature/checkout-fix")
	}
}

func TestExtractMalformedText(t *testing.T) {
	for _, text := range []string{"", "   ", "no refs here", "((((", "\x00\x01"} {
		if got := Entities(text); len(got) != 0 {
			t.Errorf("expected no entities for %q, got %v", text, got)
		}
	}
}

func TestExtractDeduplicates(t *testing.T) {
	got := Entities("PROJ-1 then PROJ-1 again, fixes #9 and #9")
	counts := map[string]int{}
	for _, e := range got {
		counts[e.Category+e.Key]++
	}
	for k, n := range counts {
		if n > 1 {
			t.Errorf("duplicate entity %s extracted %d times", k, n)
		}
	}
}

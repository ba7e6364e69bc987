// Package extract pattern-matches cross-references out of event text:
// issue keys, commit shas, PR/issue numbers, and branch names.
package extract

import (
	"regexp"
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// Entity categories.
const (
	CategoryIssueKey  = "issue_key"
	CategoryCommitSHA = "commit_sha"
	CategoryPRNumber  = "pr_number"
	CategoryBranch    = "branch"
)

// pattern couples one category with its regex. Extraction is additive:
// every pattern runs over the full text, in order.
type pattern struct {
	category string
	re       *regexp.Regexp
	group    int
}

var patterns = []pattern{
	// Ticket IDs like PROJ-123, ENG-4521.
	{CategoryIssueKey, regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9}-\d+)\b`), 1},
	// Full or abbreviated commit shas (7-40 hex chars, word-bounded).
	{CategoryCommitSHA, regexp.MustCompile(`\b([0-9a-f]{7,40})\b`), 1},
	// "#123" style PR/issue references, including "Fixes #123" bodies.
	{CategoryPRNumber, regexp.MustCompile(`(?:^|[\s(])#(\d+)\b`), 1},
	// Branch mentions like "on branch feature/checkout-fix" or "merged into release/v2".
	{CategoryBranch, regexp.MustCompile(`\b(?:branch|into|from)\s+([a-zA-Z0-9][\w.-]*/[\w./-]+)`), 1},
}

// Entities extracts all cross-references from text. Malformed or empty
// text yields zero entities, never an error. Duplicate (key, category)
// pairs are collapsed.
func Entities(text string) []model.Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []model.Entity
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			key := m[p.group]
			if p.category == CategoryCommitSHA && !plausibleSHA(key) {
				continue
			}
			if p.category == CategoryPRNumber {
				key = "#" + key
			}
			dedup := p.category + "\x00" + key
			if seen[dedup] {
				continue
			}
			seen[dedup] = true
			out = append(out, model.Entity{Key: key, Category: p.category})
		}
	}
	return out
}

// FromEvent extracts entities from an event's title and body, merged.
func FromEvent(ev model.SourceEvent) []model.Entity {
	return Entities(ev.Title + "\n" + ev.Body)
}

// plausibleSHA filters hex-looking words that are almost certainly not
// commits: all-digit runs (timestamps, ids) match the hex class too.
func plausibleSHA(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'f' {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

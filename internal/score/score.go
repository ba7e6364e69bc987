// Package score computes the rule-based significance score of a source
// event. Scoring is a pure function: identical input always yields the
// identical score and factor list.
package score

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// Result is the score with the human-readable factors that produced it.
type Result struct {
	Score   int
	Factors []string
}

// baseWeights maps event types to their starting score. Unknown types
// fall back to defaultBase.
var baseWeights = map[string]int{
	"release_published":  45,
	"deployment":         40,
	"deployment_failed":  50,
	"incident":           55,
	"pull_request":       35,
	"issue":              30,
	"push":               25,
	"discussion":         20,
	"comment":            10,
}

const defaultBase = 20

// signal is one weighted text pattern. Signals run in order over the
// lowercased title+body; every match contributes its weight once.
type signal struct {
	label  string
	needle string
	weight int
}

var signals = []signal{
	{"critical keyword", "critical", 20},
	{"security keyword", "security", 18},
	{"vulnerability keyword", "vulnerab", 18},
	{"incident keyword", "incident", 15},
	{"outage keyword", "outage", 15},
	{"data loss keyword", "data loss", 15},
	{"breaking change keyword", "breaking change", 12},
	{"rollback keyword", "rollback", 10},
	{"hotfix keyword", "hotfix", 10},
	{"regression keyword", "regression", 8},
	{"performance keyword", "performance", 5},
	{"migration keyword", "migration", 5},
	{"chore keyword", "chore:", -10},
	{"dependency bump keyword", "bump", -8},
	{"typo keyword", "typo", -8},
	{"formatting keyword", "formatting", -6},
	{"whitespace keyword", "whitespace", -6},
}

// Word-bounded signals. A bare substring would fire inside unrelated
// words, "wip" inside "swipe".
var wordSignals = []struct {
	label  string
	re     *regexp.Regexp
	weight int
}{
	{"wip keyword", regexp.MustCompile(`\bwip\b`), -5},
}

// Event scores one source event on the [0,100] significance scale.
func Event(ev model.SourceEvent) Result {
	r := Result{}

	base, ok := baseWeights[ev.SourceType]
	if !ok {
		base = defaultBase
	}
	r.Score = base
	r.Factors = append(r.Factors, fmt.Sprintf("base[%s]=%d", ev.SourceType, base))

	text := strings.ToLower(ev.Title + "\n" + ev.Body)
	for _, s := range signals {
		if strings.Contains(text, s.needle) {
			r.Score += s.weight
			r.Factors = append(r.Factors, fmt.Sprintf("%s=%+d", s.label, s.weight))
		}
	}
	for _, s := range wordSignals {
		if s.re.MatchString(text) {
			r.Score += s.weight
			r.Factors = append(r.Factors, fmt.Sprintf("%s=%+d", s.label, s.weight))
		}
	}

	if n := len(ev.References); n > 0 {
		bonus := n * 3
		if bonus > 15 {
			bonus = 15
		}
		r.Score += bonus
		r.Factors = append(r.Factors, fmt.Sprintf("references[%d]=%+d", n, bonus))
	}

	switch l := len(ev.Body); {
	case l > 500:
		r.Score += 5
		r.Factors = append(r.Factors, "body>500=+5")
	case l > 200:
		r.Score += 2
		r.Factors = append(r.Factors, "body>200=+2")
	}

	if r.Score > 100 {
		r.Score = 100
	}
	if r.Score < 0 {
		r.Score = 0
	}
	return r
}

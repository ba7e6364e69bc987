// Package classify assigns one primary category and up to three secondary
// tags to a source event via ordered pattern matching.
package classify

import "strings"

// Result holds the classification of one event.
type Result struct {
	PrimaryCategory     string
	SecondaryCategories []string
}

// FallbackCategory is assigned when no primary pattern matches.
const FallbackCategory = "other"

const maxSecondary = 3

// primaryRule couples a category with its trigger substrings. Rules run
// in order; the first category with any match wins.
type primaryRule struct {
	category string
	patterns []string
}

var primaryRules = []primaryRule{
	{"incident", []string{"incident", "outage", "downtime", "sev1", "sev2", "postmortem"}},
	{"security", []string{"security", "vulnerab", "cve-", "exploit", "auth bypass"}},
	{"bugfix", []string{"fix", "bug", "regression", "hotfix", "patch", "resolve"}},
	{"feature", []string{"feature", "add ", "implement", "introduce", "support for"}},
	{"deployment", []string{"deploy", "rollout", "release", "ship", "promote"}},
	{"refactor", []string{"refactor", "cleanup", "clean up", "restructure", "simplify"}},
	{"performance", []string{"performance", "optimize", "speed up", "latency", "slow"}},
	{"documentation", []string{"docs", "documentation", "readme", "changelog"}},
	{"testing", []string{"test", "coverage", "flaky", "ci failure"}},
	{"dependencies", []string{"bump", "upgrade", "dependency", "dependabot"}},
}

// secondaryRules tag technical area, platform, and language. All matches
// are collected independently of the primary pass.
var secondaryRules = []primaryRule{
	{"frontend", []string{"frontend", "ui", "css", "react", "component"}},
	{"backend", []string{"backend", "api", "endpoint", "server", "service"}},
	{"database", []string{"database", "sql", "migration", "schema", "query"}},
	{"infrastructure", []string{"infra", "terraform", "kubernetes", "docker", "aws"}},
	{"ci-cd", []string{"ci", "cd", "pipeline", "workflow", "github actions"}},
	{"mobile", []string{"ios", "android", "mobile"}},
	{"go", []string{"golang", ".go", "go mod"}},
	{"typescript", []string{"typescript", ".ts", "tsx"}},
	{"python", []string{"python", ".py"}},
}

// Text classifies the combined title+body text of an event.
func Text(text string) Result {
	lower := strings.ToLower(text)

	r := Result{PrimaryCategory: FallbackCategory}
	for _, rule := range primaryRules {
		if matchesAny(lower, rule.patterns) {
			r.PrimaryCategory = rule.category
			break
		}
	}

	seen := make(map[string]bool)
	for _, rule := range secondaryRules {
		if len(r.SecondaryCategories) >= maxSecondary {
			break
		}
		if seen[rule.category] || !matchesAny(lower, rule.patterns) {
			continue
		}
		seen[rule.category] = true
		r.SecondaryCategories = append(r.SecondaryCategories, rule.category)
	}
	return r
}

// Topics flattens a classification into the observation's topic list,
// primary first.
func (r Result) Topics() []string {
	return append([]string{r.PrimaryCategory}, r.SecondaryCategories...)
}

func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

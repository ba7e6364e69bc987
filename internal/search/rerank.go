package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hindsight-dev/hindsight/internal/llm"
	"github.com/hindsight-dev/hindsight/internal/model"
)

// llmRerankBudget bounds the thorough rerank pass independently of the
// path deadline.
const llmRerankBudget = 2 * time.Second

// recencyWindow is how far back an observation still earns the balanced
// rerank's freshness bonus.
const recencyWindow = 30 * 24 * time.Hour

// rerank reorders fused results per mode. Fast returns them untouched,
// balanced blends in cheap cross-signals, thorough adds an LLM relevance
// pass when a provider is configured.
func (e *Engine) rerank(ctx context.Context, mode, query string, results []model.SearchResult) []model.SearchResult {
	switch mode {
	case model.ModeFast:
		return results
	case model.ModeThorough:
		if e.provider != nil && e.provider.IsConfigured() {
			return e.rerankLLM(ctx, query, rerankBalanced(results))
		}
		return rerankBalanced(results)
	default:
		return rerankBalanced(results)
	}
}

// rerankBalanced blends the fused score with significance and recency.
// The fused score dominates; the extra signals break near-ties.
func rerankBalanced(results []model.SearchResult) []model.SearchResult {
	now := time.Now()
	for i := range results {
		r := &results[i]
		score := r.Score * 0.85
		if sig := significanceOf(r); sig > 0 {
			score += float64(sig) / 100 * 0.10
		}
		if r.OccurredAt != nil && now.Sub(*r.OccurredAt) < recencyWindow {
			score += 0.05
		}
		r.Score = min1(score)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// significanceOf is a type-based prior standing in for the stored
// significance score, which the wire result does not carry.
func significanceOf(r *model.SearchResult) int {
	switch r.Type {
	case "release_published", "deployment", "deployment_failed", "incident":
		return 50
	case "pull_request", "issue":
		return 30
	case "push":
		return 20
	default:
		return 10
	}
}

// rerankLLM asks the provider to score each candidate's relevance to the
// query and blends that with the fused score. Any failure falls back to
// the already-balanced ordering.
func (e *Engine) rerankLLM(ctx context.Context, query string, results []model.SearchResult) []model.SearchResult {
	if len(results) < 2 {
		return results
	}

	rctx, cancel := context.WithTimeout(ctx, llmRerankBudget)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Score how relevant each numbered item is to the query, 0.0 to 1.0.\n")
	sb.WriteString("Respond with JSON only: {\"scores\": {\"1\": 0.8, ...}}\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\nItems:\n", query)
	for i, r := range results {
		text := r.Title
		if r.Snippet != "" {
			text += " - " + r.Snippet
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}

	raw, err := e.provider.Generate(rctx, sb.String(), 512)
	if err != nil {
		slog.Warn("llm rerank failed", "error", err)
		return results
	}
	scores, err := llm.ParseScores(raw)
	if err != nil {
		slog.Warn("llm rerank returned unusable scores", "error", err)
		return results
	}

	for i := range results {
		rel, ok := scores[i+1]
		if !ok {
			continue
		}
		results[i].Score = min1(results[i].Score*0.5 + rel*0.5)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

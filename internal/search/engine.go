// Package search implements the four-path retrieval engine: vector,
// entity, cluster, and actor searches run concurrently under a
// mode-dependent deadline and are fused into one ranked response.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/extract"
	"github.com/hindsight-dev/hindsight/internal/llm"
	"github.com/hindsight-dev/hindsight/internal/metrics"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/snippet"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

const (
	// entityMatchBase scales entity-only hits into the same [0,1] range
	// as vector similarities.
	entityMatchBase = 0.5
	// entityBoost is added to a vector-seeded result when the entity
	// path confirms it, clamped to 1.0.
	entityBoost = 0.2

	// minVectorSimilarity keeps brute-force index scans from seeding
	// results with near-orthogonal matches.
	minVectorSimilarity = 0.25

	defaultLimit = 10
	maxLimit     = 50

	maxClusterContexts = 3
	maxActorContexts   = 5
)

// Per-mode overall deadline for the four concurrent paths. Thorough's
// rerank pass carries its own budget on top.
var modeDeadlines = map[string]time.Duration{
	model.ModeFast:     50 * time.Millisecond,
	model.ModeBalanced: 130 * time.Millisecond,
	model.ModeThorough: 600 * time.Millisecond,
}

// Engine runs retrieval over one workspace's observations.
type Engine struct {
	db       *database.DB
	cache    *wscache.Cache
	embedder llm.Embedder
	index    vecindex.Index
	provider llm.Provider // optional, thorough rerank only
}

// New wires a retrieval engine. provider may be nil; thorough searches
// then fall back to the balanced rerank.
func New(db *database.DB, cache *wscache.Cache, embedder llm.Embedder, index vecindex.Index, provider llm.Provider) *Engine {
	return &Engine{db: db, cache: cache, embedder: embedder, index: index, provider: provider}
}

// pathResults collects each path's output. The mutex also fences late
// writers: once the join seals the struct, a path that missed the
// deadline discards its result instead of racing the fusion read.
type pathResults struct {
	mu     sync.Mutex
	sealed bool

	vector   []vecindex.Match
	entity   []database.EntityMatch
	clusters []model.ClusterContext
	actors   []model.ActorContext
}

func (r *pathResults) store(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	fn()
}

func (r *pathResults) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Search runs all four paths concurrently, fuses their hits, and reranks
// per mode. Any single path failing degrades the response instead of
// failing it; only a missing workspace config is a hard error.
func (e *Engine) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, &model.ValidationError{Field: "query", Msg: "required"}
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeBalanced
	}
	deadline, ok := modeDeadlines[mode]
	if !ok {
		return nil, &model.ValidationError{Field: "mode", Msg: "must be fast, balanced, or thorough"}
	}
	limit := clampLimit(req.Limit)

	cfg, err := e.cache.Get(req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("reading workspace config: %w", err)
	}
	if cfg == nil {
		return nil, &model.ConfigError{WorkspaceID: req.WorkspaceID, Msg: "no search configuration"}
	}
	ns := cfg.NamespaceName

	pathCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// The query embedding feeds both the vector and cluster paths; embed
	// once, inside the overall budget. A failed embedding empties those
	// two paths and the entity and actor paths still run.
	var queryVec []float32
	if vecs, embedErr := e.embedder.Embed(pathCtx, []string{req.Query}); embedErr != nil {
		slog.Warn("query embedding failed", "workspace", req.WorkspaceID, "error", embedErr)
		metrics.SearchPathFailures.WithLabelValues("vector", "embed").Inc()
		metrics.SearchPathFailures.WithLabelValues("cluster", "embed").Inc()
	} else if len(vecs) == 1 {
		queryVec = vecs[0]
	}

	var res pathResults
	done := make(chan struct{}, 4)

	runPath(pathCtx, "vector", done, func() error {
		if queryVec == nil {
			return nil
		}
		matches, err := e.index.Query(pathCtx, ns, queryVec, limit*3, vecindex.Filter{
			Layer:       vecindex.LayerObservation,
			View:        vecindex.ViewContent,
			Sources:     req.Filters.SourceTypes,
			SourceTypes: req.Filters.ObservationTypes,
		})
		if err != nil {
			return err
		}
		res.store(func() { res.vector = matches })
		return nil
	})

	runPath(pathCtx, "entity", done, func() error {
		keys := entityKeys(req.Query)
		if len(keys) == 0 {
			return nil
		}
		matches, err := e.db.FindObservationsByEntityKeys(req.WorkspaceID, keys)
		if err != nil {
			return err
		}
		res.store(func() { res.entity = matches })
		return nil
	})

	runPath(pathCtx, "cluster", done, func() error {
		if queryVec == nil {
			return nil
		}
		ctxs, err := e.clusterContexts(pathCtx, req.WorkspaceID, ns, queryVec)
		if err != nil {
			return err
		}
		res.store(func() { res.clusters = ctxs })
		return nil
	})

	runPath(pathCtx, "actor", done, func() error {
		ctxs, err := e.actorContexts(req.WorkspaceID, req.Query)
		if err != nil {
			return err
		}
		res.store(func() { res.actors = ctxs })
		return nil
	})

	for completed := 0; completed < 4; {
		select {
		case <-done:
			completed++
		case <-pathCtx.Done():
			// Late paths contribute nothing; their goroutines observe
			// the cancelled context and exit on their own.
			completed = 4
		}
	}
	res.seal()

	results, err := e.fuse(req, &res)
	if err != nil {
		return nil, err
	}
	results = e.rerank(ctx, mode, req.Query, results)
	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	resp := &model.SearchResponse{
		Results: results,
		Meta: model.SearchMeta{
			Total:  total,
			TookMS: time.Since(start).Milliseconds(),
			Mode:   mode,
		},
	}
	if len(res.clusters) > 0 || len(res.actors) > 0 {
		resp.Context = &model.SearchContext{
			Clusters:       res.clusters,
			RelevantActors: res.actors,
		}
	}
	return resp, nil
}

// runPath executes one search path in its own goroutine, isolating its
// failure and recording its latency.
func runPath(ctx context.Context, name string, done chan<- struct{}, fn func() error) {
	go func() {
		defer func() { done <- struct{}{} }()
		start := time.Now()
		err := fn()
		metrics.SearchPathDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		reason := "error"
		if ctx.Err() != nil {
			reason = "deadline"
		}
		metrics.SearchPathFailures.WithLabelValues(name, reason).Inc()
		slog.Warn("search path failed", "path", name, "reason", reason, "error", err)
	}()
}

// fuse merges the vector and entity paths into one scored result set.
// Vector matches seed entries at their similarity; entity matches add new
// entries at a confidence-scaled base score or boost existing ones.
func (e *Engine) fuse(req model.SearchRequest, res *pathResults) ([]model.SearchResult, error) {
	scores := make(map[string]float64)
	order := make([]string, 0, len(res.vector)+len(res.entity))

	for _, m := range res.vector {
		id := m.Metadata.ObservationID
		if id == "" || m.Similarity < minVectorSimilarity {
			continue
		}
		if _, seen := scores[id]; !seen {
			order = append(order, id)
		}
		if m.Similarity > scores[id] {
			scores[id] = m.Similarity
		}
	}

	// Group entity matches per observation; confidence is the fraction
	// of the query's entity keys that observation carries.
	totalKeys := len(entityKeys(req.Query))
	matched := make(map[string]int)
	for _, m := range res.entity {
		matched[m.ObservationID]++
	}
	for id, n := range matched {
		if _, seen := scores[id]; seen {
			scores[id] = min1(scores[id] + entityBoost)
			continue
		}
		confidence := 1.0
		if totalKeys > 0 {
			confidence = float64(n) / float64(totalKeys)
		}
		order = append(order, id)
		scores[id] = entityMatchBase * confidence
	}

	observations, err := e.db.GetObservationsByIDs(req.WorkspaceID, order)
	if err != nil {
		return nil, fmt.Errorf("loading fused observations: %w", err)
	}
	byID := make(map[string]*model.Observation, len(observations))
	for i := range observations {
		byID[observations[i].ID] = &observations[i]
	}

	results := make([]model.SearchResult, 0, len(order))
	for _, id := range order {
		o, ok := byID[id]
		if !ok {
			continue
		}
		// The vector path filters in the index; entity-path additions
		// are filtered here.
		if !matchesFilters(o, req.Filters) {
			continue
		}
		score := scores[id]
		if req.Threshold > 0 && score < req.Threshold {
			continue
		}
		results = append(results, toSearchResult(o, score))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (e *Engine) clusterContexts(ctx context.Context, workspaceID, ns string, queryVec []float32) ([]model.ClusterContext, error) {
	matches, err := e.index.Query(ctx, ns, queryVec, maxClusterContexts, vecindex.Filter{Layer: vecindex.LayerCluster})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	similarity := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.Metadata.ClusterID == "" {
			continue
		}
		ids = append(ids, m.Metadata.ClusterID)
		similarity[m.Metadata.ClusterID] = m.Similarity
	}
	clusters, err := e.db.GetClustersByIDs(workspaceID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.ClusterContext, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, model.ClusterContext{
			ID:          c.ID,
			TopicLabel:  c.TopicLabel,
			Summary:     c.Summary,
			MemberCount: c.ObservationCount,
			Similarity:  similarity[c.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

var mentionPattern = regexp.MustCompile(`@([\w.-]+)`)

func (e *Engine) actorContexts(workspaceID, query string) ([]model.ActorContext, error) {
	seen := make(map[string]bool)
	var out []model.ActorContext

	add := func(profiles []model.ActorProfile) {
		for _, p := range profiles {
			if seen[p.ActorID] || len(out) >= maxActorContexts {
				continue
			}
			seen[p.ActorID] = true
			out = append(out, model.ActorContext{
				ActorID:          p.ActorID,
				DisplayName:      p.DisplayName,
				ExpertiseDomains: p.ExpertiseDomains,
				ObservationCount: p.ObservationCount,
			})
		}
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(query, -1) {
		profiles, err := e.db.SearchProfilesByName(workspaceID, m[1])
		if err != nil {
			return nil, err
		}
		add(profiles)
	}

	// Capitalized words are display-name fragment candidates.
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, ".,!?:;\"'")
		if len(word) < 3 || word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		profiles, err := e.db.SearchProfilesByName(workspaceID, word)
		if err != nil {
			return nil, err
		}
		add(profiles)
	}
	return out, nil
}

// entityKeys reuses the ingestion extraction patterns on the query text.
func entityKeys(query string) []string {
	entities := extract.Entities(query)
	keys := make([]string, 0, len(entities))
	for _, en := range entities {
		keys = append(keys, en.Key)
	}
	return keys
}

func matchesFilters(o *model.Observation, f model.SearchFilters) bool {
	if len(f.SourceTypes) > 0 && !slices.Contains(f.SourceTypes, o.Source) {
		return false
	}
	if len(f.ObservationTypes) > 0 && !slices.Contains(f.ObservationTypes, o.SourceType) {
		return false
	}
	if len(f.ActorNames) > 0 {
		name := strings.ToLower(o.RawActor.Name)
		ok := false
		for _, want := range f.ActorNames {
			if strings.Contains(name, strings.ToLower(want)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func toSearchResult(o *model.Observation, score float64) model.SearchResult {
	occurred := o.OccurredAt
	return model.SearchResult{
		ID:         o.ID,
		Title:      o.Title,
		URL:        o.URL,
		Snippet:    snippet.Truncate(o.Content, 200),
		Score:      score,
		Source:     o.Source,
		Type:       o.SourceType,
		OccurredAt: &occurred,
		Entities:   o.Entities,
		References: o.SourceReferences,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

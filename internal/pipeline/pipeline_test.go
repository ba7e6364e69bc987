package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/metrics"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

// hashEmbedder returns a deterministic vector per text, no provider.
type hashEmbedder struct {
	failures int // fail this many calls before succeeding
	calls    int
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls++
	if h.calls <= h.failures {
		return nil, &model.UpstreamError{Service: "test embed", Err: errors.New("unavailable")}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		hash := fnv.New32a()
		hash.Write([]byte(text))
		seed := hash.Sum32()
		vec := make([]float32, 8)
		for j := range vec {
			seed = seed*1664525 + 1013904223
			vec[j] = float32(seed%1000)/1000 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

func newTestPipeline(t *testing.T, embedder *hashEmbedder) (*Pipeline, *database.DB, *vecindex.BadgerIndex) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := vecindex.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, db.UpsertWorkspaceConfig(model.WorkspaceConfig{
		WorkspaceID: "ws1", IndexName: "main", NamespaceName: "ws1",
		EmbeddingModel: "test", EmbeddingDim: 8,
	}))

	cache := wscache.New(db, time.Minute)
	return New(db, cache, embedder, idx, 0.8), db, idx
}

func testEvent(sourceID string) model.SourceEvent {
	return model.SourceEvent{
		WorkspaceID: "ws1",
		Source:      "github",
		SourceType:  "pull_request",
		SourceID:    sourceID,
		Title:       "Fix checkout timeout",
		Body:        "Fixes #123. The cart payment call now retries. Resolves PROJ-42.",
		URL:         "https://github.com/acme/shop/pull/123",
		OccurredAt:  time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Actor:       model.SourceActor{ID: "octocat", Name: "Octo Cat"},
		References:  []model.Reference{{Type: "issue", ID: "#123"}},
		Metadata:    model.EventMetadata{PullRequest: &model.PullRequestMeta{Number: 123, State: "merged"}},
	}
}

// Replaying the same (workspaceID, sourceID) yields exactly one
// observation row, not two.
func TestProcessIdempotent(t *testing.T) {
	p, db, _ := newTestPipeline(t, &hashEmbedder{})
	ctx := context.Background()

	first, err := p.Process(ctx, testEvent("pr-123"))
	require.NoError(t, err)

	second, err := p.Process(ctx, testEvent("pr-123"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "replay must keep the observation id")

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Observations)
}

// Re-ingesting a known sourceId is counted as "duplicate", not
// "processed".
func TestReingestCountsDuplicateOutcome(t *testing.T) {
	p, _, _ := newTestPipeline(t, &hashEmbedder{})
	ctx := context.Background()

	dup := metrics.EventsIngested.WithLabelValues("github", "duplicate")
	before := testutil.ToFloat64(dup)

	_, err := p.Process(ctx, testEvent("pr-dup"))
	require.NoError(t, err)
	assert.Equal(t, before, testutil.ToFloat64(dup))

	_, err = p.Process(ctx, testEvent("pr-dup"))
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(dup))
}

// An ingested observation is retrievable by id with matching fields and
// three stored embedding views.
func TestProcessRoundTrip(t *testing.T) {
	p, db, idx := newTestPipeline(t, &hashEmbedder{})
	ctx := context.Background()

	o, err := p.Process(ctx, testEvent("pr-123"))
	require.NoError(t, err)

	got, err := db.GetObservation("ws1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix checkout timeout", got.Title)
	assert.Contains(t, got.Content, "cart payment")
	assert.Equal(t, "github", got.Source)
	assert.NotEmpty(t, got.Topics)
	assert.NotEmpty(t, got.ClusterID)

	// Extracted entities include the "Fixes #123" reference and PROJ-42.
	keys := make(map[string]bool)
	for _, e := range got.Entities {
		keys[e.Key] = true
	}
	assert.True(t, keys["#123"], "entities: %v", got.Entities)
	assert.True(t, keys["PROJ-42"], "entities: %v", got.Entities)

	for _, view := range []string{"title", "content", "summary"} {
		matches, err := idx.Query(ctx, "ws1", []float32{1, 0, 0, 0, 0, 0, 0, 0}, 100,
			vecindex.Filter{Layer: vecindex.LayerObservation, View: view})
		require.NoError(t, err)
		assert.Len(t, matches, 1, "view %s", view)
	}
}

func TestProcessDeadLettersOnEmbedExhaustion(t *testing.T) {
	p, db, idx := newTestPipeline(t, &hashEmbedder{failures: 10})
	ctx := context.Background()

	_, err := p.Process(ctx, testEvent("pr-9"))
	require.Error(t, err)

	// The raw payload survived and is marked failed.
	wp, err := db.GetWebhookPayload("ws1", "pr-9")
	require.NoError(t, err)
	assert.Equal(t, "failed", wp.Status)
	assert.NotEmpty(t, wp.Error)

	// All-views-or-none: no partially vectored observation.
	matches, _ := idx.Query(ctx, "ws1", []float32{1}, 100, vecindex.Filter{})
	assert.Empty(t, matches)
	stats, _ := db.GetStats()
	assert.Equal(t, 0, stats.Observations)
}

func TestReplayFailedRecovers(t *testing.T) {
	embedder := &hashEmbedder{failures: retryAttempts} // first Process exhausts retries
	p, db, _ := newTestPipeline(t, embedder)
	ctx := context.Background()

	_, err := p.Process(ctx, testEvent("pr-9"))
	require.Error(t, err)

	result, err := p.ReplayFailed(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)
	assert.Equal(t, 0, result.Failed)

	wp, _ := db.GetWebhookPayload("ws1", "pr-9")
	assert.Equal(t, "processed", wp.Status)
}

func TestProcessUnconfiguredWorkspace(t *testing.T) {
	p, _, _ := newTestPipeline(t, &hashEmbedder{})
	ev := testEvent("pr-1")
	ev.WorkspaceID = "ws-unknown"

	_, err := p.Process(context.Background(), ev)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestProcessValidation(t *testing.T) {
	p, _, _ := newTestPipeline(t, &hashEmbedder{})
	ev := testEvent("pr-1")
	ev.Title = ""

	_, err := p.Process(context.Background(), ev)
	var valErr *model.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestProcessRecordsTemporalState(t *testing.T) {
	p, db, _ := newTestPipeline(t, &hashEmbedder{})
	ev := model.SourceEvent{
		WorkspaceID: "ws1",
		Source:      "vercel",
		SourceType:  "deployment",
		SourceID:    "dep-1",
		Title:       "Deployed shop to production",
		OccurredAt:  time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Metadata: model.EventMetadata{Deployment: &model.DeploymentMeta{
			Project: "shop", Environment: "production", Status: "succeeded",
		}},
	}

	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	state, err := db.GetCurrentState("ws1", "deployment", "shop:production", "status")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "succeeded", state.StateValue)
}

func TestSimilarEventsShareCluster(t *testing.T) {
	p, db, _ := newTestPipeline(t, &hashEmbedder{})
	ctx := context.Background()

	// Identical text embeds identically, so the second event must join
	// the first one's cluster.
	a, err := p.Process(ctx, testEvent("pr-1"))
	require.NoError(t, err)
	b, err := p.Process(ctx, testEvent("pr-2"))
	require.NoError(t, err)
	assert.Equal(t, a.ClusterID, b.ClusterID)

	c, err := db.GetCluster("ws1", a.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ObservationCount)
}

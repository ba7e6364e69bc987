package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

// fixedEmbedder maps known texts to fixed vectors; unknown texts get the
// fallback vector.
type fixedEmbedder struct {
	vecs     map[string][]float32
	fallback []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = f.fallback
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, embedder *fixedEmbedder) (*Engine, *database.DB, *vecindex.BadgerIndex) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := vecindex.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, db.UpsertWorkspaceConfig(model.WorkspaceConfig{
		WorkspaceID: "ws1", IndexName: "main", NamespaceName: "ws1",
		EmbeddingModel: "test", EmbeddingDim: 4,
	}))

	cache := wscache.New(db, time.Minute)
	return New(db, cache, embedder, idx, nil), db, idx
}

// seed persists an observation and its content-view vector.
func seed(t *testing.T, db *database.DB, idx *vecindex.BadgerIndex, o model.Observation, vec []float32) {
	t.Helper()
	o.WorkspaceID = "ws1"
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	}
	o.EmbeddingIDs = model.EmbeddingIDs{
		Title:   o.ID + ":title",
		Content: o.ID + ":content",
		Summary: o.ID + ":summary",
	}
	for i := range o.Entities {
		o.Entities[i].SourceObservationID = o.ID
		o.Entities[i].WorkspaceID = o.WorkspaceID
	}
	_, err := db.UpsertObservation(&o)
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), "ws1", []vecindex.Record{{
		ID:     o.EmbeddingIDs.Content,
		Vector: vec,
		Metadata: vecindex.Metadata{
			Layer:         vecindex.LayerObservation,
			View:          vecindex.ViewContent,
			Source:        o.Source,
			SourceType:    o.SourceType,
			OccurredAt:    o.OccurredAt,
			ObservationID: o.ID,
		},
	}})
	require.NoError(t, err)
}

// A mixed-source corpus yields one ranked list spanning sources, and
// reference data extracted at ingest survives to the search result.
func TestSearchMixedSources(t *testing.T) {
	embedder := &fixedEmbedder{
		vecs:     map[string][]float32{"checkout bug": {1, 0, 0, 0}},
		fallback: []float32{0, 1, 0, 0},
	}
	e, db, idx := newTestEngine(t, embedder)

	seed(t, db, idx, model.Observation{
		ID: "obs-gh", Source: "github", SourceType: "pull_request", SourceID: "pr-1",
		Title: "Fix checkout bug", Content: "Fixes #123 in the payment step.",
		Entities:         []model.Entity{{Key: "#123", Category: "pr_number"}},
		SourceReferences: []model.Reference{{Type: "issue", ID: "#123"}},
	}, []float32{0.9, 0.1, 0, 0})
	seed(t, db, idx, model.Observation{
		ID: "obs-vc", Source: "vercel", SourceType: "deployment", SourceID: "dep-1",
		Title: "Deploy checkout service", Content: "Production deployment of checkout.",
	}, []float32{0.8, 0.2, 0, 0})

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "checkout bug", Mode: model.ModeFast,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	sources := map[string]bool{}
	for _, r := range resp.Results {
		sources[r.Source] = true
	}
	assert.True(t, sources["github"] && sources["vercel"], "results: %+v", resp.Results)

	// The github result carries its parsed "Fixes #123" reference.
	var gh *model.SearchResult
	for i := range resp.Results {
		if resp.Results[i].Source == "github" {
			gh = &resp.Results[i]
		}
	}
	require.NotNil(t, gh)
	require.NotEmpty(t, gh.References)
	assert.Equal(t, "#123", gh.References[0].ID)
}

// An entity-key query surfaces observations the vector path misses, and
// boosts ones it already found.
func TestSearchEntityFusion(t *testing.T) {
	embedder := &fixedEmbedder{
		vecs:     map[string][]float32{"what happened with PROJ-42": {1, 0, 0, 0}},
		fallback: []float32{0, 1, 0, 0},
	}
	e, db, idx := newTestEngine(t, embedder)

	// Near the query vector AND carrying the entity: boosted.
	seed(t, db, idx, model.Observation{
		ID: "obs-both", Source: "github", SourceType: "pull_request", SourceID: "pr-1",
		Title: "Resolve PROJ-42", Content: "Closes PROJ-42.",
		Entities: []model.Entity{{Key: "PROJ-42", Category: "issue_key"}},
	}, []float32{0.7, 0.7, 0, 0})
	// Orthogonal to the query vector, found only through the entity key.
	seed(t, db, idx, model.Observation{
		ID: "obs-entity", Source: "linear", SourceType: "issue", SourceID: "iss-1",
		Title: "PROJ-42: checkout timeout", Content: "Customers report timeouts.",
		Entities: []model.Entity{{Key: "PROJ-42", Category: "issue_key"}},
	}, []float32{0, 0, 1, 0})

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "what happened with PROJ-42", Mode: model.ModeFast,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	byID := map[string]model.SearchResult{}
	for _, r := range resp.Results {
		byID[r.ID] = r
	}
	both, entity := byID["obs-both"], byID["obs-entity"]
	cos := 0.7 / 0.9899494936611665 // cosine((1,0,0,0),(0.7,0.7,0,0)) ≈ 0.7071
	assert.InDelta(t, cos+entityBoost, both.Score, 0.01, "vector hit with entity boost")
	assert.InDelta(t, entityMatchBase, entity.Score, 0.01, "entity-only hit at base score")
	assert.Greater(t, both.Score, entity.Score)
}

func TestSearchFilters(t *testing.T) {
	embedder := &fixedEmbedder{fallback: []float32{1, 0, 0, 0}}
	e, db, idx := newTestEngine(t, embedder)

	seed(t, db, idx, model.Observation{
		ID: "obs-gh", Source: "github", SourceType: "pull_request", SourceID: "pr-1",
		Title: "Fix checkout", Content: "fix",
	}, []float32{1, 0, 0, 0})
	seed(t, db, idx, model.Observation{
		ID: "obs-vc", Source: "vercel", SourceType: "deployment", SourceID: "dep-1",
		Title: "Deploy checkout", Content: "deploy",
	}, []float32{1, 0, 0, 0})

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "checkout", Mode: model.ModeFast,
		Filters: model.SearchFilters{SourceTypes: []string{"vercel"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "obs-vc", resp.Results[0].ID)
}

func TestSearchThresholdAndLimit(t *testing.T) {
	embedder := &fixedEmbedder{fallback: []float32{1, 0, 0, 0}}
	e, db, idx := newTestEngine(t, embedder)

	seed(t, db, idx, model.Observation{
		ID: "obs-near", Source: "github", SourceType: "push", SourceID: "c1",
		Title: "near", Content: "near",
	}, []float32{1, 0, 0, 0})
	seed(t, db, idx, model.Observation{
		ID: "obs-far", Source: "github", SourceType: "push", SourceID: "c2",
		Title: "far", Content: "far",
	}, []float32{0.7, 0.7, 0, 0})

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "near", Mode: model.ModeFast, Threshold: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "obs-near", resp.Results[0].ID)

	resp, err = e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "near", Mode: model.ModeFast, Limit: 1,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Meta.Total)
}

func TestSearchUnconfiguredWorkspace(t *testing.T) {
	e, _, _ := newTestEngine(t, &fixedEmbedder{fallback: []float32{1, 0, 0, 0}})

	_, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws-unknown", Query: "anything",
	})
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSearchValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, &fixedEmbedder{fallback: []float32{1, 0, 0, 0}})

	_, err := e.Search(context.Background(), model.SearchRequest{WorkspaceID: "ws1", Query: "  "})
	var valErr *model.ValidationError
	require.ErrorAs(t, err, &valErr)

	_, err = e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "ok", Mode: "exhaustive",
	})
	require.ErrorAs(t, err, &valErr)
}

// failingIndex errors on every query, standing in for a vector store
// outage.
type failingIndex struct {
	vecindex.Index
}

func (f *failingIndex) Query(context.Context, string, []float32, int, vecindex.Filter) ([]vecindex.Match, error) {
	return nil, errors.New("index unavailable")
}

// A failing path degrades the response instead of failing it: the entity
// path still answers when the vector and cluster paths error.
func TestSearchPathFailureIsolation(t *testing.T) {
	embedder := &fixedEmbedder{fallback: []float32{1, 0, 0, 0}}
	e, db, idx := newTestEngine(t, embedder)

	seed(t, db, idx, model.Observation{
		ID: "obs-1", Source: "github", SourceType: "issue", SourceID: "iss-1",
		Title: "PROJ-7 flaky deploys", Content: "Tracking PROJ-7.",
		Entities: []model.Entity{{Key: "PROJ-7", Category: "issue_key"}},
	}, []float32{1, 0, 0, 0})

	e.index = &failingIndex{}

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "status of PROJ-7", Mode: model.ModeBalanced,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "obs-1", resp.Results[0].ID)
}

func TestSearchAllPathsEmpty(t *testing.T) {
	e, _, _ := newTestEngine(t, &fixedEmbedder{fallback: []float32{1, 0, 0, 0}})
	e.index = &failingIndex{}

	resp, err := e.Search(context.Background(), model.SearchRequest{
		WorkspaceID: "ws1", Query: "nothing matches this", Mode: model.ModeFast,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, model.ModeFast, resp.Meta.Mode)
}

package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
)

// FindSimilar returns observations whose content vectors sit near an
// existing observation's, identified by id or url. The source observation
// itself is always excluded.
func (e *Engine) FindSimilar(ctx context.Context, req model.SimilarRequest) (*model.SimilarResponse, error) {
	start := time.Now()

	if req.ID == "" && req.URL == "" {
		return nil, &model.ValidationError{Field: "id", Msg: "id or url required"}
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

	var source *model.Observation
	if req.ID != "" {
		source, err = e.db.GetObservation(req.WorkspaceID, req.ID)
	} else {
		source, err = e.db.GetObservationByURL(req.WorkspaceID, req.URL)
	}
	if err != nil {
		return nil, err
	}

	record, err := e.index.Fetch(ctx, ns, source.EmbeddingIDs.Content)
	if err != nil {
		return nil, fmt.Errorf("loading source vector: %w", err)
	}
	if record == nil {
		return nil, &model.NotFoundError{Kind: "embedding", ID: source.EmbeddingIDs.Content}
	}

	filter := vecindex.Filter{Layer: vecindex.LayerObservation, View: vecindex.ViewContent}
	if req.SameSourceOnly {
		filter.Sources = []string{source.Source}
	}
	// Over-fetch: the source itself and excluded ids come back too.
	matches, err := e.index.Query(ctx, ns, record.Vector, limit+len(req.ExcludeIDs)+5, filter)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}

	excluded := make(map[string]bool, len(req.ExcludeIDs)+1)
	excluded[source.ID] = true
	for _, id := range req.ExcludeIDs {
		excluded[id] = true
	}

	kept := make([]vecindex.Match, 0, limit)
	ids := make([]string, 0, limit)
	for _, m := range matches {
		obsID := m.Metadata.ObservationID
		if obsID == "" || excluded[obsID] {
			continue
		}
		if req.Threshold > 0 && m.Similarity < req.Threshold {
			continue
		}
		kept = append(kept, m)
		ids = append(ids, obsID)
		if len(kept) == limit {
			break
		}
	}

	observations, err := e.db.GetObservationsByIDs(req.WorkspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading neighbors: %w", err)
	}
	byID := make(map[string]*model.Observation, len(observations))
	for i := range observations {
		byID[observations[i].ID] = &observations[i]
	}

	similar := make([]model.SimilarResult, 0, len(kept))
	for _, m := range kept {
		o, ok := byID[m.Metadata.ObservationID]
		if !ok {
			continue
		}
		similar = append(similar, model.SimilarResult{
			SearchResult:     toSearchResult(o, m.Similarity),
			VectorSimilarity: m.Similarity,
			SameCluster:      o.ClusterID != "" && o.ClusterID == source.ClusterID,
		})
	}

	return &model.SimilarResponse{
		Source:  toSearchResult(source, 1),
		Similar: similar,
		Meta: model.SearchMeta{
			Total:  len(similar),
			TookMS: time.Since(start).Milliseconds(),
		},
	}, nil
}

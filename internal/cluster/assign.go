// Package cluster assigns observations to topic clusters by
// nearest-centroid search, creating a new singleton cluster when nothing
// is close enough. Centroids are fixed at creation time.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
)

// DefaultSimilarityThreshold is the minimum centroid similarity for an
// observation to join an existing cluster.
const DefaultSimilarityThreshold = 0.78

// Store is the relational side of cluster assignment.
type Store interface {
	InsertCluster(c *model.Cluster) error
	IncrementClusterCount(workspaceID, clusterID string) error
}

// Assigner performs nearest-centroid cluster assignment.
type Assigner struct {
	store     Store
	index     vecindex.Index
	threshold float64
}

// NewAssigner creates an assigner. threshold <= 0 uses the default.
func NewAssigner(store Store, index vecindex.Index, threshold float64) *Assigner {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Assigner{store: store, index: index, threshold: threshold}
}

// Assign finds the nearest cluster centroid for the observation's
// content-view embedding. Above the threshold the observation joins that
// cluster; otherwise a new singleton cluster is created around it.
func (a *Assigner) Assign(ctx context.Context, o *model.Observation, namespace string, contentVec []float32) (string, error) {
	matches, err := a.index.Query(ctx, namespace, contentVec, 1, vecindex.Filter{Layer: vecindex.LayerCluster})
	if err != nil {
		return "", fmt.Errorf("centroid search: %w", err)
	}

	if len(matches) > 0 && matches[0].Similarity >= a.threshold {
		clusterID := matches[0].Metadata.ClusterID
		err := a.store.IncrementClusterCount(o.WorkspaceID, clusterID)
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			// Orphan centroid from an interrupted creation: the vector
			// landed but the row insert failed. Recreate the row around
			// the existing centroid instead of joining a ghost.
			if err := a.store.InsertCluster(a.newCluster(o, clusterID, matches[0].ID)); err != nil {
				return "", fmt.Errorf("recreating cluster: %w", err)
			}
			return clusterID, nil
		}
		if err != nil {
			return "", fmt.Errorf("incrementing cluster count: %w", err)
		}
		return clusterID, nil
	}

	return a.createCluster(ctx, o, namespace, contentVec)
}

// newCluster builds the singleton cluster row for an observation, labeled
// from its title keywords.
func (a *Assigner) newCluster(o *model.Observation, id, centroidEmbeddingID string) *model.Cluster {
	keywords := topicKeywords(o.Title, 3)
	label := strings.Join(keywords, " ")
	if label == "" {
		label = truncateLabel(o.Title, 50)
	}
	return &model.Cluster{
		ID:                  id,
		WorkspaceID:         o.WorkspaceID,
		TopicLabel:          label,
		Summary:             o.Title,
		Keywords:            keywords,
		ObservationCount:    1,
		CentroidEmbeddingID: centroidEmbeddingID,
	}
}

func (a *Assigner) createCluster(ctx context.Context, o *model.Observation, namespace string, contentVec []float32) (string, error) {
	c := a.newCluster(o, uuid.NewString(), "centroid-"+uuid.NewString())

	// Centroid record first: a failure between the two writes leaves an
	// orphan centroid, and the next assignment that matches it recreates
	// the row in Assign.
	err := a.index.Upsert(ctx, namespace, []vecindex.Record{{
		ID:     c.CentroidEmbeddingID,
		Vector: contentVec,
		Metadata: vecindex.Metadata{
			Layer:     vecindex.LayerCluster,
			ClusterID: c.ID,
			Snippet:   c.TopicLabel,
		},
	}})
	if err != nil {
		return "", fmt.Errorf("storing centroid: %w", err)
	}

	if err := a.store.InsertCluster(c); err != nil {
		return "", fmt.Errorf("inserting cluster: %w", err)
	}
	return c.ID, nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "can": true, "to": true, "of": true, "in": true,
	"for": true, "on": true, "with": true, "at": true, "by": true, "from": true,
	"as": true, "into": true, "and": true, "but": true, "or": true, "not": true,
	"this": true, "that": true, "these": true, "those": true, "it": true, "its": true,
	"new": true, "about": true, "up": true, "out": true, "fix": true, "fixes": true,
	"add": true, "adds": true, "update": true, "updates": true,
}

// topicKeywords picks the most frequent non-stopword title words as the
// cluster label, preserving first-seen order among ties.
func topicKeywords(title string, max int) []string {
	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(strings.ToLower(title)) {
		word = strings.Trim(word, ".,!?:;\"'()-[]`")
		if len(word) <= 2 || stopWords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	var out []string
	for len(out) < max {
		best := ""
		bestCount := 0
		for _, w := range order {
			if counts[w] > bestCount {
				best = w
				bestCount = counts[w]
			}
		}
		if best == "" {
			break
		}
		counts[best] = 0
		out = append(out, best)
	}
	return out
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Package vecindex defines the vector index used for multi-view
// observation embeddings and cluster centroids, partitioned by workspace
// namespace.
package vecindex

import (
	"context"
	"time"
)

// Record layers. Observations and cluster centroids share one namespace
// and are told apart by the layer field.
const (
	LayerObservation = "observation"
	LayerCluster     = "cluster"
)

// Embedding views.
const (
	ViewTitle   = "title"
	ViewContent = "content"
	ViewSummary = "summary"
)

// Metadata travels with every vector record.
type Metadata struct {
	Layer         string    `json:"layer"`
	View          string    `json:"view,omitempty"`
	Source        string    `json:"source,omitempty"`
	SourceType    string    `json:"source_type,omitempty"`
	Snippet       string    `json:"snippet,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitzero"`
	ObservationID string    `json:"observation_id,omitempty"`
	ClusterID     string    `json:"cluster_id,omitempty"`
}

// Record is one stored vector with its metadata.
type Record struct {
	ID       string   `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata `json:"metadata"`
}

// Filter narrows a query to matching records. Zero values mean "any";
// slice filters match when the record value is in the slice.
type Filter struct {
	Layer       string
	View        string
	Sources     []string
	SourceTypes []string
}

// Match is one query hit.
type Match struct {
	Record
	Similarity float64
}

// Index is the vector index client. Implementations must be safe for
// concurrent use.
type Index interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Fetch(ctx context.Context, namespace, id string) (*Record, error)
	Query(ctx context.Context, namespace string, vector []float32, topK int, f Filter) ([]Match, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Close() error
}

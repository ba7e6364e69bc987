package cluster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
)

func newTestAssigner(t *testing.T, threshold float64) (*Assigner, *database.DB, *vecindex.BadgerIndex) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	idx, err := vecindex.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return NewAssigner(db, idx, threshold), db, idx
}

func TestAssignCreatesSingletonCluster(t *testing.T) {
	a, db, _ := newTestAssigner(t, 0.8)
	o := &model.Observation{ID: "obs-1", WorkspaceID: "ws1", Title: "Checkout payment timeout bug"}

	clusterID, err := a.Assign(context.Background(), o, "ws1", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if clusterID == "" {
		t.Fatal("expected a new cluster id")
	}

	c, err := db.GetCluster("ws1", clusterID)
	if err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	if c.ObservationCount != 1 {
		t.Errorf("expected singleton, got count %d", c.ObservationCount)
	}
	if c.TopicLabel == "" {
		t.Error("expected a topic label")
	}
}

func TestAssignJoinsNearbyCluster(t *testing.T) {
	a, db, _ := newTestAssigner(t, 0.8)
	ctx := context.Background()

	first := &model.Observation{ID: "obs-1", WorkspaceID: "ws1", Title: "Checkout payment timeout"}
	clusterID, err := a.Assign(ctx, first, "ws1", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}

	second := &model.Observation{ID: "obs-2", WorkspaceID: "ws1", Title: "Payment timeout again"}
	got, err := a.Assign(ctx, second, "ws1", []float32{0.99, 0.01, 0})
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if got != clusterID {
		t.Errorf("expected join of %s, got %s", clusterID, got)
	}

	c, _ := db.GetCluster("ws1", clusterID)
	if c.ObservationCount != 2 {
		t.Errorf("expected count 2, got %d", c.ObservationCount)
	}
}

func TestAssignBelowThresholdCreatesNewCluster(t *testing.T) {
	a, _, _ := newTestAssigner(t, 0.8)
	ctx := context.Background()

	first := &model.Observation{ID: "obs-1", WorkspaceID: "ws1", Title: "Checkout bug"}
	c1, _ := a.Assign(ctx, first, "ws1", []float32{1, 0, 0})

	second := &model.Observation{ID: "obs-2", WorkspaceID: "ws1", Title: "Docs typo"}
	c2, err := a.Assign(ctx, second, "ws1", []float32{0, 0, 1})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c1 == c2 {
		t.Error("orthogonal embeddings should not share a cluster")
	}
}

type flakyStore struct {
	Store
	failInserts int
}

func (s *flakyStore) InsertCluster(c *model.Cluster) error {
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("disk full")
	}
	return s.Store.InsertCluster(c)
}

// An InsertCluster failure after the centroid write leaves an orphan
// centroid. The retry must end with a real cluster row, not a ghost id
// whose count update touches nothing.
func TestAssignRecoversFromInterruptedCreation(t *testing.T) {
	_, db, idx := newTestAssigner(t, 0.8)
	a := NewAssigner(&flakyStore{Store: db, failInserts: 1}, idx, 0.8)
	ctx := context.Background()

	o := &model.Observation{ID: "obs-1", WorkspaceID: "ws1", Title: "Checkout payment timeout"}
	if _, err := a.Assign(ctx, o, "ws1", []float32{1, 0, 0}); err == nil {
		t.Fatal("expected first assign to fail")
	}

	clusterID, err := a.Assign(ctx, o, "ws1", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("retry assign: %v", err)
	}

	c, err := db.GetCluster("ws1", clusterID)
	if err != nil {
		t.Fatalf("cluster row missing after retry: %v", err)
	}
	if c.ObservationCount != 1 {
		t.Errorf("expected recreated singleton, got count %d", c.ObservationCount)
	}

	// Later similar observations join the recovered cluster normally.
	second := &model.Observation{ID: "obs-2", WorkspaceID: "ws1", Title: "Payment timeout again"}
	got, err := a.Assign(ctx, second, "ws1", []float32{0.99, 0.01, 0})
	if err != nil {
		t.Fatalf("join after recovery: %v", err)
	}
	if got != clusterID {
		t.Errorf("expected join of %s, got %s", clusterID, got)
	}
	c, _ = db.GetCluster("ws1", clusterID)
	if c.ObservationCount != 2 {
		t.Errorf("expected count 2, got %d", c.ObservationCount)
	}
}

func TestTopicKeywords(t *testing.T) {
	got := topicKeywords("Payment payment timeout in the checkout flow", 3)
	if len(got) == 0 || got[0] != "payment" {
		t.Errorf("expected most frequent word first, got %v", got)
	}
	for _, w := range got {
		if stopWords[w] {
			t.Errorf("stopword %q in keywords", w)
		}
	}
}

func TestTopicKeywordsEmptyTitle(t *testing.T) {
	if got := topicKeywords("the of and", 3); len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}

// Package pipeline drives one source event through the ingestion stage
// chain: extract entities, score, classify, resolve actor, embed three
// views, assign a cluster, and persist. Events are processed concurrently
// with a per-workspace in-flight bound.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hindsight-dev/hindsight/internal/actor"
	"github.com/hindsight-dev/hindsight/internal/classify"
	"github.com/hindsight-dev/hindsight/internal/cluster"
	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/extract"
	"github.com/hindsight-dev/hindsight/internal/llm"
	"github.com/hindsight-dev/hindsight/internal/metrics"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/score"
	"github.com/hindsight-dev/hindsight/internal/snippet"
	"github.com/hindsight-dev/hindsight/internal/temporal"
	"github.com/hindsight-dev/hindsight/internal/vecindex"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

const (
	// MaxInFlightPerWorkspace bounds concurrent pipelines per workspace
	// to respect embedding-provider rate limits.
	MaxInFlightPerWorkspace = 10

	retryAttempts = 3
	retryBackoff  = 250 * time.Millisecond
)

// stateHandler derives a temporal state transition from an observation,
// or returns false when the event carries no trackable state.
type stateHandler func(o *model.Observation) (temporal.ChangeInput, bool)

// Pipeline orchestrates the ingestion stage chain.
type Pipeline struct {
	db       *database.DB
	cache    *wscache.Cache
	embedder llm.Embedder
	index    vecindex.Index
	assigner *cluster.Assigner
	resolver *actor.Resolver
	tracker  *temporal.Tracker

	// Per-source-type temporal state derivation, closed over at startup.
	stateHandlers map[string]stateHandler

	mu   sync.Mutex
	sems map[string]chan struct{}
}

// New wires a pipeline from its collaborators.
func New(db *database.DB, cache *wscache.Cache, embedder llm.Embedder, index vecindex.Index, clusterThreshold float64) *Pipeline {
	p := &Pipeline{
		db:       db,
		cache:    cache,
		embedder: embedder,
		index:    index,
		assigner: cluster.NewAssigner(db, index, clusterThreshold),
		resolver: actor.NewResolver(db),
		tracker:  temporal.NewTracker(db),
		sems:     make(map[string]chan struct{}),
	}
	p.stateHandlers = map[string]stateHandler{
		"deployment":        deploymentState,
		"deployment_failed": deploymentState,
		"release_published": releaseState,
		"issue":             issueState,
		"pull_request":      pullRequestState,
	}
	return p
}

// Process runs one event through the full stage chain. Replaying the same
// (workspaceID, sourceID) is idempotent: the existing observation is
// updated in place, never duplicated. Once the raw payload is persisted
// the pipeline ignores caller cancellation; a stage either completes,
// retries, or dead-letters.
func (p *Pipeline) Process(ctx context.Context, ev model.SourceEvent) (*model.Observation, error) {
	start := time.Now()

	if err := validate(ev); err != nil {
		return nil, err
	}
	deliveryID := ev.DeliveryID
	if deliveryID == "" {
		deliveryID = ev.SourceID
	}

	// Raw payload lands in the audit store before any stage runs, so
	// every later failure is recoverable by replay.
	rawPayload, err := json.Marshal(ev)
	if err != nil {
		return nil, &model.ValidationError{Msg: fmt.Sprintf("unencodable event: %v", err)}
	}
	if err := p.db.InsertWebhookPayload(model.WebhookPayload{
		WorkspaceID: ev.WorkspaceID,
		DeliveryID:  deliveryID,
		Payload:     string(rawPayload),
	}); err != nil {
		return nil, fmt.Errorf("persisting raw payload: %w", err)
	}

	release := p.acquire(ev.WorkspaceID)
	defer release()

	ctx = context.WithoutCancel(ctx)

	o, duplicate, err := p.run(ctx, ev)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(ev.Source, "dead_letter").Inc()
		if statusErr := p.db.SetWebhookStatus(ev.WorkspaceID, deliveryID, "failed", err.Error()); statusErr != nil {
			slog.Error("marking delivery failed", "delivery", deliveryID, "error", statusErr)
		}
		return nil, err
	}

	if err := p.db.SetWebhookStatus(ev.WorkspaceID, deliveryID, "processed", ""); err != nil {
		slog.Error("marking delivery processed", "delivery", deliveryID, "error", err)
	}
	outcome := "processed"
	if duplicate {
		outcome = "duplicate"
	}
	metrics.EventsIngested.WithLabelValues(ev.Source, outcome).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	return o, nil
}

// run executes the stage chain. duplicate reports that the event's
// sourceId was already observed and the existing observation was updated
// in place.
func (p *Pipeline) run(ctx context.Context, ev model.SourceEvent) (o *model.Observation, duplicate bool, err error) {
	cfg, err := p.cache.Get(ev.WorkspaceID)
	if err != nil {
		return nil, false, fmt.Errorf("reading workspace config: %w", err)
	}
	if cfg == nil {
		return nil, false, &model.ConfigError{WorkspaceID: ev.WorkspaceID, Msg: "no search configuration"}
	}

	// Reuse the existing id on replays so vector records are overwritten
	// in place instead of orphaned. The prior cluster assignment is kept
	// too; re-assigning would bump the member count twice.
	obsID, err := p.db.GetObservationIDBySourceID(ev.WorkspaceID, ev.SourceID)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	duplicate = obsID != ""
	var priorClusterID string
	if obsID == "" {
		obsID = uuid.NewString()
	} else if prev, prevErr := p.db.GetObservation(ev.WorkspaceID, obsID); prevErr == nil && prev != nil {
		priorClusterID = prev.ClusterID
	}

	// Pure stages: no I/O, never fail.
	scored := score.Event(ev)
	classified := classify.Text(ev.Title + "\n" + ev.Body)
	entities := extract.FromEvent(ev)
	plainBody := snippet.PlainText(ev.Body)
	summary := snippet.Summary(ev.Title, ev.Body)

	resolution := p.resolver.Resolve(ev.WorkspaceID, ev.Source, ev.Actor)

	o = &model.Observation{
		ID:                obsID,
		WorkspaceID:       ev.WorkspaceID,
		Source:            ev.Source,
		SourceType:        ev.SourceType,
		SourceID:          ev.SourceID,
		Title:             ev.Title,
		Content:           plainBody,
		URL:               ev.URL,
		OccurredAt:        ev.OccurredAt,
		SignificanceScore: scored.Score,
		ScoreFactors:      scored.Factors,
		Topics:            classified.Topics(),
		Entities:          entities,
		SourceReferences:  ev.References,
		EmbeddingIDs: model.EmbeddingIDs{
			Title:   obsID + ":title",
			Content: obsID + ":content",
			Summary: obsID + ":summary",
		},
		Actor:    resolution,
		RawActor: ev.Actor,
		Metadata: ev.Metadata,
	}
	for i := range o.Entities {
		o.Entities[i].SourceObservationID = o.ID
		o.Entities[i].WorkspaceID = o.WorkspaceID
	}

	// Embed all three views in one batched call; either all views
	// succeed or the event retries as a unit.
	var vectors [][]float32
	err = retryStage("embed", func() error {
		var embedErr error
		vectors, embedErr = p.embedder.Embed(ctx, []string{o.Title, embedText(o), summary})
		return embedErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("embedding views: %w", err)
	}
	if len(vectors) != 3 {
		return nil, false, &model.UpstreamError{Service: "embedder", Err: fmt.Errorf("expected 3 vectors, got %d", len(vectors))}
	}

	ns := cfg.NamespaceName
	records := []vecindex.Record{
		viewRecord(o, vecindex.ViewTitle, o.EmbeddingIDs.Title, vectors[0]),
		viewRecord(o, vecindex.ViewContent, o.EmbeddingIDs.Content, vectors[1]),
		viewRecord(o, vecindex.ViewSummary, o.EmbeddingIDs.Summary, vectors[2]),
	}
	err = retryStage("vector_upsert", func() error {
		return p.index.Upsert(ctx, ns, records)
	})
	if err != nil {
		return nil, false, fmt.Errorf("storing vectors: %w", err)
	}

	if priorClusterID != "" {
		o.ClusterID = priorClusterID
	} else {
		err = retryStage("cluster_assign", func() error {
			clusterID, assignErr := p.assigner.Assign(ctx, o, ns, vectors[1])
			if assignErr != nil {
				return assignErr
			}
			o.ClusterID = clusterID
			return nil
		})
	}
	if err != nil {
		return nil, false, fmt.Errorf("assigning cluster: %w", err)
	}

	err = retryStage("persist", func() error {
		_, upsertErr := p.db.UpsertObservation(o)
		return upsertErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("persisting observation: %w", err)
	}

	p.applySideEffects(o)
	return o, duplicate, nil
}

// applySideEffects updates actor activity and temporal state. Both are
// best-effort: the observation is already durable.
func (p *Pipeline) applySideEffects(o *model.Observation) {
	if o.Actor.ResolvedUserID != "" {
		if err := p.db.RecordActorActivity(o.WorkspaceID, o.Actor.ResolvedUserID, o.OccurredAt, o.Topics); err != nil {
			slog.Warn("recording actor activity", "observation", o.ID, "error", err)
		}
	}

	handler, ok := p.stateHandlers[o.SourceType]
	if !ok {
		return
	}
	in, ok := handler(o)
	if !ok {
		return
	}
	in.WorkspaceID = o.WorkspaceID
	in.ChangedByActorID = o.Actor.ResolvedUserID
	in.SourceObservationID = o.ID
	in.ValidFrom = o.OccurredAt
	if _, err := p.tracker.RecordStateChange(in); err != nil {
		slog.Warn("recording state change", "observation", o.ID, "error", err)
	}
}

// ReplayResult summarizes one replay run over dead-lettered deliveries.
type ReplayResult struct {
	Replayed int
	Failed   int
}

// ReplayFailed reprocesses every dead-lettered delivery for a workspace
// from the audit store.
func (p *Pipeline) ReplayFailed(ctx context.Context, workspaceID string) (*ReplayResult, error) {
	failed, err := p.db.ListFailedWebhooks(workspaceID)
	if err != nil {
		return nil, err
	}

	r := &ReplayResult{}
	for _, wp := range failed {
		var ev model.SourceEvent
		if err := json.Unmarshal([]byte(wp.Payload), &ev); err != nil {
			slog.Error("undecodable audit payload", "delivery", wp.DeliveryID, "error", err)
			r.Failed++
			continue
		}
		if _, err := p.Process(ctx, ev); err != nil {
			slog.Warn("replay failed", "delivery", wp.DeliveryID, "error", err)
			r.Failed++
			continue
		}
		r.Replayed++
	}
	return r, nil
}

func (p *Pipeline) acquire(workspaceID string) func() {
	p.mu.Lock()
	sem, ok := p.sems[workspaceID]
	if !ok {
		sem = make(chan struct{}, MaxInFlightPerWorkspace)
		p.sems[workspaceID] = sem
	}
	p.mu.Unlock()

	sem <- struct{}{}
	return func() { <-sem }
}

// retryStage retries an I/O stage with linear backoff. Config and
// validation errors are never retried; everything else gets
// retryAttempts tries before the event dead-letters.
func retryStage(stage string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var cfgErr *model.ConfigError
		var valErr *model.ValidationError
		if errors.As(err, &cfgErr) || errors.As(err, &valErr) {
			return err
		}
		if attempt < retryAttempts {
			metrics.StageRetries.WithLabelValues(stage).Inc()
			slog.Warn("stage retry", "stage", stage, "attempt", attempt, "error", err)
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}
	return err
}

func validate(ev model.SourceEvent) error {
	switch {
	case ev.WorkspaceID == "":
		return &model.ValidationError{Field: "workspace_id", Msg: "required"}
	case ev.SourceID == "":
		return &model.ValidationError{Field: "source_id", Msg: "required"}
	case ev.Source == "":
		return &model.ValidationError{Field: "source", Msg: "required"}
	case ev.Title == "":
		return &model.ValidationError{Field: "title", Msg: "required"}
	}
	return nil
}

// embedText is the content-view embedding input: title plus plain body.
func embedText(o *model.Observation) string {
	if o.Content == "" {
		return o.Title
	}
	return o.Title + "\n" + snippet.Truncate(o.Content, 2000)
}

func viewRecord(o *model.Observation, view, id string, vec []float32) vecindex.Record {
	return vecindex.Record{
		ID:     id,
		Vector: vec,
		Metadata: vecindex.Metadata{
			Layer:         vecindex.LayerObservation,
			View:          view,
			Source:        o.Source,
			SourceType:    o.SourceType,
			Snippet:       snippet.Truncate(o.Content, 200),
			OccurredAt:    o.OccurredAt,
			ObservationID: o.ID,
		},
	}
}

func deploymentState(o *model.Observation) (temporal.ChangeInput, bool) {
	md := o.Metadata.Deployment
	if md == nil || md.Status == "" {
		return temporal.ChangeInput{}, false
	}
	entityID := md.Project
	if entityID == "" {
		entityID = o.Source
	}
	if md.Environment != "" {
		entityID += ":" + md.Environment
	}
	return temporal.ChangeInput{
		EntityType: "deployment",
		EntityID:   entityID,
		StateType:  "status",
		StateValue: md.Status,
	}, true
}

func releaseState(o *model.Observation) (temporal.ChangeInput, bool) {
	md := o.Metadata.Release
	if md == nil || md.Tag == "" {
		return temporal.ChangeInput{}, false
	}
	return temporal.ChangeInput{
		EntityType: "release",
		EntityID:   o.Source,
		StateType:  "version",
		StateValue: md.Tag,
	}, true
}

func issueState(o *model.Observation) (temporal.ChangeInput, bool) {
	md := o.Metadata.Issue
	if md == nil || md.State == "" {
		return temporal.ChangeInput{}, false
	}
	return temporal.ChangeInput{
		EntityType: "issue",
		EntityID:   fmt.Sprintf("#%d", md.Number),
		StateType:  "status",
		StateValue: md.State,
	}, true
}

func pullRequestState(o *model.Observation) (temporal.ChangeInput, bool) {
	md := o.Metadata.PullRequest
	if md == nil || md.State == "" {
		return temporal.ChangeInput{}, false
	}
	return temporal.ChangeInput{
		EntityType: "pull_request",
		EntityID:   fmt.Sprintf("#%d", md.Number),
		StateType:  "status",
		StateValue: md.State,
	}, true
}

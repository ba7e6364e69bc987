// Package model holds the shared data model for the ingestion pipeline
// and the retrieval engine.
package model

import "time"

// SourceActor is the raw actor attached to an incoming event, exactly as
// the provider sent it.
type SourceActor struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Reference is a typed, directed edge from an event or observation to
// another resource (issue, pull request, commit, deployment, ...).
type Reference struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	URL   string `json:"url,omitempty"`
	Label string `json:"label,omitempty"`
}

// SourceEvent is the normalized input form of a provider webhook. It is
// already authenticated and workspace-resolved by the webhook collaborator;
// (WorkspaceID, SourceID) is the idempotency key for the whole pipeline.
type SourceEvent struct {
	WorkspaceID string        `json:"workspace_id"`
	Source      string        `json:"source"`      // "github", "vercel", "linear", ...
	SourceType  string        `json:"source_type"` // "push", "pull_request", "deployment", ...
	SourceID    string        `json:"source_id"`
	DeliveryID  string        `json:"delivery_id,omitempty"`
	Title       string        `json:"title"`
	Body        string        `json:"body,omitempty"`
	URL         string        `json:"url,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
	Actor       SourceActor   `json:"actor"`
	References  []Reference   `json:"references,omitempty"`
	Metadata    EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata carries per-source-type fields as explicit optional
// sub-structs rather than a free-form JSON bag. Exactly the sub-struct
// matching SourceType is expected to be set.
type EventMetadata struct {
	Commit      *CommitMeta      `json:"commit,omitempty"`
	PullRequest *PullRequestMeta `json:"pull_request,omitempty"`
	Issue       *IssueMeta       `json:"issue,omitempty"`
	Deployment  *DeploymentMeta  `json:"deployment,omitempty"`
	Release     *ReleaseMeta     `json:"release,omitempty"`
	Discussion  *DiscussionMeta  `json:"discussion,omitempty"`
}

type CommitMeta struct {
	SHA          string `json:"sha"`
	Branch       string `json:"branch,omitempty"`
	FilesChanged int    `json:"files_changed,omitempty"`
	Additions    int    `json:"additions,omitempty"`
	Deletions    int    `json:"deletions,omitempty"`
}

type PullRequestMeta struct {
	Number    int    `json:"number"`
	State     string `json:"state,omitempty"` // "open", "merged", "closed"
	BaseRef   string `json:"base_ref,omitempty"`
	HeadRef   string `json:"head_ref,omitempty"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

type IssueMeta struct {
	Number int      `json:"number"`
	State  string   `json:"state,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

type DeploymentMeta struct {
	Environment string `json:"environment,omitempty"` // "production", "preview", ...
	Status      string `json:"status,omitempty"`      // "succeeded", "failed", ...
	Project     string `json:"project,omitempty"`
}

type ReleaseMeta struct {
	Tag        string `json:"tag"`
	Prerelease bool   `json:"prerelease,omitempty"`
}

type DiscussionMeta struct {
	Category string `json:"category,omitempty"`
	Answered bool   `json:"answered,omitempty"`
}

// ActorResolution records how (and how confidently) a raw source actor was
// mapped to a canonical workspace identity. Method is one of "identity_link",
// "email", "heuristic", "unresolved".
type ActorResolution struct {
	ResolvedUserID string  `json:"resolved_user_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	Method         string  `json:"method"`
}

// EmbeddingIDs holds the vector-index record IDs for the three views of
// one observation.
type EmbeddingIDs struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// Observation is the canonical record of one ingested engineering event
// after scoring, classification, entity extraction, embedding, and
// cluster assignment.
type Observation struct {
	ID                string          `json:"id"`
	WorkspaceID       string          `json:"workspace_id"`
	Source            string          `json:"source"`
	SourceType        string          `json:"source_type"`
	SourceID          string          `json:"source_id"`
	Title             string          `json:"title"`
	Content           string          `json:"content"`
	URL               string          `json:"url,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	SignificanceScore int             `json:"significance_score"`
	ScoreFactors      []string        `json:"score_factors,omitempty"`
	Topics            []string        `json:"topics"` // primary first, then secondaries
	Entities          []Entity        `json:"entities,omitempty"`
	SourceReferences  []Reference     `json:"source_references,omitempty"`
	EmbeddingIDs      EmbeddingIDs    `json:"embedding_ids"`
	ClusterID         string          `json:"cluster_id,omitempty"`
	Actor             ActorResolution `json:"actor"`
	RawActor          SourceActor     `json:"raw_actor"`
	Metadata          EventMetadata   `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Entity is one extracted cross-reference. Many per observation.
type Entity struct {
	Key                 string `json:"key"`
	Category            string `json:"category"` // "issue_key", "commit_sha", "pr_number", "branch"
	SourceObservationID string `json:"source_observation_id,omitempty"`
	WorkspaceID         string `json:"workspace_id,omitempty"`
}

// Cluster is a topic cluster of observations. The centroid is fixed at
// creation time; only ObservationCount changes afterwards.
type Cluster struct {
	ID                  string    `json:"id"`
	WorkspaceID         string    `json:"workspace_id"`
	TopicLabel          string    `json:"topic_label"`
	Summary             string    `json:"summary,omitempty"`
	Keywords            []string  `json:"keywords,omitempty"`
	ObservationCount    int       `json:"observation_count"`
	CentroidEmbeddingID string    `json:"centroid_embedding_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// ActorProfile is the canonical per-workspace actor record, updated
// incrementally as observations attribute activity to it.
type ActorProfile struct {
	ActorID          string    `json:"actor_id"`
	WorkspaceID      string    `json:"workspace_id"`
	DisplayName      string    `json:"display_name"`
	Email            string    `json:"email,omitempty"`
	ExpertiseDomains []string  `json:"expertise_domains,omitempty"`
	ObservationCount int       `json:"observation_count"`
	LastActiveAt     time.Time `json:"last_active_at"`
}

// ActorIdentity maps a per-source username to a canonical actor.
type ActorIdentity struct {
	ActorID        string `json:"actor_id"`
	WorkspaceID    string `json:"workspace_id"`
	Source         string `json:"source"`
	SourceUsername string `json:"source_username"`
}

// TemporalState is one SCD-2 row of bi-temporal entity state. For a given
// (workspace, entityType, entityID, stateType) key at most one row is
// current, and validity intervals never overlap.
type TemporalState struct {
	ID                  string     `json:"id"`
	WorkspaceID         string     `json:"workspace_id"`
	EntityType          string     `json:"entity_type"`
	EntityID            string     `json:"entity_id"`
	StateType           string     `json:"state_type"`
	StateValue          string     `json:"state_value"`
	PreviousValue       string     `json:"previous_value,omitempty"`
	ValidFrom           time.Time  `json:"valid_from"`
	ValidTo             *time.Time `json:"valid_to,omitempty"`
	IsCurrent           bool       `json:"is_current"`
	ChangedByActorID    string     `json:"changed_by_actor_id,omitempty"`
	SourceObservationID string     `json:"source_observation_id,omitempty"`
}

// WebhookPayload is the append-only audit record of a raw delivery,
// persisted before any pipeline stage runs. Status is one of "received",
// "processed", "failed".
type WebhookPayload struct {
	WorkspaceID string    `json:"workspace_id"`
	DeliveryID  string    `json:"delivery_id"`
	Headers     string    `json:"headers,omitempty"`
	Payload     string    `json:"payload"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// WorkspaceConfig holds the per-workspace index and model settings read
// through the config cache.
type WorkspaceConfig struct {
	WorkspaceID    string `json:"workspace_id"`
	IndexName      string `json:"index_name"`
	NamespaceName  string `json:"namespace_name"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
}

// Search modes. Mode controls depth, not algorithm.
const (
	ModeFast     = "fast"
	ModeBalanced = "balanced"
	ModeThorough = "thorough"
)

// SearchFilters narrow a search to particular sources, observation types,
// or actors.
type SearchFilters struct {
	SourceTypes      []string `json:"source_types,omitempty"`
	ObservationTypes []string `json:"observation_types,omitempty"`
	ActorNames       []string `json:"actor_names,omitempty"`
}

// SearchRequest is a retrieval query over one workspace.
type SearchRequest struct {
	WorkspaceID string        `json:"workspace_id"`
	Query       string        `json:"query"`
	Mode        string        `json:"mode,omitempty"`
	Limit       int           `json:"limit,omitempty"`
	Threshold   float64       `json:"threshold,omitempty"`
	Filters     SearchFilters `json:"filters,omitempty"`
}

// SearchResult is one fused, ranked hit.
type SearchResult struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	URL        string      `json:"url,omitempty"`
	Snippet    string      `json:"snippet,omitempty"`
	Score      float64     `json:"score"`
	Source     string      `json:"source"`
	Type       string      `json:"type"`
	OccurredAt *time.Time  `json:"occurred_at,omitempty"`
	Entities   []Entity    `json:"entities,omitempty"`
	References []Reference `json:"references,omitempty"`
}

// ClusterContext is supplementary cluster information attached to a
// response; it never alters per-result scores.
type ClusterContext struct {
	ID          string  `json:"id"`
	TopicLabel  string  `json:"topic_label"`
	Summary     string  `json:"summary,omitempty"`
	MemberCount int     `json:"member_count"`
	Similarity  float64 `json:"similarity"`
}

// ActorContext is supplementary actor information attached to a response.
type ActorContext struct {
	ActorID          string   `json:"actor_id"`
	DisplayName      string   `json:"display_name"`
	ExpertiseDomains []string `json:"expertise_domains,omitempty"`
	ObservationCount int      `json:"observation_count"`
}

// SearchContext bundles the non-ranking paths' contributions.
type SearchContext struct {
	Clusters       []ClusterContext `json:"clusters,omitempty"`
	RelevantActors []ActorContext   `json:"relevant_actors,omitempty"`
}

// SearchMeta describes how a response was produced.
type SearchMeta struct {
	Total  int    `json:"total"`
	TookMS int64  `json:"took_ms"`
	Mode   string `json:"mode"`
}

// SearchResponse is the fused, ranked answer to one SearchRequest.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Meta    SearchMeta     `json:"meta"`
	Context *SearchContext `json:"context,omitempty"`
}

// SimilarRequest asks for observations near an existing one, identified
// by id or url.
type SimilarRequest struct {
	WorkspaceID    string   `json:"workspace_id"`
	ID             string   `json:"id,omitempty"`
	URL            string   `json:"url,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Threshold      float64  `json:"threshold,omitempty"`
	SameSourceOnly bool     `json:"same_source_only,omitempty"`
	ExcludeIDs     []string `json:"exclude_ids,omitempty"`
}

// SimilarResult is one neighbor, annotated with raw vector similarity and
// whether it shares the source observation's cluster.
type SimilarResult struct {
	SearchResult
	VectorSimilarity float64 `json:"vector_similarity"`
	SameCluster      bool    `json:"same_cluster"`
}

// SimilarResponse answers one SimilarRequest.
type SimilarResponse struct {
	Source  SearchResult    `json:"source"`
	Similar []SimilarResult `json:"similar"`
	Meta    SearchMeta      `json:"meta"`
}

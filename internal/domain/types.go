// Package domain defines the core data model shared across the pipeline:
// collector configuration, the raw/ingested/semantic document shapes, and
// pipeline request/state types. It is the validation gate at every pipeline
// entry point.
package domain

import "time"

// CollectorKind enumerates the supported collector backend kinds. Each kind
// carries its own credential/locator shape; the tag decides dispatch, there
// is no inheritance.
type CollectorKind string

const (
	CollectorObjectStore  CollectorKind = "object_store" // S3, GCS, Azure
	CollectorDrive        CollectorKind = "drive"         // Google Drive, OneDrive, Dropbox
	CollectorFileTree     CollectorKind = "file_tree"
	CollectorEmail        CollectorKind = "email" // IMAP
	CollectorIssueTracker CollectorKind = "issue_tracker"
	CollectorChat         CollectorKind = "chat"
	CollectorNews         CollectorKind = "news"
	CollectorCRM          CollectorKind = "crm"
	CollectorOSDU         CollectorKind = "osdu"
)

// CollectorConfig is a tagged union over backend kinds. It is immutable once
// registered; deletion happens by id list (ListCollectors/DeleteCollectors).
type CollectorConfig struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Kind CollectorKind `json:"kind"`

	// Locator/credentials, interpreted per Kind. Only the fields relevant to
	// Kind are expected to be set; unrelated fields are ignored.
	Bucket       string            `json:"bucket,omitempty"`       // object_store
	Region       string            `json:"region,omitempty"`       // object_store
	Prefix       string            `json:"prefix,omitempty"`       // object_store, drive
	RootPath     string            `json:"root_path,omitempty"`    // file_tree
	IMAPHost     string            `json:"imap_host,omitempty"`    // email
	Mailbox      string            `json:"mailbox,omitempty"`      // email
	FeedURL      string            `json:"feed_url,omitempty"`     // news
	Channel      string            `json:"channel,omitempty"`      // chat
	Project      string            `json:"project,omitempty"`      // issue_tracker
	Credentials  map[string]string `json:"credentials,omitempty"`  // opaque secret material
	PollInterval time.Duration     `json:"poll_interval,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RawChunk is produced by a Source and consumed by an Ingestor. It is
// ephemeral: streamed between actors, never stored at rest.
type RawChunk struct {
	SourceID    string `json:"source_id"`
	DocumentID  string `json:"document_id"`
	DocSource   string `json:"doc_source"`
	Bytes       []byte `json:"bytes,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"content_type"`
	ImageID     string `json:"image_id,omitempty"`
}

// IngestedTokens is the normalized, provenance-carrying output of the
// Ingestor. Segments within Data belong to the same logical document and
// preserve order end-to-end.
type IngestedTokens struct {
	PipelineID    string   `json:"pipeline_id"`
	File          string   `json:"file"`
	Data          []string `json:"data"`
	DocSource     string   `json:"doc_source"`
	SourceID      string   `json:"source_id"`
	ImageID       string   `json:"image_id,omitempty"`
	IsTokenStream bool     `json:"is_token_stream"`
}

// GraphEvent is the graph-shaped half of a SemanticEvent: a subject/
// predicate/object triple with sentence and document provenance.
type GraphEvent struct {
	EventID      string `json:"event_id"`
	Subject      string `json:"subject"`
	SubjectType  string `json:"subject_type"`
	Object       string `json:"object"`
	ObjectType   string `json:"object_type"`
	Predicate    string `json:"predicate"`
	Sentence     string `json:"sentence"`
	DocumentID   string `json:"document_id"`
	SourceID     string `json:"source_id"`
	CollectionID string `json:"collection_id"`
}

// VectorEvent is the embedding half of a SemanticEvent. Every VectorEvent
// has a matching GraphEvent sharing EventID.
type VectorEvent struct {
	EventID   string    `json:"event_id"`
	Embedding []float32 `json:"embedding"`
	Score     float32   `json:"score"`
}

// SemanticEvent pairs a GraphEvent with its VectorEvent. The pair is the
// atomic unit the Storage-Mapper fans out to both stores.
type SemanticEvent struct {
	Graph  GraphEvent
	Vector VectorEvent
}

// ModelKind enumerates extraction/embedding model choices.
type ModelKind string

const (
	ModelBERT        ModelKind = "BERT"
	ModelGeoBERT     ModelKind = "GeoBERT"
	ModelPubMedBERT  ModelKind = "PubMedBERT"
)

// SemanticPipelineRequest is the input to StartPipeline.
type SemanticPipelineRequest struct {
	Collectors     []string  `json:"collectors"`
	FixedEntities  []string  `json:"fixed_entities,omitempty"`
	SampleEntities []string  `json:"sample_entities,omitempty"`
	Model          ModelKind `json:"model,omitempty"`
}

// PipelineStatus enumerates the lifecycle states of a pipeline run.
type PipelineStatus string

const (
	StatusInitializing PipelineStatus = "Initializing"
	StatusRunning       PipelineStatus = "Running"
	StatusDraining      PipelineStatus = "Draining"
	StatusStopped       PipelineStatus = "Stopped"
	StatusFailed        PipelineStatus = "Failed"
)

// PipelineState describes one supervised run.
type PipelineState struct {
	PipelineID string                  `json:"pipeline_id"`
	Request    SemanticPipelineRequest `json:"request"`
	Status     PipelineStatus          `json:"status"`
	StartedAt  time.Time               `json:"started_at"`
}

// IndexingStatistics are monotonically-increasing counters over a
// pipeline's lifetime. They reset only on pipeline restart (a restart
// mints a new pipeline_id with fresh statistics).
type IndexingStatistics struct {
	TotalDocs             int64 `json:"total_docs"`
	TotalEvents           int64 `json:"total_events"`
	TotalSentences        int64 `json:"total_sentences"`
	TotalSubjects         int64 `json:"total_subjects"`
	TotalPredicates       int64 `json:"total_predicates"`
	TotalObjects          int64 `json:"total_objects"`
	TotalGraphEvents      int64 `json:"total_graph_events"`
	TotalVectorEvents     int64 `json:"total_vector_events"`
	TotalBatches          int64 `json:"total_batches"`
	TotalDataProcessedSize int64 `json:"total_data_processed_size"`
	EventsReceived        int64 `json:"events_received"`
	EventsSent            int64 `json:"events_sent"`
	EventsProcessed       int64 `json:"events_processed"`
	QuarantinedEvents     int64 `json:"quarantined_events"`
}

// AgentType enumerates Discovery session strategies. The original source
// exposed a parallel DiscoveryAgentType/LayerAgentType RPC pair; this
// implementation consolidates both into one enum (see DESIGN.md).
type AgentType string

const (
	AgentRetriever AgentType = "Retriever"
	AgentTraverser AgentType = "Traverser"
)

// DiscoverySession is a stateful retrieval context.
type DiscoverySession struct {
	SessionID          string    `json:"session_id"`
	SemanticPipelineID string    `json:"semantic_pipeline_id"`
	AgentType          AgentType `json:"agent_type"`
	PagingCursor       int       `json:"paging_cursor"`
	ActiveFilters      []string  `json:"active_filters"`
	CreatedAt          time.Time `json:"created_at"`
}

// InsightSessionStatus enumerates insight session lifecycle states.
type InsightSessionStatus string

const (
	InsightStatusActive  InsightSessionStatus = "active"
	InsightStatusStopped InsightSessionStatus = "stopped"
)

// InsightSession is a stateful analysis context bound to a registered
// insight, optionally conversational.
type InsightSession struct {
	SessionID          string                `json:"session_id"`
	InsightID           string                `json:"insight_id"`
	DiscoverySessionID  string                `json:"discovery_session_id,omitempty"`
	SemanticPipelineID  string                `json:"semantic_pipeline_id,omitempty"`
	Options             map[string]string     `json:"options"`
	History             []ConversationTurn    `json:"history,omitempty"`
	Status              InsightSessionStatus  `json:"status"`
}

// ConversationTurn is one exchange in a conversational insight session.
type ConversationTurn struct {
	Query    string    `json:"query"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

// SemanticServiceCounters summarizes pipeline counts across the service.
type SemanticServiceCounters struct {
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// PipelineRequestInfo is a listing-friendly projection of a pipeline.
type PipelineRequestInfo struct {
	PipelineID string                  `json:"pipeline_id"`
	Request    SemanticPipelineRequest `json:"request"`
	Status     PipelineStatus          `json:"status"`
}

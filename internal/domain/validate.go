package domain

import (
	"fmt"
	"strings"
)

// ValidateCollectorConfig rejects malformed collector registrations at the
// control-plane boundary, before they ever reach a pipeline. Per spec §7,
// ConfigInvalid never enters the pipeline.
func ValidateCollectorConfig(c CollectorConfig) error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("name", c.Name, ErrConfigInvalid)
	}
	switch c.Kind {
	case CollectorObjectStore:
		if c.Bucket == "" {
			return NewValidationError("bucket", c.Bucket, ErrConfigInvalid)
		}
	case CollectorDrive:
		// locator optional; credentials checked by the concrete adaptor.
	case CollectorFileTree:
		if c.RootPath == "" {
			return NewValidationError("root_path", c.RootPath, ErrConfigInvalid)
		}
	case CollectorEmail:
		if c.IMAPHost == "" {
			return NewValidationError("imap_host", c.IMAPHost, ErrConfigInvalid)
		}
	case CollectorNews:
		if c.FeedURL == "" {
			return NewValidationError("feed_url", c.FeedURL, ErrConfigInvalid)
		}
	case CollectorChat:
		if c.Channel == "" {
			return NewValidationError("channel", c.Channel, ErrConfigInvalid)
		}
	case CollectorIssueTracker:
		if c.Project == "" {
			return NewValidationError("project", c.Project, ErrConfigInvalid)
		}
	case CollectorCRM, CollectorOSDU:
		// credential-only backends; nothing further required structurally.
	default:
		return NewValidationError("kind", string(c.Kind), ErrConfigInvalid)
	}
	return nil
}

// ValidateSemanticPipelineRequest checks a StartPipeline request.
func ValidateSemanticPipelineRequest(r SemanticPipelineRequest) error {
	if len(r.Collectors) == 0 {
		return NewValidationError("collectors", "", ErrConfigInvalid)
	}
	switch r.Model {
	case "", ModelBERT, ModelGeoBERT, ModelPubMedBERT:
	default:
		return NewValidationError("model", string(r.Model), ErrConfigInvalid)
	}
	return nil
}

// ValidateIngestedTokens enforces the same-document, non-empty-data
// invariant on a realtime IngestTokens push.
func ValidateIngestedTokens(batch []IngestedTokens) error {
	if len(batch) == 0 {
		return NewValidationError("batch", "", ErrConfigInvalid)
	}
	docID := ""
	for i, t := range batch {
		if len(t.Data) == 0 {
			return NewValidationError("data", fmt.Sprintf("index %d", i), ErrConfigInvalid)
		}
		if i == 0 {
			docID = t.File
		} else if t.File != docID {
			return NewValidationError("file", t.File, ErrConfigInvalid)
		}
	}
	return nil
}

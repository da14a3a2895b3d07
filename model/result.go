package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SearchResult represents one document surfaced by a retrieval query.
// The content carried downstream is the parent-level text of the best
// matching child chunk, the sub-scores are kept for explainability.
type SearchResult struct {
	DocumentID       int64     `json:"document_id"`
	DocumentRID      uuid.UUID `json:"document_rid"`
	ChunkID          int64     `json:"chunk_id"`
	ChunkContent     string    `json:"chunk_content,omitempty"`
	Content          string    `json:"content"`
	CombinedScore    float64   `json:"combined_score"`
	VectorScore      float64   `json:"vector_score"`
	LexicalScore     float64   `json:"lexical_score"`
	RerankScore      *float64  `json:"rerank_score,omitempty"`
	DocumentTitle    string    `json:"document_title,omitempty"`
	DocumentMetadata Metadata  `json:"document_metadata,omitempty"`
}

// RunState is the live, observable state of a processing run. It is
// persisted on the processing lock row so any instance or UI can watch
// progress without being the instance performing the work.
type RunState struct {
	Total          int      `json:"total"`
	Completed      int      `json:"completed"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	CurrentItems   []string `json:"current_items,omitempty"`
	RecentLogLines []string `json:"recent_log_lines,omitempty"`
	MemoryPercent  float64  `json:"memory_percent"`
	CPUPercent     float64  `json:"cpu_percent"`
	MaxParallel    int      `json:"max_parallel"`
	LiveWorkers    int      `json:"live_workers"`
}

// Marshal converts the run state to JSON bytes for the lock row.
func (s *RunState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// ProcessResult summarizes the outcome of processing one document.
type ProcessResult struct {
	DocumentRID       uuid.UUID        `json:"document_rid"`
	Status            ProcessingStatus `json:"status"`
	ChunksInserted    int              `json:"chunks_inserted"`
	EmbeddingFailures int              `json:"embedding_failures"`
	NeedsReview       bool             `json:"needs_review"`
	Stage             string           `json:"stage,omitempty"`
	Err               error            `json:"-"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// ChunkKind classifies how a chunk was derived from its document.
type ChunkKind string

const (
	// ChunkKindParent is a large context window handed to answer generation.
	ChunkKindParent ChunkKind = "parent"
	// ChunkKindChild is a small overlapping window, the primary retrieval granularity.
	ChunkKindChild ChunkKind = "child"
	// ChunkKindMetadata holds one semantically distinct metadata field.
	ChunkKindMetadata ChunkKind = "metadata"
	// ChunkKindSynthetic is a materialized prose view over nested structured data.
	ChunkKindSynthetic ChunkKind = "synthetic"
)

// Chunk represents a unit of retrievable text derived from a Document.
type Chunk struct {
	ID            int64      `json:"id"`
	DocumentID    int64      `json:"document_id"`
	DocumentRID   uuid.UUID  `json:"document_rid"`
	ChunkIndex    int        `json:"chunk_index"`
	Content       string     `json:"content"`
	ContentLength int        `json:"content_length"`
	Kind          ChunkKind  `json:"chunk_kind"`
	SearchWeight  float64    `json:"search_weight"`
	Embedding     []float32  `json:"embedding,omitempty"`
	SectionLabel  *string    `json:"section_label,omitempty"`
	// ParentIndex points at the chunk_index of the parent window this
	// chunk falls inside, nil for chunks without a parent.
	ParentIndex *int      `json:"parent_index,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// Query-time fields, only populated on rows returned by a search
	Similarity    *float64 `json:"similarity,omitempty"`
	LexicalRank   *float64 `json:"lexical_rank,omitempty"`
	CombinedScore float64  `json:"combined_score,omitempty"`
}

// FieldWeight is the static per-field-type search weight applied to
// metadata chunks at scoring time. Title carries the strongest signal,
// generic body content scores at 1.0.
var FieldWeight = map[string]float64{
	"title":    3.0,
	"subject":  2.0,
	"sender":   2.0,
	"summary":  2.0,
	"dates":    2.5,
	"tags":     1.5,
	"entities": 1.5,
	"body":     1.0,
}

// WeightForField returns the search weight for a metadata field type,
// falling back to the body weight for unknown fields.
func WeightForField(field string) float64 {
	if w, ok := FieldWeight[field]; ok {
		return w
	}
	return FieldWeight["body"]
}

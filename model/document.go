package model

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the lifecycle state of a document.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusSkipped    ProcessingStatus = "skipped"
)

// Terminal reports whether a document in this status is done with processing.
// Terminal documents can still be reset to pending by an operator.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Document represents one ingested unit of content.
// Content is only populated while the document is being processed,
// the normalized text is persisted separately from the raw source.
type Document struct {
	ID              int64            `json:"id"`
	RID             uuid.UUID        `json:"rid"`
	Title           string           `json:"title"`
	Source          string           `json:"source,omitempty"`
	OwnerID         string           `json:"owner_id,omitempty"`
	Content         string           `json:"content,omitempty" db:"-"` // Temporary field for processing, not stored in DB
	NormalizedText  string           `json:"normalized_text,omitempty"`
	ContentHash     string           `json:"content_hash"`
	Metadata        Metadata         `json:"metadata,omitempty"`
	Status          ProcessingStatus `json:"processing_status"`
	Stage           string           `json:"processing_stage,omitempty"`
	ProcessingError string           `json:"processing_error,omitempty"`
	NeedsReview     bool             `json:"needs_review"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// HashContent returns the content hash used for duplicate detection.
// The hash is unique per owner, two owners may ingest identical content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewDocument creates a pending document from raw content.
// The content hash is computed immediately so duplicate ingestion can be
// rejected before any processing starts.
func NewDocument(title, source, ownerID, content string, metadata Metadata) *Document {
	return &Document{
		Title:       title,
		Source:      source,
		OwnerID:     ownerID,
		Content:     content,
		ContentHash: HashContent(content),
		Metadata:    metadata,
		Status:      StatusPending,
	}
}

// NewDocumentFromFile reads a file and creates a pending Document with the
// file content. The title defaults to the filename without extension, and
// source to the file path.
func NewDocumentFromFile(filePath string, ownerID string, metadata Metadata) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	return NewDocument(title, filePath, ownerID, string(content), metadata), nil
}

package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/soverin/bindery/model"
)

// FallbackWriter persists finished results that could not be written to
// the store. The computed work product is never discarded silently, it
// lands as a JSON file an operator can replay.
type FallbackWriter struct {
	dir string
}

// NewFallbackWriter creates a writer rooted at dir, creating it if needed.
func NewFallbackWriter(dir string) (*FallbackWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}
	return &FallbackWriter{dir: dir}, nil
}

type fallbackRecord struct {
	DocumentRID uuid.UUID      `json:"document_rid"`
	SavedAt     time.Time      `json:"saved_at"`
	Reason      string         `json:"reason"`
	Document    *model.Document `json:"document"`
	Chunks      []*model.Chunk `json:"chunks,omitempty"`
}

// Write stores the would-be record durably and returns the file path.
func (w *FallbackWriter) Write(doc *model.Document, chunks []*model.Chunk, reason string) (string, error) {
	record := fallbackRecord{
		DocumentRID: doc.RID,
		SavedAt:     time.Now().UTC(),
		Reason:      reason,
		Document:    doc,
		Chunks:      chunks,
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fallback record: %w", err)
	}

	name := fmt.Sprintf("%s_%d.json", doc.RID, time.Now().UnixNano())
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write fallback record: %w", err)
	}

	return path, nil
}

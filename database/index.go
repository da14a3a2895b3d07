package database

import (
	"context"
	"fmt"
	"time"

	"github.com/soverin/bindery/helper"
)

// ChangeIndexType rebuilds the vector index on the chunks table with the
// given access method. Supported types are "hnsw" (params "m" and
// "ef_construction") and "ivfflat" (param "lists"), omitted params keep
// the pgvector defaults. Rebuilding scans every embedding, so the
// operation is capped at 60 seconds.
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if _, err := h.db.Instance.ExecContext(ctx, `DROP INDEX IF EXISTS idx_chunks_embedding;`); err != nil {
		return helper.NewError("drop index", err)
	}
	h.db.Logger.Info("Dropped existing vector index")

	var create string
	switch indexType {
	case "hnsw":
		m := 16
		efConstruction := 64
		if v, ok := params["m"].(int); ok {
			m = v
		}
		if v, ok := params["ef_construction"].(int); ok {
			efConstruction = v
		}
		create = fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			m, efConstruction,
		)
	case "ivfflat":
		lists := 100
		if v, ok := params["lists"].(int); ok {
			lists = v
		}
		create = fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			lists,
		)
	default:
		return helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	if _, err := h.db.Instance.ExecContext(ctx, create); err != nil {
		return helper.NewError("create index", err)
	}
	h.db.Logger.Info(fmt.Sprintf("Created %s index with params: %v", indexType, params))

	return nil
}

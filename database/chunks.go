package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
	loadSql "github.com/soverin/bindery/sql"
)

// SearchQuery carries the parameters of one hybrid retrieval query.
type SearchQuery struct {
	QueryEmbedding   []float32
	QueryText        string
	MatchThreshold   float64
	MatchCount       int
	VectorWeight     float64
	FulltextWeight   float64
	FilterYear       *int
	FilterMonth      *int
	FilterCategories []string
	OwnerID          string
}

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	ReplaceDocumentChunks(documentID int64, chunks []*model.Chunk) error
	SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error)
	SelectParentContent(chunkID int64) (string, error)
	SearchChunks(query *SearchQuery) ([]*model.SearchResult, error)
	SearchChunksVector(embedding []float32, limit int, ownerID string) ([]*model.SearchResult, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db *helper.Database
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	chunksDbHandler := &ChunksDBHandler{
		db: db,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary extensions and indexes.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// ReplaceDocumentChunks replaces all chunks of a document in one
// transaction: prior chunks are fully deleted before the new batch is
// inserted, so no partial chunk set is ever queryable.
func (h *ChunksDBHandler) ReplaceDocumentChunks(documentID int64, chunks []*model.Chunk) error {
	tx, err := h.db.Instance.Begin()
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	var deleted int
	err = tx.QueryRow(`SELECT * FROM delete_document_chunks($1)`, documentID).Scan(&deleted)
	if err != nil {
		return helper.NewError("delete prior chunks", err)
	}

	for i, chunk := range chunks {
		chunk.DocumentID = documentID

		var embedding interface{}
		if chunk.Embedding != nil {
			embedding = pq.Array(chunk.Embedding)
		}

		row := tx.QueryRow(
			`SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6, $7, $8)`,
			chunk.DocumentID,
			chunk.ChunkIndex,
			chunk.Content,
			string(chunk.Kind),
			chunk.SearchWeight,
			embedding,
			chunk.SectionLabel,
			chunk.ParentIndex,
		)

		if err := scanChunk(row, chunk); err != nil {
			return helper.NewError(fmt.Sprintf("insert chunk %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helper.NewError("commit transaction", err)
	}

	return nil
}

// SelectChunksByDocument retrieves all chunks of a document ordered by index
func (h *ChunksDBHandler) SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_chunks_by_document($1)`,
		documentRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{DocumentRID: documentRID}
		if err := scanChunk(rows, chunk); err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectParentContent resolves the parent-level text for a chunk,
// falling back to the chunk's own content when no parent window exists.
func (h *ChunksDBHandler) SelectParentContent(chunkID int64) (string, error) {
	var content sql.NullString
	err := h.db.Instance.QueryRow(
		`SELECT * FROM select_parent_content($1)`,
		chunkID,
	).Scan(&content)
	if err != nil {
		return "", helper.NewError("scan", err)
	}
	if !content.Valid {
		return "", helper.NewError("select parent content", fmt.Errorf("chunk %d not found", chunkID))
	}

	return content.String, nil
}

// SearchChunks executes the combined vector + lexical query. Scores are
// clamped and weighted inside the database, deduplication by document
// happens in the retrieval engine.
func (h *ChunksDBHandler) SearchChunks(query *SearchQuery) ([]*model.SearchResult, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM search_chunks($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pq.Array(query.QueryEmbedding),
		query.QueryText,
		query.MatchThreshold,
		query.MatchCount,
		query.VectorWeight,
		query.FulltextWeight,
		query.FilterYear,
		query.FilterMonth,
		pq.Array(query.FilterCategories),
		query.OwnerID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

// SearchChunksVector is the vector-only fallback query with no filters.
func (h *ChunksDBHandler) SearchChunksVector(embedding []float32, limit int, ownerID string) ([]*model.SearchResult, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM search_chunks_vector($1, $2, $3)`,
		pq.Array(embedding),
		limit,
		ownerID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

func scanChunk(row rowScanner, chunk *model.Chunk) error {
	var embedding sql.NullString
	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.ChunkIndex,
		&chunk.Content,
		&chunk.ContentLength,
		&chunk.Kind,
		&chunk.SearchWeight,
		&embedding,
		&chunk.SectionLabel,
		&chunk.ParentIndex,
		&chunk.CreatedAt,
	)
	if err != nil {
		return err
	}

	if embedding.Valid {
		var vec pgvector.Vector
		if err := vec.Scan(embedding.String); err != nil {
			return err
		}
		chunk.Embedding = vec.Slice()
	}

	return nil
}

func scanSearchResults(rows *sql.Rows) ([]*model.SearchResult, error) {
	var results []*model.SearchResult
	for rows.Next() {
		result := &model.SearchResult{}
		err := rows.Scan(
			&result.ChunkID,
			&result.DocumentID,
			&result.DocumentRID,
			&result.ChunkContent,
			&result.CombinedScore,
			&result.VectorScore,
			&result.LexicalScore,
			&result.Content,
			&result.DocumentTitle,
			&result.DocumentMetadata,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return results, nil
}

package bindery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/soverin/bindery/core/coordinator"
	"github.com/soverin/bindery/core/extraction"
	"github.com/soverin/bindery/core/orchestrator"
	"github.com/soverin/bindery/core/pipeline"
	"github.com/soverin/bindery/core/resource"
	"github.com/soverin/bindery/core/retrieval"
	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
	loadSql "github.com/soverin/bindery/sql"
)

// Bindery provides a unified interface to document ingestion, concurrent
// processing and hybrid retrieval.
type Bindery struct {
	DB        *helper.Database
	Documents *database.DocumentsDBHandler
	Chunks    *database.ChunksDBHandler
	Workers   *database.WorkersDBHandler
	Lock      *database.LockDBHandler
	Pipeline  *pipeline.Pipeline // Optional chunking pipeline

	coordinator  *coordinator.Coordinator
	engine       *retrieval.Engine
	reranker     retrieval.Reranker
	textExtract  extraction.TextExtractor
	structured   extraction.StructuredExtractor
	orchestrator *orchestrator.Orchestrator
	// Logging
	log *slog.Logger
}

// NewBindery creates a new Bindery instance with all handlers initialized
func NewBindery(config *helper.DatabaseConfiguration, embeddingDim int) (*Bindery, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("bindery", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers in the correct order (documents first, then the
	// tables referencing them). force=false to not reload if functions
	// already exist.
	documents, err := database.NewDocumentsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	chunks, err := database.NewChunksDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	workers, err := database.NewWorkersDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create workers handler", err)
	}

	lock, err := database.NewLockDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create lock handler", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "bindery"
	}
	instanceID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	coord, err := coordinator.NewCoordinator(instanceID, workers, documents, logger)
	if err != nil {
		return nil, helper.NewError("create coordinator", err)
	}

	return &Bindery{
		DB:          db,
		Documents:   documents,
		Chunks:      chunks,
		Workers:     workers,
		Lock:        lock,
		coordinator: coord,
		textExtract: extraction.PassthroughTextExtractor{},
		log:         logger,
	}, nil
}

// Close closes the database connection
func (b *Bindery) Close() error {
	if b.DB != nil && b.DB.Instance != nil {
		return b.DB.Instance.Close()
	}
	return nil
}

// InstanceID returns the identifier this instance registers claims under.
func (b *Bindery) InstanceID() string {
	return b.coordinator.InstanceID
}

// SetPipeline sets the chunking pipeline for document processing
func (b *Bindery) SetPipeline(pipeline *pipeline.Pipeline) {
	b.Pipeline = pipeline
	b.engine = nil
}

// UseDefaultPipeline sets up the default layered chunking and embedding
// pipeline. This uses LayeredChunker with the default window sizes and
// DefaultEmbedder with the all-MiniLM-L6-v2 model (384 dimensions).
func (b *Bindery) UseDefaultPipeline() error {
	chunker := pipeline.DefaultChunker()
	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	b.SetPipeline(pipeline.NewPipeline(chunker, embedder))
	return nil
}

// SetTextExtractor replaces the passthrough text extractor with a source
// connector (file parser, page scraper, mailbox reader).
func (b *Bindery) SetTextExtractor(extractor extraction.TextExtractor) {
	b.textExtract = extractor
}

// SetStructuredExtractor enables LLM-based metadata extraction during
// processing. Without one documents keep their ingested metadata.
func (b *Bindery) SetStructuredExtractor(extractor extraction.StructuredExtractor) {
	b.structured = extractor
}

// SetReranker enables cross-encoder reranking of search results.
func (b *Bindery) SetReranker(reranker retrieval.Reranker) {
	b.reranker = reranker
	b.engine = nil
}

// IngestDocument records a document as pending. Returns
// database.ErrDuplicateContent when the owner scope already holds a
// document with identical content, nothing is recorded in that case.
func (b *Bindery) IngestDocument(doc *model.Document) error {
	if doc.Content == "" {
		return helper.NewError("ingest document", fmt.Errorf("document content is empty"))
	}

	// Content is carried in memory only. The row stores the hash and,
	// for text-native sources, the content as the initial normalized
	// text so a later run can process the document without re-reading
	// the source.
	content := doc.Content
	doc.Content = ""
	if doc.NormalizedText == "" {
		doc.NormalizedText = content
	}
	if doc.ContentHash == "" {
		doc.ContentHash = model.HashContent(content)
	}

	if err := b.Documents.InsertDocument(doc); err != nil {
		doc.Content = content
		return err
	}
	doc.Content = content

	b.log.Info("Ingested document",
		slog.String("document_id", doc.RID.String()),
		slog.String("title", doc.Title),
	)

	return nil
}

// IngestFile reads a file and records it as a pending document.
func (b *Bindery) IngestFile(path string, ownerID string, metadata model.Metadata) (*model.Document, error) {
	doc, err := model.NewDocumentFromFile(path, ownerID, metadata)
	if err != nil {
		return nil, helper.NewError("read file", err)
	}

	if err := b.IngestDocument(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// ProcessPending runs all pending documents to a terminal status under
// the adaptive parallelism controller. Safe to call from several
// instances at once, the claim protocol partitions the work. Blocks
// until no pending documents remain, the context is cancelled or
// StopProcessing is called.
func (b *Bindery) ProcessPending(ctx context.Context, config model.RunConfig) (*model.RunState, error) {
	if b.Pipeline == nil {
		return nil, helper.NewError("process pending", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}

	fallback, err := extraction.NewFallbackWriter(config.FallbackDir)
	if err != nil {
		return nil, helper.NewError("create fallback writer", err)
	}

	processor, err := orchestrator.NewProcessor(b.Documents, b.Chunks, b.coordinator, b.textExtract, b.structured, b.Pipeline, fallback, b.log)
	if err != nil {
		return nil, err
	}

	resources, err := resource.NewManager(config, resource.SystemSampler{}, b.coordinator.LiveWorkerCount, b.Lock, b.log)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.NewOrchestrator(config, b.Documents, b.Lock, b.coordinator, resources, processor, b.log)
	if err != nil {
		return nil, err
	}
	b.orchestrator = orch

	return orch.Run(ctx)
}

// StopProcessing requests a graceful stop of the current run: no new
// documents are admitted, in-flight documents run to completion.
func (b *Bindery) StopProcessing() {
	if b.orchestrator != nil {
		b.orchestrator.Stop()
	}
}

// RunState reads the live state of the active run from the shared lock
// row, regardless of which instance is performing the work.
func (b *Bindery) RunState() (*model.ProcessingLock, error) {
	return b.Lock.SelectLock()
}

// Search performs hybrid vector + full-text retrieval with deduplication
// by document and optional reranking.
func (b *Bindery) Search(ctx context.Context, query string, config model.QueryConfig) ([]*model.SearchResult, error) {
	if b.Pipeline == nil || b.Pipeline.Embedder == nil {
		return nil, helper.NewError("search", fmt.Errorf("pipeline with embedder not set, use SetPipeline() first"))
	}

	if b.engine == nil {
		engine, err := retrieval.NewEngine(b.Chunks, retrieval.EmbedQueryFunc(b.Pipeline.Embedder), b.reranker, b.log)
		if err != nil {
			return nil, err
		}
		b.engine = engine
	}

	return b.engine.Search(ctx, query, config)
}

// GetDocument retrieves a document by RID.
func (b *Bindery) GetDocument(rid uuid.UUID) (*model.Document, error) {
	return b.Documents.SelectDocument(rid)
}

// GetChunks retrieves all chunks of a document ordered by index.
func (b *Bindery) GetChunks(rid uuid.UUID) ([]*model.Chunk, error) {
	return b.Chunks.SelectChunksByDocument(rid)
}

// ResetDocument resets a terminal document back to pending so the next
// run picks it up again.
func (b *Bindery) ResetDocument(rid uuid.UUID) error {
	return b.Documents.ResetDocument(rid)
}

// DeleteDocument removes a document and all its chunks.
func (b *Bindery) DeleteDocument(rid uuid.UUID) error {
	return b.Documents.DeleteDocument(rid)
}

// ReconcileStuck recovers documents stranded by crashed instances.
// Returns the number of documents reset to pending.
func (b *Bindery) ReconcileStuck() (int, error) {
	return b.coordinator.ReconcileStuck()
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (b *Bindery) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return b.Chunks.ChangeIndexType(ctx, indexType, params)
}

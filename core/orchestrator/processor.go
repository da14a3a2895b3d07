package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soverin/bindery/core/coordinator"
	"github.com/soverin/bindery/core/extraction"
	"github.com/soverin/bindery/core/pipeline"
	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

// Processing stages recorded on the document row. On failure the stage
// tells an operator where processing stopped.
const (
	StageExtract  = "extract"
	StageMetadata = "metadata"
	StageChunk    = "chunk"
	StagePersist  = "persist"
	StageDone     = "done"
)

const heartbeatInterval = 30 * time.Second

// Processor runs one document through the full pipeline: claim, extract,
// structure, chunk, embed, persist, release. It is safe for concurrent
// use, all per-document state lives on the stack.
type Processor struct {
	documents   database.DocumentsDBHandlerFunctions
	chunks      database.ChunksDBHandlerFunctions
	coordinator *coordinator.Coordinator
	text        extraction.TextExtractor
	structured  extraction.StructuredExtractor
	pipeline    *pipeline.Pipeline
	fallback    *extraction.FallbackWriter
	logger      *slog.Logger
}

// NewProcessor creates a document processor. The structured extractor is
// optional, without one documents keep their ingested metadata.
func NewProcessor(
	documents database.DocumentsDBHandlerFunctions,
	chunks database.ChunksDBHandlerFunctions,
	coord *coordinator.Coordinator,
	text extraction.TextExtractor,
	structured extraction.StructuredExtractor,
	pipe *pipeline.Pipeline,
	fallback *extraction.FallbackWriter,
	logger *slog.Logger,
) (*Processor, error) {
	if documents == nil || chunks == nil || coord == nil || pipe == nil {
		return nil, helper.NewError("processor validation", fmt.Errorf("documents, chunks, coordinator and pipeline are required"))
	}
	if text == nil {
		text = extraction.PassthroughTextExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		documents:   documents,
		chunks:      chunks,
		coordinator: coord,
		text:        text,
		structured:  structured,
		pipeline:    pipe,
		fallback:    fallback,
		logger:      logger,
	}, nil
}

// ProcessDocument runs a single pending document to a terminal status.
// Returns nil when the document was not processed because another
// instance holds the claim, that is not an error.
func (p *Processor) ProcessDocument(ctx context.Context, doc *model.Document) (*model.ProcessResult, error) {
	// Duplicate short-circuit before claiming anything.
	duplicates, err := p.documents.CountDocumentsByHash(doc.OwnerID, doc.ContentHash, doc.ID)
	if err != nil {
		return nil, helper.NewError("count duplicates", err)
	}
	if duplicates > 0 {
		return p.skip(doc, "duplicate content hash")
	}

	claimed, err := p.coordinator.Claim(doc.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	defer func() {
		if err := p.coordinator.Release(doc.ID); err != nil {
			p.logger.Warn("Failed to release worker registration",
				slog.String("document", doc.RID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	transitioned, err := p.documents.UpdateDocumentStatus(doc.ID, model.StatusPending, model.StatusProcessing, StageExtract, "")
	if err != nil {
		return nil, helper.NewError("transition to processing", err)
	}
	if !transitioned {
		// A peer or operator moved the document first, nothing to do.
		return nil, nil
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(heartbeatCtx, doc.ID)

	return p.process(ctx, doc)
}

// heartbeat keeps the claim alive while processing runs.
func (p *Processor) heartbeat(ctx context.Context, documentID int64) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.coordinator.Heartbeat(documentID); err != nil {
				p.logger.Warn("Heartbeat failed", slog.Int64("document_id", documentID), slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, doc *model.Document) (*model.ProcessResult, error) {
	text, rawMetadata, err := p.text.ExtractText(ctx, doc)
	if err != nil {
		return p.fail(doc, StageExtract, err)
	}

	doc.NormalizedText = text
	doc.Metadata = mergeMetadata(doc.Metadata, rawMetadata)

	// The hash is recomputed over normalized text. Extraction may reveal
	// that two differently ingested sources normalize to the same content.
	doc.ContentHash = model.HashContent(text)
	duplicates, err := p.documents.CountDocumentsByHash(doc.OwnerID, doc.ContentHash, doc.ID)
	if err != nil {
		return p.fail(doc, StageExtract, helper.NewError("count duplicates", err))
	}
	if duplicates > 0 {
		return p.skip(doc, "duplicate content after normalization")
	}

	if p.structured != nil {
		outcome := p.structured.ExtractStructured(ctx, text)
		switch outcome.Status {
		case model.ExtractionOk:
			doc.Metadata = mergeMetadata(doc.Metadata, outcome.Metadata)
		case model.ExtractionDegraded:
			doc.Metadata = mergeMetadata(doc.Metadata, outcome.Metadata)
			doc.NeedsReview = true
		case model.ExtractionErr:
			return p.fail(doc, StageMetadata, fmt.Errorf("%s: %s", outcome.ErrKind, outcome.ErrMessage))
		}
	}

	p.setStage(doc, StageChunk)

	result, err := p.pipeline.Process(doc.NormalizedText, doc.Metadata)
	if err != nil {
		return p.fail(doc, StageChunk, err)
	}
	if result.EmbeddingFailures > 0 {
		p.logger.Warn("Some chunks kept without embedding",
			slog.String("document", doc.RID.String()),
			slog.Int("failures", result.EmbeddingFailures),
		)
	}

	p.setStage(doc, StagePersist)

	if err := p.chunks.ReplaceDocumentChunks(doc.ID, result.Chunks); err != nil {
		return p.persistFallback(doc, result.Chunks, err)
	}
	if err := p.documents.UpdateDocumentResult(doc); err != nil {
		return p.persistFallback(doc, result.Chunks, err)
	}

	if _, err := p.documents.UpdateDocumentStatus(doc.ID, model.StatusProcessing, model.StatusCompleted, StageDone, ""); err != nil {
		return nil, helper.NewError("transition to completed", err)
	}

	return &model.ProcessResult{
		DocumentRID:       doc.RID,
		Status:            model.StatusCompleted,
		ChunksInserted:    len(result.Chunks),
		EmbeddingFailures: result.EmbeddingFailures,
		NeedsReview:       doc.NeedsReview,
		Stage:             StageDone,
	}, nil
}

// setStage updates the visible stage without changing the status. A
// failure here is logged, not fatal, the stage is observability only.
func (p *Processor) setStage(doc *model.Document, stage string) {
	if _, err := p.documents.UpdateDocumentStatus(doc.ID, model.StatusProcessing, model.StatusProcessing, stage, ""); err != nil {
		p.logger.Warn("Failed to update processing stage",
			slog.String("document", doc.RID.String()),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) skip(doc *model.Document, reason string) (*model.ProcessResult, error) {
	if _, err := p.documents.UpdateDocumentStatus(doc.ID, doc.Status, model.StatusSkipped, "", reason); err != nil {
		return nil, helper.NewError("transition to skipped", err)
	}

	return &model.ProcessResult{
		DocumentRID: doc.RID,
		Status:      model.StatusSkipped,
	}, nil
}

func (p *Processor) fail(doc *model.Document, stage string, cause error) (*model.ProcessResult, error) {
	p.logger.Error("Document processing failed",
		slog.String("document", doc.RID.String()),
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
	)

	if _, err := p.documents.UpdateDocumentStatus(doc.ID, model.StatusProcessing, model.StatusFailed, stage, cause.Error()); err != nil {
		return nil, helper.NewError("transition to failed", err)
	}

	return &model.ProcessResult{
		DocumentRID: doc.RID,
		Status:      model.StatusFailed,
		Stage:       stage,
		Err:         cause,
	}, nil
}

// persistFallback saves the computed chunks to disk when the store
// rejects them, then marks the document failed at the persist stage. The
// work product is never silently discarded.
func (p *Processor) persistFallback(doc *model.Document, chunks []*model.Chunk, cause error) (*model.ProcessResult, error) {
	if p.fallback != nil {
		path, writeErr := p.fallback.Write(doc, chunks, cause.Error())
		if writeErr != nil {
			p.logger.Error("Fallback write failed",
				slog.String("document", doc.RID.String()),
				slog.String("error", writeErr.Error()),
			)
		} else {
			p.logger.Warn("Persisted unsaved result to fallback file",
				slog.String("document", doc.RID.String()),
				slog.String("path", path),
			)
		}
	}

	return p.fail(doc, StagePersist, cause)
}

func mergeMetadata(base, extra model.Metadata) model.Metadata {
	if base == nil && extra == nil {
		return nil
	}
	merged := model.Metadata{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	return merged
}

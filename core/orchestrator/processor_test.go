package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soverin/bindery/core/coordinator"
	"github.com/soverin/bindery/core/extraction"
	"github.com/soverin/bindery/core/pipeline"
	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transition records one guarded status update as the processor issued it.
type transition struct {
	expected model.ProcessingStatus
	status   model.ProcessingStatus
	stage    string
	errMsg   string
}

// stubDocuments replays duplicate counts per call and records every
// guarded transition.
type stubDocuments struct {
	mu sync.Mutex

	pending          []*model.Document
	duplicateCounts  []int
	duplicateErr     error
	duplicateCalls   int
	rejectTransition bool
	resultErr        error
	savedResult      *model.Document
	transitions      []transition
}

func (s *stubDocuments) InsertDocument(doc *model.Document) error { return nil }
func (s *stubDocuments) SelectDocument(rid uuid.UUID) (*model.Document, error) {
	return nil, nil
}
func (s *stubDocuments) SelectDocumentByHash(ownerID, contentHash string) (*model.Document, error) {
	return nil, nil
}
func (s *stubDocuments) CountDocumentsByHash(ownerID, contentHash string, excludeID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duplicateErr != nil {
		return 0, s.duplicateErr
	}
	count := 0
	if s.duplicateCalls < len(s.duplicateCounts) {
		count = s.duplicateCounts[s.duplicateCalls]
	}
	s.duplicateCalls++
	return count, nil
}
func (s *stubDocuments) SelectPendingDocuments(limit int) ([]*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}
func (s *stubDocuments) UpdateDocumentStatus(id int64, expected, status model.ProcessingStatus, stage, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectTransition && expected == model.StatusPending {
		return false, nil
	}
	s.transitions = append(s.transitions, transition{expected, status, stage, errMsg})
	return true, nil
}
func (s *stubDocuments) UpdateDocumentResult(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultErr != nil {
		return s.resultErr
	}
	s.savedResult = doc
	return nil
}
func (s *stubDocuments) ResetStuckDocuments() (int, error)  { return 0, nil }
func (s *stubDocuments) ResetDocument(rid uuid.UUID) error  { return nil }
func (s *stubDocuments) DeleteDocument(rid uuid.UUID) error { return nil }

func (s *stubDocuments) lastTransition(t *testing.T) transition {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.transitions)
	return s.transitions[len(s.transitions)-1]
}

type stubChunks struct {
	mu       sync.Mutex
	replaced []*model.Chunk
	failWith error
}

func (s *stubChunks) ReplaceDocumentChunks(documentID int64, chunks []*model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.replaced = chunks
	return nil
}
func (s *stubChunks) SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error) {
	return nil, nil
}
func (s *stubChunks) SelectParentContent(chunkID int64) (string, error) { return "", nil }
func (s *stubChunks) SearchChunks(query *database.SearchQuery) ([]*model.SearchResult, error) {
	return nil, nil
}
func (s *stubChunks) SearchChunksVector(embedding []float32, limit int, ownerID string) ([]*model.SearchResult, error) {
	return nil, nil
}

// stubWorkers backs the claim protocol with a plain map.
type stubWorkers struct {
	mu     sync.Mutex
	claims map[int64]string
	reject bool
}

func newStubWorkers() *stubWorkers {
	return &stubWorkers{claims: map[int64]string{}}
}

func (s *stubWorkers) ClaimDocument(documentID int64, instanceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false, nil
	}
	if _, held := s.claims[documentID]; held {
		return false, nil
	}
	s.claims[documentID] = instanceID
	return true, nil
}
func (s *stubWorkers) ReleaseDocument(documentID int64, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[documentID] == instanceID {
		delete(s.claims, documentID)
	}
	return nil
}
func (s *stubWorkers) CountWorkers() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims), nil
}
func (s *stubWorkers) HeartbeatWorker(documentID int64, instanceID string) error { return nil }
func (s *stubWorkers) DeleteStaleWorkers(maxAge time.Duration) (int, error)      { return 0, nil }
func (s *stubWorkers) SelectWorkers() ([]*model.WorkerRegistration, error)       { return nil, nil }

type fixedStructured struct {
	outcome model.ExtractionOutcome
}

func (f fixedStructured) ExtractStructured(ctx context.Context, text string) model.ExtractionOutcome {
	return f.outcome
}

type failingTextExtractor struct{}

func (failingTextExtractor) ExtractText(ctx context.Context, doc *model.Document) (string, model.Metadata, error) {
	return "", nil, errors.New("source unreadable")
}

func testPipeline() *pipeline.Pipeline {
	chunker := func(text string, metadata model.Metadata) ([]*model.Chunk, error) {
		return []*model.Chunk{
			{ChunkIndex: 0, Content: text, Kind: model.ChunkKindParent, SearchWeight: 1.0},
			{ChunkIndex: 1, Content: text, Kind: model.ChunkKindChild, SearchWeight: 1.0},
		}, nil
	}
	embedder := func(text string) ([]float32, error) {
		return []float32{1, 0, 0, 0}, nil
	}
	return pipeline.NewPipeline(chunker, embedder)
}

type processorFixture struct {
	documents *stubDocuments
	chunks    *stubChunks
	workers   *stubWorkers
	processor *Processor
}

func newProcessorFixture(t *testing.T, structured extraction.StructuredExtractor, fallback *extraction.FallbackWriter) *processorFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	documents := &stubDocuments{}
	chunks := &stubChunks{}
	workers := newStubWorkers()

	coord, err := coordinator.NewCoordinator("instance-test", workers, documents, logger)
	require.NoError(t, err)

	processor, err := NewProcessor(documents, chunks, coord, nil, structured, testPipeline(), fallback, logger)
	require.NoError(t, err)

	return &processorFixture{documents: documents, chunks: chunks, workers: workers, processor: processor}
}

func pendingDocument(content string) *model.Document {
	doc := model.NewDocument("Quarterly report", "upload", "owner-1", content, model.Metadata{"origin": "mail"})
	doc.ID = 42
	doc.RID = uuid.New()
	return doc
}

func TestNewProcessorValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord, err := coordinator.NewCoordinator("instance", newStubWorkers(), &stubDocuments{}, logger)
	require.NoError(t, err)

	_, err = NewProcessor(nil, &stubChunks{}, coord, nil, nil, testPipeline(), nil, logger)
	assert.Error(t, err, "Expected missing documents handler to be rejected")

	_, err = NewProcessor(&stubDocuments{}, &stubChunks{}, coord, nil, nil, nil, nil, logger)
	assert.Error(t, err, "Expected missing pipeline to be rejected")
}

func TestProcessDocumentCompleted(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	doc := pendingDocument("the annual figures improved")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, StageDone, result.Stage)
	assert.Equal(t, 2, result.ChunksInserted)
	assert.Zero(t, result.EmbeddingFailures)

	assert.Len(t, fixture.chunks.replaced, 2, "Expected chunks to be persisted")
	require.NotNil(t, fixture.documents.savedResult)
	assert.Equal(t, "the annual figures improved", fixture.documents.savedResult.NormalizedText)

	last := fixture.documents.lastTransition(t)
	assert.Equal(t, model.StatusProcessing, last.expected)
	assert.Equal(t, model.StatusCompleted, last.status)

	assert.Empty(t, fixture.workers.claims, "Expected the claim to be released")
}

func TestProcessDocumentDuplicateBeforeClaim(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	fixture.documents.duplicateCounts = []int{1}
	doc := pendingDocument("already ingested content")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusSkipped, result.Status)
	last := fixture.documents.lastTransition(t)
	assert.Equal(t, model.StatusSkipped, last.status)
	assert.Equal(t, "duplicate content hash", last.errMsg)
	assert.Empty(t, fixture.workers.claims, "Expected no claim for a skipped duplicate")
}

func TestProcessDocumentDuplicateAfterNormalization(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	fixture.documents.duplicateCounts = []int{0, 1}
	doc := pendingDocument("normalizes to a known hash")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusSkipped, result.Status)
	last := fixture.documents.lastTransition(t)
	assert.Equal(t, "duplicate content after normalization", last.errMsg)
	assert.Empty(t, fixture.workers.claims)
}

func TestProcessDocumentClaimLost(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	fixture.workers.reject = true
	doc := pendingDocument("claimed by a peer")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, result, "Expected no result when another instance holds the claim")
	assert.Empty(t, fixture.documents.transitions, "Expected no status writes without the claim")
}

func TestProcessDocumentTransitionRejected(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	fixture.documents.rejectTransition = true
	doc := pendingDocument("moved by an operator")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, result, "Expected no result when the pending transition is rejected")
	assert.Empty(t, fixture.workers.claims, "Expected the claim to be released")
}

func TestProcessDocumentExtractionFailure(t *testing.T) {
	fixture := newProcessorFixture(t, nil, nil)
	fixture.processor.text = failingTextExtractor{}
	doc := pendingDocument("unreadable")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, StageExtract, result.Stage)
	require.Error(t, result.Err)

	last := fixture.documents.lastTransition(t)
	assert.Equal(t, model.StatusFailed, last.status)
	assert.Equal(t, StageExtract, last.stage)
	assert.Contains(t, last.errMsg, "source unreadable")
}

func TestProcessDocumentStructuredOutcomes(t *testing.T) {
	t.Run("Successful extraction merges metadata", func(t *testing.T) {
		outcome := model.Ok(model.Metadata{"category": "report"}, 0.9)
		fixture := newProcessorFixture(t, fixedStructured{outcome}, nil)
		doc := pendingDocument("content with structure")

		result, err := fixture.processor.ProcessDocument(context.Background(), doc)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, model.StatusCompleted, result.Status)
		assert.False(t, result.NeedsReview)
		require.NotNil(t, fixture.documents.savedResult)
		assert.Equal(t, "report", fixture.documents.savedResult.Metadata["category"])
		assert.Equal(t, "mail", fixture.documents.savedResult.Metadata["origin"], "Expected ingested metadata to survive the merge")
	})

	t.Run("Degraded extraction completes flagged for review", func(t *testing.T) {
		fixture := newProcessorFixture(t, fixedStructured{model.Degraded("{broken")}, nil)
		doc := pendingDocument("content the provider mangled")

		result, err := fixture.processor.ProcessDocument(context.Background(), doc)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, model.StatusCompleted, result.Status)
		assert.True(t, result.NeedsReview, "Expected a degraded document to be flagged for review")
	})

	t.Run("Provider error fails at the metadata stage", func(t *testing.T) {
		fixture := newProcessorFixture(t, fixedStructured{model.Errored("provider", "connection refused")}, nil)
		doc := pendingDocument("content the provider never saw")

		result, err := fixture.processor.ProcessDocument(context.Background(), doc)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, model.StatusFailed, result.Status)
		assert.Equal(t, StageMetadata, result.Stage)
		last := fixture.documents.lastTransition(t)
		assert.Contains(t, last.errMsg, "provider")
		assert.Contains(t, last.errMsg, "connection refused")
	})
}

func TestProcessDocumentPersistFallback(t *testing.T) {
	dir := t.TempDir()
	fallback, err := extraction.NewFallbackWriter(dir)
	require.NoError(t, err)

	fixture := newProcessorFixture(t, nil, fallback)
	fixture.chunks.failWith = errors.New("relation does not exist")
	doc := pendingDocument("work that must not be lost")

	result, err := fixture.processor.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, StagePersist, result.Stage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "Expected the computed result saved as a fallback file")
	assert.True(t, strings.HasPrefix(entries[0].Name(), doc.RID.String()))
}

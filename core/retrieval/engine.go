package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

// oversampleFactor widens the database query so that deduplication by
// document still leaves enough candidates to fill the requested count.
const oversampleFactor = 3

// EmbedQueryFunc converts query text to an embedding vector.
type EmbedQueryFunc func(text string) ([]float32, error)

// Engine provides hybrid vector + full-text retrieval over chunks.
type Engine struct {
	chunks   database.ChunksDBHandlerFunctions
	embed    EmbedQueryFunc
	reranker Reranker
	logger   *slog.Logger
}

// NewEngine creates a new retrieval engine. The reranker is optional,
// without one results keep their hybrid score order.
func NewEngine(chunks database.ChunksDBHandlerFunctions, embed EmbedQueryFunc, reranker Reranker, logger *slog.Logger) (*Engine, error) {
	if chunks == nil {
		return nil, helper.NewError("retrieval engine validation", fmt.Errorf("chunks handler is required"))
	}
	if embed == nil {
		return nil, helper.NewError("retrieval engine validation", fmt.Errorf("embed function is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		chunks:   chunks,
		embed:    embed,
		reranker: reranker,
		logger:   logger,
	}, nil
}

// Search runs the full retrieval flow: embed the query, execute the
// combined vector + lexical query, deduplicate by document keeping the
// best chunk, then optionally rerank. When the combined query fails the
// engine degrades to a vector-only query with a reduced result cap
// rather than returning nothing.
func (e *Engine) Search(ctx context.Context, query string, config model.QueryConfig) ([]*model.SearchResult, error) {
	embedding, err := e.embed(query)
	if err != nil {
		return nil, helper.NewError("embed query", err)
	}

	if config.FilterYear == nil && config.FilterMonth == nil {
		config.FilterYear, config.FilterMonth = ExtractDateFilter(query, time.Now())
	}

	results, err := e.chunks.SearchChunks(&database.SearchQuery{
		QueryEmbedding:   embedding,
		QueryText:        query,
		MatchThreshold:   config.MatchThreshold,
		MatchCount:       config.MatchCount * oversampleFactor,
		VectorWeight:     config.VectorWeight,
		FulltextWeight:   config.FulltextWeight,
		FilterYear:       config.FilterYear,
		FilterMonth:      config.FilterMonth,
		FilterCategories: config.FilterCategories,
		OwnerID:          config.OwnerID,
	})
	if err != nil {
		e.logger.Warn("Combined retrieval failed, falling back to vector-only query", slog.String("error", err.Error()))
		return e.vectorFallback(embedding, config)
	}

	results = dedupeByDocument(results)
	if len(results) > config.MatchCount {
		results = results[:config.MatchCount]
	}

	if e.reranker != nil && len(results) > config.RerankThreshold {
		results = e.rerank(query, results)
	}

	return results, nil
}

// vectorFallback runs the reduced vector-only query. Its cap is
// deliberately smaller than the primary match count.
func (e *Engine) vectorFallback(embedding []float32, config model.QueryConfig) ([]*model.SearchResult, error) {
	limit := config.FallbackCount
	if limit <= 0 {
		limit = model.DefaultQueryConfig().FallbackCount
	}

	results, err := e.chunks.SearchChunksVector(embedding, limit*oversampleFactor, config.OwnerID)
	if err != nil {
		return nil, helper.NewError("vector fallback query", err)
	}

	results = dedupeByDocument(results)
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// rerank rescores results with the cross-encoder and reorders by the
// new score. A reranker failure keeps the hybrid order, retrieval never
// fails because reranking did.
func (e *Engine) rerank(query string, results []*model.SearchResult) []*model.SearchResult {
	scores, err := e.reranker.Rerank(query, results)
	if err != nil || len(scores) != len(results) {
		if err == nil {
			err = fmt.Errorf("expected %d scores, got %d", len(results), len(scores))
		}
		e.logger.Warn("Reranking failed, keeping hybrid score order", slog.String("error", err.Error()))
		return results
	}

	for i, result := range results {
		score := scores[i]
		result.RerankScore = &score
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].RerankScore > *results[j].RerankScore
	})

	return results
}

// dedupeByDocument keeps only the highest scoring chunk per document.
// Input is expected sorted by combined score descending, which the
// database queries guarantee, so the first chunk seen per document wins
// and the output stays sorted.
func dedupeByDocument(results []*model.SearchResult) []*model.SearchResult {
	seen := make(map[uuid.UUID]bool, len(results))
	deduped := make([]*model.SearchResult, 0, len(results))
	for _, result := range results {
		if seen[result.DocumentRID] {
			continue
		}
		seen[result.DocumentRID] = true
		deduped = append(deduped, result)
	}

	return deduped
}

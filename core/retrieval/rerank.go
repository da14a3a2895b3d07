package retrieval

import (
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

// Reranker rescores candidate results against the original query text.
// Implementations return one score per result, in result order.
type Reranker interface {
	Rerank(query string, results []*model.SearchResult) ([]float64, error)
}

// ScoreFunc scores one query/passage pair.
type ScoreFunc func(query string, passage string) (float64, error)

// CrossEncoderReranker scores query/passage pairs with a cross-encoder
// classification model.
type CrossEncoderReranker struct {
	score ScoreFunc
}

// NewCrossEncoderReranker creates a reranker from a pair scoring function.
func NewCrossEncoderReranker(score ScoreFunc) *CrossEncoderReranker {
	return &CrossEncoderReranker{score: score}
}

// DefaultReranker creates a reranker backed by the local ms-marco MiniLM
// cross-encoder model.
func DefaultReranker() (*CrossEncoderReranker, error) {
	modelName := "cross-encoder/ms-marco-MiniLM-L-6-v2"
	modelPath, err := helper.PrepareModel(modelName, "onnx/model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "reranker-pipeline",
	}
	classificationPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create reranker pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create reranker pipeline: %w", err)
	}

	score := func(query string, passage string) (float64, error) {
		result, err := classificationPipeline.RunPipeline([]string{query + " [SEP] " + passage})
		if err != nil {
			return 0, fmt.Errorf("failed to score pair: %w", err)
		}
		if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
			return 0, fmt.Errorf("no classification output")
		}

		return float64(result.ClassificationOutputs[0][0].Score), nil
	}

	return NewCrossEncoderReranker(score), nil
}

// Rerank scores every result against the query. Passages are the
// parent-level texts carried downstream, the matching chunk is only
// used for results without an attached parent window.
func (r *CrossEncoderReranker) Rerank(query string, results []*model.SearchResult) ([]float64, error) {
	scores := make([]float64, len(results))
	for i, result := range results {
		passage := result.Content
		if passage == "" {
			passage = result.ChunkContent
		}

		score, err := r.score(query, passage)
		if err != nil {
			return nil, fmt.Errorf("failed to score result %d: %w", i, err)
		}
		scores[i] = score
	}

	return scores, nil
}

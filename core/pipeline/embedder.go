package pipeline

import (
	"context"
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/soverin/bindery/helper"
	"github.com/tmc/langchaingo/embeddings"
)

// DefaultEmbedder creates an embedder using a local sentence transformer
// model. Uses the all-MiniLM-L6-v2 model which produces 384-dimensional
// embeddings.
func DefaultEmbedder() (EmbedFunc, error) {
	modelName := "sentence-transformers/all-MiniLM-L6-v2"
	modelPath, err := helper.PrepareModel(modelName, "onnx/model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return func(text string) ([]float32, error) {
		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}

		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}

		return result.Embeddings[0], nil
	}, nil
}

// ProviderEmbedder wraps a langchaingo embedder (e.g. an OpenAI-backed
// one) as an EmbedFunc for deployments that prefer a remote provider
// over the local model.
func ProviderEmbedder(embedder embeddings.Embedder) EmbedFunc {
	return func(text string) ([]float32, error) {
		vector, err := embedder.EmbedQuery(context.Background(), text)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		return vector, nil
	}
}

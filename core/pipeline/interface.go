package pipeline

import "github.com/soverin/bindery/model"

// ChunkFunc splits normalized document text into layered chunks.
type ChunkFunc func(text string, metadata model.Metadata) ([]*model.Chunk, error)

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(text string) ([]float32, error)

// ProcessingResult contains the produced chunks and the failure count
// for embeddings. A failed embedding does not abort the document, the
// chunk is kept without an embedding and stays eligible for lexical
// search.
type ProcessingResult struct {
	Chunks            []*model.Chunk
	EmbeddingFailures int
}

// Pipeline combines chunking and embedding functions
type Pipeline struct {
	Chunker  ChunkFunc
	Embedder EmbedFunc
}

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder EmbedFunc) *Pipeline {
	return &Pipeline{
		Chunker:  chunker,
		Embedder: embedder,
	}
}

// Process splits the text into the chunk hierarchy and embeds each chunk
// individually. Chunk indices are unique and contiguous across all kinds.
func (p *Pipeline) Process(text string, metadata model.Metadata) (*ProcessingResult, error) {
	chunks, err := p.Chunker(text, metadata)
	if err != nil {
		return nil, err
	}

	result := &ProcessingResult{Chunks: chunks}

	for _, chunk := range chunks {
		embedding, err := p.Embedder(chunk.Content)
		if err != nil {
			result.EmbeddingFailures++
			continue
		}
		chunk.Embedding = embedding
	}

	return result, nil
}

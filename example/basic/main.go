package main

import (
	"context"
	"fmt"
	"log"

	"github.com/soverin/bindery"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

const sampleContent = `This is a sample document about document ingestion pipelines.

Ingestion pipelines normalize raw sources into searchable text.
Each document is split into layered chunks: large parent windows for context
and small overlapping child windows for precise retrieval.

PostgreSQL with the pgvector extension stores the chunk embeddings next to the
full-text index, so one query can combine semantic similarity with keyword rank.

Hybrid retrieval merges both signals, deduplicates by document and optionally
reranks the survivors with a cross-encoder for sharper ordering.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		User:     "postgres",
		Password: "postgres",
		Name:     "bindery_test",
		SSLMode:  "disable",
	}

	b, err := bindery.NewBindery(dbConfig, 384)
	if err != nil {
		log.Fatalf("Failed to create bindery: %v", err)
	}
	defer b.Close()

	// Set up the default pipeline (layered chunking + embeddings)
	if err := b.UseDefaultPipeline(); err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	// Ingest a document as pending
	doc := model.NewDocument(
		"Introduction to Ingestion Pipelines",
		"basic_example",
		"example-owner",
		sampleContent,
		model.Metadata{
			"author": "Example Author",
			"topic":  "ingestion",
		},
	)

	fmt.Println("Ingesting document...")
	if err := b.IngestDocument(doc); err != nil {
		log.Fatalf("Failed to ingest document: %v", err)
	}
	fmt.Printf("Document ingested with ID: %s\n", doc.RID)

	// Run all pending documents to a terminal status
	fmt.Println("Processing pending documents...")
	state, err := b.ProcessPending(context.Background(), model.DefaultRunConfig())
	if err != nil {
		log.Fatalf("Failed to process pending documents: %v", err)
	}
	fmt.Printf("Processed %d documents (%d completed, %d failed, %d skipped)\n",
		state.Total, state.Completed, state.Failed, state.Skipped)

	// Perform a hybrid search
	queryText := "How does hybrid retrieval work?"

	fmt.Printf("\nQuerying: %s\n", queryText)

	config := model.DefaultQueryConfig()
	config.MatchCount = 5
	config.OwnerID = "example-owner"

	results, err := b.Search(context.Background(), queryText, config)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	// Display results
	fmt.Printf("\nFound %d results:\n", len(results))
	for i, result := range results {
		fmt.Printf("\n--- Result %d ---\n", i+1)
		fmt.Printf("Score: %.4f (vector %.4f, lexical %.4f)\n",
			result.CombinedScore, result.VectorScore, result.LexicalScore)
		fmt.Printf("Document: %s\n", result.DocumentTitle)
		fmt.Printf("Content: %s\n", result.Content)
	}

	fmt.Println("\nBasic example completed successfully!")
}

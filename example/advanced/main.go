package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/soverin/bindery"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

const invoiceContent = `Invoice 2024-117 for consulting services rendered in March 2024.

Total amount due: 1.200,00 EUR, payable within thirty days.
Line items include architecture review, schema migration support and
two on-site workshops at the Hamburg office.`

const travelContent = `Itinerary for the Lisbon conference trip.

Flight LH1166 departs Monday 08:40 from Hamburg, arrival 11:25.
Hotel reservation at Rua Augusta for three nights, late checkout booked.
Conference badge pickup opens Tuesday at 09:00 in hall B.`

const recipeContent = `Slow roasted tomatoes with garlic and thyme.

Halve one kilogram of ripe tomatoes and place them cut side up.
Scatter sliced garlic and thyme, roast at 140 degrees for two hours.
Serve over fresh pasta with the roasting oil spooned on top.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

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

	if err := b.UseDefaultPipeline(); err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	// Ingest several documents with typed metadata
	docs := []*model.Document{
		model.NewDocument("Invoice March 2024", "mail", "example-owner", invoiceContent, model.Metadata{
			"category": "invoice",
			"year":     2024,
			"month":    3,
		}),
		model.NewDocument("Lisbon Trip", "mail", "example-owner", travelContent, model.Metadata{
			"category": "travel",
		}),
		model.NewDocument("Roasted Tomatoes", "web", "example-owner", recipeContent, model.Metadata{
			"category": "recipe",
		}),
	}

	fmt.Println("=== Ingesting Documents ===")
	for _, doc := range docs {
		if err := b.IngestDocument(doc); err != nil {
			log.Fatalf("Failed to ingest %q: %v", doc.Title, err)
		}
		fmt.Printf("Ingested %q (RID: %s)\n", doc.Title, doc.RID)
	}

	// Watch the shared run state from a second goroutine while the run
	// is active. Any instance can observe progress this way.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				lock, err := b.RunState()
				if err != nil || !lock.IsProcessing {
					continue
				}
				fmt.Printf("[monitor] max parallel %d, live workers %d\n",
					lock.MaxParallel, lock.CurrentWorkers)
			}
		}
	}()

	fmt.Println("\n=== Processing Pending Documents ===")
	runConfig := model.DefaultRunConfig()
	runConfig.MaxParallel = 4
	runConfig.InitialParallel = 2

	state, err := b.ProcessPending(context.Background(), runConfig)
	stopWatch()
	if err != nil {
		log.Fatalf("Failed to process pending documents: %v", err)
	}
	fmt.Printf("Run finished: %d completed, %d failed, %d skipped\n",
		state.Completed, state.Failed, state.Skipped)

	ctx := context.Background()

	// 1. Plain hybrid search
	fmt.Println("\n=== 1. Hybrid Search ===")
	config := model.DefaultQueryConfig()
	config.MatchCount = 3
	config.OwnerID = "example-owner"
	results, err := b.Search(ctx, "conference trip to Lisbon", config)
	if err != nil {
		log.Fatalf("Hybrid search failed: %v", err)
	}
	printResults("Hybrid Search", results)

	// 2. Category-filtered search
	fmt.Println("\n=== 2. Category Filter ===")
	filtered := model.DefaultQueryConfig()
	filtered.MatchCount = 3
	filtered.OwnerID = "example-owner"
	filtered.FilterCategories = []string{"invoice"}
	results, err = b.Search(ctx, "consulting services amount due", filtered)
	if err != nil {
		log.Fatalf("Filtered search failed: %v", err)
	}
	printResults("Category Filter", results)

	// 3. Date-aware search, the year is lifted from the query text
	fmt.Println("\n=== 3. Date-Aware Search ===")
	dated := model.DefaultQueryConfig()
	dated.MatchCount = 3
	dated.OwnerID = "example-owner"
	results, err = b.Search(ctx, "invoices from 2024-03", dated)
	if err != nil {
		log.Fatalf("Date-aware search failed: %v", err)
	}
	printResults("Date-Aware Search", results)

	// 4. Reset and reprocess one document
	fmt.Println("\n=== 4. Reset and Reprocess ===")
	if err := b.ResetDocument(docs[0].RID); err != nil {
		log.Fatalf("Failed to reset document: %v", err)
	}
	state, err = b.ProcessPending(ctx, runConfig)
	if err != nil {
		log.Fatalf("Failed to reprocess: %v", err)
	}
	fmt.Printf("Reprocessed %d document(s)\n", state.Completed)

	fmt.Println("\nAdvanced example completed successfully!")
}

func printResults(label string, results []*model.SearchResult) {
	fmt.Printf("%s: %d result(s)\n", label, len(results))
	for i, result := range results {
		fmt.Printf("  %d. %q score %.4f\n", i+1, result.DocumentTitle, result.CombinedScore)
	}
}

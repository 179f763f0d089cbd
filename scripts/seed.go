// Seed script for loading demo questions into the orchestrator.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/config"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/store"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	var taskStore domain.TaskStore

	switch driver := config.StoreDriver(); driver {
	case "sqlite":
		st, err := store.NewSQLiteStore(ctx, config.SQLitePath())
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer func() { _ = st.Close() }()
		taskStore = st
		fmt.Printf("Opened sqlite store at %s\n", config.SQLitePath())
	case "postgres":
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			log.Fatal("DATABASE_URL is required for the postgres store")
		}
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		st := store.NewPostgresStore(db)
		if err := st.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		taskStore = st
		fmt.Println("Connected to database")
	default:
		log.Fatalf("STORE_DRIVER must be sqlite or postgres to seed, got %q", driver)
	}

	// Demo questions, stored pending so workers pick them up on the next
	// server start.
	questions := []string{
		"Does intermittent fasting improve insulin sensitivity in adults?",
		"What is the current evidence for dark matter self-interaction?",
		"How effective are mRNA vaccines against seasonal influenza?",
		"Can quantum error correction scale to fault-tolerant computers?",
		"Does microplastic exposure alter the human gut microbiome?",
	}

	for _, q := range questions {
		task := domain.NewTask(q)
		if err := taskStore.Create(ctx, task); err != nil {
			log.Printf("Warning: Failed to create task: %v", err)
			continue
		}
		fmt.Printf("Created task %s: %s\n", task.ID, truncate(q, 50))
	}

	// Sample retraction registry, loaded when RETRACTIONS_PATH points at it.
	retractions := map[string]string{
		"10.1016/s0140-6736(97)11096-0": "fraudulent data on MMR vaccination",
		"10.1126/science.1078616":       "fabricated results on element synthesis",
	}
	if err := writeRetractions("retractions.json", retractions); err != nil {
		log.Printf("Warning: Failed to write retractions file: %v", err)
	} else {
		fmt.Printf("Wrote %d sample retractions to retractions.json\n", len(retractions))
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nStart the server and the pending tasks are queued automatically:")
	fmt.Println("RETRACTIONS_PATH=retractions.json go run ./cmd/server")
}

func writeRetractions(path string, records map[string]string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the local database with default rules and knowledge corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("preparing data dir: %w", err)
		}

		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		if err := store.SeedIfEmpty(ctx); err != nil {
			return fmt.Errorf("seeding rules: %w", err)
		}

		// The hashed embedder keeps seeding offline; the server re-embeds
		// nothing since chunks persist with their vectors.
		mem := memory.NewStore(cfg.MemoryFile, cfg.MaxHistory, nil)
		engine := rag.NewEngine(store, mem, rag.NewHashedEmbedder(256))
		if err := engine.SeedDefaultCorpus(ctx); err != nil {
			return fmt.Errorf("seeding corpus: %w", err)
		}

		counts, err := store.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %s\n", cfg.DBPath)
		for _, table := range []string{"compliance_rules", "guardrails_rules", "kb_chunks"} {
			fmt.Printf("  %-18s %d\n", table, counts[table])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/agents"
	"github.com/leaseflow/coreengine/coreengine/cache"
	"github.com/leaseflow/coreengine/coreengine/compliance"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/extract"
	"github.com/leaseflow/coreengine/coreengine/guardrails"
	"github.com/leaseflow/coreengine/coreengine/llm"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/observability"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/runtime"
	"github.com/leaseflow/coreengine/coreengine/storage"
	"github.com/leaseflow/coreengine/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.CoreConfig) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("preparing data dir: %w", err)
	}
	if cfg.RulesFile != "" {
		if err := config.LoadJurisdictionFile(cfg.RulesFile); err != nil {
			return fmt.Errorf("loading rules file: %w", err)
		}
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer("leaseflow", cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	if err := store.SeedIfEmpty(ctx); err != nil {
		return fmt.Errorf("seeding database: %w", err)
	}

	bus := commbus.NewInMemoryCommBus(time.Second)
	bus.AddMiddleware(commbus.NewLoggingMiddleware())
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 30*time.Second, []string{"AuditRecorded"}))
	bus.Subscribe("AuditRecorded", store.AuditSubscriber())
	metrics := observability.MetricsSubscriber()
	bus.Subscribe("StageCompleted", metrics)
	bus.Subscribe("PipelineCompleted", metrics)

	mem := memory.NewStore(cfg.MemoryFile, cfg.MaxHistory, bus)

	embedder := rag.NewLazyEmbedder(func() (rag.Embedder, error) {
		if cfg.LLMEnabled() {
			return rag.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel), nil
		}
		return rag.NewHashedEmbedder(256), nil
	})
	engine := rag.NewEngine(store, mem, embedder)

	// Warm-up off the serving path so the first request doesn't pay for
	// embedder construction.
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), cfg.LLMTimeout())
		defer cancel()
		if err := embedder.Warmup(wctx); err != nil {
			log.Warn().Err(err).Msg("embedder_warmup_failed")
			return
		}
		if err := engine.SeedDefaultCorpus(wctx); err != nil {
			log.Warn().Err(err).Msg("corpus_seed_failed")
		}
	}()

	var provider llm.Provider
	if cfg.LLMEnabled() {
		provider = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.ChatModel, cfg.LLMTimeout())
		log.Info().Str("model", cfg.ChatModel).Msg("llm_enabled")
	} else {
		log.Info().Msg("llm_disabled_template_responses")
	}

	evaluator := compliance.NewEvaluator(store, bus)
	scanner := guardrails.NewScanner(store, bus)

	runner, err := buildRunner(engine, evaluator, scanner, provider, bus)
	if err != nil {
		return err
	}

	registry := extract.NewRegistry()
	registry.Register(extract.NewPayslipExtractor(provider))

	profileCache := cache.New(cfg.CacheTTL())

	jobs := cron.New()
	_, _ = jobs.AddFunc("@every 5m", func() {
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mem.Persist(pctx)
	})
	_, _ = jobs.AddFunc("@every 1m", func() {
		if swept := profileCache.Sweep(); swept > 0 {
			log.Debug().Int("entries", swept).Msg("cache_swept")
		}
	})
	jobs.Start()
	defer jobs.Stop()

	srv := server.New(cfg, store, profileCache, mem, engine, evaluator, runner, registry, bus)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting_down")
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mem.Persist(pctx)
		return nil
	}
}

func buildRunner(
	engine *rag.Engine,
	evaluator *compliance.Evaluator,
	scanner *guardrails.Scanner,
	provider llm.Provider,
	bus commbus.CommBus,
) (*runtime.Runner, error) {
	pipeCfg := config.DefaultPipelineConfig()
	if err := pipeCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	runner := runtime.NewRunner(pipeCfg, bus)

	handlers := map[string]agents.HandleFunc{
		envelope.StageIntent:     agents.IntentHandler(),
		envelope.StageCanonical:  agents.CanonicalHandler(),
		envelope.StageCompliance: agents.ComplianceHandler(evaluator),
		envelope.StageGuardrails: agents.GuardrailsHandler(scanner),
		envelope.StageRAG:        agents.RAGHandler(engine),
		envelope.StageResponse:   agents.ResponseHandler(provider),
	}
	for name, handle := range handlers {
		agent, err := agents.NewStageAgent(pipeCfg.GetStage(name), handle, bus)
		if err != nil {
			return nil, fmt.Errorf("building stage %s: %w", name, err)
		}
		if err := runner.Register(agent); err != nil {
			return nil, err
		}
	}
	if err := runner.Validate(); err != nil {
		return nil, err
	}
	return runner, nil
}

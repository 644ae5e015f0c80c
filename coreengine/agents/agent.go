// Package agents implements the pipeline stage handlers. A single StageAgent
// type wraps every handler with payload contract checks, tracing, and
// lifecycle events; metrics ride the events through the bus.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/envelope"
)

var tracer = otel.Tracer("leaseflow/agents")

// HandleFunc mutates the envelope payload for one stage.
type HandleFunc func(ctx context.Context, env *envelope.Envelope) error

// StageAgent runs one stage of the pipeline. Before the handler runs, the
// stage's required payload keys are checked; after it succeeds, the keys the
// stage guarantees are checked. A contract violation fails the stage.
type StageAgent struct {
	cfg    *config.StageConfig
	handle HandleFunc
	bus    commbus.CommBus
}

// NewStageAgent creates a stage agent for cfg.
func NewStageAgent(cfg *config.StageConfig, handle HandleFunc, bus commbus.CommBus) (*StageAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, fmt.Errorf("stage '%s' has no handler", cfg.Name)
	}
	return &StageAgent{cfg: cfg, handle: handle, bus: bus}, nil
}

// Name returns the stage name.
func (a *StageAgent) Name() string { return a.cfg.Name }

// Process runs the stage handler against the envelope and forwards it to the
// next stage on success.
func (a *StageAgent) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	ctx, span := tracer.Start(ctx, "stage.process", trace.WithAttributes(
		attribute.String("leaseflow.stage.name", a.cfg.Name),
		attribute.String("leaseflow.request.id", env.RequestID()),
	))
	defer span.End()

	start := time.Now()
	a.emitStarted(ctx, env)
	log.Debug().Str("stage", a.cfg.Name).Str("request_id", env.RequestID()).Msg("stage_started")

	err := a.checkKeys(env, a.cfg.RequiredPayloadKeys, "required")
	if err == nil {
		err = a.handle(ctx, env)
	}
	if err == nil {
		err = a.checkKeys(env, a.cfg.GuaranteedPayloadKeys, "guaranteed")
	}

	durationMS := int(time.Since(start).Milliseconds())
	span.SetAttributes(attribute.Int("duration_ms", durationMS))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Str("stage", a.cfg.Name).Err(err).Int("duration_ms", durationMS).Msg("stage_error")
		a.emitCompleted(ctx, env, "error", durationMS, err)
		return env, fmt.Errorf("stage '%s': %w", a.cfg.Name, err)
	}

	span.SetStatus(codes.Ok, "success")
	log.Info().Str("stage", a.cfg.Name).Int("duration_ms", durationMS).Msg("stage_completed")
	a.emitCompleted(ctx, env, "success", durationMS, nil)

	next := envelope.NextStage(a.cfg.Name)
	if a.bus != nil {
		_ = a.bus.Publish(ctx, &commbus.StageTransition{
			RequestID:  env.RequestID(),
			EnvelopeID: env.EnvelopeID,
			FromStage:  a.cfg.Name,
			ToStage:    next,
		})
	}
	return env.Forward(a.cfg.Name, next), nil
}

func (a *StageAgent) checkKeys(env *envelope.Envelope, keys []string, contract string) error {
	for _, key := range keys {
		if !env.Has(key) {
			return fmt.Errorf("%s payload key missing: %s", contract, key)
		}
	}
	return nil
}

func (a *StageAgent) emitStarted(ctx context.Context, env *envelope.Envelope) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Publish(ctx, &commbus.StageStarted{
		Stage:      a.cfg.Name,
		RequestID:  env.RequestID(),
		EnvelopeID: env.EnvelopeID,
	})
}

func (a *StageAgent) emitCompleted(ctx context.Context, env *envelope.Envelope, status string, durationMS int, err error) {
	if a.bus == nil {
		return
	}
	event := &commbus.StageCompleted{
		Stage:      a.cfg.Name,
		RequestID:  env.RequestID(),
		EnvelopeID: env.EnvelopeID,
		Status:     status,
		DurationMS: durationMS,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	_ = a.bus.Publish(ctx, event)
}

// Package runtime drives an envelope through the fixed linear stage
// sequence. No retries, no branching: a stage error stops the run.
package runtime

import (
	"context"
	"errors"
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
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

var tracer = otel.Tracer("leaseflow/runtime")

// ErrNoFinalMessage is returned when a pipeline result carries no payload.
var ErrNoFinalMessage = errors.New("pipeline returned no final message")

// Processor runs one pipeline stage.
type Processor interface {
	Name() string
	Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
}

// Runner executes the configured stages in order against an envelope.
type Runner struct {
	cfg    *config.PipelineConfig
	stages map[string]Processor
	bus    commbus.CommBus
}

// NewRunner creates a runner for the pipeline configuration.
func NewRunner(cfg *config.PipelineConfig, bus commbus.CommBus) *Runner {
	return &Runner{
		cfg:    cfg,
		stages: make(map[string]Processor),
		bus:    bus,
	}
}

// Register attaches a processor to its configured stage.
func (r *Runner) Register(p Processor) error {
	if r.cfg.GetStage(p.Name()) == nil {
		return fmt.Errorf("stage '%s' is not in pipeline '%s'", p.Name(), r.cfg.Name)
	}
	r.stages[p.Name()] = p
	return nil
}

// Validate checks the pipeline configuration and that every stage has a
// processor. Call before serving traffic.
func (r *Runner) Validate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	for _, name := range r.cfg.GetStageOrder() {
		if _, ok := r.stages[name]; !ok {
			return fmt.Errorf("stage '%s' has no registered processor", name)
		}
	}
	return nil
}

// Run drives the envelope through every stage in order. The first stage
// error aborts the run and is returned with the envelope as it stood.
func (r *Runner) Run(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("leaseflow.pipeline.name", r.cfg.Name),
		attribute.String("leaseflow.request.id", env.RequestID()),
	))
	defer span.End()

	start := time.Now()
	if r.bus != nil {
		_ = r.bus.Publish(ctx, &commbus.PipelineStarted{
			RequestID:    env.RequestID(),
			EnvelopeID:   env.EnvelopeID,
			Jurisdiction: typeutil.SafeStringDefault(env.Payload["state"], ""),
			Query:        typeutil.SafeStringDefault(env.Payload["query"], ""),
		})
	}
	log.Info().Str("pipeline", r.cfg.Name).Str("request_id", env.RequestID()).Msg("pipeline_started")

	stagesCompleted := 0
	var err error
	for _, name := range r.cfg.GetStageOrder() {
		proc, ok := r.stages[name]
		if !ok {
			err = fmt.Errorf("stage '%s' has no registered processor", name)
			break
		}
		env, err = proc.Process(ctx, env)
		if err != nil {
			break
		}
		stagesCompleted++
	}

	durationMS := int(time.Since(start).Milliseconds())
	span.SetAttributes(attribute.Int("leaseflow.stages.completed", stagesCompleted))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Str("pipeline", r.cfg.Name).Err(err).
			Int("stages_completed", stagesCompleted).Msg("pipeline_error")
		r.emitCompleted(ctx, env, "error", durationMS, stagesCompleted, err)
		return env, err
	}

	span.SetStatus(codes.Ok, "success")
	log.Info().Str("pipeline", r.cfg.Name).Int("duration_ms", durationMS).Msg("pipeline_completed")
	r.emitCompleted(ctx, env, "success", durationMS, stagesCompleted, nil)
	return env, nil
}

func (r *Runner) emitCompleted(ctx context.Context, env *envelope.Envelope, status string, durationMS, stagesCompleted int, err error) {
	if r.bus == nil {
		return
	}
	event := &commbus.PipelineCompleted{
		Pipeline:        r.cfg.Name,
		RequestID:       env.RequestID(),
		EnvelopeID:      env.EnvelopeID,
		Status:          status,
		DurationMS:      durationMS,
		StagesCompleted: stagesCompleted,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	_ = r.bus.Publish(ctx, event)
}

// Unwrap extracts the final payload from a pipeline result. Accepts an
// Envelope or a state dict carrying a "payload" map; anything else is
// ErrNoFinalMessage.
func Unwrap(result any) (map[string]any, error) {
	switch v := result.(type) {
	case *envelope.Envelope:
		if v == nil || v.Payload == nil {
			return nil, ErrNoFinalMessage
		}
		return v.Payload, nil
	case map[string]any:
		if payload, ok := v["payload"].(map[string]any); ok {
			return payload, nil
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, ErrNoFinalMessage
}

// FinalResponse returns the composed final response from a payload, falling
// back to the payload itself when the response stage never ran.
func FinalResponse(payload map[string]any) map[string]any {
	if final, ok := payload["final_response"].(map[string]any); ok {
		return final
	}
	return payload
}

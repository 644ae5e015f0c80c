package observability

import (
	"context"

	"github.com/leaseflow/coreengine/commbus"
)

// MetricsSubscriber converts pipeline lifecycle events into Prometheus
// metrics. Subscribe it to "StageCompleted" and "PipelineCompleted".
func MetricsSubscriber() commbus.HandlerFunc {
	return func(ctx context.Context, msg commbus.Message) (any, error) {
		switch m := msg.(type) {
		case *commbus.StageCompleted:
			RecordStageExecution(m.Stage, m.Status, m.DurationMS)
		case *commbus.PipelineCompleted:
			RecordPipelineExecution(m.Pipeline, m.Status, m.DurationMS)
		}
		return nil, nil
	}
}

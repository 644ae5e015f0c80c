package storage

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
)

// AuditSubscriber returns a commbus handler that persists AuditRecorded
// events to the audit trail. Persistence failures are logged, never
// propagated into the pipeline.
func (s *Store) AuditSubscriber() commbus.HandlerFunc {
	return func(ctx context.Context, message commbus.Message) (any, error) {
		event, ok := message.(*commbus.AuditRecorded)
		if !ok {
			return nil, nil
		}
		err := s.AppendAudit(ctx, &AuditEvent{
			RequestID: event.RequestID,
			Action:    event.Action,
			State:     event.Jurisdiction,
			Details:   event.Details,
		})
		if err != nil {
			log.Warn().Str("action", event.Action).Err(err).Msg("audit_persist_failed")
		}
		return nil, nil
	}
}

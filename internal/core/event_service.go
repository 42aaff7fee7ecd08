package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/feedboard/backend/pkg/events"
)

// EventService publishes ephemeral integration notifications over NATS
type EventService struct {
	nats   *nats.Conn
	logger *zap.Logger
}

var _ Notifier = (*EventService)(nil)

// NewEventService creates a new event service. A nil connection disables publishing.
func NewEventService(natsConn *nats.Conn, logger *zap.Logger) *EventService {
	return &EventService{
		nats:   natsConn,
		logger: logger.Named("event_service"),
	}
}

// PublishSyncCompleted announces a finished sync run on the integration's subject
func (s *EventService) PublishSyncCompleted(ctx context.Context, payload events.SyncCompletedPayload) error {
	if s.nats == nil {
		return nil
	}
	if payload.Type == "" {
		payload.Type = events.TypeSyncCompleted
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := events.IntegrationSubject(payload.IntegrationID)
	if err := s.nats.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	s.logger.Debug("Notification published",
		zap.String("subject", subject),
		zap.String("run_id", payload.RunID))
	return nil
}

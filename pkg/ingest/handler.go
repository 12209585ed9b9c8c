package ingest

import (
	"context"

	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// HandleMessage applies one employee message from the bus. Invalid records are
// acknowledged since replaying them cannot succeed; store failures are returned
// so the message is redelivered.
func (s *Service) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.Service.HandleMessage")
	defer span.End()

	if msg.Envelope == nil {
		if err := msg.ParseEnvelope(); err != nil {
			return err
		}
	}

	switch msg.Envelope.EventType {
	case kafka.EmployeeRemoved:
		s.Remove(ctx, *msg.Envelope.Ref)
		return nil
	default:
		result, err := s.Ingest(ctx, msg.Envelope.Employee)
		if result != nil && result.Outcome == OutcomeInvalid {
			return nil
		}
		return err
	}
}

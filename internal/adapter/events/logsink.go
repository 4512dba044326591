package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/domain/event"
)

// LogSink writes every event as a structured log line. It stands in for the
// notification service when no broker is configured.
type LogSink struct{ log logrus.FieldLogger }

func NewLogSink(log logrus.FieldLogger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e event.Event) error {
	s.log.WithFields(logrus.Fields{
		"event_id":    e.ID,
		"event_type":  e.Type,
		"loan_id":     e.LoanID,
		"occurred_at": e.OccurredAt,
		"payload":     e.Payload,
	}).Info("domain event")
	return nil
}

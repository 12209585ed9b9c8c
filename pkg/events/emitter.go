// Package events publishes match lifecycle notifications
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Listener is notified after a match is persisted
type Listener interface {
	MatchCreated(ctx context.Context, jobID string, m *models.Match) error
	MatchUpdated(ctx context.Context, jobID string, current, previous *models.Match) error
}

// Publisher writes a keyed JSON message
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, value any, headers map[string]string) error
}

// Emitter publishes match events to the message bus
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func pairKey(m *models.Match) string {
	return m.Employee1.Key() + "|" + m.Employee2.Key()
}

func headers(m *models.Match) map[string]string {
	return map[string]string{
		"risk_level": string(m.RiskLevel),
		"status":     string(m.Status),
	}
}

// MatchCreated emits a match.created event
func (e *Emitter) MatchCreated(ctx context.Context, jobID string, m *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchCreated")
	defer span.End()

	event := &MatchEvent{
		BaseEvent: NewBaseEvent(EventTypeMatchCreated),
		JobID:     jobID,
		Match:     m,
	}

	if err := e.publisher.Publish(ctx, pairKey(m), string(EventTypeMatchCreated), event, headers(m)); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": m.ID}).Error("Failed to emit match.created event")
		return err
	}
	return nil
}

// MatchUpdated emits a match.updated event carrying the previous score and risk
func (e *Emitter) MatchUpdated(ctx context.Context, jobID string, current, previous *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchUpdated")
	defer span.End()

	event := &MatchEvent{
		BaseEvent: NewBaseEvent(EventTypeMatchUpdated),
		JobID:     jobID,
		Match:     current,
	}
	if previous != nil {
		confidence := previous.ConfidenceScore
		risk := previous.RiskLevel
		event.PreviousConfidence = &confidence
		event.PreviousRisk = &risk
	}

	if err := e.publisher.Publish(ctx, pairKey(current), string(EventTypeMatchUpdated), event, headers(current)); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": current.ID}).Error("Failed to emit match.updated event")
		return err
	}
	return nil
}

// Fanout notifies every listener and joins their errors
type Fanout []Listener

func (f Fanout) MatchCreated(ctx context.Context, jobID string, m *models.Match) error {
	var errs []error
	for _, l := range f {
		if err := l.MatchCreated(ctx, jobID, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) MatchUpdated(ctx context.Context, jobID string, current, previous *models.Match) error {
	var errs []error
	for _, l := range f {
		if err := l.MatchUpdated(ctx, jobID, current, previous); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorded is one notification captured by a Recorder
type Recorded struct {
	Type     EventType
	JobID    string
	Match    *models.Match
	Previous *models.Match
}

// Recorder keeps notifications in memory. It is used when no bus is
// configured and in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) MatchCreated(_ context.Context, jobID string, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Type: EventTypeMatchCreated, JobID: jobID, Match: m})
	return nil
}

func (r *Recorder) MatchUpdated(_ context.Context, jobID string, current, previous *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Type: EventTypeMatchUpdated, JobID: jobID, Match: current, Previous: previous})
	return nil
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Count returns how many events of type t were recorded
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

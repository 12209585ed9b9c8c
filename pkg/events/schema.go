package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeMatchCreated EventType = "match.created"
	EventTypeMatchUpdated EventType = "match.updated"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// MatchEvent carries the full match, including the per-identifier factor
// breakdown, so consumers can explain it without calling back
type MatchEvent struct {
	BaseEvent
	JobID              string            `json:"job_id,omitempty"`
	Match              *models.Match     `json:"match"`
	PreviousConfidence *float64          `json:"previous_confidence,omitempty"`
	PreviousRisk       *models.RiskLevel `json:"previous_risk,omitempty"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}

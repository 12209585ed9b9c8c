package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Employee message types on the inbound topic
const (
	EmployeeUpserted = "employee.upserted"
	EmployeeRemoved  = "employee.removed"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	TraceParent string

	Envelope *EmployeeEnvelope
}

// EmployeeEnvelope is the inbound message shape. Removals carry only the ref.
type EmployeeEnvelope struct {
	EventType string              `json:"event_type"`
	Employee  *models.Employee    `json:"employee,omitempty"`
	Ref       *models.EmployeeRef `json:"ref,omitempty"`
}

// ParseEnvelope decodes the message value. A bare employee object without an
// envelope is treated as an upsert.
func (m *IncomingMessage) ParseEnvelope() error {
	var env EmployeeEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	if env.EventType == "" {
		if eventType := m.Headers["event_type"]; eventType != "" {
			env.EventType = eventType
		}
	}

	if env.Employee == nil && env.Ref == nil {
		var emp models.Employee
		if err := json.Unmarshal(m.Value, &emp); err != nil {
			return err
		}
		if emp.EmployeeID != "" || emp.CompanyID != "" {
			env.Employee = &emp
		}
		if env.EventType == "" {
			env.EventType = EmployeeUpserted
		}
	}

	switch env.EventType {
	case EmployeeUpserted:
		if env.Employee == nil {
			return fmt.Errorf("%s message without employee", env.EventType)
		}
	case EmployeeRemoved:
		if env.Ref == nil && env.Employee != nil {
			ref := env.Employee.Ref()
			env.Ref = &ref
		}
		if env.Ref == nil || env.Ref.IsZero() {
			return fmt.Errorf("%s message without ref", env.EventType)
		}
	default:
		return fmt.Errorf("unknown event type %q", env.EventType)
	}

	m.Envelope = &env
	return nil
}

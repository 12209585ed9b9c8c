package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			return msg, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "match-events", testLogger())

	err := p.Publish(context.Background(), "acme/1|globex/2", "match.created", map[string]any{"confidence": 0.97}, map[string]string{"risk_level": "high"})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "match-events", msg.Topic)
	assert.Equal(t, "acme/1|globex/2", string(msg.Key))
	assert.JSONEq(t, `{"confidence":0.97}`, string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "match.created", headers["event_type"])
	assert.Equal(t, SchemaVersion, headers["schema_version"])
	assert.Equal(t, "high", headers["risk_level"])
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "match-events", testLogger())
	assert.Error(t, p.Publish(context.Background(), "k", "match.created", struct{}{}, nil))
}

func TestIncomingMessage_ParseEnvelope(t *testing.T) {
	emp := models.Employee{EmployeeID: "1", CompanyID: "acme", FirstName: "Ann"}
	empJSON, err := json.Marshal(emp)
	require.NoError(t, err)

	tests := []struct {
		name      string
		value     string
		headers   map[string]string
		eventType string
		wantErr   bool
	}{
		{name: "upsert envelope", value: `{"event_type":"employee.upserted","employee":` + string(empJSON) + `}`, eventType: EmployeeUpserted},
		{name: "bare employee", value: string(empJSON), eventType: EmployeeUpserted},
		{name: "bare employee with header", value: string(empJSON), headers: map[string]string{"event_type": EmployeeRemoved}, eventType: EmployeeRemoved},
		{name: "remove by ref", value: `{"event_type":"employee.removed","ref":{"company_id":"acme","employee_id":"1"}}`, eventType: EmployeeRemoved},
		{name: "remove without ref", value: `{"event_type":"employee.removed"}`, wantErr: true},
		{name: "unknown type", value: `{"event_type":"employee.promoted","employee":{}}`, wantErr: true},
		{name: "not json", value: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &IncomingMessage{Value: []byte(tt.value), Headers: tt.headers}
			err := msg.ParseEnvelope()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.eventType, msg.Envelope.EventType)
			if tt.eventType == EmployeeRemoved {
				assert.Equal(t, models.EmployeeRef{CompanyID: "acme", EmployeeID: "1"}, *msg.Envelope.Ref)
			}
		})
	}
}

func TestConsumer_CommitsOnlyHandledMessages(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		{Offset: 1, Value: []byte(`{"event_type":"employee.upserted","employee":{"employee_id":"1","company_id":"acme"}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"event_type":"employee.upserted","employee":{"employee_id":"fail","company_id":"acme"}}`)},
	}}

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.Envelope.Employee.EmployeeID)
		if msg.Envelope.Employee.EmployeeID == "fail" {
			return errors.New("store unavailable")
		}
		return nil
	}

	c := NewConsumerWithReader(reader, "employees", testLogger(), handler)
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Equal(t, []int64{1, 2}, reader.Committed(), "parse failures are committed, handler failures are not")
}

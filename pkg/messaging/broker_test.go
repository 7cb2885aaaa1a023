package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroker struct {
	topic, key string
	payload    []byte
	err        error
	calls      int
}

func (r *recordingBroker) Publish(_ context.Context, topic, key string, payload []byte) error {
	r.calls++
	r.topic, r.key, r.payload = topic, key, payload
	return r.err
}

func (r *recordingBroker) Close() error { return nil }

func TestPublisherEncodesEnvelope(t *testing.T) {
	b := &recordingBroker{}
	p := NewPublisher(b, "telehealth")

	msg := Message{
		ID:          uuid.New(),
		Type:        "refill.requested",
		AggregateID: uuid.New(),
		PatientID:   uuid.New(),
		Payload:     json.RawMessage(`{"refills_remaining":1}`),
		OccurredAt:  time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), msg))

	assert.Equal(t, "telehealth.refill.requested", b.topic)
	assert.Equal(t, msg.AggregateID.String(), b.key)

	var decoded Message
	require.NoError(t, json.Unmarshal(b.payload, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.JSONEq(t, `{"refills_remaining":1}`, string(decoded.Payload))
}

func TestPublisherTripsBreaker(t *testing.T) {
	b := &recordingBroker{err: errors.New("down")}
	p := NewPublisher(b, "")

	for i := 0; i < 5; i++ {
		assert.Error(t, p.Publish(context.Background(), Message{Type: "x"}))
	}
	assert.Error(t, p.Publish(context.Background(), Message{Type: "x"}))
	assert.Equal(t, 5, b.calls)
}

func TestNewUnknownDriver(t *testing.T) {
	logger := zerolog.Nop()
	_, err := New(Config{Driver: "carrier-pigeon"}, &logger)
	assert.Error(t, err)
}

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishSetsTopicAndKey(t *testing.T) {
	w := &fakeWriter{}
	logger := zerolog.Nop()
	b := newWithWriter(w, &logger)

	require.NoError(t, b.Publish(context.Background(), "telehealth.order.created", "order-1", []byte(`{}`)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "telehealth.order.created", w.msgs[0].Topic)
	assert.Equal(t, []byte("order-1"), w.msgs[0].Key)

	require.NoError(t, b.Close())
	assert.True(t, w.closed)
}

func TestPublishWrapsWriterError(t *testing.T) {
	logger := zerolog.Nop()
	b := newWithWriter(&fakeWriter{err: errors.New("leader not available")}, &logger)

	err := b.Publish(context.Background(), "t", "k", nil)
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewRequiresBrokers(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewKafkaBroker(Config{}, &logger)
	assert.Error(t, err)
}

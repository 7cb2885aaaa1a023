package worker

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	"github.com/jwalitptl/telehealth-api/pkg/logger"
	"github.com/jwalitptl/telehealth-api/pkg/messaging"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type fakePublisher struct {
	published []messaging.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msg messaging.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

var testConfig = OutboxProcessorConfig{
	BatchSize:      10,
	PollInterval:   time.Second,
	MaxRetries:     3,
	InitialBackoff: time.Second,
	MaxBackoff:     time.Minute,
	Lease:          30 * time.Second,
}

func newProcessor(repo *mocks.OutboxRepository, pub Publisher, handlers ...EventHandler) *OutboxProcessor {
	log := logger.NewLogger(&logger.Config{Output: &bytes.Buffer{}})
	p := NewOutboxProcessor(repo, pub, handlers, testConfig, log, metrics.NewNop())
	return p
}

func newEvent(t *testing.T, retries int) *model.OutboxEvent {
	t.Helper()
	evt, err := model.NewOutboxEvent(model.EventOrderCreated, uuid.New(), uuid.New(), map[string]string{"status": "pending"})
	require.NoError(t, err)
	evt.RetryCount = retries
	return evt
}

func TestProcessBatchPublishesAndHandles(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	pub := &fakePublisher{}
	var handled []uuid.UUID
	handler := EventHandlerFunc(func(_ context.Context, e *model.OutboxEvent) error {
		handled = append(handled, e.ID)
		return nil
	})

	evt := newEvent(t, 0)
	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MarkProcessed", ctx, evt.ID).Return(nil)

	n, err := newProcessor(repo, pub, handler).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.published, 1)
	assert.Equal(t, evt.ID, pub.published[0].ID)
	assert.Equal(t, model.EventOrderCreated, pub.published[0].Type)
	assert.Equal(t, evt.AggregateID, pub.published[0].AggregateID)
	assert.Equal(t, []uuid.UUID{evt.ID}, handled)
	repo.AssertExpectations(t)
}

func TestProcessBatchWithoutPublisherStillRunsHandlers(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	calls := 0
	handler := EventHandlerFunc(func(context.Context, *model.OutboxEvent) error {
		calls++
		return nil
	})

	evt := newEvent(t, 0)
	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MarkProcessed", ctx, evt.ID).Return(nil)

	_, err := newProcessor(repo, nil, handler).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPublishFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	evt := newEvent(t, 1)
	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MarkRetry", ctx, evt.ID, 2, now.Add(2*time.Second), "failed to publish event: broker down").Return(nil)

	p := newProcessor(repo, &fakePublisher{err: fmt.Errorf("broker down")})
	p.now = func() time.Time { return now }

	_, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestHandlerFailureOnLastAttemptDeadLetters(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	handler := EventHandlerFunc(func(context.Context, *model.OutboxEvent) error {
		return fmt.Errorf("patient lookup failed")
	})

	evt := newEvent(t, 2)
	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return([]*model.OutboxEvent{evt}, nil)
	repo.On("MoveToDeadLetter", ctx, mock.MatchedBy(func(e *model.OutboxEvent) bool {
		return e.ID == evt.ID && e.RetryCount == 3
	}), "event handler failed: patient lookup failed").Return(nil)

	_, err := newProcessor(repo, &fakePublisher{}, handler).ProcessBatch(ctx)
	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOneFailingEventDoesNotBlockTheBatch(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	bad, good := newEvent(t, 0), newEvent(t, 0)
	handler := EventHandlerFunc(func(_ context.Context, e *model.OutboxEvent) error {
		if e.ID == bad.ID {
			return fmt.Errorf("boom")
		}
		return nil
	})

	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return([]*model.OutboxEvent{bad, good}, nil)
	repo.On("MarkRetry", ctx, bad.ID, 1, mock.AnythingOfType("time.Time"), mock.Anything).Return(nil)
	repo.On("MarkProcessed", ctx, good.ID).Return(nil)

	n, err := newProcessor(repo, &fakePublisher{}, handler).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	repo.AssertExpectations(t)
}

func TestClaimFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	repo.On("ClaimPending", ctx, 10, 30*time.Second).Return(nil, fmt.Errorf("connection refused"))

	_, err := newProcessor(repo, &fakePublisher{}).ProcessBatch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewOutboxProcessorRejectsBadConfig(t *testing.T) {
	cfg := testConfig
	cfg.MaxRetries = 0
	assert.Panics(t, func() {
		NewOutboxProcessor(new(mocks.OutboxRepository), nil, nil, cfg, logger.NewLogger(nil), metrics.NewNop())
	})
}

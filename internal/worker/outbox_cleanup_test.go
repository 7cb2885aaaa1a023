package worker

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	"github.com/jwalitptl/telehealth-api/pkg/logger"
)

func TestCleanupUsesRetentionCutoff(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	start := time.Now().UTC()

	repo.On("DeleteProcessedBefore", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
		want := start.Add(-24 * time.Hour)
		return !cutoff.Before(want) && cutoff.Before(want.Add(time.Minute))
	})).Return(int64(7), nil)

	w := NewOutboxCleanupWorker(repo, 24*time.Hour, time.Hour, logger.NewLogger(&logger.Config{Output: &bytes.Buffer{}}))
	rows, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rows)
}

func TestCleanupWrapsErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.OutboxRepository)
	repo.On("DeleteProcessedBefore", ctx, mock.Anything).Return(int64(0), fmt.Errorf("timeout"))

	w := NewOutboxCleanupWorker(repo, time.Hour, time.Hour, logger.NewLogger(&logger.Config{Output: &bytes.Buffer{}}))
	_, err := w.Cleanup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to cleanup outbox events")
}

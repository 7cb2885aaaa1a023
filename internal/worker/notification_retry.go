package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/telehealth-api/pkg/logger"
)

type Retrier interface {
	RetryDue(ctx context.Context, limit int) (int, error)
}

// NotificationRetryWorker periodically re-attempts notifications whose
// backoff has elapsed
type NotificationRetryWorker struct {
	retrier  Retrier
	batch    int
	interval time.Duration
	logger   *logger.Logger
}

func NewNotificationRetryWorker(retrier Retrier, batch int, interval time.Duration, logger *logger.Logger) *NotificationRetryWorker {
	if batch <= 0 {
		batch = 50
	}
	return &NotificationRetryWorker{
		retrier:  retrier,
		batch:    batch,
		interval: interval,
		logger:   logger,
	}
}

func (w *NotificationRetryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce drains due notifications, one batch after another, until a batch
// comes back short
func (w *NotificationRetryWorker) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.retrier.RetryDue(ctx, w.batch)
		if err != nil {
			w.logger.Error(err, "Failed to retry notifications")
			break
		}
		total += n
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.logger.Info("Retried notifications", "count", total)
	}
	return total
}

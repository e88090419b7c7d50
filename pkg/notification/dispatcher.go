package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDispatchTimeout = 30 * time.Second

// AsyncDispatcher runs notification sends without making the caller wait.
// Delivery is best effort: failures are logged and never reported back.
type AsyncDispatcher struct {
	logger  *zap.Logger
	timeout time.Duration
	group   sync.WaitGroup
}

// NewAsyncDispatcher builds a dispatcher. A non-positive timeout selects 30s.
func NewAsyncDispatcher(logger *zap.Logger, timeout time.Duration) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &AsyncDispatcher{logger: logger, timeout: timeout}
}

// Dispatch starts send in the background. The send outlives ctx cancellation
// but keeps its values, and is bounded by the dispatcher timeout.
func (dispatcher *AsyncDispatcher) Dispatch(ctx context.Context, name string, send func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)
	dispatcher.group.Add(1)
	go func() {
		defer dispatcher.group.Done()
		sendCtx, cancel := context.WithTimeout(detached, dispatcher.timeout)
		defer cancel()
		if err := send(sendCtx); err != nil {
			dispatcher.logger.Warn("notification dispatch failed", zap.String("notification", name), zap.Error(err))
			return
		}
		dispatcher.logger.Debug("notification dispatched", zap.String("notification", name))
	}()
}

// Wait blocks until every dispatched send has returned.
func (dispatcher *AsyncDispatcher) Wait() {
	dispatcher.group.Wait()
}

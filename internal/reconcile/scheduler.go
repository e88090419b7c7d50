package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a named tick function run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// Job adapts the worker to the scheduler.
func (worker *ReminderWorker) Job(interval time.Duration) Job {
	return Job{
		Name:     JobReminders,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := worker.RunOnce(ctx, now)
			return err
		},
	}
}

// Job adapts the worker to the scheduler.
func (worker *ExpiryWorker) Job(interval time.Duration) Job {
	return Job{
		Name:     JobExpiry,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := worker.RunOnce(ctx, now)
			return err
		},
	}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(scheduler *Scheduler) {
		if logger != nil {
			scheduler.logger = logger
		}
	}
}

// WithLease replaces the in-process lease.
func WithLease(lease Lease) SchedulerOption {
	return func(scheduler *Scheduler) {
		if lease != nil {
			scheduler.lease = lease
		}
	}
}

// WithClock replaces time.Now as the source of tick times.
func WithClock(now func() time.Time) SchedulerOption {
	return func(scheduler *Scheduler) {
		if now != nil {
			scheduler.nowFn = now
		}
	}
}

// WithSchedulerMetrics records tick outcomes and durations.
func WithSchedulerMetrics(metrics *Metrics) SchedulerOption {
	return func(scheduler *Scheduler) {
		scheduler.metrics = metrics
	}
}

// WithStateListener is told when a job loop starts and stops.
func WithStateListener(listener func(job string, running bool)) SchedulerOption {
	return func(scheduler *Scheduler) {
		scheduler.listener = listener
	}
}

// Scheduler runs each job on its own goroutine. The first tick runs at
// Start; ticks of one job never overlap.
type Scheduler struct {
	jobs     []Job
	lease    Lease
	nowFn    func() time.Time
	logger   *zap.Logger
	metrics  *Metrics
	listener func(job string, running bool)

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   sync.WaitGroup
	started bool
}

// NewScheduler validates jobs and builds a Scheduler.
func NewScheduler(jobs []Job, options ...SchedulerOption) (*Scheduler, error) {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("%w: job name is empty", ErrInvalidWorkerConfig)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("%w: duplicate job %s", ErrInvalidWorkerConfig, job.Name)
		}
		seen[job.Name] = true
		if job.Interval <= 0 {
			return nil, fmt.Errorf("%w: job %s interval must be positive", ErrInvalidWorkerConfig, job.Name)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("%w: job %s has no run function", ErrInvalidWorkerConfig, job.Name)
		}
	}
	scheduler := &Scheduler{
		jobs:   jobs,
		lease:  NewLocalLease(),
		nowFn:  time.Now,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Start launches the job loops. They stop when ctx is cancelled or Stop is called.
func (scheduler *Scheduler) Start(ctx context.Context) {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	if scheduler.started {
		return
	}
	scheduler.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	for _, job := range scheduler.jobs {
		scheduler.group.Add(1)
		go scheduler.loop(loopCtx, job)
	}
	scheduler.logger.Info("scheduler started", zap.Int("jobs", len(scheduler.jobs)))
}

// Stop cancels the loops and waits for in-flight ticks to return.
func (scheduler *Scheduler) Stop() {
	scheduler.mu.Lock()
	cancel := scheduler.cancel
	scheduler.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	scheduler.group.Wait()
}

// Wait blocks until every job loop has returned.
func (scheduler *Scheduler) Wait() {
	scheduler.group.Wait()
}

func (scheduler *Scheduler) loop(ctx context.Context, job Job) {
	defer scheduler.group.Done()
	scheduler.notify(job.Name, true)
	defer scheduler.notify(job.Name, false)

	scheduler.tick(ctx, job)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			scheduler.logger.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			scheduler.tick(ctx, job)
		}
	}
}

func (scheduler *Scheduler) tick(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	ttl := leaseTTL(job.Interval)
	held, err := scheduler.lease.Acquire(ctx, job.Name, ttl)
	if errors.Is(err, ErrLeaseHeld) {
		scheduler.metrics.observeTick(job.Name, outcomeLeaseHeld, 0, scheduler.nowFn())
		scheduler.logger.Debug("job lease held elsewhere", zap.String("job", job.Name))
		return
	}
	if err != nil {
		scheduler.metrics.observeTick(job.Name, outcomeFailed, 0, scheduler.nowFn())
		scheduler.logger.Warn("acquire job lease", zap.String("job", job.Name), zap.Error(err))
		return
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			scheduler.logger.Warn("release job lease", zap.String("job", job.Name), zap.Error(err))
		}
	}()

	tickCtx, cancelTick := context.WithCancel(ctx)
	var lost atomic.Bool
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		scheduler.keepLease(tickCtx, job.Name, held, ttl, func() {
			lost.Store(true)
			cancelTick()
		})
	}()

	startedAt := time.Now()
	runErr := job.Run(tickCtx, scheduler.nowFn())
	elapsed := time.Since(startedAt)
	cancelTick()
	<-renewDone

	if lost.Load() {
		scheduler.metrics.observeTick(job.Name, outcomeFailed, elapsed, scheduler.nowFn())
		scheduler.logger.Error("job lease lost during tick", zap.String("job", job.Name), zap.Duration("elapsed", elapsed))
		return
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		scheduler.metrics.observeTick(job.Name, outcomeFailed, elapsed, scheduler.nowFn())
		scheduler.logger.Error("job tick failed", zap.String("job", job.Name), zap.Duration("elapsed", elapsed), zap.Error(runErr))
		return
	}
	scheduler.metrics.observeTick(job.Name, outcomeSucceeded, elapsed, scheduler.nowFn())
}

// keepLease renews held every third of ttl until ctx ends. A failed renewal
// calls onLost and stops.
func (scheduler *Scheduler) keepLease(ctx context.Context, job string, held Held, ttl time.Duration, onLost func()) {
	every := ttl / 3
	if every <= 0 {
		every = ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := held.Renew(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				scheduler.logger.Warn("renew job lease", zap.String("job", job), zap.Error(err))
				onLost()
				return
			}
		}
	}
}

func (scheduler *Scheduler) notify(job string, running bool) {
	if scheduler.listener != nil {
		scheduler.listener(job, running)
	}
}

// leaseTTL is two job intervals. Ticks renew it while they run.
func leaseTTL(interval time.Duration) time.Duration {
	return 2 * interval
}

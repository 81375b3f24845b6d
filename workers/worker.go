// Package workers runs the periodic loops that drive the coordinator. Each
// worker owns its cadence and runs its phases in a fixed order; a failing or
// panicking phase is logged and the next phase still runs.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/internal/metrics"
)

// Phase is one named step of a cycle
type Phase struct {
	Name string
	Run  func(ctx context.Context) error
}

// Snapshot reports the state of a worker
type Snapshot struct {
	Name              string     `json:"name"`
	Running           bool       `json:"running"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	LastCycleAt       *time.Time `json:"lastCycleAt,omitempty"`
	LastErrorAt       *time.Time `json:"lastErrorAt,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	Cycles            int64      `json:"cycles"`
	FailedPhases      int64      `json:"failedPhases"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
}

// Worker runs its phases once per interval until interrupted
type Worker struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	phases       []Phase
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	doneChan chan struct{}
	snapshot Snapshot
}

// Option configures a Worker
type Option func(*Worker)

// WithMetrics records cycle durations and phase failures in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithInitialDelay sets the pause before the first cycle. It defaults to
// the interval.
func WithInitialDelay(d time.Duration) Option {
	return func(w *Worker) {
		w.initialDelay = max(d, 0)
	}
}

// WithClock overrides the time source used for snapshots
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a worker. A non-positive interval defaults to one minute.
func New(name string, interval time.Duration, phases []Phase, opts ...Option) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	w := &Worker{
		name:         name,
		interval:     interval,
		initialDelay: interval,
		phases:       phases,
		logger:       logger.With("worker"),
		now:          time.Now,
		snapshot:     Snapshot{Name: name},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", name)
	return w
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.name
}

// Run executes cycles until ctx is done. The first cycle starts after the
// initial delay and the interval is the pause between the end of one cycle
// and the next.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker_started", "interval", w.interval.String())
	defer w.logger.Info("worker_stopped")

	timer := time.NewTimer(w.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		_ = w.RunCycle(ctx)
		timer.Reset(w.interval)
	}
}

// RunCycle runs every phase once in order. Failures are logged and returned
// joined; they never keep later phases from running.
func (w *Worker) RunCycle(ctx context.Context) error {
	start := w.now()

	var errs []error
	for _, p := range w.phases {
		if ctx.Err() != nil {
			break
		}
		if err := w.runPhase(ctx, p); err != nil {
			logger.ErrorPhase(w.logger, w.name, p.Name, err)
			w.metrics.PhaseFailed(w.name, p.Name)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}

	end := w.now()
	w.metrics.CycleCompleted(w.name, end.Sub(start))
	w.record(end, errs)
	return errors.Join(errs...)
}

func (w *Worker) runPhase(ctx context.Context, p Phase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.Run(ctx)
}

func (w *Worker) record(at time.Time, errs []error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.snapshot.Cycles++
	w.snapshot.LastCycleAt = &at
	if len(errs) == 0 {
		w.snapshot.ConsecutiveErrors = 0
		return
	}
	w.snapshot.FailedPhases += int64(len(errs))
	w.snapshot.ConsecutiveErrors++
	w.snapshot.LastErrorAt = &at
	w.snapshot.LastError = errors.Join(errs...).Error()
}

// Start runs the worker in its own goroutine. Starting a running worker
// does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	now := w.now()
	w.running = true
	w.cancel = cancel
	w.doneChan = make(chan struct{})
	w.snapshot.Running = true
	w.snapshot.StartedAt = &now
	done := w.doneChan
	w.mu.Unlock()

	go func() {
		defer close(done)
		_ = w.Run(ctx)
		w.mu.Lock()
		w.running = false
		w.snapshot.Running = false
		w.mu.Unlock()
	}()
}

// Interrupt stops a started worker. The running phase sees its context
// cancelled and no further cycle begins.
func (w *Worker) Interrupt() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until a started worker has stopped or the timeout passed. It
// reports whether the worker stopped. A timeout of zero waits indefinitely.
func (w *Worker) Wait(timeout time.Duration) bool {
	w.mu.RLock()
	done := w.doneChan
	w.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Snapshot returns a copy of the worker state
func (w *Worker) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.snapshot
	s.StartedAt = cloneTime(s.StartedAt)
	s.LastCycleAt = cloneTime(s.LastCycleAt)
	s.LastErrorAt = cloneTime(s.LastErrorAt)
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// RunGroup runs the workers until ctx is done and returns once all stopped
func RunGroup(ctx context.Context, workers ...*Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/metrics"
	"github.com/ignite/campaign-journeys/internal/pkg/distlock"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
)

// EventType names a queue event delivered to a job's sink.
type EventType string

const (
	EventQueued   EventType = "queued"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message to a job's listener.
type Event struct {
	Type      EventType             `json:"type"`
	ProjectID string                `json:"project_id"`
	Position  int                   `json:"position,omitempty"`
	Progress  *Progress             `json:"progress,omitempty"`
	Stats     *domain.AnalysisStats `json:"stats,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Sink receives a job's events in order. It may be nil.
type Sink func(Event)

// Result is delivered once when a job finishes.
type Result struct {
	Stats *domain.AnalysisStats
	Err   error
}

// Runner is what the queue schedules; *Orchestrator implements it.
type Runner interface {
	AnalyzeProject(ctx context.Context, projectID string, onProgress ProgressFunc) (*domain.AnalysisStats, error)
}

// QueueStatus is a snapshot of the queue.
type QueueStatus struct {
	Current string   `json:"current,omitempty"`
	Queued  []string `json:"queued"`
}

// Position returns how many jobs are ahead of projectID: 0 when it is
// running, -1 when it is neither running nor queued.
func (s QueueStatus) Position(projectID string) int {
	if s.Current == projectID {
		return 0
	}
	ahead := 0
	if s.Current != "" {
		ahead = 1
	}
	for i, id := range s.Queued {
		if id == projectID {
			return ahead + i
		}
	}
	return -1
}

type job struct {
	projectID string
	sink      Sink
	done      chan Result
}

// errLockLost ends a run whose cross-replica lock expired under it.
var errLockLost = errors.New("analysis lock lost")

// Queue runs at most one analysis at a time, in FIFO order. A project can be
// queued or running only once; duplicate requests fail with ErrConflict.
// Every job runs under a timeout so a stalled run cannot block the queue.
type Queue struct {
	runner  Runner
	timeout time.Duration

	lock      distlock.DistLock
	lockRetry time.Duration

	mu      sync.Mutex
	current string
	waiting []*job
	wake    chan struct{}
}

// NewQueue creates a queue. A zero timeout means runs are never cut short.
func NewQueue(runner Runner, timeout time.Duration) *Queue {
	return &Queue{
		runner:    runner,
		timeout:   timeout,
		lockRetry: 2 * time.Second,
		wake:      make(chan struct{}, 1),
	}
}

// SetLock makes every run hold l, so replicas sharing a database also run
// one analysis at a time. Acquisition is retried every retry until the job's
// timeout. A lock that expires (distlock.Extender) is extended every third of
// its TTL while the run is active, and the run is cancelled if it is lost.
func (q *Queue) SetLock(l distlock.DistLock, retry time.Duration) {
	q.lock = l
	if retry > 0 {
		q.lockRetry = retry
	}
}

// Enqueue schedules projectID. The returned channel receives exactly one
// Result. sink, if non-nil, is called with a queued event before Enqueue
// returns and then with the job's progress and final event.
func (q *Queue) Enqueue(projectID string, sink Sink) (<-chan Result, error) {
	q.mu.Lock()
	if q.current == projectID {
		q.mu.Unlock()
		metrics.AnalysisRejected.Inc()
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrConflict)
	}
	for _, j := range q.waiting {
		if j.projectID == projectID {
			q.mu.Unlock()
			metrics.AnalysisRejected.Inc()
			return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrConflict)
		}
	}
	j := &job{projectID: projectID, sink: sink, done: make(chan Result, 1)}
	q.waiting = append(q.waiting, j)
	position := len(q.waiting) - 1
	if q.current != "" {
		position++
	}
	metrics.AnalysisQueueDepth.Set(float64(len(q.waiting)))
	q.mu.Unlock()

	emit(sink, Event{Type: EventQueued, ProjectID: projectID, Position: position})
	select {
	case q.wake <- struct{}{}:
	default:
	}
	logger.Info("analysis queued", "project_id", projectID, "position", position)
	return j.done, nil
}

// Status returns the running project and the waiting ones in order.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{Current: q.current, Queued: make([]string, len(q.waiting))}
	for i, j := range q.waiting {
		st.Queued[i] = j.projectID
	}
	return st
}

// Start runs jobs until ctx is done. Jobs still waiting at shutdown fail with
// ctx's error. Start blocks; run it in its own goroutine.
func (q *Queue) Start(ctx context.Context) {
	logger.Info("analysis queue started", "timeout", q.timeout)
	for {
		if ctx.Err() != nil {
			q.drain(ctx.Err())
			return
		}
		j := q.next()
		if j == nil {
			select {
			case <-ctx.Done():
			case <-q.wake:
			}
			continue
		}
		q.run(ctx, j)
	}
}

// next moves the head of the queue into the current slot.
func (q *Queue) next() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) == 0 {
		return nil
	}
	j := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.current = j.projectID
	metrics.AnalysisQueueDepth.Set(float64(len(q.waiting)))
	return j
}

func (q *Queue) drain(err error) {
	q.mu.Lock()
	pending := q.waiting
	q.waiting = nil
	metrics.AnalysisQueueDepth.Set(0)
	q.mu.Unlock()
	for _, j := range pending {
		emit(j.sink, Event{Type: EventError, ProjectID: j.projectID, Error: err.Error()})
		j.done <- Result{Err: err}
	}
}

func (q *Queue) run(parent context.Context, j *job) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if q.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, q.timeout)
	}
	start := time.Now()

	stats, err := q.execute(ctx, j)
	cancel()

	q.mu.Lock()
	q.current = ""
	q.mu.Unlock()

	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metrics.AnalysisRuns.WithLabelValues("completed").Inc()
		emit(j.sink, Event{Type: EventComplete, ProjectID: j.projectID, Stats: stats})
	case errors.Is(err, context.DeadlineExceeded):
		metrics.AnalysisRuns.WithLabelValues("timeout").Inc()
		logger.Error("analysis timed out", "project_id", j.projectID, "timeout", q.timeout)
		emit(j.sink, Event{Type: EventError, ProjectID: j.projectID, Error: PublicMessage(err)})
	default:
		metrics.AnalysisRuns.WithLabelValues("failed").Inc()
		logger.Error("analysis failed", "project_id", j.projectID, "error", err)
		emit(j.sink, Event{Type: EventError, ProjectID: j.projectID, Error: PublicMessage(err)})
	}
	j.done <- Result{Stats: stats, Err: err}
}

// execute takes the cross-replica lock if configured and calls the runner,
// turning a panic into an error.
func (q *Queue) execute(ctx context.Context, j *job) (stats *domain.AnalysisStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()

	if q.lock != nil {
		if err := q.acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := q.lock.Release(context.Background()); err != nil {
				logger.Warn("analysis lock release failed", "project_id", j.projectID, "error", err)
			}
		}()
		if ext, ok := q.lock.(distlock.Extender); ok && ext.TTL() > 0 {
			var cancel context.CancelCauseFunc
			ctx, cancel = context.WithCancelCause(ctx)
			stop := keepAlive(ctx, ext, j.projectID, cancel)
			defer stop()
		}
	}

	stats, err = q.runner.AnalyzeProject(ctx, j.projectID, func(p Progress) {
		emit(j.sink, Event{Type: EventProgress, ProjectID: j.projectID, Progress: &p})
	})
	if err != nil && errors.Is(context.Cause(ctx), errLockLost) {
		err = fmt.Errorf("%w: %v", errLockLost, err)
	}
	return stats, err
}

// keepAlive extends l every third of its TTL until the returned stop is
// called. Losing the lock cancels ctx with errLockLost.
func keepAlive(ctx context.Context, l distlock.Extender, projectID string, cancel context.CancelCauseFunc) (stop func()) {
	ttl := l.TTL()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := l.Extend(ctx, ttl)
			switch {
			case err == nil:
			case errors.Is(err, distlock.ErrNotHeld):
				logger.Error("analysis lock lost", "project_id", projectID)
				cancel(errLockLost)
				return
			default:
				logger.Warn("analysis lock extend failed", "project_id", projectID, "error", err)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

func (q *Queue) acquire(ctx context.Context) error {
	for {
		ok, err := q.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("analysis lock: %w", err)
		}
		if ok {
			return nil
		}
		logger.Debug("analysis lock busy, waiting", "retry", q.lockRetry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.lockRetry):
		}
	}
}

func emit(sink Sink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

// PublicMessage is the client-facing text for a failed run. Storage details
// stay in the logs.
func PublicMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "analysis timed out"
	}
	if errors.Is(err, domain.ErrNotFound) {
		return "project not found"
	}
	return "analysis failed"
}

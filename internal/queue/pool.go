package queue

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-editor/server/internal/sandbox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPollInterval  = 250 * time.Millisecond
	defaultIdleTimeout   = 10 * time.Second
	defaultConcurrency   = 4
	defaultRetainFor     = 30 * time.Second
	defaultPruneInterval = time.Minute
	defaultExecTimeout   = 10 * time.Second
)

// Config configures a Queue.
type Config struct {
	Database     *gorm.DB
	Runner       sandbox.Runner
	Concurrency  int
	PollInterval time.Duration
	IdleTimeout  time.Duration
	RetainFor    time.Duration
	// ExecTimeout bounds how long a single execution may run inside the
	// sandbox before it is killed and reported as a timeout. Defaults to
	// defaultExecTimeout when unset.
	ExecTimeout time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger

	// OnFinished, if set, is invoked once a job reaches a terminal state
	// (completed or failed), after the result is durably persisted. The
	// queue itself has no notion of the document room a job belongs to;
	// this lets the caller (the bootstrap wiring) broadcast the result
	// to the Hub without the queue importing it.
	OnFinished func(Job)
}

// Queue is the public entry point: Submit durably enqueues a job and
// lazily starts a worker goroutine to drain it; Result polls for the
// outcome.
type Queue struct {
	store  *store
	runner sandbox.Runner
	logger *zap.Logger
	clock  func() time.Time

	concurrency  int
	pollInterval time.Duration
	idleTimeout  time.Duration
	retainFor    time.Duration
	execTimeout  time.Duration

	onFinished func(Job)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	pruneStop chan struct{}
}

// NewQueue constructs a Queue and starts its background pruning sweep.
// The worker goroutine itself is not started until the first job is
// submitted.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = defaultRetainFor
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	q := &Queue{
		store:        &store{db: cfg.Database, clock: cfg.Clock},
		runner:       cfg.Runner,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		idleTimeout:  cfg.IdleTimeout,
		retainFor:    cfg.RetainFor,
		execTimeout:  cfg.ExecTimeout,
		onFinished:   cfg.OnFinished,
		pruneStop:    make(chan struct{}),
	}
	go q.pruneLoop()
	return q, nil
}

// Stop halts the prune sweep and, if running, the worker loop. Safe to
// call once during shutdown.
func (q *Queue) Stop() {
	close(q.pruneStop)
	q.mu.Lock()
	stopCh := q.stopCh
	q.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	q.wg.Wait()
}

// Submit durably records a job request and ensures a worker is running
// to pick it up.
func (q *Queue) Submit(ctx context.Context, documentID, userID, language string, code []byte) (string, error) {
	jobID, err := q.store.Enqueue(ctx, documentID, userID, language, code, q.execTimeout)
	if err != nil {
		return "", err
	}
	q.ensureStarted()
	return jobID, nil
}

// Result returns the current state of a job, whether still queued,
// running, or finished.
func (q *Queue) Result(ctx context.Context, jobID string) (Job, error) {
	return q.store.Get(ctx, jobID)
}

// PendingCount reports how many jobs are currently queued, for health
// and observability endpoints.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.store.pendingCount(ctx)
}

func (q *Queue) ensureStarted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.wg.Add(1)
	go q.loop(q.stopCh)
}

// tryStop is called by loop when it has seen no queued work for
// idleTimeout. It re-checks the pending count under the same lock
// Submit uses for ensureStarted, so a job that arrives in the gap
// between loop's last empty dequeue and this check is never stranded:
// either tryStop observes it and cancels teardown, or Submit observes
// running == false after tryStop and restarts the loop itself.
func (q *Queue) tryStop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.store.pendingCount(context.Background())
	if err == nil && pending > 0 {
		return false
	}
	q.running = false
	return true
}

func (q *Queue) loop(stopCh chan struct{}) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, q.concurrency)
	var inFlight sync.WaitGroup
	idleSince := q.clock()

	for {
		select {
		case <-stopCh:
			inFlight.Wait()
			return
		case <-ticker.C:
			job, ok, err := q.store.dequeueOne(context.Background())
			if err != nil {
				q.logger.Warn("dequeue failed", zap.Error(err))
				continue
			}
			if !ok {
				if q.clock().Sub(idleSince) >= q.idleTimeout {
					if q.tryStop() {
						inFlight.Wait()
						return
					}
				}
				continue
			}

			idleSince = q.clock()
			sem <- struct{}{}
			inFlight.Add(1)
			go func(j Job) {
				defer inFlight.Done()
				defer func() { <-sem }()
				q.execute(j)
			}(job)
		}
	}
}

func (q *Queue) execute(job Job) {
	ctx := context.Background()
	result, err := q.runner.Run(ctx, sandbox.Request{
		Language: job.Language,
		Code:     job.Code,
		Timeout:  time.Duration(job.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		q.logger.Error("sandbox run failed", zap.String("job_id", job.JobID), zap.Error(err))
		if markErr := q.store.markFinished(ctx, job.JobID, StatusFailed, "internal_error", "", err.Error(), -1, 0); markErr != nil {
			q.logger.Error("failed to persist job failure", zap.String("job_id", job.JobID), zap.Error(markErr))
		}
		q.notifyFinished(ctx, job.JobID)
		return
	}

	status := StatusCompleted
	reason := string(result.Reason)
	if result.Status == sandbox.StatusTimeout {
		status = StatusFailed
		reason = "timeout"
	} else if result.Status != sandbox.StatusCompleted {
		status = StatusFailed
	}
	if markErr := q.store.markFinished(ctx, job.JobID, status, reason, result.Stdout, result.Stderr, result.ExitCode, result.ElapsedMs); markErr != nil {
		q.logger.Error("failed to persist job result", zap.String("job_id", job.JobID), zap.Error(markErr))
	}
	q.notifyFinished(ctx, job.JobID)
}

func (q *Queue) notifyFinished(ctx context.Context, jobID string) {
	if q.onFinished == nil {
		return
	}
	finished, err := q.store.Get(ctx, jobID)
	if err != nil {
		q.logger.Warn("failed to reload finished job for notification", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	q.onFinished(finished)
}

func (q *Queue) pruneLoop() {
	ticker := time.NewTicker(defaultPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.pruneStop:
			return
		case <-ticker.C:
			if err := q.store.Prune(context.Background(), q.retainFor); err != nil {
				q.logger.Warn("prune failed", zap.Error(err))
			}
		}
	}
}

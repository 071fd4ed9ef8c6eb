package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agentboard/rollupd/internal/monitoring"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/worker"
)

// Invocation states. A retryable failure re-enters RUNNING through the
// backoff timer until the retry budget is spent.
const (
	StatePending         = "PENDING"
	StateRunning         = "RUNNING"
	StateSuccess         = "SUCCESS"
	StateFailedRetryable = "FAILED_RETRYABLE"
	StateFailedTerminal  = "FAILED_TERMINAL"
)

const (
	defaultQueue         = "default"
	defaultQueueCapacity = 64
	defaultRecentLimit   = 256
	defaultRecentTTL     = 24 * time.Hour
	maxBackoff           = 30 * time.Minute
)

var errHardLimit = errors.New("hard time limit exceeded")

// Invocation is the record kept per task run for the status endpoint.
type Invocation struct {
	ID         uuid.UUID `json:"id"`
	Task       string    `json:"task"`
	Queue      string    `json:"queue"`
	Attempt    int       `json:"attempt"`
	State      string    `json:"state"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// ExecutorConfig tunes queue routing and sizing.
type ExecutorConfig struct {
	// Routes maps a task name prefix (before the first dot) to a queue.
	Routes map[string]string

	// Workers is the goroutine count per queue (default 1).
	Workers map[string]int

	QueueCapacity int
	RecentLimit   int
	RecentTTL     time.Duration
}

// DefaultRoutes keeps the three job classes on independent queues so a
// backlog in one cannot starve another.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"rollup":      "rollups",
		"views":       "views",
		"maintenance": "maintenance",
	}
}

// Executor runs task invocations through per-queue worker pools, applying
// each task's retry budget, backoff and time limits.
type Executor struct {
	routes  map[string]string
	queues  map[string]chan worker.Job
	workers map[string]int
	recent  *expirable.LRU[string, Invocation]
	metrics *monitoring.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	wgs     []*sync.WaitGroup
	timers  map[*time.Timer]struct{}
	started bool
	stopped bool
}

func NewExecutor(cfg ExecutorConfig, metrics *monitoring.Metrics, logger *slog.Logger) *Executor {
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = defaultRecentTTL
	}
	if metrics == nil {
		metrics = monitoring.New(false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	queues := make(map[string]chan worker.Job)
	for _, q := range cfg.Routes {
		if _, ok := queues[q]; !ok {
			queues[q] = make(chan worker.Job, cfg.QueueCapacity)
		}
	}
	if _, ok := queues[defaultQueue]; !ok {
		queues[defaultQueue] = make(chan worker.Job, cfg.QueueCapacity)
	}

	return &Executor{
		routes:  cfg.Routes,
		queues:  queues,
		workers: cfg.Workers,
		recent:  expirable.NewLRU[string, Invocation](cfg.RecentLimit, nil, cfg.RecentTTL),
		metrics: metrics,
		logger:  logger,
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Start spawns the worker pools. ctx cancellation makes the pools drain
// whatever is already queued; call Stop to close the queues and wait.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	for name, queue := range e.queues {
		wg := worker.SpawnPool(ctx, name, e.workers[name], queue, e.logger)
		e.wgs = append(e.wgs, wg)
	}
}

// Stop cancels pending retries, closes the queues and waits for in-flight
// jobs to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
	for _, queue := range e.queues {
		close(queue)
	}
	wgs := e.wgs
	e.mu.Unlock()

	for _, wg := range wgs {
		wg.Wait()
	}
}

// Submit enqueues one invocation of the task on its routed queue.
func (e *Executor) Submit(spec TaskSpec) {
	e.enqueue(spec, 0, uuid.New())
}

// Recent returns retained invocation records, newest first.
func (e *Executor) Recent() []Invocation {
	values := e.recent.Values()
	out := make([]Invocation, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i])
	}
	return out
}

// QueueDepths reports the number of waiting jobs per queue.
func (e *Executor) QueueDepths() map[string]int {
	depths := make(map[string]int, len(e.queues))
	for name, queue := range e.queues {
		depths[name] = len(queue)
	}
	return depths
}

// queueFor routes by the task name's prefix. Unrouted prefixes land on the
// default queue.
func (e *Executor) queueFor(task string) string {
	prefix := task
	if i := strings.Index(task, "."); i >= 0 {
		prefix = task[:i]
	}
	if q, ok := e.routes[prefix]; ok {
		if _, exists := e.queues[q]; exists {
			return q
		}
	}
	return defaultQueue
}

// enqueue places one delivery attempt on the queue. Retries reuse the
// invocation ID so its record tracks the whole retry chain.
func (e *Executor) enqueue(spec TaskSpec, attempt int, id uuid.UUID) {
	queue := e.queueFor(spec.Name)
	inv := Invocation{
		ID:         id,
		Task:       spec.Name,
		Queue:      queue,
		Attempt:    attempt,
		State:      StatePending,
		EnqueuedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	e.remember(inv)

	select {
	case e.queues[queue] <- &taskJob{exec: e, spec: spec, inv: inv}:
		e.metrics.UpdateQueueDepth(queue, len(e.queues[queue]))
	default:
		// Queue full: drop this invocation, the next schedule fire covers it
		inv.State = StateFailedTerminal
		inv.Error = "queue full"
		e.remember(inv)
		e.logger.Error("Queue full, dropping task",
			"task", spec.Name,
			"queue", queue,
			"capacity", cap(e.queues[queue]),
		)
	}
}

func (e *Executor) remember(inv Invocation) {
	e.recent.Add(inv.ID.String(), inv)
}

// ==================== Invocation lifecycle ====================

type taskJob struct {
	exec *Executor
	spec TaskSpec
	inv  Invocation
}

func (j *taskJob) Name() string { return j.spec.Name }

func (j *taskJob) Execute(ctx context.Context) worker.Result {
	return taskResult{err: j.exec.execute(ctx, j.spec, j.inv)}
}

type taskResult struct{ err error }

func (r taskResult) Error() error { return r.err }

var _ worker.Job = (*taskJob)(nil)

func (e *Executor) execute(ctx context.Context, spec TaskSpec, inv Invocation) error {
	inv.State = StateRunning
	inv.StartedAt = time.Now().UTC()
	e.remember(inv)

	log := e.logger.With(
		"task", inv.Task,
		"invocation_id", inv.ID,
		"attempt", inv.Attempt,
	)
	log.Debug("Task started")

	err := e.runBounded(ctx, spec)

	duration := time.Since(inv.StartedAt)
	inv.FinishedAt = time.Now().UTC()
	inv.DurationMS = duration.Milliseconds()

	switch {
	case err == nil:
		inv.State = StateSuccess
		log.Info("Task succeeded", "duration_ms", inv.DurationMS)

	case errors.Is(err, errHardLimit):
		// Abandoned: the worker is freed, the runner goroutine exits when
		// the task honors its cancelled context. Never retried.
		inv.State = StateFailedTerminal
		inv.Error = err.Error()
		log.Error("Task abandoned", "error", err, "duration_ms", inv.DurationMS)

	case models.IsValidation(err):
		inv.State = StateFailedTerminal
		inv.Error = err.Error()
		log.Error("Task failed validation", "error", err)

	case inv.Attempt < spec.MaxRetries:
		inv.State = StateFailedRetryable
		inv.Error = err.Error()
		delay := backoffDelay(spec.BackoffBase, inv.Attempt)
		log.Warn("Task failed, scheduling retry",
			"error", err,
			"retry_in", delay.String(),
			"retries_left", spec.MaxRetries-inv.Attempt,
		)
		e.scheduleRetry(spec, inv.Attempt+1, delay, inv.ID)

	default:
		inv.State = StateFailedTerminal
		inv.Error = err.Error()
		log.Error("Task failed, retry budget exhausted",
			"error", err,
			"attempts", inv.Attempt+1,
		)
	}

	e.remember(inv)
	e.metrics.RecordTask(inv.Task, strings.ToLower(inv.State), duration)

	return err
}

// runBounded runs the task under its time limits. The soft limit becomes
// the context deadline; the hard limit abandons the invocation outright.
func (e *Executor) runBounded(ctx context.Context, spec TaskSpec) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if spec.SoftTimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.SoftTimeLimit)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- spec.Run(runCtx)
	}()

	if spec.HardTimeLimit <= 0 {
		return <-done
	}

	hard := time.NewTimer(spec.HardTimeLimit)
	defer hard.Stop()

	select {
	case err := <-done:
		return err
	case <-hard.C:
		cancel()
		return fmt.Errorf("%w after %s", errHardLimit, spec.HardTimeLimit)
	}
}

func (e *Executor) scheduleRetry(spec TaskSpec, attempt int, delay time.Duration, id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, t)
		stopped := e.stopped
		e.mu.Unlock()
		if !stopped {
			e.enqueue(spec, attempt, id)
		}
	})
	e.timers[t] = struct{}{}
}

// backoffDelay is base doubled per attempt, capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt > 16 {
		attempt = 16
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// Package scheduler fires the recurring rollup, view refresh and
// maintenance tasks and runs them through per-queue worker pools with
// retry, backoff and time limit enforcement.
//
// Delivery is at-least-once: a replica death mid-task surfaces as a
// redelivery on the next schedule fire, which is safe because every rollup
// write is an idempotent keyed upsert.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentboard/rollupd/internal/monitoring"
)

const defaultTick = 30 * time.Second

// Scheduler enqueues due tasks into the executor on a fixed tick. Only the
// leader replica enqueues; followers keep their executors hot and take
// over when the lock expires.
type Scheduler struct {
	tasks    []TaskSpec
	executor *Executor
	lock     LeaderLock
	metrics  *monitoring.Metrics
	logger   *slog.Logger
	tick     time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

func NewScheduler(tasks []TaskSpec, executor *Executor, lock LeaderLock, metrics *monitoring.Metrics, logger *slog.Logger) *Scheduler {
	if lock == nil {
		lock = LocalLock{}
	}
	if metrics == nil {
		metrics = monitoring.New(false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		tasks:    tasks,
		executor: executor,
		lock:     lock,
		metrics:  metrics,
		logger:   logger,
		tick:     defaultTick,
		next:     make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, firing due tasks each tick. Fires
// missed while not leading collapse into a single fire on takeover.
func (s *Scheduler) Run(ctx context.Context) {
	now := time.Now().UTC()
	s.mu.Lock()
	for _, task := range s.tasks {
		s.next[task.Name] = task.Schedule.Next(now)
	}
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		"tasks", len(s.tasks),
		"tick", s.tick.String(),
	)
	for _, task := range s.tasks {
		s.logger.Debug("Task registered",
			"task", task.Name,
			"first_fire", s.next[task.Name].Format(time.RFC3339),
		)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release()
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tickOnce(ctx, time.Now().UTC())
		}
	}
}

// tickOnce renews leadership and fires every task whose next fire time has
// passed. A task overdue by several intervals fires once, not once per
// missed interval; gaps are backfill territory.
func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) {
	leader, err := s.lock.Acquire(ctx)
	if err != nil {
		// Idempotent upserts make a duplicate fire harmless, a silent
		// stall is not. Lead when the lock cannot be reached.
		s.logger.Warn("Leader lock unavailable, assuming leadership", "error", err)
		leader = true
	}
	s.metrics.UpdateLeaderStatus(leader)

	for queue, depth := range s.executor.QueueDepths() {
		s.metrics.UpdateQueueDepth(queue, depth)
	}

	if !leader {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if now.Before(s.next[task.Name]) {
			continue
		}
		s.executor.Submit(task)
		s.next[task.Name] = task.Schedule.Next(now)
		s.logger.Debug("Task fired",
			"task", task.Name,
			"next_fire", s.next[task.Name].Format(time.RFC3339),
		)
	}
}

func (s *Scheduler) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Release(ctx); err != nil {
		s.logger.Warn("Leader lock release failed", "error", err)
	}
	s.metrics.UpdateLeaderStatus(false)
}

// Package worker provides the goroutine pools behind the task queues.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Job is one unit of queued work.
type Job interface {
	// Name identifies the job in worker logs.
	Name() string

	// Execute performs the work synchronously. Implementations must honor
	// ctx cancellation.
	Execute(ctx context.Context) Result
}

// Result is the outcome of a job execution.
type Result interface {
	// Error returns the execution error, or nil on success.
	Error() error
}

// SpawnPool starts numWorkers goroutines consuming queue. Workers exit when
// the queue is closed; on ctx cancellation they first drain whatever is
// already buffered so accepted work is not dropped. A panicking job takes
// down neither the worker nor its siblings.
//
// The returned WaitGroup tracks every worker; Wait() blocks until all have
// exited.
func SpawnPool(
	ctx context.Context,
	queueName string,
	numWorkers int,
	queue <-chan Job,
	logger *slog.Logger,
) *sync.WaitGroup {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	wg := &sync.WaitGroup{}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			log := logger.With("queue", queueName, "worker_id", workerID)
			log.Debug("Worker started", "total_workers", numWorkers)

			executeJob := func(job Job) {
				defer func() {
					if r := recover(); r != nil {
						log.Error("Job panicked",
							"job", job.Name(),
							"panic", fmt.Sprintf("%v", r),
						)
					}
				}()

				result := job.Execute(ctx)
				if result != nil && result.Error() != nil {
					log.Error("Job execution failed",
						"job", job.Name(),
						"error", result.Error(),
					)
				}
			}

			for {
				select {
				case <-ctx.Done():
					// Drain buffered jobs before exiting
					log.Debug("Worker draining remaining jobs", "reason", "context_cancelled")
					for job := range queue {
						executeJob(job)
					}
					log.Debug("Worker exiting", "reason", "context_cancelled")
					return

				case job, ok := <-queue:
					if !ok {
						log.Debug("Worker exiting", "reason", "queue_closed")
						return
					}
					executeJob(job)
				}
			}
		}(i)
	}

	logger.Debug("Worker pool spawned",
		"queue", queueName,
		"num_workers", numWorkers,
	)

	return wg
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// TaskFunc is the work a task performs. The returned payload is delivered
// to the task's Done callback.
type TaskFunc func(ctx context.Context) (any, error)

// Task is one unit of queued work.
type Task struct {
	ID       string
	Name     string
	Priority int

	// Soft deadline for the task body. Zero means no per-task limit.
	Timeout time.Duration

	Run TaskFunc

	// Done is invoked from the worker goroutine after Run returns.
	// Optional.
	Done func(TaskResult)
}

// TaskResult is the outcome delivered to a task's Done callback.
type TaskResult struct {
	TaskID   string
	Payload  any
	Err      error
	Duration time.Duration
}

// NewTask builds a task for a named lane.
func NewTask(name, lane string, run TaskFunc) *Task {
	return &Task{
		ID:       uuid.New().String(),
		Name:     name,
		Priority: PriorityForLane(lane),
		Run:      run,
	}
}

// Pool runs tasks from a priority queue on a fixed set of goroutines.
// A shared token-bucket limiter throttles task starts, which keeps
// LLM-heavy lanes from flooding the provider.
type Pool struct {
	queue   *PriorityQueue
	workers int
	limiter *rate.Limiter
	logger  *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers int
	// Task starts per second across the pool. Zero disables throttling.
	RPS    float64
	Logger *slog.Logger
}

// NewPool creates a pool over its own queue.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Pool{
		queue:   NewPriorityQueue(),
		workers: cfg.Workers,
		limiter: limiter,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Submit queues a task.
func (p *Pool) Submit(task *Task) error {
	return p.queue.Push(task)
}

// Stats reports the queue depth by lane.
func (p *Pool) Stats() Stats {
	return p.queue.Stats()
}

// Start launches the worker goroutines. Workers drain until Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workers)
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)

	for {
		task := p.queue.Pop(p.done)
		if task == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		p.execute(ctx, logger, task)
	}
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, task *Task) {
	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := runGuarded(taskCtx, task)
	result := TaskResult{
		TaskID:   task.ID,
		Payload:  payload,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		logger.Warn("task failed", "task", task.Name, "task_id", task.ID,
			"duration", result.Duration, "error", err)
	} else {
		logger.Debug("task completed", "task", task.Name, "task_id", task.ID,
			"duration", result.Duration)
	}

	if task.Done != nil {
		task.Done(result)
	}
}

// runGuarded turns a task panic into an error so one bad task cannot
// take the worker down.
func runGuarded(ctx context.Context, task *Task) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v\n%s", task.Name, r, debug.Stack())
		}
	}()
	return task.Run(ctx)
}

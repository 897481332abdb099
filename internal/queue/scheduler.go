package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PeriodicJob is one recurring maintenance job.
type PeriodicJob struct {
	Name     string
	Interval time.Duration
	Lane     string
	Run      TaskFunc
}

// Scheduler submits periodic jobs onto a pool at their intervals. Each
// job runs as a normal queued task, so priorities apply: maintenance
// jobs never preempt generation work.
type Scheduler struct {
	pool   *Pool
	logger *slog.Logger

	mu   sync.Mutex
	jobs []PeriodicJob

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler creates a scheduler over the given pool.
func NewScheduler(pool *Pool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{pool: pool, logger: logger, done: make(chan struct{})}
}

// Register adds a periodic job. Must be called before Start.
func (s *Scheduler) Register(job PeriodicJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

// Start launches one ticker goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]PeriodicJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if job.Interval <= 0 {
			s.logger.Warn("skipping periodic job with no interval", "job", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
}

// Stop halts the tickers. In-flight tasks drain with the pool.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job PeriodicJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			task := NewTask(job.Name, job.Lane, job.Run)
			if err := s.pool.Submit(task); err != nil {
				s.logger.Warn("failed to submit periodic job", "job", job.Name, "error", err)
			}
		}
	}
}

// Package scheduler runs the periodic billing jobs: the gateway reconcile
// poll, the overdue sweep and the outbox relay.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of periodic work
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the interval is used.
	Timeout time.Duration
	// RunOnStart triggers a run as soon as the scheduler starts
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// JobStats records the outcome of a job's runs
type JobStats struct {
	Runs      int
	Failures  int
	LastRunAt time.Time
	LastError string
}

// Scheduler drives a fixed set of jobs, each on its own ticker. A run that
// overlaps the next tick delays that tick instead of running concurrently.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	stats     map[string]*JobStats
}

// New creates a scheduler for jobs
func New(logger *zap.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]bool, len(jobs))
	stats := make(map[string]*JobStats, len(jobs))
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, fmt.Errorf("%w: job needs a name and a run func", ErrInvalidConfig)
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("%w: job %s has no interval", ErrInvalidConfig, j.Name)
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("%w: duplicate job %s", ErrInvalidConfig, j.Name)
		}
		seen[j.Name] = true
		stats[j.Name] = &JobStats{}
	}
	return &Scheduler{
		jobs:   jobs,
		logger: logger.Named("scheduler"),
		stats:  stats,
	}, nil
}

// Start launches one goroutine per job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels every job and waits for in-flight runs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler has been started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunNow executes the named job once in the caller's goroutine
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// Stats returns a copy of the run statistics of the named job
func (s *Scheduler) Stats(name string) (JobStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		return JobStats{}, false
	}
	return *st, true
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()

	if j.RunOnStart {
		_ = s.execute(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j Job) (err error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = j.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
		s.record(j.Name, start, err)
		if err != nil {
			s.logger.Error("Job failed",
				zap.String("job", j.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("Job completed",
			zap.String("job", j.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	return j.Run(runCtx)
}

func (s *Scheduler) record(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	st.Runs++
	st.LastRunAt = at
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

// Package service runs reconciliations in the background for the HTTP API
// and the scheduler. At most one run is active at a time: two runs against
// the same ledger would race for the same unlinked records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

var (
	// ErrRunInProgress is returned when a run is already active.
	ErrRunInProgress = errors.New("a reconciliation run is already in progress")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// Runner executes one reconciliation. *reconcile.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Result, error)
}

// RunRequest holds parameters for starting a run.
type RunRequest struct {
	DryRun    bool
	Flows     []reconcile.Flow
	HolderIDs []int64
	Stages    []string
	Workers   int
	Trigger   string // "api", "schedule"
}

// Job is a snapshot of a background run.
type Job struct {
	ID          string
	Status      JobStatus
	Request     RunRequest
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      *reconcile.Result
	Error       error
}

type job struct {
	Job
	cancel context.CancelFunc
	done   chan struct{}
}

// ReconcileService manages background reconciliation jobs.
type ReconcileService struct {
	runner Runner
	logger *slog.Logger

	mu     sync.RWMutex
	jobs   map[string]*job
	active string

	wg sync.WaitGroup
}

// NewReconcileService creates a new service.
func NewReconcileService(runner Runner, logger *slog.Logger) *ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileService{
		runner: runner,
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// StartRun starts a run in the background and returns its job id.
// The caller's context is not the job's parent; use CancelRun to stop it.
func (s *ReconcileService) StartRun(_ context.Context, req RunRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return "", fmt.Errorf("%w (job %s)", ErrRunInProgress, s.active)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			Status:    StatusPending,
			Request:   req,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[j.ID] = j
	s.active = j.ID

	s.wg.Add(1)
	go s.run(ctx, j)

	s.logger.Info("reconcile job started",
		"job_id", j.ID,
		"trigger", req.Trigger,
		"dry_run", req.DryRun,
		"flows", req.Flows,
	)
	return j.ID, nil
}

func (s *ReconcileService) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)
	defer j.cancel()

	s.setStatus(j.ID, StatusRunning)

	result, err := s.runner.Run(ctx, reconcile.Options{
		DryRun:    j.Request.DryRun,
		Flows:     j.Request.Flows,
		HolderIDs: j.Request.HolderIDs,
		Stages:    j.Request.Stages,
		Workers:   j.Request.Workers,
		Trigger:   j.Request.Trigger,
	})

	s.finish(j.ID, result, err, ctx.Err() != nil)
}

func (s *ReconcileService) setStatus(id string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == StatusPending {
		j.Status = status
	}
}

func (s *ReconcileService) finish(id string, result *reconcile.Result, err error, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	j.CompletedAt = &now
	j.Result = result
	j.Error = err
	if s.active == id {
		s.active = ""
	}

	switch {
	case cancelled || (result != nil && result.Cancelled):
		j.Status = StatusCancelled
		s.logger.Info("reconcile job cancelled", "job_id", id)
	case err != nil || result == nil:
		j.Status = StatusFailed
		s.logger.Error("reconcile job failed", "job_id", id, "error", err)
	default:
		j.Status = StatusCompleted
		s.logger.Info("reconcile job completed",
			"job_id", id,
			"run_id", result.RunID,
			"matched", result.Matched,
			"committed", result.Committed,
			"skipped", len(result.Skips),
			"write_errors", len(result.WriteErrors),
		)
	}
}

// GetJob returns a snapshot of a job.
func (s *ReconcileService) GetJob(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.Job, nil
}

// ListJobs returns every job, newest first.
func (s *ReconcileService) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Job)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out
}

// ActiveJob returns the running job, if any.
func (s *ReconcileService) ActiveJob() (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == "" {
		return Job{}, false
	}
	return s.jobs[s.active].Job, true
}

// CancelRun cancels a pending or running job. The orchestrator finishes
// the decision it is committing before the job ends.
func (s *ReconcileService) CancelRun(id string) error {
	s.mu.RLock()
	j, ok := s.jobs[id]
	var status JobStatus
	if ok {
		status = j.Status
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if status != StatusPending && status != StatusRunning {
		return fmt.Errorf("%w: status=%s", ErrJobFinished, status)
	}

	j.cancel()
	s.logger.Info("reconcile job cancel requested", "job_id", id)
	return nil
}

// Wait blocks until the job has finished or ctx is done.
func (s *ReconcileService) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-j.done:
		return s.GetJob(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Shutdown cancels every active job and waits for them to finish.
func (s *ReconcileService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, j := range s.jobs {
		j.cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

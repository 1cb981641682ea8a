package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler starts runs on a cron schedule. A tick that lands while a run
// is still active is skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	service *ReconcileService
	request RunRequest
	logger  *slog.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as "@every 6h") in the given time zone.
func NewScheduler(svc *ReconcileService, spec, timezone string, req RunRequest, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", timezone, err)
		}
		loc = l
	}

	req.Trigger = "schedule"
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		service: svc,
		request: req,
		logger:  logger,
	}

	id, err := s.cron.AddFunc(spec, s.Trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reconcile schedule started", "next", s.Next())
}

// Stop stops the schedule. Runs already started keep going; the returned
// context is done once no tick callback is executing.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next is the time of the next tick, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Trigger starts one scheduled run now.
func (s *Scheduler) Trigger() {
	id, err := s.service.StartRun(context.Background(), s.request)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("scheduled run skipped", "reason", err)
		return
	}
	if err != nil {
		s.logger.Error("scheduled run failed to start", "error", err)
		return
	}
	s.logger.Info("scheduled run started", "job_id", id)
}

// Package sched triggers workflows on cron schedules. It owns no goroutine:
// the machine's periodic pass calls Tick, keeping scheduling inside the
// cooperative execution model.
package sched

import (
	"log/slog"
	"sync"
	"time"

	"context"

	"github.com/robfig/cron/v3"

	"github.com/boxos/boxcore/pkg/schema"
)

// Runner starts one run of a named workflow. Satisfied by bring-up code that
// instantiates the workflow template and starts it.
type Runner interface {
	Run(ctx context.Context, workflow string) error
}

// Job is one scheduled workflow trigger.
type Job struct {
	ID         string
	Workflow   string
	CronExpr   string
	Enabled    bool
	NextRunAt  time.Time
	LastRunAt  time.Time
	LastStatus string
}

// Scheduler holds the job table and fires due jobs on each tick.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewScheduler creates an empty scheduler using the standard five-field cron
// syntax (minute, hour, day-of-month, month, day-of-week).
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		jobs:   make(map[string]*Job),
	}
}

// SetNowFunc overrides the clock source. Test hook.
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}

// AddJob registers a trigger. The cron expression is parsed up front so a
// broken schedule fails here, not on a later tick.
func (s *Scheduler) AddJob(id, workflow, cronExpr string) error {
	if id == "" || workflow == "" {
		return schema.NewError(schema.ErrInvalidParameter, "job id and workflow are required")
	}
	next, err := s.CalculateNextRun(cronExpr, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return schema.NewErrorf(schema.ErrInvalidParameter, "job %q already exists", id)
	}
	s.jobs[id] = &Job{
		ID:        id,
		Workflow:  workflow,
		CronExpr:  cronExpr,
		Enabled:   true,
		NextRunAt: next,
	}
	return nil
}

// RemoveJob deletes a trigger.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrNotFound, "job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// SetEnabled toggles a trigger without losing its schedule.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrNotFound, "job %q not found", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of the job table.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Tick runs every enabled job whose next run time has arrived, returning the
// number fired. Tick is synchronous, so a job can never overlap itself.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, job := range due {
		status := "success"
		if err := s.runner.Run(ctx, job.Workflow); err != nil {
			status = "error"
			s.logger.ErrorContext(ctx, "scheduled workflow failed",
				slog.String("job_id", job.ID),
				slog.String("workflow", job.Workflow),
				slog.String("error", err.Error()),
			)
		} else {
			fired++
		}

		next, err := s.CalculateNextRun(job.CronExpr, now)
		if err != nil {
			// Parsed at AddJob; a failure here means the table was mutated
			// out from under us.
			s.logger.ErrorContext(ctx, "cron recalculation failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		job.LastRunAt = now
		job.LastStatus = status
		job.NextRunAt = next
		s.mu.Unlock()
	}
	return fired
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrInvalidParameter,
			"parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return schedule.Next(from), nil
}

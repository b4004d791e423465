// Package scheduler runs the periodic background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/robfig/cron"
)

const (
	JobProcessAutomationQueue = "process_automation_queue"
	JobSyncEmployeeMailboxes  = "sync_employee_mailboxes"
	JobRenewPushChannels      = "renew_push_channels"
)

var (
	// ErrBusy means the previous run of a job has not returned yet.
	ErrBusy = errors.New("scheduler: job is already running")

	// ErrUnknownJob means no job with the requested name is registered.
	ErrUnknownJob = errors.New("scheduler: unknown job")
)

var parser = cron.NewParser(
	cron.Second |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.DowOptional |
		cron.Descriptor,
)

// Job is a named periodic function.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type entry struct {
	job      Job
	schedule cron.Schedule
	running  atomic.Bool
}

type Scheduler struct {
	location *time.Location
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		location: location,
		now:      time.Now,
		entries:  map[string]*entry{},
	}
}

// Add registers job. Schedules take a seconds field and accept
// descriptors such as @every 5m.
func (s *Scheduler) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no function", job.Name)
	}

	sched, err := parser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("scheduler: job %s already registered", job.Name)
	}
	s.entries[job.Name] = &entry{job: job, schedule: sched}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns when job fires next.
func (s *Scheduler) Next(name string) (time.Time, error) {
	e, err := s.entry(name)
	if err != nil {
		return time.Time{}, err
	}
	return e.schedule.Next(s.now().In(s.location)), nil
}

// Start runs every registered job on its schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		go s.listen(ctx, e)
	}
}

func (s *Scheduler) listen(ctx context.Context, e *entry) {
	log.Info("job scheduled", "job", e.job.Name, "schedule", e.job.Schedule)

	for {
		next := e.schedule.Next(s.now().In(s.location))

		select {
		case <-time.After(time.Until(next)):
			go func() {
				if err := s.fire(ctx, e); err != nil && !errors.Is(err, ErrBusy) {
					log.Error("job run failure", "job", e.job.Name, "error", err)
				}
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Fire runs job now. A run that would overlap the previous one is skipped
// with ErrBusy.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	return s.fire(ctx, e)
}

func (s *Scheduler) fire(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		metrics.JobRunsTotal.WithLabelValues(e.job.Name, "skipped").Inc()
		log.Warn("job still running; skipping", "job", e.job.Name)
		return ErrBusy
	}
	defer e.running.Store(false)

	started := s.now()
	log.Info("job firing", "job", e.job.Name)

	err := e.job.Run(ctx)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.JobRunsTotal.WithLabelValues(e.job.Name, status).Inc()
	log.Info("job finished", "job", e.job.Name, "status", status, "duration", s.now().Sub(started))
	return err
}

func (s *Scheduler) entry(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return e, nil
}

// ParseLocation loads tz, defaulting to UTC when empty.
func ParseLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

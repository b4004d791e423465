package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsdesk/opsdesk/internal/metrics"
	mtestutil "github.com/opsdesk/opsdesk/internal/metrics/testutil"
)

func TestAddRejectsBadSchedules(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add(Job{Name: "bad", Schedule: "not a schedule", Run: noop}); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.Add(Job{Name: "", Schedule: "@every 1m", Run: noop}); err == nil {
		t.Fatal("expected missing name error")
	}
	if err := s.Add(Job{Name: "nil", Schedule: "@every 1m"}); err == nil {
		t.Fatal("expected missing function error")
	}
	if err := s.Add(Job{Name: "ok", Schedule: "0 */5 * * * *", Run: noop}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.Add(Job{Name: "ok", Schedule: "@every 1m", Run: noop}); err == nil {
		t.Fatal("expected duplicate job error")
	}
}

func TestNextHonorsSchedule(t *testing.T) {
	s := New(time.UTC)
	s.now = func() time.Time { return time.Date(2024, 3, 4, 9, 2, 30, 0, time.UTC) }

	if err := s.Add(Job{Name: JobProcessAutomationQueue, Schedule: "0 */5 * * * *", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	next, err := s.Next(JobProcessAutomationQueue)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if want := time.Date(2024, 3, 4, 9, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := s.Next("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestFireSkipsOverlappingRuns(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	err := s.Add(Job{Name: JobSyncEmployeeMailboxes, Schedule: "@every 1h", Run: func(context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(started)
			<-release
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	skippedBefore := mtestutil.CounterValue(t, metrics.JobRunsTotal, JobSyncEmployeeMailboxes, "skipped")

	done := make(chan error, 1)
	go func() { done <- s.Fire(context.Background(), JobSyncEmployeeMailboxes) }()
	<-started

	if err := s.Fire(context.Background(), JobSyncEmployeeMailboxes); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	if err := s.Fire(context.Background(), JobSyncEmployeeMailboxes); err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
	if got := mtestutil.CounterValue(t, metrics.JobRunsTotal, JobSyncEmployeeMailboxes, "skipped"); got != skippedBefore+1 {
		t.Fatalf("skipped counter = %v, want %v", got, skippedBefore+1)
	}
}

func TestStartRunsJobsUntilCancelled(t *testing.T) {
	s := New(nil)
	ran := make(chan struct{}, 10)

	if err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("")
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC, got %v (%v)", loc, err)
	}
	if _, err := ParseLocation("Mars/Olympus"); err == nil {
		t.Fatal("expected invalid timezone error")
	}
}

func TestJobsSorted(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }
	for _, name := range []string{JobSyncEmployeeMailboxes, JobProcessAutomationQueue} {
		if err := s.Add(Job{Name: name, Schedule: "@every 1m", Run: noop}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	got := s.Jobs()
	if len(got) != 2 || got[0] != JobProcessAutomationQueue || got[1] != JobSyncEmployeeMailboxes {
		t.Fatalf("unexpected jobs %v", got)
	}
}

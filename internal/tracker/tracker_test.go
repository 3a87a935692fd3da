package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/clock"
	"quiz-agent/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type report struct {
	seconds int
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
	err     error
	// block, when set, holds the first report until released.
	block   chan struct{}
	entered chan struct{}
}

func (r *recordingReporter) TrackReadTime(_ context.Context, _ string, seconds int) error {
	r.mu.Lock()
	block, entered := r.block, r.entered
	r.block = nil
	r.mu.Unlock()
	if block != nil {
		close(entered)
		<-block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{seconds: seconds})
	return r.err
}

func (r *recordingReporter) snapshot() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func newTracker(minRead int, reporter Reporter, fc *fakeClock, interval time.Duration) *Tracker {
	return New(domain.Lesson{ID: "lesson-1", MinReadTimeSeconds: minRead}, reporter, Options{
		FlushInterval: interval,
		Now:           fc.Now,
		Log:           zerolog.Nop(),
	})
}

func TestCanProceedBoundary(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	tr := newTracker(30, &recordingReporter{}, fc, time.Hour)
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	fc.Advance(29 * time.Second)
	if tr.CanProceed() {
		t.Fatalf("expected blocked at 29s")
	}
	fc.Advance(time.Second)
	if !tr.CanProceed() {
		t.Fatalf("expected allowed at 30s")
	}
}

func TestZeroMinimumProceedsImmediately(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	tr := newTracker(0, &recordingReporter{}, fc, time.Hour)
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	if !tr.CanProceed() {
		t.Fatalf("expected zero minimum to allow proceeding")
	}
}

func TestHiddenTimeIsNotCounted(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	tr := newTracker(30, &recordingReporter{}, fc, time.Hour)
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	fc.Advance(10 * time.Second)
	tr.Visibility(clock.Hidden)
	fc.Advance(5 * time.Minute)
	tr.Visibility(clock.Visible)
	fc.Advance(5 * time.Second)

	snap := tr.Snapshot()
	if snap.ElapsedSeconds != 15 || !snap.IsTracking {
		t.Fatalf("expected 15s tracking, got %+v", snap)
	}
}

func TestStopSendsFinalReport(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	reporter := &recordingReporter{}
	tr := newTracker(30, reporter, fc, time.Hour)
	tr.Start(context.Background())

	fc.Advance(42 * time.Second)
	tr.Stop(context.Background())
	tr.Stop(context.Background())

	got := reporter.snapshot()
	if len(got) != 1 || got[0].seconds != 42 {
		t.Fatalf("expected a single final report of 42s, got %+v", got)
	}
}

func TestFinalReportWaitsForPeriodic(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	release := make(chan struct{})
	reporter := &recordingReporter{block: release, entered: make(chan struct{})}
	tr := newTracker(30, reporter, fc, 10*time.Millisecond)
	tr.Start(context.Background())
	fc.Advance(20 * time.Second)

	select {
	case <-reporter.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic report never started")
	}

	stopped := make(chan struct{})
	go func() {
		tr.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("stop returned while periodic report was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	got := reporter.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected periodic then final report, got %+v", got)
	}
	if got[1].seconds != 20 {
		t.Fatalf("expected final report of 20s, got %+v", got)
	}
}

func TestReportFailureIsSwallowed(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	reporter := &recordingReporter{err: errors.New("boom")}
	tr := newTracker(30, reporter, fc, time.Hour)
	tr.Start(context.Background())
	fc.Advance(3 * time.Second)
	tr.Stop(context.Background())

	if len(reporter.snapshot()) != 1 {
		t.Fatalf("expected one attempted report")
	}
	if tr.Elapsed() != 3 {
		t.Fatalf("expected elapsed to survive failed report, got %d", tr.Elapsed())
	}
}

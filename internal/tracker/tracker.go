package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/clock"
	"quiz-agent/internal/domain"
)

const defaultFlushInterval = 15 * time.Second

// Reporter receives accumulated read time. Delivery is best-effort.
type Reporter interface {
	TrackReadTime(ctx context.Context, lessonID string, seconds int) error
}

type Options struct {
	FlushInterval time.Duration
	Now           func() time.Time
	Log           zerolog.Logger
}

// Tracker accumulates visible reading time for one mounted lesson and reports it
// periodically and once more on Stop.
type Tracker struct {
	lesson   domain.Lesson
	reporter Reporter
	timer    *clock.VisibilityTimer
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	// flushMu serialises reports so the final one never overtakes a periodic one.
	flushMu sync.Mutex
}

func New(lesson domain.Lesson, reporter Reporter, opts Options) *Tracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Tracker{
		lesson:   lesson,
		reporter: reporter,
		timer:    clock.NewVisibilityTimerWithClock(now),
		interval: interval,
		log:      opts.Log.With().Str("component", "tracker").Str("lesson_id", lesson.ID).Logger(),
	}
}

// Start begins counting and launches the periodic flush loop. Calling it twice is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil || t.stopped {
		return
	}
	t.timer.Start()
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(loopCtx, t.done)
}

func (t *Tracker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			t.flush(ctx)
		}
	}
}

// Stop ends the periodic loop, waits for any in-flight report, then sends the final one.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	t.timer.Pause()
	t.flush(ctx)
}

func (t *Tracker) flush(ctx context.Context) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	seconds := t.timer.Elapsed()
	if seconds <= 0 {
		return
	}
	if err := t.reporter.TrackReadTime(ctx, t.lesson.ID, seconds); err != nil {
		t.log.Warn().Err(err).Int("seconds", seconds).Msg("read time report failed")
		return
	}
	t.log.Debug().Int("seconds", seconds).Msg("read time reported")
}

// Visibility pauses the counter while hidden and resumes it when visible again.
func (t *Tracker) Visibility(v clock.Visibility) {
	t.timer.Apply(v)
}

func (t *Tracker) Elapsed() int { return t.timer.Elapsed() }

// CanProceed reports whether the lesson minimum has been read. Advisory only.
func (t *Tracker) CanProceed() bool {
	return t.timer.Elapsed() >= t.lesson.MinReadTimeSeconds
}

func (t *Tracker) Lesson() domain.Lesson { return t.lesson }

// Ticks emits the elapsed counter every second until ctx ends.
func (t *Tracker) Ticks(ctx context.Context) <-chan int {
	return t.timer.Ticks(ctx)
}

func (t *Tracker) Snapshot() domain.ReadSession {
	return domain.ReadSession{
		LessonID:       t.lesson.ID,
		StartedAt:      t.timer.StartedAt(),
		ElapsedSeconds: t.timer.Elapsed(),
		IsTracking:     t.timer.Running(),
	}
}

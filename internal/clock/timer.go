package clock

import (
	"context"
	"sync"
	"time"
)

// Visibility is an environment signal reporting whether the view is on screen.
type Visibility bool

const (
	Visible Visibility = true
	Hidden  Visibility = false
)

type timerState int

const (
	stateIdle timerState = iota
	stateRunning
	statePaused
)

// VisibilityTimer counts whole seconds since Start, frozen while paused.
// The zero value is not usable; build one with NewVisibilityTimer.
type VisibilityTimer struct {
	now func() time.Time

	mu      sync.Mutex
	state   timerState
	started time.Time // logical start, shifted on resume
	frozen  int
}

// NewVisibilityTimer returns a timer reading the wall clock.
func NewVisibilityTimer() *VisibilityTimer {
	return NewVisibilityTimerWithClock(time.Now)
}

// NewVisibilityTimerWithClock allows deterministic time in tests.
func NewVisibilityTimerWithClock(now func() time.Time) *VisibilityTimer {
	return &VisibilityTimer{now: now}
}

// Start records a fresh start instant and begins counting from zero.
func (t *VisibilityTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = t.now()
	t.frozen = 0
	t.state = stateRunning
}

// Pause freezes the counter at its current value.
func (t *VisibilityTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateRunning {
		return
	}
	t.frozen = t.elapsedLocked()
	t.state = statePaused
}

// Resume continues counting from the frozen value: the logical start becomes now - frozen.
func (t *VisibilityTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != statePaused {
		return
	}
	t.started = t.now().Add(-time.Duration(t.frozen) * time.Second)
	t.state = stateRunning
}

// Elapsed returns whole seconds counted so far; 0 before Start.
func (t *VisibilityTimer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

// Running reports whether the counter is advancing.
func (t *VisibilityTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateRunning
}

// StartedAt returns the first start instant, shifted by any resumes.
func (t *VisibilityTimer) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *VisibilityTimer) elapsedLocked() int {
	switch t.state {
	case stateRunning:
		d := t.now().Sub(t.started)
		if d < 0 {
			return 0
		}
		return int(d / time.Second)
	case statePaused:
		return t.frozen
	default:
		return 0
	}
}

// Apply pauses on Hidden and resumes on Visible.
func (t *VisibilityTimer) Apply(v Visibility) {
	if v == Hidden {
		t.Pause()
		return
	}
	t.Resume()
}

// Follow drives the timer from a visibility event source until ctx ends or the source closes.
func (t *VisibilityTimer) Follow(ctx context.Context, events <-chan Visibility) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-events:
			if !ok {
				return
			}
			t.Apply(v)
		}
	}
}

// Ticks emits the elapsed counter once per second while the timer runs.
// The channel closes when ctx ends.
func (t *VisibilityTimer) Ticks(ctx context.Context) <-chan int {
	out := make(chan int, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !t.Running() {
					continue
				}
				select {
				case out <- t.Elapsed():
				default:
					// slow reader; the next tick carries a newer value
				}
			}
		}
	}()
	return out
}

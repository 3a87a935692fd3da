package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/domain"
)

// SignalType identifies an environment signal forwarded by the view.
type SignalType string

const (
	SignalHidden    SignalType = "hidden"
	SignalFocusLost SignalType = "focusLost"
	SignalDevTools  SignalType = "devtools"
)

// Signal reports a signal becoming active (hidden, focus lost, devtools open) or clearing.
type Signal struct {
	Type   SignalType
	Active bool
	Reason string
}

// Monitor records advisory violations while an attempt is active. It never blocks
// or aborts the attempt; the collaborator decides what the evidence means.
type Monitor struct {
	now func() time.Time
	log zerolog.Logger

	mu         sync.Mutex
	armed      bool
	active     map[SignalType]bool
	paceFlag   bool
	limitFlag  bool
	violations []domain.Violation
}

func New(log zerolog.Logger) *Monitor {
	return NewWithClock(log, time.Now)
}

func NewWithClock(log zerolog.Logger, now func() time.Time) *Monitor {
	return &Monitor{
		now:    now,
		log:    log.With().Str("component", "monitor").Logger(),
		active: make(map[SignalType]bool),
	}
}

// Arm starts a fresh recording. Violations from a previous arming are discarded.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = true
	m.active = make(map[SignalType]bool)
	m.paceFlag = false
	m.limitFlag = false
	m.violations = nil
}

// Disarm stops recording; collected violations stay readable.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
}

func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Observe records one violation per inactive-to-active transition while armed.
// Repeated active signals without a clearing signal in between are ignored.
func (m *Monitor) Observe(s Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		return
	}
	was := m.active[s.Type]
	m.active[s.Type] = s.Active
	if !s.Active || was {
		return
	}

	var v domain.Violation
	switch s.Type {
	case SignalHidden:
		v = domain.Violation{Type: domain.ViolationTabHidden, Reason: "Quiz tab was hidden", Severity: domain.SeverityMedium}
	case SignalFocusLost:
		v = domain.Violation{Type: domain.ViolationFocusLost, Reason: "Quiz window lost focus", Severity: domain.SeverityLow}
	case SignalDevTools:
		reason := s.Reason
		if reason == "" {
			reason = "Developer tools suspected open"
		}
		v = domain.Violation{Type: domain.ViolationDevToolsSuspected, Reason: reason, Severity: domain.SeverityHigh}
	default:
		return
	}
	m.recordLocked(v)
}

// Follow feeds signals from an event source until ctx ends or the source closes.
func (m *Monitor) Follow(ctx context.Context, signals <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			m.Observe(s)
		}
	}
}

// CheckPace flags a submission faster than minPerQuestion seconds per question.
// Returns true when a violation was recorded.
func (m *Monitor) CheckPace(totalSeconds, questions, minPerQuestion int) bool {
	if minPerQuestion <= 0 || questions <= 0 {
		return false
	}
	floor := questions * minPerQuestion
	if totalSeconds >= floor {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paceFlag {
		return false
	}
	m.paceFlag = true
	m.recordLocked(domain.Violation{
		Type:     domain.ViolationTooFast,
		Reason:   fmt.Sprintf("Completed %d questions in %ds (minimum %ds)", questions, totalSeconds, floor),
		Severity: domain.SeverityHigh,
	})
	return true
}

// CheckTimeLimit flags a submission past the attempt's time limit, when one is set.
func (m *Monitor) CheckTimeLimit(totalSeconds int, limit *int) bool {
	if limit == nil || *limit <= 0 || totalSeconds <= *limit {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limitFlag {
		return false
	}
	m.limitFlag = true
	m.recordLocked(domain.Violation{
		Type:     domain.ViolationTimeLimitExceeded,
		Reason:   fmt.Sprintf("Took %ds against a %ds limit", totalSeconds, *limit),
		Severity: domain.SeverityMedium,
	})
	return true
}

// Violations returns a copy of everything recorded since the last Arm.
func (m *Monitor) Violations() []domain.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Violation(nil), m.violations...)
}

func (m *Monitor) recordLocked(v domain.Violation) {
	v.At = m.now()
	m.violations = append(m.violations, v)
	m.log.Info().Str("type", string(v.Type)).Str("severity", string(v.Severity)).Msg("violation recorded")
}

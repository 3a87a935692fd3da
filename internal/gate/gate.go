package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"quiz-agent/internal/domain"
)

// StatusSource answers whether a lesson quiz may be attempted now.
type StatusSource interface {
	QuizStatus(ctx context.Context, lessonID string) (domain.QuizStatus, error)
}

// Decision is the gate's verdict. It is advisory: the start call rechecks on the server.
type Decision struct {
	LessonID string
	Status   domain.QuizStatus
	Allowed  bool
}

// Lines renders the blocking reason followed by every limit the server reported.
func (d Decision) Lines() []string {
	var lines []string
	if !d.Allowed && d.Status.Reason != "" {
		lines = append(lines, d.Status.Reason)
	}
	if v := d.Status.CooldownRemainingSeconds; v != nil && *v > 0 {
		lines = append(lines, fmt.Sprintf("Cooldown: %ds remaining", *v))
	}
	if v := d.Status.HourlyAttemptsRemaining; v != nil {
		lines = append(lines, fmt.Sprintf("Hourly attempts remaining: %d", *v))
	}
	if v := d.Status.DailyAttemptsRemaining; v != nil {
		lines = append(lines, fmt.Sprintf("Daily attempts remaining: %d", *v))
	}
	return lines
}

// Gate asks the collaborator for eligibility before a start is offered.
type Gate struct {
	source StatusSource
	sf     singleflight.Group
}

func New(source StatusSource) *Gate {
	return &Gate{source: source}
}

// Check fetches eligibility for lessonID. Concurrent checks for the same lesson share one request.
// Collaborator errors are returned unchanged.
func (g *Gate) Check(ctx context.Context, lessonID string) (Decision, error) {
	v, err, _ := g.sf.Do(lessonID, func() (any, error) {
		return g.source.QuizStatus(ctx, lessonID)
	})
	if err != nil {
		return Decision{LessonID: lessonID}, err
	}
	status := v.(domain.QuizStatus)
	return Decision{LessonID: lessonID, Status: status, Allowed: status.CanAttempt}, nil
}

// EligibilityError reports a start blocked by the gate and carries the decision for display.
type EligibilityError struct {
	Decision Decision
}

func (e *EligibilityError) Error() string {
	if e.Decision.Status.Reason != "" {
		return e.Decision.Status.Reason
	}
	return domain.ErrNotEligible.Error()
}

func (e *EligibilityError) Is(target error) bool { return target == domain.ErrNotEligible }

package domain

import (
	"strings"
	"time"
)

// DefaultMinReadTimeSeconds applies when a lesson does not declare its own minimum.
const DefaultMinReadTimeSeconds = 30

// PassThreshold is the score at or above which an attempt counts as passed when the
// server omits its own verdict.
const PassThreshold = 70

// Lesson is the read-only lesson content the learner is studying.
type Lesson struct {
	ID                 string `json:"id"`
	Category           string `json:"category"`
	Title              string `json:"title"`
	Content            string `json:"content"`
	VideoURL           string `json:"videoUrl,omitempty"`
	MinReadTimeSeconds int    `json:"minReadTimeSeconds"`
}

// ReadSession is the accumulated reading time for one mounted lesson.
type ReadSession struct {
	LessonID       string    `json:"lessonId"`
	StartedAt      time.Time `json:"startedAt"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	IsTracking     bool      `json:"isTracking"`
}

// QuizStatus is the collaborator's eligibility verdict for a lesson quiz.
// Reason is set only when CanAttempt is false.
type QuizStatus struct {
	CanAttempt               bool   `json:"canAttempt"`
	Reason                   string `json:"reason,omitempty"`
	CooldownRemainingSeconds *int   `json:"cooldownRemainingSeconds,omitempty"`
	HourlyAttemptsRemaining  *int   `json:"hourlyAttemptsRemaining,omitempty"`
	DailyAttemptsRemaining   *int   `json:"dailyAttemptsRemaining,omitempty"`
}

// Question is one multiple-choice item. Options carry their letter label ("A. ...").
// CorrectOption stays empty until the collaborator reveals it after submission.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption,omitempty"`
}

// OptionLabel extracts the letter from an option string such as "B. Paris".
func OptionLabel(option string) string {
	label, _, found := strings.Cut(option, ".")
	if !found {
		return strings.TrimSpace(option)
	}
	return strings.TrimSpace(label)
}

// HasOption reports whether letter is one of the question's option labels.
func (q Question) HasOption(letter string) bool {
	for _, opt := range q.Options {
		if OptionLabel(opt) == letter {
			return true
		}
	}
	return false
}

// ViolationType tags a client-observed anti-cheat signal.
type ViolationType string

const (
	ViolationTabHidden         ViolationType = "TabHidden"
	ViolationFocusLost         ViolationType = "FocusLost"
	ViolationTooFast           ViolationType = "TooFast"
	ViolationDevToolsSuspected ViolationType = "DevToolsSuspected"
	ViolationTimeLimitExceeded ViolationType = "TimeLimitExceeded"
)

// Severity grades a violation for the reviewer.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation is advisory evidence attached to a submission.
type Violation struct {
	Type     ViolationType `json:"type"`
	Reason   string        `json:"reason"`
	Severity Severity      `json:"severity"`
	At       time.Time     `json:"timestamp"`
}

// Outcome is the lifecycle marker of a QuizAttempt.
type Outcome string

const (
	OutcomeInProgress Outcome = "InProgress"
	OutcomeSubmitted  Outcome = "Submitted"
	OutcomeFlagged    Outcome = "Flagged"
	OutcomeCompleted  Outcome = "Completed"
)

// AttemptPolicy carries the per-attempt limits the collaborator hands out at start.
type AttemptPolicy struct {
	TimeLimitSeconds      *int `json:"timeLimitSeconds,omitempty"`
	MinSecondsPerQuestion int  `json:"minSecondsPerQuestion"`
}

// QuizAttempt is one uniquely identified quiz-taking session.
type QuizAttempt struct {
	AttemptID  string            `json:"attemptId"`
	LessonID   string            `json:"lessonId"`
	Questions  []Question        `json:"questions"`
	StartedAt  time.Time         `json:"startedAt"`
	Answers    map[string]string `json:"answers"`
	Violations []Violation       `json:"violations"`
	Outcome    Outcome           `json:"outcome"`
	Policy     AttemptPolicy     `json:"policy"`
}

// Submission is the canonical result-evaluation request.
type Submission struct {
	AttemptID        string            `json:"attemptId"`
	LessonID         string            `json:"lessonId"`
	Answers          map[string]string `json:"answers"`
	TotalTimeSeconds int               `json:"totalTimeSeconds"`
	Violations       []Violation       `json:"violations,omitempty"`
}

// Result is the collaborator's scored response. Passed is nil when the server omitted it.
type Result struct {
	Score             int               `json:"score"`
	Correct           int               `json:"correct"`
	Wrong             int               `json:"wrong"`
	TokensAwarded     int               `json:"tokensAwarded"`
	Passed            *bool             `json:"passed,omitempty"`
	FlaggedSuspicious bool              `json:"flaggedSuspicious"`
	Message           string            `json:"message,omitempty"`
	CorrectAnswers    map[string]string `json:"correctAnswers,omitempty"`
}

// ReviewSnapshot is everything the review screen needs after an attempt ends.
type ReviewSnapshot struct {
	AttemptID   string            `json:"attemptId"`
	LessonID    string            `json:"lessonId"`
	Result      *Result           `json:"result"`
	Questions   []Question        `json:"questions"`
	Answers     map[string]string `json:"answers"`
	Violations  []Violation       `json:"violations,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

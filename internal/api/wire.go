package api

import (
	"time"

	"quiz-agent/internal/domain"
)

// Wire shapes mirror the collaborator's snake_case JSON.

type lessonResponse struct {
	ID          string `json:"id" validate:"required"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	VideoURL    string `json:"video_url"`
	MinReadTime *int   `json:"min_read_time" validate:"omitempty,min=0"`
}

func (r lessonResponse) toDomain() domain.Lesson {
	minRead := domain.DefaultMinReadTimeSeconds
	if r.MinReadTime != nil {
		minRead = *r.MinReadTime
	}
	return domain.Lesson{
		ID:                 r.ID,
		Category:           r.Category,
		Title:              r.Title,
		Content:            r.Content,
		VideoURL:           r.VideoURL,
		MinReadTimeSeconds: minRead,
	}
}

type trackTimeRequest struct {
	LessonID        string `json:"lesson_id"`
	ReadTimeSeconds int    `json:"read_time_seconds"`
}

type quizStatusResponse struct {
	CanAttempt              bool   `json:"can_attempt"`
	Reason                  string `json:"reason,omitempty"`
	CooldownRemaining       *int   `json:"cooldown_remaining,omitempty"`
	HourlyAttemptsRemaining *int   `json:"hourly_attempts_remaining,omitempty"`
	DailyAttemptsRemaining  *int   `json:"daily_attempts_remaining,omitempty"`
}

func (r quizStatusResponse) toDomain() domain.QuizStatus {
	status := domain.QuizStatus{
		CanAttempt:               r.CanAttempt,
		CooldownRemainingSeconds: r.CooldownRemaining,
		HourlyAttemptsRemaining:  r.HourlyAttemptsRemaining,
		DailyAttemptsRemaining:   r.DailyAttemptsRemaining,
	}
	if !r.CanAttempt {
		status.Reason = r.Reason
		if status.Reason == "" {
			status.Reason = "Cannot start quiz at this time"
		}
	}
	return status
}

type startRequest struct {
	LessonID       string `json:"lesson_id"`
	LessonReadTime int    `json:"lesson_read_time"`
}

type questionPayload struct {
	ID       string   `json:"id" validate:"required"`
	Question string   `json:"question" validate:"required"`
	Options  []string `json:"options" validate:"min=2"`
}

type startResponse struct {
	AttemptID          string            `json:"attempt_id" validate:"required"`
	Questions          []questionPayload `json:"questions" validate:"min=1,dive"`
	TimeLimit          *int              `json:"time_limit,omitempty" validate:"omitempty,min=1"`
	MinTimePerQuestion *int              `json:"min_time_per_question,omitempty" validate:"omitempty,min=0"`
}

func (r startResponse) toDomain(lessonID string) domain.QuizAttempt {
	questions := make([]domain.Question, 0, len(r.Questions))
	for _, q := range r.Questions {
		questions = append(questions, domain.Question{
			ID:      q.ID,
			Prompt:  q.Question,
			Options: append([]string(nil), q.Options...),
		})
	}
	policy := domain.AttemptPolicy{TimeLimitSeconds: r.TimeLimit}
	if r.MinTimePerQuestion != nil {
		policy.MinSecondsPerQuestion = *r.MinTimePerQuestion
	}
	return domain.QuizAttempt{
		AttemptID: r.AttemptID,
		LessonID:  lessonID,
		Questions: questions,
		Answers:   map[string]string{},
		Outcome:   domain.OutcomeInProgress,
		Policy:    policy,
	}
}

type violationPayload struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

type submitRequest struct {
	LessonID         string             `json:"lesson_id"`
	AttemptID        string             `json:"attempt_id"`
	Answers          map[string]string  `json:"answers"`
	TotalTimeSeconds int                `json:"total_time_seconds"`
	Violations       []violationPayload `json:"violations,omitempty"`
}

func newSubmitRequest(sub domain.Submission) submitRequest {
	answers := make(map[string]string, len(sub.Answers))
	for k, v := range sub.Answers {
		answers[k] = v
	}
	req := submitRequest{
		LessonID:         sub.LessonID,
		AttemptID:        sub.AttemptID,
		Answers:          answers,
		TotalTimeSeconds: sub.TotalTimeSeconds,
	}
	for _, v := range sub.Violations {
		req.Violations = append(req.Violations, violationPayload{
			Type:      string(v.Type),
			Reason:    v.Reason,
			Severity:  string(v.Severity),
			Timestamp: v.At.UTC(),
		})
	}
	return req
}

type submitResponse struct {
	Score             int               `json:"score" validate:"min=0,max=100"`
	Correct           int               `json:"correct" validate:"min=0"`
	Wrong             int               `json:"wrong" validate:"min=0"`
	TokensAwarded     int               `json:"tokens_awarded" validate:"min=0"`
	Passed            *bool             `json:"passed,omitempty"`
	FlaggedSuspicious bool              `json:"flagged_suspicious"`
	Message           string            `json:"message,omitempty"`
	CorrectAnswers    map[string]string `json:"correct_answers,omitempty"`
}

func (r submitResponse) toDomain() domain.Result {
	return domain.Result{
		Score:             r.Score,
		Correct:           r.Correct,
		Wrong:             r.Wrong,
		TokensAwarded:     r.TokensAwarded,
		Passed:            r.Passed,
		FlaggedSuspicious: r.FlaggedSuspicious,
		Message:           r.Message,
		CorrectAnswers:    r.CorrectAnswers,
	}
}

package review

import (
	"fmt"

	"quiz-agent/internal/domain"
)

// RowState classifies one question in the breakdown.
type RowState string

const (
	RowCorrect    RowState = "Correct"
	RowIncorrect  RowState = "Incorrect"
	RowUnanswered RowState = "Unanswered"
)

// Headline is the banner shown above the breakdown.
type Headline string

const (
	HeadlinePassed      Headline = "Passed"
	HeadlineFailed      Headline = "NotPassed"
	HeadlineUnderReview Headline = "UnderReview"
)

// Option is one rendered choice. Selected marks the learner's pick; Correct marks the key.
type Option struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Correct  bool   `json:"correct"`
}

type Row struct {
	QuestionID    string   `json:"questionId"`
	Prompt        string   `json:"prompt"`
	State         RowState `json:"state"`
	UserChoice    string   `json:"userChoice,omitempty"`
	CorrectChoice string   `json:"correctChoice"`
	Options       []Option `json:"options"`
}

// Review is the post-submission breakdown. Score and reward come from the collaborator;
// nothing here recomputes them.
type Review struct {
	Score         int      `json:"score"`
	Correct       int      `json:"correct"`
	Wrong         int      `json:"wrong"`
	TokensAwarded int      `json:"tokensAwarded"`
	Passed        bool     `json:"passed"`
	Flagged       bool     `json:"flagged"`
	Headline      Headline `json:"headline"`
	Message       string   `json:"message,omitempty"`
	Rows          []Row    `json:"rows"`
}

// RewardEarned is false for flagged attempts whatever the score.
func (r Review) RewardEarned() bool {
	return r.Passed && !r.Flagged && r.TokensAwarded > 0
}

// Counts tallies rows by state.
func (r Review) Counts() (correct, incorrect, unanswered int) {
	for _, row := range r.Rows {
		switch row.State {
		case RowCorrect:
			correct++
		case RowIncorrect:
			incorrect++
		case RowUnanswered:
			unanswered++
		}
	}
	return correct, incorrect, unanswered
}

// Evaluate renders the server result against the questions and the learner's answers.
// A correct option is required for every question; answers may be partial but not nil.
func Evaluate(result *domain.Result, questions []domain.Question, answers map[string]string) (Review, error) {
	if result == nil || questions == nil || answers == nil {
		return Review{}, domain.ErrMissingClientData
	}

	passed := result.Score >= domain.PassThreshold
	if result.Passed != nil {
		passed = *result.Passed
	}
	rv := Review{
		Score:         result.Score,
		Correct:       result.Correct,
		Wrong:         result.Wrong,
		TokensAwarded: result.TokensAwarded,
		Passed:        passed,
		Flagged:       result.FlaggedSuspicious,
		Message:       result.Message,
		Rows:          make([]Row, 0, len(questions)),
	}
	switch {
	case rv.Flagged:
		rv.Headline = HeadlineUnderReview
		if rv.Message == "" {
			rv.Message = "Your submission has been flagged for review. Rewards are on hold."
		}
	case passed:
		rv.Headline = HeadlinePassed
	default:
		rv.Headline = HeadlineFailed
	}

	for _, q := range questions {
		correct := q.CorrectOption
		if correct == "" {
			correct = result.CorrectAnswers[q.ID]
		}
		if correct == "" {
			return Review{}, fmt.Errorf("question %s has no revealed answer: %w", q.ID, domain.ErrMissingClientData)
		}
		chosen := answers[q.ID]
		row := Row{
			QuestionID:    q.ID,
			Prompt:        q.Prompt,
			UserChoice:    chosen,
			CorrectChoice: correct,
			Options:       make([]Option, 0, len(q.Options)),
		}
		switch {
		case chosen == "":
			row.State = RowUnanswered
		case chosen == correct:
			row.State = RowCorrect
		default:
			row.State = RowIncorrect
		}
		for _, opt := range q.Options {
			label := domain.OptionLabel(opt)
			row.Options = append(row.Options, Option{
				Label:    label,
				Text:     opt,
				Selected: chosen != "" && label == chosen,
				Correct:  label == correct,
			})
		}
		rv.Rows = append(rv.Rows, row)
	}
	return rv, nil
}

// FromSnapshot evaluates a stored review snapshot.
func FromSnapshot(s domain.ReviewSnapshot) (Review, error) {
	return Evaluate(s.Result, s.Questions, s.Answers)
}

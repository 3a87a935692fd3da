package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-agent/internal/domain"
)

func TestReviewStoreRoundTrip(t *testing.T) {
	store := NewReviewStore(time.Minute)

	if err := store.SaveReview(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.LoadReview(context.Background(), "att-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Result == nil || got.Result.Score != 50 {
		t.Fatalf("unexpected result %+v", got.Result)
	}
	if got.Answers["q1"] != "B" {
		t.Fatalf("expected answer B, got %q", got.Answers["q1"])
	}
}

func TestReviewStoreExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewReviewStoreWithClock(time.Minute, func() time.Time { return now })
	_ = store.SaveReview(context.Background(), sampleSnapshot())

	now = now.Add(2 * time.Minute)
	if _, err := store.LoadReview(context.Background(), "att-1"); !errors.Is(err, domain.ErrMissingClientData) {
		t.Fatalf("expected missing client data after ttl, got %v", err)
	}
}

func TestReviewStoreUnknownAttempt(t *testing.T) {
	store := NewReviewStore(0)
	if _, err := store.LoadReview(context.Background(), "nope"); !errors.Is(err, domain.ErrMissingClientData) {
		t.Fatalf("expected missing client data, got %v", err)
	}
}

func sampleSnapshot() domain.ReviewSnapshot {
	return domain.ReviewSnapshot{
		AttemptID: "att-1",
		LessonID:  "lesson-1",
		Result:    &domain.Result{Score: 50, Correct: 1, Wrong: 1},
		Questions: []domain.Question{
			{ID: "q1", Prompt: "Capital of France?", Options: []string{"A. Rome", "B. Paris"}, CorrectOption: "B"},
			{ID: "q2", Prompt: "2 + 2?", Options: []string{"A. 3", "B. 4"}, CorrectOption: "B"},
		},
		Answers: map[string]string{"q1": "B", "q2": "A"},
		Outcome: domain.OutcomeCompleted,
	}
}

package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/api"
	"quiz-agent/internal/api/apitest"
	"quiz-agent/internal/app"
	"quiz-agent/internal/attempt"
	"quiz-agent/internal/auth"
	"quiz-agent/internal/clock"
	"quiz-agent/internal/domain"
	"quiz-agent/internal/gate"
	"quiz-agent/internal/infra/memory"
	"quiz-agent/internal/review"
)

const token = "learner-token"

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

type harness struct {
	backend *apitest.Backend
	service *app.LearnerService
	session *auth.Session
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	minRead := 30
	backend := apitest.NewBackend(token, apitest.LessonSpec{
		ID:          "lesson-1",
		Title:       "Budgeting",
		MinReadTime: &minRead,
		Questions: []apitest.QuestionSpec{
			{ID: "q1", Prompt: "Needs vs wants?", Options: []string{"A. Rent", "B. Games"}, Correct: "A"},
			{ID: "q2", Prompt: "Emergency fund?", Options: []string{"A. 1 week", "B. 3 months"}, Correct: "B"},
		},
	})
	t.Cleanup(backend.Close)

	session := auth.NewSession(memory.NewTokenStore(), zerolog.Nop())
	if err := session.Set(context.Background(), token); err != nil {
		t.Fatalf("set token: %v", err)
	}
	client, err := api.New(api.Options{BaseURL: backend.URL(), Timeout: 2 * time.Second}, session, zerolog.Nop())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	fc := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	service := app.NewLearnerService(client, memory.NewReviewStore(time.Hour), session, app.Options{
		FlushInterval: time.Hour,
		Now:           fc.Now,
		Log:           zerolog.Nop(),
	})
	t.Cleanup(func() { service.Shutdown(context.Background()) })
	return &harness{backend: backend, service: service, session: session, clock: fc}
}

func TestFullAttemptFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.OpenLesson(ctx, "lesson-1"); err != nil {
		t.Fatalf("open lesson: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	if _, err := h.service.StartQuiz(ctx, "lesson-1"); !errors.Is(err, domain.ErrReadTimeNotMet) {
		t.Fatalf("expected read time gate, got %v", err)
	}

	h.clock.Advance(25 * time.Second)
	session, err := h.service.StartQuiz(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	if session.State() != attempt.StateActive {
		t.Fatalf("expected active attempt, got %s", session.State())
	}
	if _, err := h.service.StartQuiz(ctx, "lesson-1"); !errors.Is(err, domain.ErrAttemptInProgress) {
		t.Fatalf("expected one attempt per lesson, got %v", err)
	}

	if err := h.service.Answer("lesson-1", "q1", "A"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	h.clock.Advance(20 * time.Second)

	out, err := h.service.Submit(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Review == nil || out.Review.Score != 50 || out.Review.Headline != review.HeadlineFailed {
		t.Fatalf("unexpected review %+v", out.Review)
	}
	c, i, u := out.Review.Counts()
	if c != 1 || i != 0 || u != 1 {
		t.Fatalf("expected 1 correct, 1 unanswered, got %d/%d/%d", c, i, u)
	}
	if _, ok := h.service.Attempt("lesson-1"); ok {
		t.Fatalf("expected session discarded after submit")
	}

	total, _, _, ok := h.backend.Submission(out.Snapshot.AttemptID)
	if !ok || total != 20 {
		t.Fatalf("expected total 20s at backend, got %d (%v)", total, ok)
	}

	stored, err := h.service.Review(ctx, out.Snapshot.AttemptID)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(stored.Rows) != 2 {
		t.Fatalf("expected stored review with 2 rows, got %+v", stored)
	}
}

func TestHiddenTabIsRecordedAndReadTimePaused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.OpenLesson(ctx, "lesson-1"); err != nil {
		t.Fatalf("open lesson: %v", err)
	}
	h.clock.Advance(20 * time.Second)
	h.service.Visibility(clock.Hidden)
	h.clock.Advance(time.Minute)
	h.service.Visibility(clock.Visible)
	if _, err := h.service.StartQuiz(ctx, "lesson-1"); !errors.Is(err, domain.ErrReadTimeNotMet) {
		t.Fatalf("hidden time must not count, got %v", err)
	}
	h.clock.Advance(10 * time.Second)
	if _, err := h.service.StartQuiz(ctx, "lesson-1"); err != nil {
		t.Fatalf("start quiz: %v", err)
	}

	h.service.Visibility(clock.Hidden)
	h.service.Visibility(clock.Hidden)
	h.service.Visibility(clock.Visible)
	h.clock.Advance(30 * time.Second)
	out, err := h.service.Submit(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, violations, _, _ := h.backend.Submission(out.Snapshot.AttemptID)
	if len(violations) != 1 || violations[0]["type"] != string(domain.ViolationTabHidden) {
		t.Fatalf("expected one TabHidden violation, got %+v", violations)
	}
}

func TestEligibilityBlocksStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cooldown := 42
	h.backend.SetStatus("lesson-1", apitest.Status{Reason: "Cooldown active", CooldownRemaining: &cooldown})

	if _, err := h.service.OpenLesson(ctx, "lesson-1"); err != nil {
		t.Fatalf("open lesson: %v", err)
	}
	h.clock.Advance(time.Minute)

	_, err := h.service.StartQuiz(ctx, "lesson-1")
	var blocked *gate.EligibilityError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected eligibility error, got %v", err)
	}
	if lines := blocked.Decision.Lines(); len(lines) != 2 || lines[1] != "Cooldown: 42s remaining" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestCloseLessonSendsFinalReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.service.OpenLesson(ctx, "lesson-1"); err != nil {
		t.Fatalf("open lesson: %v", err)
	}
	h.clock.Advance(12 * time.Second)
	h.service.CloseLesson(ctx)

	if got := h.backend.ReadTimes("lesson-1"); len(got) != 1 || got[0] != 12 {
		t.Fatalf("expected final report of 12s, got %v", got)
	}
	if _, err := h.service.StartQuiz(ctx, "lesson-1"); !errors.Is(err, domain.ErrNoLessonOpen) {
		t.Fatalf("expected no lesson open, got %v", err)
	}
}

func TestCloseLessonIfOpenIgnoresOtherLesson(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.service.OpenLesson(ctx, "lesson-1"); err != nil {
		t.Fatalf("open lesson: %v", err)
	}
	h.clock.Advance(7 * time.Second)

	if h.service.CloseLessonIfOpen(ctx, "lesson-2") {
		t.Fatalf("expected no close for a lesson that is not open")
	}
	if _, ok := h.service.Tracker(); !ok {
		t.Fatalf("expected lesson-1 still tracked")
	}
	if !h.service.CloseLessonIfOpen(ctx, "lesson-1") {
		t.Fatalf("expected lesson-1 closed")
	}
	if got := h.backend.ReadTimes("lesson-1"); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected final report of 7s, got %v", got)
	}
	if _, ok := h.service.Tracker(); ok {
		t.Fatalf("expected no tracker after close")
	}
}

func TestUnauthorizedEmitsSignInNotice(t *testing.T) {
	h := newHarness(t)
	notices, cancel := h.service.Subscribe()
	defer cancel()

	if err := h.session.Set(context.Background(), "stale-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	_, err := h.service.CheckEligibility(context.Background(), "lesson-1")
	if !errors.Is(err, domain.ErrAuthenticationExpired) {
		t.Fatalf("expected authentication expired, got %v", err)
	}
	select {
	case n := <-notices:
		if n.Type != app.NoticeSignIn {
			t.Fatalf("expected signin notice, got %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a sign-in notice")
	}
}

func TestReviewUnknownAttempt(t *testing.T) {
	h := newHarness(t)
	if _, err := h.service.Review(context.Background(), "missing"); !errors.Is(err, domain.ErrMissingClientData) {
		t.Fatalf("expected missing client data, got %v", err)
	}
}

package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"quiz-agent/internal/api"
	"quiz-agent/internal/api/apitest"
	"quiz-agent/internal/auth"
	"quiz-agent/internal/domain"
	"quiz-agent/internal/infra/memory"
)

const testToken = "learner-token"

func TestStartSubmitRoundTrip(t *testing.T) {
	backend := apitest.NewBackend(testToken, sampleLesson())
	defer backend.Close()
	client, _ := newClient(t, backend.URL(), testToken)
	ctx := context.Background()

	lesson, err := client.Lesson(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("lesson: %v", err)
	}
	if lesson.MinReadTimeSeconds != domain.DefaultMinReadTimeSeconds {
		t.Fatalf("expected default min read time, got %d", lesson.MinReadTimeSeconds)
	}

	attempt, err := client.StartAttempt(ctx, "lesson-1", 40)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if attempt.AttemptID == "" || len(attempt.Questions) != 2 {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if attempt.Policy.MinSecondsPerQuestion != 3 {
		t.Fatalf("expected min seconds per question 3, got %d", attempt.Policy.MinSecondsPerQuestion)
	}

	result, err := client.SubmitAttempt(ctx, domain.Submission{
		AttemptID:        attempt.AttemptID,
		LessonID:         "lesson-1",
		Answers:          map[string]string{"q1": "B", "q2": "A"},
		TotalTimeSeconds: 30,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 50 || result.Correct != 1 || result.Wrong != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.CorrectAnswers["q2"] != "C" {
		t.Fatalf("expected revealed answer C for q2, got %q", result.CorrectAnswers["q2"])
	}

	_, err = client.SubmitAttempt(ctx, domain.Submission{
		AttemptID:        attempt.AttemptID,
		LessonID:         "lesson-1",
		Answers:          map[string]string{"q1": "B"},
		TotalTimeSeconds: 31,
	})
	if !errors.Is(err, domain.ErrAttemptAlreadyCompleted) {
		t.Fatalf("expected already completed on second submit, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	longBody := strings.Repeat("x", 500)
	// "é" occupies bytes 199 and 200, straddling the cut.
	accented := strings.Repeat("a", 199) + strings.Repeat("é", 50)
	cases := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{"conflict", http.StatusConflict, `{"detail":"Quiz already completed for this lesson."}`, domain.ErrAttemptAlreadyCompleted, "Quiz already completed for this lesson."},
		{"rate limited with detail", http.StatusTooManyRequests, `{"detail":"Please wait 42 seconds"}`, domain.ErrRateLimited, "Please wait 42 seconds"},
		{"rate limited generic", http.StatusTooManyRequests, ``, domain.ErrRateLimited, "Too many quiz attempts. Please try again later."},
		{"validation list", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, domain.ErrValidationOrServer, "field required"},
		{"server raw body", http.StatusInternalServerError, longBody, domain.ErrValidationOrServer, longBody[:200] + "…"},
		{"server body cut on rune boundary", http.StatusInternalServerError, accented, domain.ErrValidationOrServer, strings.Repeat("a", 199) + "…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			client, _ := newClient(t, srv.URL, testToken)

			_, err := client.QuizStatus(context.Background(), "lesson-1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := domain.UserMessage(err); got != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, got)
			}
		})
	}
}

func TestUnauthorizedInvalidatesToken(t *testing.T) {
	backend := apitest.NewBackend("other-token", sampleLesson())
	defer backend.Close()
	client, session := newClient(t, backend.URL(), testToken)

	invalidated := make(chan string, 1)
	session.OnInvalidate(func(reason string) { invalidated <- reason })

	_, err := client.QuizStatus(context.Background(), "lesson-1")
	if !errors.Is(err, domain.ErrAuthenticationExpired) {
		t.Fatalf("expected authentication expired, got %v", err)
	}
	if _, ok := session.Token(); ok {
		t.Fatalf("expected token to be discarded after 401")
	}
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatalf("expected invalidate callback")
	}
}

func TestExpiredTokenNeverHitsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	client, _ := newClient(t, srv.URL, expired)

	_, err = client.QuizStatus(context.Background(), "lesson-1")
	if !errors.Is(err, domain.ErrAuthenticationExpired) {
		t.Fatalf("expected authentication expired, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request, got %d", hits.Load())
	}
}

func TestNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, _ := newClient(t, url, testToken)

	err := client.TrackReadTime(context.Background(), "lesson-1", 12)
	if !errors.Is(err, domain.ErrNetworkUnavailable) {
		t.Fatalf("expected network unavailable, got %v", err)
	}
}

func TestStatusReasonAndLimits(t *testing.T) {
	backend := apitest.NewBackend(testToken, sampleLesson())
	defer backend.Close()
	cooldown, hourly := 42, 0
	backend.SetStatus("lesson-1", apitest.Status{Reason: "Cooldown active", CooldownRemaining: &cooldown, HourlyRemaining: &hourly})
	client, _ := newClient(t, backend.URL(), testToken)

	status, err := client.QuizStatus(context.Background(), "lesson-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CanAttempt || status.Reason != "Cooldown active" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.CooldownRemainingSeconds == nil || *status.CooldownRemainingSeconds != 42 {
		t.Fatalf("expected cooldown 42, got %v", status.CooldownRemainingSeconds)
	}
	if status.DailyAttemptsRemaining != nil {
		t.Fatalf("expected daily remaining absent")
	}

	_, err = client.StartAttempt(context.Background(), "lesson-1", 60)
	if !errors.Is(err, domain.ErrRateLimited) || domain.UserMessage(err) != "Cooldown active" {
		t.Fatalf("expected verbatim rate limit reason, got %v", err)
	}
}

func TestMalformedStartResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"attempt_id":"a1","questions":[]}`))
	}))
	defer srv.Close()
	client, _ := newClient(t, srv.URL, testToken)

	_, err := client.StartAttempt(context.Background(), "lesson-1", 60)
	if !errors.Is(err, domain.ErrValidationOrServer) {
		t.Fatalf("expected validation error for empty questions, got %v", err)
	}
}

func newClient(t *testing.T, baseURL, token string) (*api.Client, *auth.Session) {
	t.Helper()
	session := auth.NewSession(memory.NewTokenStore(), zerolog.Nop())
	if err := session.Set(context.Background(), token); err != nil {
		t.Fatalf("set token: %v", err)
	}
	client, err := api.New(api.Options{BaseURL: baseURL, Timeout: 2 * time.Second}, session, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, session
}

func sampleLesson() apitest.LessonSpec {
	return apitest.LessonSpec{
		ID:    "lesson-1",
		Title: "Fractions",
		Questions: []apitest.QuestionSpec{
			{ID: "q1", Prompt: "1/2 + 1/2?", Options: []string{"A. 0", "B. 1", "C. 2"}, Correct: "B"},
			{ID: "q2", Prompt: "1/4 of 8?", Options: []string{"A. 1", "B. 4", "C. 2"}, Correct: "C"},
		},
	}
}

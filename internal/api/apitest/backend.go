// Package apitest provides an in-process stand-in for the reward/rate-limit collaborator,
// useful for tests and local demos of the agent.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// QuestionSpec is a bank question with its answer key.
type QuestionSpec struct {
	ID      string
	Prompt  string
	Options []string
	Correct string
}

// LessonSpec is a lesson served by the fake backend. A nil MinReadTime omits the field.
type LessonSpec struct {
	ID          string
	Title       string
	Category    string
	MinReadTime *int
	Questions   []QuestionSpec
}

// Status overrides the quiz-status answer (and start eligibility) for a lesson.
type Status struct {
	CanAttempt        bool
	Reason            string
	CooldownRemaining *int
	HourlyRemaining   *int
	DailyRemaining    *int
}

// Backend is a fake collaborator enforcing single submission per attempt.
type Backend struct {
	Server *httptest.Server
	Token  string

	// MinTimePerQuestion is handed out at start and used to flag fast submissions.
	MinTimePerQuestion int
	// TimeLimit, when set, is handed out at start.
	TimeLimit *int
	// FailTrackTime makes track-time return 500.
	FailTrackTime bool
	// SubmitGate, when set, holds every submission until it receives or is closed.
	SubmitGate chan struct{}

	mu        sync.Mutex
	lessons   map[string]LessonSpec
	statuses  map[string]Status
	attempts  map[string]*attemptRecord
	readTimes map[string][]int
	submits   map[string]submitRecord
	seq       int
}

type attemptRecord struct {
	lessonID  string
	submitted bool
}

type submitRecord struct {
	TotalTimeSeconds int
	Violations       []map[string]any
	Answers          map[string]string
}

// NewBackend starts the fake server; callers must Close it.
func NewBackend(token string, lessons ...LessonSpec) *Backend {
	b := &Backend{
		Token:              token,
		MinTimePerQuestion: 3,
		lessons:            make(map[string]LessonSpec),
		statuses:           make(map[string]Status),
		attempts:           make(map[string]*attemptRecord),
		readTimes:          make(map[string][]int),
		submits:            make(map[string]submitRecord),
	}
	for _, l := range lessons {
		b.lessons[l.ID] = l
	}

	r := chi.NewRouter()
	r.Use(b.requireToken)
	r.Get("/lessons/{id}", b.handleLesson)
	r.Post("/lessons/{id}/track-time", b.handleTrackTime)
	r.Get("/lessons/{id}/quiz-status", b.handleStatus)
	r.Post("/quiz/start", b.handleStart)
	r.Post("/quiz/submit", b.handleSubmit)
	b.Server = httptest.NewServer(r)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

// SetStatus overrides eligibility for a lesson.
func (b *Backend) SetStatus(lessonID string, status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[lessonID] = status
}

// ReadTimes returns every read-time report received for a lesson, in arrival order.
func (b *Backend) ReadTimes(lessonID string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.readTimes[lessonID]...)
}

// Submission returns what was submitted for an attempt.
func (b *Backend) Submission(attemptID string) (total int, violations []map[string]any, answers map[string]string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.submits[attemptID]
	return rec.TotalTimeSeconds, rec.Violations, rec.Answers, ok
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+b.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleLesson(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	lesson, ok := b.lessons[chi.URLParam(r, "id")]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Lesson not found"})
		return
	}
	body := map[string]any{
		"id":       lesson.ID,
		"title":    lesson.Title,
		"category": lesson.Category,
		"content":  "<p>" + lesson.Title + "</p>",
	}
	if lesson.MinReadTime != nil {
		body["min_read_time"] = *lesson.MinReadTime
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleTrackTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID        string `json:"lesson_id"`
		ReadTimeSeconds int    `json:"read_time_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	b.mu.Lock()
	fail := b.FailTrackTime
	if !fail {
		b.readTimes[chi.URLParam(r, "id")] = append(b.readTimes[chi.URLParam(r, "id")], req.ReadTimeSeconds)
	}
	b.mu.Unlock()
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "tracking unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (b *Backend) statusFor(lessonID string) Status {
	if st, ok := b.statuses[lessonID]; ok {
		return st
	}
	return Status{CanAttempt: true}
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	st := b.statusFor(chi.URLParam(r, "id"))
	b.mu.Unlock()

	body := map[string]any{"can_attempt": st.CanAttempt}
	if !st.CanAttempt {
		body["reason"] = st.Reason
	}
	if st.CooldownRemaining != nil {
		body["cooldown_remaining"] = *st.CooldownRemaining
	}
	if st.HourlyRemaining != nil {
		body["hourly_attempts_remaining"] = *st.HourlyRemaining
	}
	if st.DailyRemaining != nil {
		body["daily_attempts_remaining"] = *st.DailyRemaining
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID string `json:"lesson_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	lesson, ok := b.lessons[req.LessonID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Quiz not found for this lesson"})
		return
	}
	if st := b.statusFor(req.LessonID); !st.CanAttempt {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": st.Reason})
		return
	}

	b.seq++
	attemptID := fmt.Sprintf("att-%d", b.seq)
	b.attempts[attemptID] = &attemptRecord{lessonID: req.LessonID}

	questions := make([]map[string]any, 0, len(lesson.Questions))
	for _, q := range lesson.Questions {
		questions = append(questions, map[string]any{"id": q.ID, "question": q.Prompt, "options": q.Options})
	}
	body := map[string]any{
		"attempt_id":            attemptID,
		"questions":             questions,
		"min_time_per_question": b.MinTimePerQuestion,
	}
	if b.TimeLimit != nil {
		body["time_limit"] = *b.TimeLimit
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID         string            `json:"lesson_id"`
		AttemptID        string            `json:"attempt_id"`
		Answers          map[string]string `json:"answers"`
		TotalTimeSeconds int               `json:"total_time_seconds"`
		Violations       []map[string]any  `json:"violations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	if b.SubmitGate != nil {
		<-b.SubmitGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.attempts[req.AttemptID]
	if !ok || rec.lessonID != req.LessonID {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Quiz session not found"})
		return
	}
	if rec.submitted {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "Quiz already completed for this lesson."})
		return
	}
	rec.submitted = true
	b.submits[req.AttemptID] = submitRecord{
		TotalTimeSeconds: req.TotalTimeSeconds,
		Violations:       req.Violations,
		Answers:          req.Answers,
	}

	lesson := b.lessons[req.LessonID]
	correct := 0
	reveal := make(map[string]string, len(lesson.Questions))
	for _, q := range lesson.Questions {
		reveal[q.ID] = q.Correct
		if strings.EqualFold(req.Answers[q.ID], q.Correct) {
			correct++
		}
	}
	total := len(lesson.Questions)
	score := 0
	if total > 0 {
		score = correct * 100 / total
	}
	passed := score >= 70
	flagged := req.TotalTimeSeconds < total*b.MinTimePerQuestion
	for _, v := range req.Violations {
		if v["severity"] == "high" {
			flagged = true
		}
	}
	tokens := 0
	if passed && !flagged {
		tokens = 10
	}
	body := map[string]any{
		"score":              score,
		"correct":            correct,
		"wrong":              total - correct,
		"tokens_awarded":     tokens,
		"passed":             passed,
		"flagged_suspicious": flagged,
		"correct_answers":    reveal,
	}
	if flagged {
		body["message"] = "Your submission has been flagged for admin review."
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/attempt"
	"quiz-agent/internal/auth"
	"quiz-agent/internal/clock"
	"quiz-agent/internal/domain"
	"quiz-agent/internal/gate"
	"quiz-agent/internal/monitor"
	"quiz-agent/internal/review"
	"quiz-agent/internal/tracker"
)

// Collaborator is the reward/rate-limit service as the agent sees it.
type Collaborator interface {
	Lesson(ctx context.Context, lessonID string) (domain.Lesson, error)
	tracker.Reporter
	gate.StatusSource
	attempt.Collaborator
}

// ReviewRepository abstracts where review snapshots live (in-memory, Redis, Postgres).
type ReviewRepository interface {
	SaveReview(ctx context.Context, snapshot domain.ReviewSnapshot) error
	LoadReview(ctx context.Context, attemptID string) (domain.ReviewSnapshot, error)
}

type Options struct {
	FlushInterval         time.Duration
	MinSecondsPerQuestion int
	Now                   func() time.Time
	Log                   zerolog.Logger
}

// NoticeType tags out-of-band events pushed to the view.
type NoticeType string

const NoticeSignIn NoticeType = "signin"

type Notice struct {
	Type   NoticeType `json:"type"`
	Reason string     `json:"reason"`
}

// SubmitOutcome is what the view needs right after a submission.
// Review is nil when the collaborator did not reveal the answer key.
type SubmitOutcome struct {
	Snapshot domain.ReviewSnapshot
	Review   *review.Review
}

// LearnerService wires the read tracker, eligibility gate, attempt sessions and review
// store for one learner.
type LearnerService struct {
	api     Collaborator
	reviews ReviewRepository
	gate    *gate.Gate
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	tracker  *tracker.Tracker
	attempts map[string]*attempt.Session // by lesson id
	notices  map[chan Notice]struct{}
}

func NewLearnerService(api Collaborator, reviews ReviewRepository, session *auth.Session, opts Options) *LearnerService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &LearnerService{
		api:      api,
		reviews:  reviews,
		gate:     gate.New(api),
		opts:     opts,
		log:      opts.Log.With().Str("component", "learner").Logger(),
		attempts: make(map[string]*attempt.Session),
		notices:  make(map[chan Notice]struct{}),
	}
	if session != nil {
		session.OnInvalidate(func(reason string) {
			s.publish(Notice{Type: NoticeSignIn, Reason: reason})
		})
	}
	return s
}

// OpenLesson fetches the lesson and starts tracking its read time. A lesson already
// open is closed first, with its final report.
func (s *LearnerService) OpenLesson(ctx context.Context, lessonID string) (domain.Lesson, error) {
	lesson, err := s.api.Lesson(ctx, lessonID)
	if err != nil {
		return domain.Lesson{}, err
	}

	s.mu.Lock()
	prev := s.tracker
	tr := tracker.New(lesson, s.api, tracker.Options{
		FlushInterval: s.opts.FlushInterval,
		Now:           s.opts.Now,
		Log:           s.opts.Log,
	})
	s.tracker = tr
	s.mu.Unlock()

	if prev != nil {
		prev.Stop(ctx)
	}
	// The loop outlives the request that opened the lesson; CloseLesson ends it.
	tr.Start(context.WithoutCancel(ctx))
	s.log.Info().Str("lesson_id", lesson.ID).Int("min_read_time", lesson.MinReadTimeSeconds).Msg("lesson opened")
	return lesson, nil
}

// CloseLesson stops tracking and sends the final read-time report.
func (s *LearnerService) CloseLesson(ctx context.Context) {
	s.mu.Lock()
	tr := s.tracker
	s.tracker = nil
	s.mu.Unlock()
	if tr != nil {
		tr.Stop(ctx)
	}
}

// CloseLessonIfOpen closes the lesson only while it is still the one being tracked.
// It reports whether a final report was sent.
func (s *LearnerService) CloseLessonIfOpen(ctx context.Context, lessonID string) bool {
	s.mu.Lock()
	tr := s.tracker
	if tr == nil || tr.Lesson().ID != lessonID {
		s.mu.Unlock()
		return false
	}
	s.tracker = nil
	s.mu.Unlock()
	tr.Stop(ctx)
	return true
}

// Tracker returns the read tracker of the open lesson.
func (s *LearnerService) Tracker() (*tracker.Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker, s.tracker != nil
}

// Visibility pauses or resumes read time and feeds tab-hidden signals to active attempts.
func (s *LearnerService) Visibility(v clock.Visibility) {
	s.mu.Lock()
	tr := s.tracker
	s.mu.Unlock()
	if tr != nil {
		tr.Visibility(v)
	}
	s.signal(monitor.Signal{Type: monitor.SignalHidden, Active: v == clock.Hidden})
}

func (s *LearnerService) Focus(lost bool) {
	s.signal(monitor.Signal{Type: monitor.SignalFocusLost, Active: lost})
}

func (s *LearnerService) DevTools(open bool, reason string) {
	s.signal(monitor.Signal{Type: monitor.SignalDevTools, Active: open, Reason: reason})
}

func (s *LearnerService) signal(sig monitor.Signal) {
	s.mu.Lock()
	sessions := make([]*attempt.Session, 0, len(s.attempts))
	for _, a := range s.attempts {
		sessions = append(sessions, a)
	}
	s.mu.Unlock()
	for _, a := range sessions {
		a.Signal(sig)
	}
}

// CheckEligibility asks the collaborator whether a start may be offered.
func (s *LearnerService) CheckEligibility(ctx context.Context, lessonID string) (gate.Decision, error) {
	return s.gate.Check(ctx, lessonID)
}

// StartQuiz runs the advisory read-time and eligibility checks, then asks the
// collaborator for an attempt. The collaborator's answer is authoritative.
func (s *LearnerService) StartQuiz(ctx context.Context, lessonID string) (*attempt.Session, error) {
	s.mu.Lock()
	tr := s.tracker
	s.mu.Unlock()
	if tr == nil || tr.Lesson().ID != lessonID {
		return nil, domain.ErrNoLessonOpen
	}
	if !tr.CanProceed() {
		return nil, domain.ErrReadTimeNotMet
	}

	decision, err := s.gate.Check(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &gate.EligibilityError{Decision: decision}
	}

	s.mu.Lock()
	if existing, ok := s.attempts[lessonID]; ok && !existing.State().Terminal() {
		s.mu.Unlock()
		return nil, domain.ErrAttemptInProgress
	}
	session := attempt.New(lessonID, s.api, attempt.Options{
		Now:                   s.opts.Now,
		Log:                   s.opts.Log,
		MinSecondsPerQuestion: s.opts.MinSecondsPerQuestion,
	})
	s.attempts[lessonID] = session
	s.mu.Unlock()

	if err := session.Start(ctx, tr.Elapsed()); err != nil {
		s.discard(lessonID, session)
		return nil, err
	}
	return session, nil
}

// Attempt returns the live attempt session for a lesson.
func (s *LearnerService) Attempt(lessonID string) (*attempt.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[lessonID]
	return a, ok
}

func (s *LearnerService) Answer(lessonID, questionID, letter string) error {
	a, ok := s.Attempt(lessonID)
	if !ok {
		return domain.ErrSessionNotActive
	}
	return a.Answer(questionID, letter)
}

// Submit sends the lesson's attempt once, keeps a review snapshot and discards the session.
func (s *LearnerService) Submit(ctx context.Context, lessonID string) (SubmitOutcome, error) {
	a, ok := s.Attempt(lessonID)
	if !ok {
		return SubmitOutcome{}, domain.ErrSessionNotActive
	}
	_, err := a.Submit(ctx)
	if errors.Is(err, domain.ErrSessionNotActive) {
		return SubmitOutcome{}, err
	}
	s.discard(lessonID, a)
	if err != nil {
		return SubmitOutcome{}, err
	}

	snapshot, _ := a.Snapshot()
	if err := s.reviews.SaveReview(ctx, snapshot); err != nil {
		s.log.Error().Err(err).Str("attempt_id", snapshot.AttemptID).Msg("failed to store review snapshot")
	}
	out := SubmitOutcome{Snapshot: snapshot}
	if rv, err := review.FromSnapshot(snapshot); err == nil {
		out.Review = &rv
	}
	return out, nil
}

// Review loads a stored snapshot and evaluates it.
func (s *LearnerService) Review(ctx context.Context, attemptID string) (review.Review, error) {
	snapshot, err := s.reviews.LoadReview(ctx, attemptID)
	if err != nil {
		return review.Review{}, err
	}
	return review.FromSnapshot(snapshot)
}

func (s *LearnerService) discard(lessonID string, session *attempt.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[lessonID] == session {
		delete(s.attempts, lessonID)
	}
}

// Subscribe returns a channel of notices such as sign-in required.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *LearnerService) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, 4)
	s.mu.Lock()
	s.notices[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.notices[ch]; ok {
			delete(s.notices, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *LearnerService) publish(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.notices {
		select {
		case ch <- n:
		default:
		}
	}
}

// Shutdown closes the open lesson so its final report is sent.
func (s *LearnerService) Shutdown(ctx context.Context) {
	s.CloseLesson(ctx)
}

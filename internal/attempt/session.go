package attempt

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-agent/internal/domain"
	"quiz-agent/internal/monitor"
)

// State is the lifecycle position of a quiz attempt session.
type State string

const (
	StateIdle       State = "Idle"
	StateStarting   State = "Starting"
	StateActive     State = "Active"
	StateSubmitting State = "Submitting"
	StateCompleted  State = "Completed"
	StateFlagged    State = "Flagged"
	StateError      State = "Error"
)

// Terminal reports whether no further transition is possible for the attempt.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFlagged || s == StateError
}

// Collaborator allocates and scores attempts.
type Collaborator interface {
	StartAttempt(ctx context.Context, lessonID string, readTimeSeconds int) (domain.QuizAttempt, error)
	SubmitAttempt(ctx context.Context, sub domain.Submission) (domain.Result, error)
}

type Options struct {
	Now func() time.Time
	Log zerolog.Logger
	// MinSecondsPerQuestion applies when the collaborator does not hand out its own floor.
	MinSecondsPerQuestion int
}

// Update is pushed to subscribers on every state change and recorded answer.
type Update struct {
	LessonID  string `json:"lessonId"`
	AttemptID string `json:"attemptId,omitempty"`
	State     State  `json:"state"`
	Answered  int    `json:"answered"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// Session drives one attempt from Idle to a terminal state. A session is single use:
// once terminal it never moves again, and a new attempt needs a new Session.
type Session struct {
	lessonID string
	api      Collaborator
	monitor  *monitor.Monitor
	now      func() time.Time
	log      zerolog.Logger
	minPerQ  int

	mu          sync.Mutex
	state       State
	attempt     domain.QuizAttempt
	result      *domain.Result
	err         error
	submittedAt time.Time
	subscribers map[chan Update]struct{}
}

func New(lessonID string, api Collaborator, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log.With().Str("component", "attempt").Str("lesson_id", lessonID).Logger()
	return &Session{
		lessonID:    lessonID,
		api:         api,
		monitor:     monitor.NewWithClock(opts.Log, now),
		now:         now,
		log:         log,
		minPerQ:     opts.MinSecondsPerQuestion,
		state:       StateIdle,
		subscribers: make(map[chan Update]struct{}),
	}
}

// Start asks the collaborator for a fresh attempt. A rejection moves the session to
// Error and is returned unchanged so the server's reason reaches the learner.
func (s *Session) Start(ctx context.Context, readTimeSeconds int) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return domain.ErrAttemptInProgress
	}
	s.state = StateStarting
	s.broadcastLocked()
	s.mu.Unlock()

	attempt, err := s.api.StartAttempt(ctx, s.lessonID, readTimeSeconds)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		return err
	}
	attempt.LessonID = s.lessonID
	attempt.StartedAt = s.now()
	attempt.Outcome = domain.OutcomeInProgress
	if attempt.Answers == nil {
		attempt.Answers = make(map[string]string)
	}
	if attempt.Policy.MinSecondsPerQuestion <= 0 {
		attempt.Policy.MinSecondsPerQuestion = s.minPerQ
	}
	s.attempt = attempt
	s.monitor.Arm()
	s.state = StateActive
	s.log.Info().Str("attempt_id", attempt.AttemptID).Int("questions", len(attempt.Questions)).Msg("attempt started")
	s.broadcastLocked()
	return nil
}

// Answer records or replaces the learner's choice. Correctness is never checked here.
func (s *Session) Answer(questionID, letter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return domain.ErrSessionNotActive
	}
	q, ok := s.questionLocked(questionID)
	if !ok {
		return domain.ErrUnknownQuestion
	}
	if !q.HasOption(letter) {
		return domain.ErrInvalidOption
	}
	s.attempt.Answers[questionID] = letter
	s.broadcastLocked()
	return nil
}

// Signal forwards an environment signal to the violation monitor.
func (s *Session) Signal(sig monitor.Signal) {
	s.monitor.Observe(sig)
}

// Submit sends the attempt for scoring exactly once. The session leaves Active before
// the request goes out, so answers arriving meanwhile are rejected.
func (s *Session) Submit(ctx context.Context) (domain.Result, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return domain.Result{}, domain.ErrSessionNotActive
	}
	s.state = StateSubmitting

	total := int(s.now().Sub(s.attempt.StartedAt) / time.Second)
	if total < 0 {
		total = 0
	}
	s.monitor.CheckPace(total, len(s.attempt.Questions), s.attempt.Policy.MinSecondsPerQuestion)
	s.monitor.CheckTimeLimit(total, s.attempt.Policy.TimeLimitSeconds)
	s.monitor.Disarm()
	s.attempt.Violations = s.monitor.Violations()

	answers := make(map[string]string, len(s.attempt.Answers))
	for k, v := range s.attempt.Answers {
		answers[k] = v
	}
	sub := domain.Submission{
		AttemptID:        s.attempt.AttemptID,
		LessonID:         s.lessonID,
		Answers:          answers,
		TotalTimeSeconds: total,
		Violations:       s.attempt.Violations,
	}
	s.broadcastLocked()
	s.mu.Unlock()

	result, err := s.api.SubmitAttempt(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submittedAt = s.now()
	if err != nil {
		s.failLocked(err)
		return domain.Result{}, err
	}
	s.result = &result
	for i := range s.attempt.Questions {
		if letter, ok := result.CorrectAnswers[s.attempt.Questions[i].ID]; ok {
			s.attempt.Questions[i].CorrectOption = letter
		}
	}
	if result.FlaggedSuspicious {
		s.state = StateFlagged
		s.attempt.Outcome = domain.OutcomeFlagged
	} else {
		s.state = StateCompleted
		s.attempt.Outcome = domain.OutcomeCompleted
	}
	s.log.Info().
		Str("attempt_id", s.attempt.AttemptID).
		Int("score", result.Score).
		Bool("flagged", result.FlaggedSuspicious).
		Int("violations", len(sub.Violations)).
		Msg("attempt submitted")
	s.broadcastLocked()
	return result, nil
}

func (s *Session) failLocked(err error) {
	s.err = err
	s.state = StateError
	s.monitor.Disarm()
	kind, _ := domain.KindOf(err)
	s.log.Warn().Err(err).Str("kind", string(kind)).Msg("attempt failed")
	s.broadcastLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that moved the session to Error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) LessonID() string { return s.lessonID }

// Attempt returns a copy of the attempt as it stands.
func (s *Session) Attempt() domain.QuizAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAttempt(s.attempt)
}

func (s *Session) Result() (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.Result{}, false
	}
	return *s.result, true
}

// Remaining returns seconds left under the attempt time limit; ok is false without a limit.
func (s *Session) Remaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.attempt.Policy.TimeLimitSeconds
	if limit == nil || s.attempt.StartedAt.IsZero() {
		return 0, false
	}
	left := *limit - int(s.now().Sub(s.attempt.StartedAt)/time.Second)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Snapshot builds what the review screen needs; ok is false until the attempt has been scored.
func (s *Session) Snapshot() (domain.ReviewSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.ReviewSnapshot{}, false
	}
	a := copyAttempt(s.attempt)
	result := *s.result
	return domain.ReviewSnapshot{
		AttemptID:   a.AttemptID,
		LessonID:    a.LessonID,
		Result:      &result,
		Questions:   a.Questions,
		Answers:     a.Answers,
		Violations:  a.Violations,
		Outcome:     a.Outcome,
		SubmittedAt: s.submittedAt,
	}, true
}

// Subscribe returns a channel of state updates starting with the current one.
// The caller must invoke cancel to release it.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.updateLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() {
	u := s.updateLocked()
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// drop the oldest update for a slow reader
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}

func (s *Session) updateLocked() Update {
	u := Update{
		LessonID:  s.lessonID,
		AttemptID: s.attempt.AttemptID,
		State:     s.state,
		Answered:  len(s.attempt.Answers),
		Total:     len(s.attempt.Questions),
	}
	if s.err != nil {
		u.Error = domain.UserMessage(s.err)
	}
	return u
}

func (s *Session) questionLocked(id string) (domain.Question, bool) {
	for _, q := range s.attempt.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

func copyAttempt(a domain.QuizAttempt) domain.QuizAttempt {
	out := a
	out.Questions = make([]domain.Question, len(a.Questions))
	for i, q := range a.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	out.Answers = make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	out.Violations = append([]domain.Violation(nil), a.Violations...)
	return out
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationExpired means the bearer token was rejected or is past expiry.
	ErrAuthenticationExpired = errors.New("authentication expired")
	// ErrAttemptAlreadyCompleted is the collaborator refusing a second submission or start.
	ErrAttemptAlreadyCompleted = errors.New("quiz already completed")
	// ErrRateLimited is returned when cooldown, hourly or daily limits are hit.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrValidationOrServer covers every other non-2xx answer from the collaborator.
	ErrValidationOrServer = errors.New("validation or server error")
	// ErrNetworkUnavailable means the request never reached the collaborator.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrMissingClientData is malformed or absent local state fed to the review.
	ErrMissingClientData = errors.New("missing client data")

	// ErrReadTimeNotMet blocks a quiz start before the lesson minimum read time.
	ErrReadTimeNotMet = errors.New("minimum read time not reached")
	// ErrAttemptInProgress is returned when a lesson already has an active attempt.
	ErrAttemptInProgress = errors.New("an attempt is already in progress for this lesson")
	// ErrSessionNotActive rejects mutations outside the Active state.
	ErrSessionNotActive = errors.New("quiz session is not active")
	// ErrUnknownQuestion indicates an answer for a question outside the attempt.
	ErrUnknownQuestion = errors.New("question not in attempt")
	// ErrInvalidOption indicates a letter that is not one of the question's options.
	ErrInvalidOption = errors.New("option not offered for question")
	// ErrNoLessonOpen is returned when a lesson-scoped action runs with no lesson mounted.
	ErrNoLessonOpen = errors.New("no lesson open")
	// ErrNotEligible is returned when the eligibility gate blocks a start.
	ErrNotEligible = errors.New("quiz not available")
)

// ErrorKind names a member of the collaborator error taxonomy.
type ErrorKind string

const (
	KindAuthenticationExpired   ErrorKind = "AuthenticationExpired"
	KindAttemptAlreadyCompleted ErrorKind = "AttemptAlreadyCompleted"
	KindRateLimited             ErrorKind = "RateLimited"
	KindValidationOrServer      ErrorKind = "ValidationOrServerError"
	KindNetworkUnavailable      ErrorKind = "NetworkUnavailable"
	KindMissingClientData       ErrorKind = "MissingClientData"
)

var kindSentinels = map[ErrorKind]error{
	KindAuthenticationExpired:   ErrAuthenticationExpired,
	KindAttemptAlreadyCompleted: ErrAttemptAlreadyCompleted,
	KindRateLimited:             ErrRateLimited,
	KindValidationOrServer:      ErrValidationOrServer,
	KindNetworkUnavailable:      ErrNetworkUnavailable,
	KindMissingClientData:       ErrMissingClientData,
}

// APIError carries the server-provided detail for a failed collaborator call.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets errors.Is match an APIError against the sentinel of its kind.
func (e *APIError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *APIError) Unwrap() error { return e.Cause }

// KindOf maps any error onto the taxonomy; ok is false for errors outside it.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}

// UserMessage returns the text to show the learner: the server's detail when one exists.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

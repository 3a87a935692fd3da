package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-agent/internal/auth"
	"quiz-agent/internal/domain"
)

const (
	maxErrorBody      = 200
	rateLimitFallback = "Too many quiz attempts. Please try again later."
)

// Options configures the collaborator client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client speaks the collaborator's JSON-over-HTTP contract with the learner's bearer token.
// Mutating calls are never retried.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	auth       *auth.Session
	validate   *validator.Validate
	log        zerolog.Logger
}

func New(opts Options, session *auth.Session, log zerolog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url required")
	}
	if session == nil {
		return nil, errors.New("auth session required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: hc,
		auth:       session,
		validate:   validator.New(),
		log:        log.With().Str("component", "api").Logger(),
	}, nil
}

// Lesson fetches lesson content including its minimum read time.
func (c *Client) Lesson(ctx context.Context, lessonID string) (domain.Lesson, error) {
	var resp lessonResponse
	if err := c.doJSON(ctx, http.MethodGet, "/lessons/"+url.PathEscape(lessonID), nil, &resp); err != nil {
		return domain.Lesson{}, err
	}
	if err := c.check(resp); err != nil {
		return domain.Lesson{}, err
	}
	return resp.toDomain(), nil
}

// TrackReadTime reports accumulated reading seconds; the response body is ignored.
func (c *Client) TrackReadTime(ctx context.Context, lessonID string, seconds int) error {
	body := trackTimeRequest{LessonID: lessonID, ReadTimeSeconds: seconds}
	return c.doJSON(ctx, http.MethodPost, "/lessons/"+url.PathEscape(lessonID)+"/track-time", body, nil)
}

// QuizStatus asks whether a new attempt may start for the lesson.
func (c *Client) QuizStatus(ctx context.Context, lessonID string) (domain.QuizStatus, error) {
	var resp quizStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/lessons/"+url.PathEscape(lessonID)+"/quiz-status", nil, &resp); err != nil {
		return domain.QuizStatus{}, err
	}
	return resp.toDomain(), nil
}

// StartAttempt allocates a fresh attempt; eligibility is rechecked by the collaborator.
func (c *Client) StartAttempt(ctx context.Context, lessonID string, readTimeSeconds int) (domain.QuizAttempt, error) {
	var resp startResponse
	body := startRequest{LessonID: lessonID, LessonReadTime: readTimeSeconds}
	if err := c.doJSON(ctx, http.MethodPost, "/quiz/start", body, &resp); err != nil {
		return domain.QuizAttempt{}, err
	}
	if err := c.check(resp); err != nil {
		return domain.QuizAttempt{}, err
	}
	return resp.toDomain(lessonID), nil
}

// SubmitAttempt sends the canonical result-evaluation request.
func (c *Client) SubmitAttempt(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/quiz/submit", newSubmitRequest(sub), &resp); err != nil {
		return domain.Result{}, err
	}
	if err := c.check(resp); err != nil {
		return domain.Result{}, err
	}
	return resp.toDomain(), nil
}

func (c *Client) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return &domain.APIError{
			Kind:    domain.KindValidationOrServer,
			Message: "malformed response from server",
			Cause:   err,
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	token, ok := c.auth.Token()
	if !ok {
		return &domain.APIError{Kind: domain.KindAuthenticationExpired, Message: "Please sign in again."}
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.APIError{
			Kind:    domain.KindNetworkUnavailable,
			Message: "Could not reach the server. Check your connection.",
			Cause:   err,
		}
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return &domain.APIError{Kind: domain.KindNetworkUnavailable, Message: "connection interrupted", Cause: readErr}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseHTTPError(resp.StatusCode, raw)
		c.log.Debug().
			Str("request_id", requestID).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Msg("collaborator call failed")
		if apiErr.Kind == domain.KindAuthenticationExpired {
			c.auth.Invalidate("server returned 401")
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.APIError{
			Kind:    domain.KindValidationOrServer,
			Status:  resp.StatusCode,
			Message: truncate(string(raw)),
			Cause:   err,
		}
	}
	return nil
}

func parseHTTPError(status int, raw []byte) *domain.APIError {
	detail := extractDetail(raw)
	switch status {
	case http.StatusUnauthorized:
		if detail == "" {
			detail = "Your session has expired. Please sign in again."
		}
		return &domain.APIError{Kind: domain.KindAuthenticationExpired, Status: status, Message: detail}
	case http.StatusConflict:
		if detail == "" {
			detail = "Quiz already completed for this lesson."
		}
		return &domain.APIError{Kind: domain.KindAttemptAlreadyCompleted, Status: status, Message: detail}
	case http.StatusTooManyRequests:
		if detail == "" {
			detail = rateLimitFallback
		}
		return &domain.APIError{Kind: domain.KindRateLimited, Status: status, Message: detail}
	default:
		if detail == "" {
			detail = truncate(strings.TrimSpace(string(raw)))
		}
		if detail == "" {
			detail = fmt.Sprintf("server returned %d", status)
		}
		return &domain.APIError{Kind: domain.KindValidationOrServer, Status: status, Message: detail}
	}
}

// extractDetail understands {"detail": "..."}, {"detail": [{"msg": ...}]} and {"message": "..."}.
func extractDetail(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		return truncate(string(body.Detail))
	}
	return body.Message
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

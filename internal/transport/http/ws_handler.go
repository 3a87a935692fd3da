package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-agent/internal/app"
	"quiz-agent/internal/attempt"
	"quiz-agent/internal/clock"
	"quiz-agent/internal/domain"
	"quiz-agent/internal/gate"
	"quiz-agent/internal/review"
)

type WSHandler struct {
	service  *app.LearnerService
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWSHandler builds the view socket handler. An empty allowedOrigins accepts
// same-origin requests only (gorilla's default check).
func NewWSHandler(service *app.LearnerService, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	h := &WSHandler{
		service: service,
		log:     log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type lessonPayload struct {
	LessonID string `json:"lessonId"`
}

type visibilityPayload struct {
	Hidden bool `json:"hidden"`
}

type focusPayload struct {
	Lost bool `json:"lost"`
}

type devtoolsPayload struct {
	Open   *bool  `json:"open"`
	Reason string `json:"reason"`
}

type answerPayload struct {
	LessonID   string `json:"lessonId"`
	QuestionID string `json:"questionId"`
	Option     string `json:"option"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type readTimePayload struct {
	LessonID   string `json:"lessonId"`
	Elapsed    int    `json:"elapsed"`
	Required   int    `json:"required"`
	CanProceed bool   `json:"canProceed"`
}

type eligibilityPayload struct {
	LessonID string            `json:"lessonId"`
	Allowed  bool              `json:"allowed"`
	Status   domain.QuizStatus `json:"status"`
	Lines    []string          `json:"lines"`
}

type questionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

type attemptPayload struct {
	AttemptID        string         `json:"attemptId"`
	LessonID         string         `json:"lessonId"`
	Questions        []questionView `json:"questions"`
	TimeLimitSeconds *int           `json:"timeLimitSeconds,omitempty"`
}

type resultPayload struct {
	AttemptID string         `json:"attemptId"`
	Result    *domain.Result `json:"result"`
	Outcome   domain.Outcome `json:"outcome"`
	Review    *review.Review `json:"review,omitempty"`
}

// conn is one view connection. All writes go through send so only the writer goroutine
// touches the socket.
type conn struct {
	h        *WSHandler
	ws       *websocket.Conn
	send     chan outboundMessage
	done     chan struct{}
	wg       sync.WaitGroup
	lesson   string
	stopRead context.CancelFunc
}

// ServeWS upgrades the request and serves the view protocol until the socket closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()

	c := &conn{
		h:    h,
		ws:   ws,
		send: make(chan outboundMessage, 32),
		done: make(chan struct{}),
	}
	ctx := context.WithoutCancel(r.Context())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := ws.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write failed")
				// keep draining so producers never block on a dead socket
				for range c.send {
				}
				return
			}
		}
	}()

	notices, cancelNotices := h.service.Subscribe()
	c.forward(func() {
		for {
			select {
			case n, ok := <-notices:
				if !ok {
					return
				}
				c.emit(string(n.Type), n)
			case <-c.done:
				return
			}
		}
	})

	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			break
		}
		c.dispatch(ctx, inbound)
	}

	cancelNotices()
	if c.stopRead != nil {
		c.stopRead()
	}
	// The view is gone: unmount its lesson so the timer stops and the final report goes out.
	if c.lesson != "" && h.service.CloseLessonIfOpen(ctx, c.lesson) {
		h.log.Debug().Str("lesson_id", c.lesson).Msg("lesson closed with its view")
	}
	close(c.done)
	c.wg.Wait()
	close(c.send)
	<-writerDone
}

func (c *conn) forward(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *conn) emit(typ string, payload any) {
	select {
	case c.send <- outboundMessage{Type: typ, Payload: payload}:
	case <-c.done:
	}
}

func (c *conn) fail(err error) {
	kind, _ := domain.KindOf(err)
	var blocked *gate.EligibilityError
	if errors.As(err, &blocked) {
		c.emit("eligibility", eligibilityView(blocked.Decision))
		return
	}
	c.emit("error", errorPayload{Kind: string(kind), Message: domain.UserMessage(err)})
}

func (c *conn) dispatch(ctx context.Context, in inboundMessage) {
	svc := c.h.service
	switch in.Type {
	case "openLesson":
		var p lessonPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.LessonID == "" {
			c.emit("error", errorPayload{Message: "invalid openLesson payload"})
			return
		}
		lesson, err := svc.OpenLesson(ctx, p.LessonID)
		if err != nil {
			c.fail(err)
			return
		}
		c.lesson = lesson.ID
		c.emit("lesson", lesson)
		c.followReadTime(lesson)
	case "closeLesson":
		if c.stopRead != nil {
			c.stopRead()
			c.stopRead = nil
		}
		svc.CloseLesson(ctx)
		c.lesson = ""
	case "visibility":
		var p visibilityPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			c.emit("error", errorPayload{Message: "invalid visibility payload"})
			return
		}
		svc.Visibility(clock.Visibility(!p.Hidden))
	case "focus":
		var p focusPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			c.emit("error", errorPayload{Message: "invalid focus payload"})
			return
		}
		svc.Focus(p.Lost)
	case "devtools":
		var p devtoolsPayload
		_ = json.Unmarshal(in.Payload, &p)
		open := p.Open == nil || *p.Open
		svc.DevTools(open, p.Reason)
	case "checkStatus":
		lessonID := c.lessonFrom(in.Payload)
		decision, err := svc.CheckEligibility(ctx, lessonID)
		if err != nil {
			c.fail(err)
			return
		}
		c.emit("eligibility", eligibilityView(decision))
	case "startQuiz":
		lessonID := c.lessonFrom(in.Payload)
		session, err := svc.StartQuiz(ctx, lessonID)
		if err != nil {
			c.fail(err)
			return
		}
		c.emit("attempt", attemptView(session.Attempt()))
		c.followAttempt(session)
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			c.emit("error", errorPayload{Message: "invalid answer payload"})
			return
		}
		if p.LessonID == "" {
			p.LessonID = c.lesson
		}
		if err := svc.Answer(p.LessonID, p.QuestionID, p.Option); err != nil {
			c.fail(err)
		}
	case "submit":
		lessonID := c.lessonFrom(in.Payload)
		out, err := svc.Submit(ctx, lessonID)
		if err != nil {
			c.fail(err)
			return
		}
		c.emit("result", resultPayload{
			AttemptID: out.Snapshot.AttemptID,
			Result:    out.Snapshot.Result,
			Outcome:   out.Snapshot.Outcome,
			Review:    out.Review,
		})
	default:
		c.emit("error", errorPayload{Message: "unsupported message type"})
	}
}

func (c *conn) lessonFrom(raw json.RawMessage) string {
	var p lessonPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.LessonID == "" {
		return c.lesson
	}
	return p.LessonID
}

// followReadTime streams the read counter of the newly opened lesson once per second.
func (c *conn) followReadTime(lesson domain.Lesson) {
	if c.stopRead != nil {
		c.stopRead()
	}
	tr, ok := c.h.service.Tracker()
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopRead = cancel
	ticks := tr.Ticks(ctx)
	c.forward(func() {
		for {
			select {
			case elapsed, ok := <-ticks:
				if !ok {
					return
				}
				c.emit("readTime", readTimePayload{
					LessonID:   lesson.ID,
					Elapsed:    elapsed,
					Required:   lesson.MinReadTimeSeconds,
					CanProceed: elapsed >= lesson.MinReadTimeSeconds,
				})
			case <-c.done:
				return
			}
		}
	})
}

// followAttempt relays attempt state changes until the attempt ends or the socket closes.
func (c *conn) followAttempt(session *attempt.Session) {
	updates, cancel := session.Subscribe()
	c.forward(func() {
		defer cancel()
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				c.emit("state", u)
				if u.State.Terminal() {
					return
				}
			case <-c.done:
				return
			}
		}
	})
}

func eligibilityView(d gate.Decision) eligibilityPayload {
	return eligibilityPayload{
		LessonID: d.LessonID,
		Allowed:  d.Allowed,
		Status:   d.Status,
		Lines:    d.Lines(),
	}
}

func attemptView(a domain.QuizAttempt) attemptPayload {
	qs := make([]questionView, 0, len(a.Questions))
	for _, q := range a.Questions {
		qs = append(qs, questionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options})
	}
	return attemptPayload{
		AttemptID:        a.AttemptID,
		LessonID:         a.LessonID,
		Questions:        qs,
		TimeLimitSeconds: a.Policy.TimeLimitSeconds,
	}
}

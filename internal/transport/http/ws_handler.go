package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gradeup-exam-service/internal/app"
	"gradeup-exam-service/internal/domain"
)

// Defaults fill in start parameters a client leaves out.
type Defaults struct {
	QuestionCount   int
	DurationMinutes int
}

type WSHandler struct {
	service  *app.ExamService
	defaults Defaults
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.ExamService, defaults Defaults, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:  service,
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID int `json:"questionId"`
	domain.AnswerInput
}

type gotoPayload struct {
	Index int `json:"index"`
}

type markPayload struct {
	QuestionID int `json:"questionId"`
}

type tickPayload struct {
	Remaining int `json:"remaining"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type abandonedPayload struct {
	SessionID string `json:"sessionId"`
}

// ServeWS upgrades HTTP requests to websockets and runs one exam session over
// the connection. Closing the connection abandons an unfinished session. When a
// newer session replaces it the client gets an "abandoned" frame and the
// connection is closed.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.startConfig(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	started, err := h.service.Start(r.Context(), cfg)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	userID, sessionID := cfg.UserID, started.SessionID

	updates, cancel, err := h.service.Subscribe(r.Context(), userID, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	// Runs before cancel: an unfinished session dies with its connection.
	defer h.service.Abandon(r.Context(), userID, sessionID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})
	send <- outboundMessage[any]{Type: "started", Payload: started}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Str("session_id", sessionID).Msg("ws write error")
				return
			}
			if msg.Type == "abandoned" {
				// Unblocks the read loop.
				closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session replaced")
				_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				msg, forward := eventMessage(event)
				if !forward {
					continue
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
				if event.Type == domain.EventAbandoned {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		msg, reply := h.handle(r.Context(), userID, sessionID, inbound)
		if !reply {
			continue
		}
		select {
		case send <- msg:
		case <-writerDone:
			break read
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handle applies one client message. State changes reach the client through
// the subscription, so only errors and repeated results are replied directly.
func (h *WSHandler) handle(ctx context.Context, userID, sessionID string, inbound inboundMessage) (outboundMessage[any], bool) {
	var err error

	switch inbound.Type {
	case "select":
		var payload domain.AnswerInput
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid select payload"), true
		}
		err = h.service.Select(ctx, userID, sessionID, payload)
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid answer payload"), true
		}
		err = h.service.Answer(ctx, userID, sessionID, payload.QuestionID, payload.AnswerInput)
	case "next":
		_, err = h.service.Next(ctx, userID, sessionID)
	case "previous":
		_, err = h.service.Previous(ctx, userID, sessionID)
	case "goto":
		var payload gotoPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid goto payload"), true
		}
		_, err = h.service.GoTo(ctx, userID, sessionID, payload.Index)
	case "mark":
		var payload markPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid mark payload"), true
		}
		_, err = h.service.ToggleMark(ctx, userID, sessionID, payload.QuestionID)
	case "submit":
		session, serr := h.service.Attempt(ctx, userID, sessionID)
		if serr != nil {
			return errorMessage(serr.Error()), true
		}
		_, alreadyFinished := session.Result()
		result, serr := h.service.Submit(ctx, userID, sessionID)
		if serr != nil {
			return errorMessage(serr.Error()), true
		}
		// A first submit is announced by the subscription.
		if alreadyFinished {
			return outboundMessage[any]{Type: "result", Payload: result}, true
		}
		return outboundMessage[any]{}, false
	default:
		return errorMessage("unsupported message type"), true
	}

	if err != nil {
		return errorMessage(err.Error()), true
	}
	return outboundMessage[any]{}, false
}

func (h *WSHandler) startConfig(q url.Values) (domain.StartConfig, error) {
	cfg := domain.StartConfig{
		UserID:          q.Get("userId"),
		Subject:         q.Get("subject"),
		QuestionCount:   h.defaults.QuestionCount,
		DurationMinutes: h.defaults.DurationMinutes,
	}
	if cfg.UserID == "" || cfg.Subject == "" {
		return cfg, errors.New("missing userId or subject")
	}
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, errors.New("count must be a number")
		}
		cfg.QuestionCount = n
	}
	if raw := q.Get("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, errors.New("duration must be a number of minutes")
		}
		cfg.DurationMinutes = n
	}
	return cfg, nil
}

func eventMessage(event domain.SessionEvent) (outboundMessage[any], bool) {
	switch event.Type {
	case domain.EventState:
		return outboundMessage[any]{Type: "state", Payload: event.Snapshot}, true
	case domain.EventTick:
		return outboundMessage[any]{Type: "tick", Payload: tickPayload{Remaining: event.Snapshot.Remaining}}, true
	case domain.EventFinished:
		if event.Result == nil {
			return outboundMessage[any]{}, false
		}
		return outboundMessage[any]{Type: "result", Payload: *event.Result}, true
	case domain.EventAbandoned:
		return outboundMessage[any]{Type: "abandoned", Payload: abandonedPayload{SessionID: event.Snapshot.SessionID}}, true
	default:
		return outboundMessage[any]{}, false
	}
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

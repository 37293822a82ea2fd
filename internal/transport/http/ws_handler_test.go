package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gradeup-exam-service/internal/app"
	"gradeup-exam-service/internal/domain"
	"gradeup-exam-service/internal/history"
	"gradeup-exam-service/internal/infra/memory"
)

func TestWebSocketExamFlow(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	conn := dial(t, server, "/ws?userId=u1&subject=math&count=20&duration=10")
	defer conn.Close()

	_, payload := readNext(conn, t, "started")
	if payload["total"] != float64(2) {
		t.Fatalf("expected pool truncated to 2 questions, got %v", payload["total"])
	}
	if _, ok := payload["question"].(map[string]any)["correctIndex"]; ok {
		t.Fatalf("answer key leaked to client")
	}
	readNext(conn, t, "state")

	send(t, conn, "answer", map[string]any{"questionId": 1, "choice": 1})
	_, state := readUntil(conn, t, "state")
	if palette := state["palette"].([]any); palette[0] != "current" {
		t.Fatalf("unexpected palette %v", palette)
	}

	send(t, conn, "answer", map[string]any{"questionId": 2, "text": "four"})
	_, errPayload := readUntil(conn, t, "error")
	if errPayload["message"] != domain.ErrNotCurrentQuestion.Error() {
		t.Fatalf("expected answer for another question rejected, got %v", errPayload["message"])
	}

	send(t, conn, "goto", map[string]any{"index": 5})
	_, errPayload = readUntil(conn, t, "error")
	if errPayload["message"] != domain.ErrIndexOutOfRange.Error() {
		t.Fatalf("unexpected error %v", errPayload["message"])
	}

	send(t, conn, "next", nil)
	_, state = readUntil(conn, t, "state")
	if state["cursor"] != float64(1) {
		t.Fatalf("expected cursor 1, got %v", state["cursor"])
	}

	send(t, conn, "submit", nil)
	_, result := readUntil(conn, t, "result")
	if result["score"] != float64(1) || result["totalQuestions"] != float64(2) || result["percentage"] != float64(50) {
		t.Fatalf("expected {1 2 50}, got %v", result)
	}

	// Submitting again yields the same result.
	send(t, conn, "submit", nil)
	_, again := readUntil(conn, t, "result")
	if again["sessionId"] != result["sessionId"] {
		t.Fatalf("expected the same result, got %v", again)
	}

	waitFor(t, func() bool {
		resp, err := http.Get(server.URL + "/history?userId=u1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var results []domain.ExamResult
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return false
		}
		return len(results) == 1 && results[0].Percentage == 50
	})
}

func TestWebSocketTimeoutSendsResult(t *testing.T) {
	service, ticker := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	conn := dial(t, server, "/ws?userId=u1&subject=math&duration=1")
	defer conn.Close()
	readNext(conn, t, "started")

	send(t, conn, "select", map[string]any{"option": "4"})
	readUntil(conn, t, "state")

	go func() {
		for i := 0; i < 60; i++ {
			select {
			case ticker.ch <- time.Now():
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	_, result := readUntil(conn, t, "result")
	if result["reason"] != string(domain.ReasonTimeout) || result["score"] != float64(1) {
		t.Fatalf("expected timeout with selected answer scored, got %v", result)
	}
}

func TestWebSocketDisconnectAbandonsSession(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	conn := dial(t, server, "/ws?userId=u1&subject=math")
	readNext(conn, t, "started")
	session, err := service.Session(context.Background(), "u1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	conn.Close()

	waitFor(t, func() bool {
		_, err := service.Session(context.Background(), "u1")
		return errors.Is(err, domain.ErrSessionNotFound)
	})
	if session.Active() {
		t.Fatalf("expected session abandoned")
	}
	if _, ok := session.Result(); ok {
		t.Fatalf("abandoned session must not have a result")
	}
}

func TestWebSocketReplacedConnectionIsClosed(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	first := dial(t, server, "/ws?userId=u1&subject=math")
	defer first.Close()
	_, firstStarted := readNext(first, t, "started")

	second := dial(t, server, "/ws?userId=u1&subject=math")
	defer second.Close()
	_, secondStarted := readNext(second, t, "started")
	if firstStarted["sessionId"] == secondStarted["sessionId"] {
		t.Fatalf("expected a new session id")
	}

	_, abandoned := readUntil(first, t, "abandoned")
	if abandoned["sessionId"] != firstStarted["sessionId"] {
		t.Fatalf("expected the first session abandoned, got %v", abandoned)
	}
	// The stale connection may still try to move; the server no longer listens.
	_ = first.WriteJSON(map[string]any{"type": "next"})
	var msg map[string]any
	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := first.ReadJSON(&msg); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close of the stale connection, got %v (msg %v)", err, msg)
	}

	snap, err := service.Snapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.SessionID != secondStarted["sessionId"] || snap.Cursor != 0 {
		t.Fatalf("replacement session touched by stale connection: %+v", snap)
	}

	send(t, second, "next", nil)
	_, state := readUntil(second, t, "state")
	if state["cursor"] != float64(1) {
		t.Fatalf("expected cursor 1 on the live connection, got %v", state["cursor"])
	}
}

func TestHistoryDeleteClearsResults(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	ctx := context.Background()
	started, err := service.Start(ctx, domain.StartConfig{UserID: "u1", Subject: "math", QuestionCount: 2, DurationMinutes: 5})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Submit(ctx, "u1", started.SessionID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		results, _ := service.History(ctx, "u1")
		return len(results) == 1
	})

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/history?userId=u1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if results, _ := service.History(ctx, "u1"); len(results) != 0 {
		t.Fatalf("expected history cleared, got %v", results)
	}
}

func TestWebSocketUnknownSubject(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	conn := dial(t, server, "/ws?userId=u1&subject=history")
	defer conn.Close()
	_, payload := readNext(conn, t, "error")
	if !strings.Contains(payload["message"].(string), domain.ErrSubjectNotFound.Error()) {
		t.Fatalf("unexpected error %v", payload["message"])
	}
}

func TestWebSocketRejectsBadQuery(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(service)
	defer server.Close()

	for _, query := range []string{"?userId=u1", "?subject=math", "?userId=u1&subject=math&count=many"} {
		resp, err := http.Get(server.URL + "/ws" + query)
		if err != nil {
			t.Fatalf("get %s: %v", query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestHistoryRequiresUser(t *testing.T) {
	service, _ := newTestService(t)
	handler := NewHistoryHandler(service, zerolog.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?userId=nobody", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}

func newTestService(t *testing.T) (*app.ExamService, *manualTicker) {
	t.Helper()
	ticker := &manualTicker{ch: make(chan time.Time)}
	recorder := history.NewRecorder(memory.NewKVStore(), 10)
	service := app.NewExamService(
		memory.NewSessionStore(),
		memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleBank()), time.Minute),
		recorder,
		zerolog.Nop(),
		app.WithTicker(func() app.Ticker { return ticker }),
		app.WithHistory(recorder),
	)
	t.Cleanup(service.Close)
	return service, ticker
}

func newTestServer(service *app.ExamService) *httptest.Server {
	wsHandler := NewWSHandler(service, Defaults{QuestionCount: 10, DurationMinutes: 30}, nil, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/history", NewHistoryHandler(service, zerolog.Nop()))
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil skips messages until one of the expected type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 200; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return typ, payload
		}
	}
	t.Fatalf("no %s message received", expect)
	return "", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func sampleBank() map[string][]domain.Question {
	return map[string][]domain.Question{
		"math": {
			{
				ID:           1,
				Prompt:       "What is 2 + 2?",
				Kind:         domain.KindSingleChoice,
				Options:      []string{"3", "4", "5"},
				CorrectIndex: 1,
				Subject:      "math",
			},
			{
				ID:              2,
				Prompt:          "Spell the number 4.",
				Kind:            domain.KindFreeResponse,
				ReferenceAnswer: "four",
				Subject:         "math",
			},
		},
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"school-session-agent/internal/app"
	"school-session-agent/internal/backend"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/infra/memory"
	"school-session-agent/internal/remote"
)

func newBackend(t *testing.T) (*httptest.Server, *memory.BackendStore) {
	t.Helper()
	store := memory.NewBackendStore()
	srv := backend.NewServer(backend.Options{
		Activities:     memory.NewStaticActivityLoader(sampleActivities()),
		Store:          store,
		DisableReqLogs: true,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, store
}

func dial(t *testing.T, serverURL, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(serverURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil skips messages until one of type expect arrives and accept returns true for it.
func readUntil(t *testing.T, conn *websocket.Conn, expect string, accept func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", expect, err)
		}
		if msg.Type == expect && (accept == nil || accept(msg.Payload)) {
			return msg.Payload
		}
	}
}

func TestActivitySubmitOverWebSocket(t *testing.T) {
	backendSrv, store := newBackend(t)
	handler := NewActivityHandler(remote.New(backendSrv.URL), app.CollectorOptions{}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/activity", handler.ServeWS)
	agent := httptest.NewServer(mux)
	defer agent.Close()

	conn := dial(t, agent.URL, "/ws/activity?activityId=quiz-1")

	raw := readUntil(t, conn, "activity", nil)
	var act domain.Activity
	if err := json.Unmarshal(raw, &act); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if len(act.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(act.Questions))
	}
	for _, c := range act.Questions[0].Choices {
		if c.Correct {
			t.Fatalf("answer key leaked to the page")
		}
	}

	send(t, conn, "select", map[string]string{"questionId": "q1", "choiceId": "o2"})
	readUntil(t, conn, "snapshot", func(p json.RawMessage) bool {
		var snap app.Snapshot
		_ = json.Unmarshal(p, &snap)
		return len(snap.Selections["q1"]) == 1
	})

	send(t, conn, "submit", nil)
	raw = readUntil(t, conn, "submitted", nil)
	var res domain.SubmissionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Score == nil || *res.Score != 1 {
		t.Fatalf("expected score 1, got %v", res.Score)
	}

	attempts, _ := store.Attempts(context.Background(), "quiz-1")
	if len(attempts) != 1 {
		t.Fatalf("expected 1 stored attempt, got %d", len(attempts))
	}
}

func TestActivityRejectsInputBeforeStart(t *testing.T) {
	backendSrv, _ := newBackend(t)
	handler := NewActivityHandler(remote.New(backendSrv.URL), app.CollectorOptions{}, nil)
	agent := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer agent.Close()

	conn := dial(t, agent.URL, "/")
	send(t, conn, "select", map[string]string{"questionId": "q1", "choiceId": "o1"})
	raw := readUntil(t, conn, "error", nil)
	if !strings.Contains(string(raw), domain.ErrNotInProgress.Error()) {
		t.Fatalf("unexpected error payload %s", raw)
	}

	send(t, conn, "dance", nil)
	raw = readUntil(t, conn, "error", nil)
	if !strings.Contains(string(raw), "unsupported") {
		t.Fatalf("unexpected error payload %s", raw)
	}
}

func TestActivityUnknownReportsLoadFailure(t *testing.T) {
	backendSrv, _ := newBackend(t)
	handler := NewActivityHandler(remote.New(backendSrv.URL), app.CollectorOptions{}, nil)
	agent := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer agent.Close()

	conn := dial(t, agent.URL, "/")
	send(t, conn, "start", map[string]string{"activityId": "missing"})
	readUntil(t, conn, "snapshot", func(p json.RawMessage) bool {
		var snap app.Snapshot
		_ = json.Unmarshal(p, &snap)
		return snap.Status == app.StatusFailed
	})
}

func TestAttendanceOfflineCaptureFlushesWhenOnline(t *testing.T) {
	backendSrv, backendStore := newBackend(t)
	local := memory.NewLocalStore()
	handler := NewAttendanceHandler(local, remote.New(backendSrv.URL), AttendanceOptions{}, nil)
	agent := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer agent.Close()

	conn := dial(t, agent.URL, "/?online=false")
	send(t, conn, "load", map[string]string{"sessionId": "session-1"})
	readUntil(t, conn, "pending", nil)

	badge := domain.Badge{StudentID: "s-1", Name: "Ana", Grade: "7"}
	send(t, conn, "scan", map[string]string{"text": badge.Encode()})
	readUntil(t, conn, "unload_guard", func(p json.RawMessage) bool {
		var g guardPayload
		_ = json.Unmarshal(p, &g)
		return g.Armed && g.Pending == 1
	})
	readUntil(t, conn, "pending", func(p json.RawMessage) bool {
		var pending pendingPayload
		_ = json.Unmarshal(p, &pending)
		return len(pending.Records) == 1 && pending.Records[0].Method == domain.CaptureQR
	})

	if _, ok, _ := local.Read(context.Background(), app.PendingKey("session-1")); !ok {
		t.Fatalf("expected batch persisted locally while offline")
	}

	send(t, conn, "connectivity", map[string]bool{"online": true})
	readUntil(t, conn, "event", func(p json.RawMessage) bool {
		var ev eventPayload
		_ = json.Unmarshal(p, &ev)
		return ev.Kind == app.EventFlushed && ev.Count == 1
	})

	records, _ := backendStore.SessionRecords(context.Background(), "session-1")
	if len(records) != 1 || records[0].StudentID != "s-1" {
		t.Fatalf("unexpected backend records %+v", records)
	}
	if _, ok, _ := local.Read(context.Background(), app.PendingKey("session-1")); ok {
		t.Fatalf("expected local batch removed after delivery")
	}
}

func TestAttendanceRestoredBatchFlushesOnLoad(t *testing.T) {
	backendSrv, backendStore := newBackend(t)
	local := memory.NewLocalStore()
	ctx := context.Background()
	raw, _ := json.Marshal(map[string]interface{}{
		"sessionId": "session-2",
		"batchId":   "batch-1",
		"records": []domain.AttendanceRecord{
			{StudentID: "s-9", Name: "Budi", Method: domain.CaptureManual, CapturedAt: time.Now().UTC()},
		},
	})
	if err := local.Write(ctx, app.PendingKey("session-2"), raw); err != nil {
		t.Fatal(err)
	}

	handler := NewAttendanceHandler(local, remote.New(backendSrv.URL), AttendanceOptions{}, nil)
	agent := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer agent.Close()

	conn := dial(t, agent.URL, "/")
	send(t, conn, "load", map[string]string{"sessionId": "session-2"})
	raw = readUntil(t, conn, "flush", nil)
	var res flushPayload
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != app.FlushDelivered || res.Delivered != 1 {
		t.Fatalf("unexpected flush %+v", res)
	}
	records, _ := backendStore.SessionRecords(ctx, "session-2")
	if len(records) != 1 {
		t.Fatalf("expected restored record delivered, got %d", len(records))
	}
}

func TestAttendanceRejectsUnreadableBadge(t *testing.T) {
	backendSrv, _ := newBackend(t)
	handler := NewAttendanceHandler(memory.NewLocalStore(), remote.New(backendSrv.URL), AttendanceOptions{}, nil)
	agent := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer agent.Close()

	conn := dial(t, agent.URL, "/?online=false")
	send(t, conn, "load", map[string]string{"sessionId": "session-3"})
	send(t, conn, "scan", map[string]string{"text": "https://example.com/not-a-badge"})
	raw := readUntil(t, conn, "error", nil)
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Fields) == 0 || payload.Fields[0].Field != "badge" {
		t.Fatalf("expected badge field error, got %+v", payload)
	}
}

func TestCheckOrigin(t *testing.T) {
	u := newUpgrader([]string{"http://kiosk.local"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://evil.local")
	if u.CheckOrigin(r) {
		t.Fatalf("expected foreign origin rejected")
	}
	r.Header.Set("Origin", "http://kiosk.local")
	if !u.CheckOrigin(r) {
		t.Fatalf("expected allowed origin accepted")
	}
}

func sampleActivities() map[string]domain.Activity {
	return map[string]domain.Activity{
		"quiz-1": {
			ID:              "quiz-1",
			Kind:            domain.KindQuiz,
			ScoreVisibility: domain.VisibleImmediate,
			Questions: []domain.Question{
				{
					ID:        "q1",
					Prompt:    "What is 2 + 2?",
					Selection: domain.SelectSingle,
					Choices: []domain.Choice{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
			},
		},
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/channels"
	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

func newSessionWSTestServer(t *testing.T) (*Server, *models.Session, *httptest.Server) {
	t.Helper()

	store := sessions.NewMemoryStore()
	session, err := store.GetOrCreate(context.Background(), "default:api:client", "default", models.ChannelAPI, "client")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	s := &Server{
		config:        &config.Config{},
		logger:        slog.Default(),
		channels:      channels.NewRegistry(),
		sessions:      store,
		stores:        storage.NewMemoryStores(),
		sessionEvents: NewSessionBroadcasterRegistry(nil),
		runtime:       agent.NewRuntime(stubProvider{}, store),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{session_id}", s.handleSessionWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, session, ts
}

func dialSessionWS(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestSessionWSHeartbeatEcho(t *testing.T) {
	_, session, ts := newSessionWSTestServer(t)
	conn := dialSessionWS(t, ts, session.ID)

	if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "heartbeat" {
		t.Errorf("frame type = %v, want heartbeat", frame["type"])
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	_, _, ts := newSessionWSTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/no-such-session"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %v, want 404", resp)
	}
}

func TestSessionWSHistoryRequest(t *testing.T) {
	s, session, ts := newSessionWSTestServer(t)

	for _, content := range []string{"one", "two", "three"} {
		msg := &models.Message{
			ID:        content,
			SessionID: session.ID,
			Channel:   models.ChannelAPI,
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: time.Now(),
		}
		if err := s.sessions.AppendMessage(context.Background(), session.ID, msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	conn := dialSessionWS(t, ts, session.ID)
	if err := conn.WriteJSON(map[string]any{"type": "history_request", "limit": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "history_response" {
		t.Fatalf("frame type = %v, want history_response", frame["type"])
	}
	raw, _ := json.Marshal(frame["messages"])
	var messages []models.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(messages))
	}
	if messages[0].Content != "two" || messages[1].Content != "three" {
		t.Errorf("history = %q, %q; want two, three", messages[0].Content, messages[1].Content)
	}
}

func TestSessionWSSyncRequest(t *testing.T) {
	s, session, ts := newSessionWSTestServer(t)

	old := &models.Message{ID: "old", SessionID: session.ID, Role: models.RoleUser, Content: "old", CreatedAt: time.Now().Add(-time.Hour)}
	recent := &models.Message{ID: "new", SessionID: session.ID, Role: models.RoleUser, Content: "new", CreatedAt: time.Now()}
	_ = s.sessions.AppendMessage(context.Background(), session.ID, old)
	_ = s.sessions.AppendMessage(context.Background(), session.ID, recent)

	conn := dialSessionWS(t, ts, session.ID)
	cutoff := time.Now().Add(-time.Minute).UnixMilli()
	if err := conn.WriteJSON(map[string]any{"type": "sync_request", "timestamp": cutoff}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "sync_response" {
		t.Fatalf("frame type = %v, want sync_response", frame["type"])
	}
	raw, _ := json.Marshal(frame["messages"])
	var messages []models.Message
	_ = json.Unmarshal(raw, &messages)
	if len(messages) != 1 || messages[0].Content != "new" {
		t.Errorf("sync returned %+v, want only the recent message", messages)
	}
}

func TestSessionWSPendingResultReplay(t *testing.T) {
	s, session, ts := newSessionWSTestServer(t)

	pending := &models.PendingResult{
		ID:        "p1",
		Origin:    models.OriginScheduler,
		SessionID: session.ID,
		Prompt:    "tick",
		Response:  "tock",
	}
	if err := s.stores.Pending.Create(context.Background(), pending); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	conn := dialSessionWS(t, ts, session.ID)
	frame := readFrame(t, conn)
	if frame["event"] != "pending_result" {
		t.Fatalf("event = %v, want pending_result", frame["event"])
	}

	// Replay marks the row delivered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		undelivered, err := s.stores.Pending.ListUndelivered(context.Background(), session.ID, 0)
		if err != nil {
			t.Fatalf("ListUndelivered() error = %v", err)
		}
		if len(undelivered) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pending result never marked delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionWSBroadcastDelivery(t *testing.T) {
	s, session, ts := newSessionWSTestServer(t)
	conn := dialSessionWS(t, ts, session.ID)

	// Give the subscriber a moment to register.
	deadline := time.Now().Add(2 * time.Second)
	for s.sessionEvents.Get(session.ID).SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.sessionEvents.Publish(session.ID, "scheduled_task_result", map[string]any{"task_name": "tick"})

	frame := readFrame(t, conn)
	if frame["event"] != "scheduled_task_result" {
		t.Errorf("event = %v, want scheduled_task_result", frame["event"])
	}
}

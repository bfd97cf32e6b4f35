package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/mcp"
	"github.com/sea922/codestudio/internal/tabs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer() (*Server, *bus.MessageBus, *tabs.Registry) {
	b := bus.NewMessageBus()
	reg := tabs.NewRegistry(nil)
	reg.Attach(b)
	s := NewServer(&Deps{
		Registry: reg,
		Bus:      b,
		MCP:      mcp.NewService(nil, "claude"),
	})
	s.AttachBus(b)
	return s, b, reg
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer()
	w := doJSON(t, s, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTabsCRUD(t *testing.T) {
	s, _, reg := newTestServer()

	w := doJSON(t, s, http.MethodPost, "/api/tabs", `{"type":"chat","title":"First"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var createResp struct {
		Data struct {
			TabID string `json:"tabId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &createResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := createResp.Data.TabID
	if id == "" {
		t.Fatal("empty tab id")
	}

	w = doJSON(t, s, http.MethodPatch, "/api/tabs/"+id, `{"title":"Renamed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d", w.Code)
	}
	found := false
	for _, tab := range reg.Tabs() {
		if tab.ID == id && tab.Title == "Renamed" {
			found = true
		}
	}
	if !found {
		t.Error("title not updated through API")
	}

	w = doJSON(t, s, http.MethodGet, "/api/tabs", "")
	if !strings.Contains(w.Body.String(), `"Renamed"`) {
		t.Errorf("list missing tab: %s", w.Body.String())
	}

	w = doJSON(t, s, http.MethodDelete, "/api/tabs/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if len(reg.Tabs()) != 0 {
		t.Error("tab not closed")
	}
}

func TestSessionsRequireDatabase(t *testing.T) {
	s, _, _ := newTestServer()
	if w := doJSON(t, s, http.MethodGet, "/api/sessions", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("sessions status = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/sessions/s1/output", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("output status = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/preferences", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("preferences status = %d", w.Code)
	}
}

func TestOpenSession_RoutesThroughBus(t *testing.T) {
	s, _, reg := newTestServer()

	w := doJSON(t, s, http.MethodPost, "/api/sessions/open", `{"sessionId":"sess-9","summary":"Fix auth"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.FindTabBySessionID("sess-9"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for routed tab")
}

func TestOpenSession_MissingID(t *testing.T) {
	s, _, _ := newTestServer()
	if w := doJSON(t, s, http.MethodPost, "/api/sessions/open", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRunnerUnavailable(t *testing.T) {
	s, _, _ := newTestServer()
	if w := doJSON(t, s, http.MethodPost, "/api/claude/run", `{"sessionId":"s","prompt":"p"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStreamWebsocketBroadcast(t *testing.T) {
	s, b, _ := newTestServer()
	defer s.Close()

	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/claude-stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 等 hub 登记完连接再广播
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Hub().ClientCount() == 0 {
		t.Fatal("client never registered")
	}

	line := `{"kind":"output","content":"hello"}`
	b.PublishEvent(bus.StreamTopic("sess-1"), "test", bus.StreamLinePayload{SessionID: "sess-1", Raw: line})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type = %d", msgType)
	}
	if string(data) != line {
		t.Errorf("frame = %q, want %q", data, line)
	}
}

func TestHubCloseDropsClients(t *testing.T) {
	hub := NewStreamHub()
	hub.Close()
	if hub.ClientCount() != 0 {
		t.Error("count after close")
	}
	// Broadcast 在无客户端/已关闭时不应 panic
	hub.Broadcast("x")
}

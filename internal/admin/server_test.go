package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/store"
	"github.com/attachebot/attache/internal/tools"
)

type fakeTransports struct {
	disconnected bool
}

func (f *fakeTransports) WhatsAppStatus() string   { return "connected" }
func (f *fakeTransports) TelegramConnected() bool  { return true }
func (f *fakeTransports) Disconnect(context.Context) error {
	f.disconnected = true
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeTransports) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.DefaultConfig()
	ft := &fakeTransports{}
	srv := New(cfg, s, func() tools.SystemStatus {
		return tools.SystemStatus{QueueDepth: 2, WorkerCount: 4}
	}, ft)
	return srv, s, ft
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	t1 := out["transport1"].(map[string]any)
	t2 := out["transport2"].(map[string]any)
	if t1["status"] != "connected" || t2["connected"] != true {
		t.Fatalf("transports: %v", out)
	}
}

func TestDisconnectEndpoint(t *testing.T) {
	srv, _, ft := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/disconnect", "")
	if rec.Code != http.StatusOK || !ft.disconnected {
		t.Fatalf("disconnect: code=%d called=%v", rec.Code, ft.disconnected)
	}
}

func TestContactsAndMessagesEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)

	if _, err := s.UpsertContact("123", "Alice", "whatsapp"); err != nil {
		t.Fatal(err)
	}
	_ = s.AppendMessage("123", store.RoleUser, "hello", "text", "whatsapp")

	rec := do(t, srv, http.MethodGet, "/api/contacts", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Alice") {
		t.Fatalf("contacts: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/messages?address=123", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("messages: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/messages", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing address should 400: %d", rec.Code)
	}
}

func TestProfilePutIsIdempotentUpsert(t *testing.T) {
	srv, s, _ := newTestServer(t)

	body := `{"name": "Jarvis", "response_length": "short"}`
	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodPut, "/api/profile/ai", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("put %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	p, err := s.GetAIProfile()
	if err != nil || p.Name != "Jarvis" || p.ResponseLength != "short" {
		t.Fatalf("profile: %+v err=%v", p, err)
	}
}

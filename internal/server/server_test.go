package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vincentbai/formshot-agent/internal/agent"
	"github.com/vincentbai/formshot-agent/internal/database"
	"github.com/vincentbai/formshot-agent/internal/htmldoc"
	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

const formHTML = `<form>
<input id="name" value="Ada">
<input type="checkbox" name="news" checked>
<select id="lang"><option>go</option><option selected>c</option></select>
</form>`

func setupTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "formshot-server-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test database: %v", err)
	}

	server := NewServer(db, agent.New(nil, nil), nil, nil, "127.0.0.1:0") // Port 0 for testing
	server.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return server, cleanup
}

func writeForm(t *testing.T, markup string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "form.html")
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		t.Fatalf("Failed to write form: %v", err)
	}
	return path
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(jsonData)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	if server == nil {
		t.Fatal("Expected non-nil server")
	}
	if server.db == nil {
		t.Fatal("Expected non-nil database")
	}
	if server.address != "127.0.0.1:0" {
		t.Errorf("Expected address 127.0.0.1:0, got %s", server.address)
	}
	if server.logger == nil {
		t.Error("Expected a default logger")
	}
}

func TestHandleHealthz(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	server.handleHealthz(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body := w.Body.String()
	if body != "ok" {
		t.Errorf("Expected body 'ok', got %s", body)
	}
}

func TestCreateAndListShots(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()

	data, _ := snapshot.Unmarshal([]byte(`[{"id":"q","value":"x"}]`))
	w := do(t, handler, http.MethodPost, "/shots", models.Shot{URL: "https://example.com/a", Data: data})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created["time"] != 1_700_000_000_000 {
		t.Errorf("Expected server-assigned time, got %d", created["time"])
	}

	// Same origin, other path.
	w = do(t, handler, http.MethodPost, "/shots", models.Shot{Time: 1_699_999_880_000, URL: "https://example.com/b", Data: data})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	// Other origin.
	w = do(t, handler, http.MethodPost, "/shots", models.Shot{Time: 5, URL: "https://other.example/a", Data: data})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = do(t, handler, http.MethodGet, "/shots?url=https://example.com/zzz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var shots []models.ShotSummary
	if err := json.Unmarshal(w.Body.Bytes(), &shots); err != nil {
		t.Fatalf("Failed to decode shots: %v", err)
	}
	if len(shots) != 2 {
		t.Fatalf("Expected 2 shots for the origin, got %d", len(shots))
	}
	if shots[0].Time != 1_700_000_000_000 {
		t.Errorf("Expected newest first, got %d", shots[0].Time)
	}
	if shots[0].Age != "0 seconds ago" {
		t.Errorf("Expected age '0 seconds ago', got %q", shots[0].Age)
	}
	if shots[1].Age != "2 minutes ago" {
		t.Errorf("Expected age '2 minutes ago', got %q", shots[1].Age)
	}
}

func TestListShotsRequiresURL(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	w := do(t, server.setupRoutes(), http.MethodGet, "/shots", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestCreateShotInvalid(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/shots", strings.NewReader(`{"url": [invalid json]}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid JSON, got %d", w.Code)
	}

	w = do(t, handler, http.MethodPost, "/shots", models.Shot{URL: "", Data: snapshot.Snapshot{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty URL, got %d", w.Code)
	}
}

func TestGetAndDeleteShot(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()

	data, _ := snapshot.Unmarshal([]byte(`[{"name":"n","value":""},{}]`))
	if err := server.db.InsertShot(models.Shot{Time: 42, URL: "https://example.com", Data: data}); err != nil {
		t.Fatalf("Failed to insert shot: %v", err)
	}

	w := do(t, handler, http.MethodGet, "/shots/42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var shot struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &shot); err != nil {
		t.Fatalf("Failed to decode shot: %v", err)
	}
	if string(shot.Data) != `[{"name":"n","value":""},{}]` {
		t.Errorf("Expected absent and empty values preserved, got %s", shot.Data)
	}

	if w := do(t, handler, http.MethodGet, "/shots/nope", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad time, got %d", w.Code)
	}
	if w := do(t, handler, http.MethodDelete, "/shots/42", nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w := do(t, handler, http.MethodGet, "/shots/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
	if w := do(t, handler, http.MethodDelete, "/shots/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for second delete, got %d", w.Code)
	}
}

func TestAttachFileTarget(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()
	path := writeForm(t, formHTML)

	w := do(t, handler, http.MethodPost, "/targets", attachRequest{ID: "f1", File: path})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var target models.Target
	if err := json.Unmarshal(w.Body.Bytes(), &target); err != nil {
		t.Fatalf("Failed to decode target: %v", err)
	}
	if target.ID != "f1" || target.Kind != "file" || !strings.HasPrefix(target.URL, "file://") {
		t.Errorf("Unexpected target %+v", target)
	}

	// Attaching the same id again keeps the first binding.
	w = do(t, handler, http.MethodPost, "/targets", attachRequest{ID: "f1", File: path})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for repeated attach, got %d", w.Code)
	}

	w = do(t, handler, http.MethodGet, "/targets", nil)
	var targets []models.Target
	if err := json.Unmarshal(w.Body.Bytes(), &targets); err != nil {
		t.Fatalf("Failed to decode targets: %v", err)
	}
	if len(targets) != 1 {
		t.Errorf("Expected 1 target, got %d", len(targets))
	}

	if w := do(t, handler, http.MethodDelete, "/targets/f1", nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w := do(t, handler, http.MethodDelete, "/targets/f1", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestAttachTargetErrors(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()

	tests := []struct {
		name   string
		body   attachRequest
		status int
	}{
		{"neither", attachRequest{}, http.StatusBadRequest},
		{"both", attachRequest{URL: "https://example.com", File: "x.html"}, http.StatusBadRequest},
		{"missing file", attachRequest{File: filepath.Join(t.TempDir(), "nope.html")}, http.StatusBadRequest},
		{"no browser", attachRequest{URL: "https://example.com"}, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, handler, http.MethodPost, "/targets", tt.body); w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestAttachPageTarget(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	var opened string
	server.opener = func(_ context.Context, pageURL string) (snapshot.Document, error) {
		opened = pageURL
		if strings.Contains(pageURL, "down") {
			return nil, errors.New("navigation failed")
		}
		return htmldoc.ParseString(formHTML)
	}
	handler := server.setupRoutes()

	w := do(t, handler, http.MethodPost, "/targets", attachRequest{URL: "https://example.com/form"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	if opened != "https://example.com/form" {
		t.Errorf("Expected opener called with the URL, got %q", opened)
	}
	var target models.Target
	json.Unmarshal(w.Body.Bytes(), &target)
	if target.ID == "" || target.Kind != "page" {
		t.Errorf("Unexpected target %+v", target)
	}

	if w := do(t, handler, http.MethodPost, "/targets", attachRequest{URL: "https://down.example"}); w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestHandleMessage(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()
	server.agent.Attach(models.Target{ID: "f1", Kind: "file"}, htmldoc.NewFile(writeForm(t, formHTML)))

	w := do(t, handler, http.MethodPost, "/targets/f1/messages", models.Message{Meta: models.MetaGet})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var reply models.Message
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	if reply.Meta != models.MetaOK || reply.Value == nil {
		t.Fatalf("Expected ok with a value, got %+v", reply)
	}
	want := `[{"id":"name","value":"Ada"},{"name":"news","value":"t"},{"id":"lang","value":"[\"c\"]"}]`
	if *reply.Value != want {
		t.Errorf("Expected %s, got %s", want, *reply.Value)
	}

	w = do(t, handler, http.MethodPost, "/targets/f1/messages", models.Message{Meta: "ping"})
	json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Meta != models.MetaBadMeta {
		t.Errorf("Expected bad-meta, got %s", reply.Meta)
	}

	w = do(t, handler, http.MethodPost, "/targets/none/messages", models.Message{Meta: models.MetaGet})
	json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Meta != models.MetaNoTarget {
		t.Errorf("Expected no-target, got %s", reply.Meta)
	}
}

func TestCaptureAndRestoreTarget(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()
	path := writeForm(t, formHTML)
	server.agent.Attach(models.Target{ID: "f1", Kind: "file"}, htmldoc.NewFile(path))

	w := do(t, handler, http.MethodPost, "/targets/f1/shots", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var summary models.ShotSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary.FieldCount != 3 || summary.Origin != "file://" || summary.Signature == "" {
		t.Errorf("Unexpected summary %+v", summary)
	}

	// Edit the form, then put the captured values back.
	edited := strings.NewReplacer(`value="Ada"`, `value="Grace"`, ` checked`, ``).Replace(formHTML)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("Failed to edit form: %v", err)
	}

	w = do(t, handler, http.MethodPost, fmt.Sprintf("/targets/f1/restore/%d", summary.Time), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var res restoreResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if res.Result == nil || res.Positional != 3 || res.Mismatch {
		t.Errorf("Unexpected result %+v", res.Result)
	}

	got, err := snapshot.Capture(context.Background(), htmldoc.NewFile(path))
	if err != nil {
		t.Fatalf("Failed to capture restored form: %v", err)
	}
	if *got[0].Value != "Ada" || *got[1].Value != "t" {
		t.Errorf("Expected restored values, got %v %v", got[0], got[1])
	}
}

func TestRestoreTargetMismatch(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()
	path := writeForm(t, `<input id="a" value="live">`)
	server.agent.Attach(models.Target{ID: "f1", Kind: "file"}, htmldoc.NewFile(path))

	data, _ := snapshot.Unmarshal([]byte(`[{"id":"a","value":"saved"},{"id":"b","value":"extra"}]`))
	if err := server.db.InsertShot(models.Shot{Time: 7, URL: "https://example.com", Data: data}); err != nil {
		t.Fatalf("Failed to insert shot: %v", err)
	}

	w := do(t, handler, http.MethodPost, "/targets/f1/restore/7", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `value="live"`) {
		t.Errorf("Declined restore must not touch the form, got %s", raw)
	}

	w = do(t, handler, http.MethodPost, "/targets/f1/restore/7?confirm=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	raw, _ = os.ReadFile(path)
	if !strings.Contains(string(raw), `value="saved"`) {
		t.Errorf("Expected confirmed restore to apply, got %s", raw)
	}
}

func TestRestoreTargetNotFound(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()
	handler := server.setupRoutes()

	if w := do(t, handler, http.MethodPost, "/targets/f1/restore/7", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing shot, got %d", w.Code)
	}

	if err := server.db.InsertShot(models.Shot{Time: 7, URL: "https://example.com", Data: snapshot.Snapshot{}}); err != nil {
		t.Fatalf("Failed to insert shot: %v", err)
	}
	if w := do(t, handler, http.MethodPost, "/targets/f1/restore/7", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing target, got %d", w.Code)
	}
	if w := do(t, handler, http.MethodPost, "/targets/f1/shots", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for capture without target, got %d", w.Code)
	}
}

func TestStampIsMonotonic(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	first := server.stamp()
	second := server.stamp()
	if second <= first {
		t.Errorf("Expected increasing stamps, got %d then %d", first, second)
	}
}

func TestSetupRoutes(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	mux := server.setupRoutes()
	if mux == nil {
		t.Fatal("Expected non-nil handler")
	}

	tests := []struct {
		path   string
		method string
		status int
	}{
		{"/healthz", http.MethodGet, http.StatusOK},
		{"/healthz", http.MethodPost, http.StatusMethodNotAllowed},
		{"/targets", http.MethodGet, http.StatusOK},
		{"/targets/x/shots", http.MethodGet, http.StatusMethodNotAllowed},
		{"/nope", http.MethodGet, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("Expected status %d for %s %s, got %d", tt.status, tt.method, tt.path, w.Code)
			}
		})
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
}

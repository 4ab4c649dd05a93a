package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/logging"
	"github.com/peterje/rootrepl/internal/models"
	"github.com/peterje/rootrepl/internal/prompt"
	"github.com/peterje/rootrepl/internal/repl"
)

var testMarker = prompt.MustCompile(prompt.DefaultPattern)

// echoBackend answers every line with replies[line] and a new prompt.
type echoBackend struct {
	mu       sync.Mutex
	id       backend.ID
	displays map[string]*strings.Builder
	counts   map[string]int
	replies  map[string]string
}

func newEchoBackend(id backend.ID) *echoBackend {
	return &echoBackend{
		id:       id,
		displays: make(map[string]*strings.Builder),
		counts:   make(map[string]int),
		replies:  make(map[string]string),
	}
}

func (b *echoBackend) prompt(name string) {
	b.displays[name].WriteString("root [" + string(rune('0'+b.counts[name])) + "] ")
	b.counts[name]++
}

func (b *echoBackend) ID() backend.ID { return b.id }

func (b *echoBackend) Start(name string, _ backend.StartOptions) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.displays[name]; ok {
		return 0, backend.ErrSessionExists
	}
	b.displays[name] = &strings.Builder{}
	b.prompt(name)
	return 321, nil
}

func (b *echoBackend) Send(name, line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.displays[name]
	if !ok {
		return backend.ErrNoSession
	}
	d.WriteString(line + "\n" + b.replies[line])
	b.prompt(name)
	return nil
}

func (b *echoBackend) Display(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.displays[name]
	if !ok {
		return "", backend.ErrNoSession
	}
	return d.String(), nil
}

func (b *echoBackend) PreviousPrompt(name string, from int) (int, error) { return 0, prompt.ErrNoPrompt }
func (b *echoBackend) NextPrompt(name string, from int) (int, error)     { return 0, prompt.ErrNoPrompt }

func (b *echoBackend) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.displays[name]
	return ok
}

func (b *echoBackend) Stop(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.displays[name]; !ok {
		return backend.ErrNoSession
	}
	delete(b.displays, name)
	return nil
}

func (b *echoBackend) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for n := range b.displays {
		names = append(names, n)
	}
	return names, nil
}

type fakeHistory struct {
	gotSession string
	gotLimit   int
}

func (f *fakeHistory) List(_ context.Context, session string, limit int) ([]models.Evaluation, error) {
	f.gotSession, f.gotLimit = session, limit
	return []models.Evaluation{{ID: "e1", Session: session, Command: "1+1", Output: "(int) 2\n"}}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *echoBackend, *fakeHistory) {
	t.Helper()
	b := newEchoBackend(backend.PTY)
	opts := repl.Options{
		Capture: repl.CaptureOptions{Mode: repl.CapturePrompt, Poll: time.Millisecond, Timeout: time.Second},
	}
	r := repl.New(b, testMarker, opts, logging.Discard())
	hist := &fakeHistory{}
	h := NewSessionsHandler([]*repl.REPL{r}, backend.PTY, hist, logging.Discard())

	router := chi.NewRouter()
	router.Route("/api/sessions", h.Routes)
	return router, b, hist
}

func do(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(buf))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateListDelete(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(router, http.MethodPost, "/api/sessions", map[string]string{"name": "main"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body)
	}
	var created models.Session
	json.Unmarshal(rr.Body.Bytes(), &created)
	if created.Name != "main" || created.Backend != "pty" || created.PID == nil || *created.PID != 321 {
		t.Errorf("created = %+v", created)
	}

	rr = do(router, http.MethodPost, "/api/sessions", map[string]string{"name": "main"})
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d", rr.Code)
	}

	rr = do(router, http.MethodGet, "/api/sessions", nil)
	var list []models.Session
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Name != "main" {
		t.Errorf("list = %+v", list)
	}

	rr = do(router, http.MethodDelete, "/api/sessions/main", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	rr = do(router, http.MethodDelete, "/api/sessions/main", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rr.Code)
	}
}

func TestCreate_DefaultName(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rr := do(router, http.MethodPost, "/api/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var created models.Session
	json.Unmarshal(rr.Body.Bytes(), &created)
	if len(created.Name) != 8 {
		t.Errorf("generated name = %q", created.Name)
	}
}

func TestCreate_InvalidName(t *testing.T) {
	router, b, _ := newTestRouter(t)
	for _, name := range []string{"a.b", "host:0", "../up"} {
		rr := do(router, http.MethodPost, "/api/sessions", map[string]string{"name": name})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("name %q: status = %d, body = %s", name, rr.Code, rr.Body)
		}
	}
	if names, _ := b.List(); len(names) != 0 {
		t.Errorf("sessions started: %v", names)
	}
}

func TestCreate_BadBackend(t *testing.T) {
	router, _, _ := newTestRouter(t)
	for _, id := range []string{"screen", "tmux"} {
		rr := do(router, http.MethodPost, "/api/sessions", map[string]string{"backend": id})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("backend %q: status = %d", id, rr.Code)
		}
	}
}

func TestEvalAndOutput(t *testing.T) {
	router, b, _ := newTestRouter(t)
	b.replies["int x = 1; x+2"] = "(int) 3\n"
	do(router, http.MethodPost, "/api/sessions", map[string]string{"name": "s"})

	rr := do(router, http.MethodGet, "/api/sessions/s/output", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("output before eval status = %d", rr.Code)
	}

	rr = do(router, http.MethodPost, "/api/sessions/s/eval", map[string]string{"code": "int x = 1;\nx+2\n"})
	if rr.Code != http.StatusOK {
		t.Fatalf("eval status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["output"] != "(int) 3\n" {
		t.Errorf("eval output = %q", resp["output"])
	}

	rr = do(router, http.MethodGet, "/api/sessions/s/output", nil)
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if rr.Code != http.StatusOK || resp["output"] != "(int) 3\n" {
		t.Errorf("output = %d %q", rr.Code, resp["output"])
	}
}

func TestSend(t *testing.T) {
	router, b, _ := newTestRouter(t)
	do(router, http.MethodPost, "/api/sessions", map[string]string{"name": "s"})

	rr := do(router, http.MethodPost, "/api/sessions/s/send", map[string]string{"code": ".ls"})
	if rr.Code != http.StatusAccepted {
		t.Errorf("send status = %d", rr.Code)
	}
	d, _ := b.Display("s")
	if !strings.Contains(d, ".ls\n") {
		t.Errorf("display = %q", d)
	}

	rr = do(router, http.MethodPost, "/api/sessions/missing/send", map[string]string{"code": "1"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("send to missing status = %d", rr.Code)
	}
}

func TestSend_InvalidJSON(t *testing.T) {
	router, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s/send", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestHistory(t *testing.T) {
	router, _, hist := newTestRouter(t)

	rr := do(router, http.MethodGet, "/api/sessions/old/history?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if hist.gotSession != "old" || hist.gotLimit != 5 {
		t.Errorf("List called with %q, %d", hist.gotSession, hist.gotLimit)
	}

	rr = do(router, http.MethodGet, "/api/sessions/old/history?limit=x", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{backend.ErrNoSession, http.StatusNotFound},
		{backend.ErrSessionExists, http.StatusConflict},
		{backend.ErrUnknownBackend, http.StatusBadRequest},
		{fmt.Errorf("%w \"a.b\"", repl.ErrInvalidName), http.StatusBadRequest},
		{prompt.ErrNoOutput, http.StatusUnprocessableEntity},
		{repl.ErrTimeout, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/peterje/rootrepl/internal/prompt"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

var testMarker = prompt.MustCompile(prompt.DefaultPattern)

// fakeHandle is a SessionHandle whose "terminal" echoes writes into its
// replay buffer. The whole buffer is retained, so offsets are indexes.
type fakeHandle struct {
	mu     sync.Mutex
	replay []byte
	err    error
	done   chan struct{}
}

func (h *fakeHandle) Output(from int64) ([]byte, int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, 0, h.err
	}
	end := int64(len(h.replay))
	from = min(max(from, 0), end)
	return append([]byte(nil), h.replay[from:]...), end, nil
}

func (h *fakeHandle) Subscribe() (<-chan []byte, int64, func()) {
	return make(chan []byte), 0, func() {}
}

func (h *fakeHandle) Write(data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay = append(h.replay, data...)
	return len(data), nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

type fakeManager struct {
	sessions map[string]*fakeHandle
	opts     map[string]ptymgr.StartOptions
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		sessions: make(map[string]*fakeHandle),
		opts:     make(map[string]ptymgr.StartOptions),
	}
}

func (m *fakeManager) Start(id string, opts ptymgr.StartOptions) (ptymgr.SessionHandle, int, error) {
	if _, ok := m.sessions[id]; ok {
		return nil, 0, ptymgr.ErrSessionExists
	}
	h := &fakeHandle{done: make(chan struct{})}
	m.sessions[id] = h
	m.opts[id] = opts
	return h, 4242, nil
}

func (m *fakeManager) Stop(id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *fakeManager) Get(id string) ptymgr.SessionHandle {
	if h, ok := m.sessions[id]; ok {
		return h
	}
	return nil
}

func (m *fakeManager) List() ([]string, error) {
	var ids []string
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *fakeManager) Resize(string, uint16, uint16) error { return nil }
func (m *fakeManager) StopAll()                            {}

func TestParseID(t *testing.T) {
	for _, ok := range []string{"pty", "tmux"} {
		if _, err := ParseID(ok); err != nil {
			t.Errorf("ParseID(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "vterm", "PTY"} {
		if _, err := ParseID(bad); !errors.Is(err, ErrUnknownBackend) {
			t.Errorf("ParseID(%q) error = %v, want ErrUnknownBackend", bad, err)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	ptyB := NewPTYBackend(newFakeManager(), testMarker)
	tmuxB := NewTmuxBackend(newFakeRunner(), "rootrepl-", t.TempDir(), testMarker)
	reg := NewRegistry(ptyB, tmuxB)

	first, err := reg.Resolve("pty")
	if err != nil {
		t.Fatalf("Resolve(pty): %v", err)
	}
	second, _ := reg.Resolve("pty")
	if first != second || first != Backend(ptyB) {
		t.Error("Resolve(pty) is not stable")
	}
	if b, err := reg.Resolve("tmux"); err != nil || b.ID() != Tmux {
		t.Errorf("Resolve(tmux) = %v, %v", b, err)
	}
	if _, err := reg.Resolve("comint"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Resolve(comint) error = %v", err)
	}

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != PTY || ids[1] != Tmux {
		t.Errorf("IDs = %v", ids)
	}
}

func TestRegistry_Unconfigured(t *testing.T) {
	reg := NewRegistry(NewPTYBackend(newFakeManager(), testMarker))
	if _, err := reg.Resolve("tmux"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Resolve of unregistered backend = %v, want ErrUnknownBackend", err)
	}
}

func TestPTYBackend(t *testing.T) {
	mgr := newFakeManager()
	b := NewPTYBackend(mgr, testMarker)

	pid, err := b.Start("default", StartOptions{Executable: "root", Args: []string{"-l"}, WorkDir: "/tmp"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d", pid)
	}
	if got := mgr.opts["default"]; got.Executable != "root" || got.WorkDir != "/tmp" || len(got.Args) != 1 {
		t.Errorf("options not forwarded: %+v", got)
	}
	if _, err := b.Start("default", StartOptions{Executable: "root"}); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate Start error = %v", err)
	}

	if err := b.Send("default", "1+1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, _, _ := mgr.sessions["default"].Output(0); string(got) != "1+1\n" {
		t.Errorf("written = %q", got)
	}

	if err := b.Send("missing", "1+1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Send(missing) error = %v", err)
	}
	if _, err := b.Display("missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Display(missing) error = %v", err)
	}
	if err := b.Stop("missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Stop(missing) error = %v", err)
	}

	if err := b.Stop("default"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if b.Has("default") {
		t.Error("session still present after Stop")
	}
}

func TestPTYBackend_DisplayAndPrompts(t *testing.T) {
	mgr := newFakeManager()
	b := NewPTYBackend(mgr, testMarker)
	b.Start("s", StartOptions{Executable: "root"})
	mgr.sessions["s"].replay = []byte("\x1b[1mroot [0] \x1b[0m1+1\r\n(int) 2\r\nroot [1] ")

	display, err := b.Display("s")
	if err != nil {
		t.Fatal(err)
	}
	if display != "root [0] 1+1\n(int) 2\nroot [1] " {
		t.Errorf("display = %q", display)
	}

	prev, err := b.PreviousPrompt("s", len(display))
	if err != nil || prev != len("root [0] ") {
		t.Errorf("PreviousPrompt = %d, %v", prev, err)
	}
	next, err := b.NextPrompt("s", 0)
	if err != nil || next != len("root [0] ") {
		t.Errorf("NextPrompt = %d, %v", next, err)
	}
	if _, err := b.NextPrompt("s", len(display)); !errors.Is(err, prompt.ErrNoPrompt) {
		t.Errorf("NextPrompt(end) error = %v", err)
	}
}

// fakeRunner is an in-memory tmux.Runner. Pane output is not piped
// anywhere; tests write the log file themselves.
type fakeRunner struct {
	panes    map[string]string
	commands map[string]string
	pipes    map[string]string
	sent     []string
	listErr  error
	pipeErr  error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		panes:    make(map[string]string),
		commands: make(map[string]string),
		pipes:    make(map[string]string),
	}
}

func (r *fakeRunner) PipeToFile(name, path string) error {
	if r.pipeErr != nil {
		return r.pipeErr
	}
	r.pipes[name] = path
	return nil
}

func (r *fakeRunner) NewSession(name, command, workDir string, env []string) error {
	r.panes[name] = ""
	r.commands[name] = command
	return nil
}

func (r *fakeRunner) SendLine(name, text string) error {
	if _, ok := r.panes[name]; !ok {
		return fmt.Errorf("can't find session: %s", name)
	}
	r.sent = append(r.sent, name+":"+text)
	return nil
}

func (r *fakeRunner) CaptureHistory(name string) (string, error) {
	return r.panes[name], nil
}

func (r *fakeRunner) ListSessions() ([]string, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var names []string
	for n := range r.panes {
		names = append(names, n)
	}
	return names, nil
}

func (r *fakeRunner) KillSession(name string) error {
	delete(r.panes, name)
	return nil
}

func (r *fakeRunner) HasSession(name string) bool {
	_, ok := r.panes[name]
	return ok
}

func TestTmuxBackend(t *testing.T) {
	r := newFakeRunner()
	b := NewTmuxBackend(r, "rootrepl-", t.TempDir(), testMarker)

	if _, err := b.Start("ana", StartOptions{Executable: "root", Args: []string{"-l"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.commands["rootrepl-ana"] != "root -l" {
		t.Errorf("command = %q", r.commands["rootrepl-ana"])
	}
	if _, err := b.Start("ana", StartOptions{Executable: "root"}); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate Start error = %v", err)
	}
	if _, err := b.Start("x", StartOptions{}); err == nil {
		t.Error("Start without executable succeeded")
	}

	if err := b.Send("ana", "gROOT->GetVersion()"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.Join(r.sent, ",") != "rootrepl-ana:gROOT->GetVersion()" {
		t.Errorf("sent = %v", r.sent)
	}
	if err := b.Send("bob", "1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Send(bob) error = %v", err)
	}

	r.panes["rootrepl-ana"] = "root [0] 1\r\n(int) 1\r\nroot [1] "
	display, err := b.Display("ana")
	if err != nil {
		t.Fatal(err)
	}
	if display != "root [0] 1\n(int) 1\nroot [1] " {
		t.Errorf("display = %q", display)
	}
	if pos, err := b.PreviousPrompt("ana", len(display)); err != nil || pos != 9 {
		t.Errorf("PreviousPrompt = %d, %v", pos, err)
	}

	r.panes["unrelated"] = ""
	names, err := b.List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "ana" {
		t.Errorf("List = %v", names)
	}

	if err := b.Stop("ana"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Stop("ana"); !errors.Is(err, ErrNoSession) {
		t.Errorf("second Stop error = %v", err)
	}
}

func TestPTYBackend_Tail(t *testing.T) {
	mgr := newFakeManager()
	b := NewPTYBackend(mgr, testMarker)
	b.Start("s", StartOptions{Executable: "root"})
	mgr.sessions["s"].replay = []byte("root [0] ")

	off, err := b.Offset("s")
	if err != nil || off != 9 {
		t.Fatalf("Offset = %d, %v", off, err)
	}
	mgr.sessions["s"].Write([]byte("1+1\r\n(int) 2\r\nroot [1] "))
	since, err := b.DisplaySince("s", off)
	if err != nil {
		t.Fatal(err)
	}
	if since != "1+1\n(int) 2\nroot [1] " {
		t.Errorf("DisplaySince = %q", since)
	}
	if _, err := b.Offset("missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Offset(missing) error = %v", err)
	}
}

func TestPTYBackend_DisplaySurfacesReadErrors(t *testing.T) {
	mgr := newFakeManager()
	b := NewPTYBackend(mgr, testMarker)
	b.Start("s", StartOptions{Executable: "root"})
	broken := errors.New("send request: broken pipe")
	mgr.sessions["s"].err = broken

	if _, err := b.Display("s"); !errors.Is(err, broken) {
		t.Errorf("Display error = %v, want the transport error", err)
	}
	if _, err := b.PreviousPrompt("s", 0); !errors.Is(err, broken) {
		t.Errorf("PreviousPrompt error = %v, want the transport error", err)
	}
	if _, err := b.Offset("s"); !errors.Is(err, broken) {
		t.Errorf("Offset error = %v, want the transport error", err)
	}
}

func TestTmuxBackend_Tail(t *testing.T) {
	r := newFakeRunner()
	dir := t.TempDir()
	b := NewTmuxBackend(r, "rootrepl-", dir, testMarker)

	if _, err := b.Start("ana", StartOptions{Executable: "root"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	log := r.pipes["rootrepl-ana"]
	if log != filepath.Join(dir, "rootrepl-ana.log") {
		t.Fatalf("pane piped to %q", log)
	}

	// No output yet: the log does not exist.
	if _, err := b.Offset("ana"); !errors.Is(err, ErrNoStream) {
		t.Errorf("Offset before output error = %v, want ErrNoStream", err)
	}

	appendLog(t, log, "root [0] ")
	off, err := b.Offset("ana")
	if err != nil || off != 9 {
		t.Fatalf("Offset = %d, %v", off, err)
	}
	appendLog(t, log, "1\r\n(int) 1\r\nroot [1] ")
	since, err := b.DisplaySince("ana", off)
	if err != nil {
		t.Fatal(err)
	}
	if since != "1\n(int) 1\nroot [1] " {
		t.Errorf("DisplaySince = %q", since)
	}
	if since, _ := b.DisplaySince("ana", 1<<40); since != "" {
		t.Errorf("DisplaySince past end = %q", since)
	}

	if err := b.Stop("ana"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(log); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("log survived Stop: %v", err)
	}
}

func TestTmuxBackend_StartTruncatesOldLog(t *testing.T) {
	r := newFakeRunner()
	dir := t.TempDir()
	b := NewTmuxBackend(r, "rootrepl-", dir, testMarker)
	stale := filepath.Join(dir, "rootrepl-ana.log")
	appendLog(t, stale, "root [0] .q\n")

	if _, err := b.Start("ana", StartOptions{Executable: "root"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old log kept: %v", err)
	}
}

func TestTmuxBackend_PipeFailureKillsSession(t *testing.T) {
	r := newFakeRunner()
	r.pipeErr = errors.New("tmux pipe-pane: no server")
	b := NewTmuxBackend(r, "rootrepl-", t.TempDir(), testMarker)

	if _, err := b.Start("ana", StartOptions{Executable: "root"}); !errors.Is(err, r.pipeErr) {
		t.Fatalf("Start error = %v", err)
	}
	if b.Has("ana") {
		t.Error("session left running without an output log")
	}
}

func appendLog(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatal(err)
	}
}

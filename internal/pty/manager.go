// Package pty runs REPL processes on pseudo-terminals and keeps a bounded
// transcript of their output for prompt scraping and reattachment.
package pty

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// ReplayBufSize bounds the retained transcript per session.
const ReplayBufSize = 256 * 1024

// DefaultSize is the window size new sessions start with.
var DefaultSize = pty.Winsize{Rows: 40, Cols: 120}

// Session is one REPL process attached to a PTY. It is also used by the
// shepherd daemon, which owns sessions on behalf of short-lived CLI calls.
type Session struct {
	ID  string
	Cmd *exec.Cmd
	PTY *os.File

	done chan struct{}

	mu      sync.Mutex
	stopped bool

	// outMu guards the transcript, the byte counter and the subscriber set
	// together, so a subscriber's offset and the transcript agree.
	outMu       sync.Mutex
	replayBuf   []byte
	total       int64
	subscribers map[chan []byte]struct{}
	outputEnded bool
}

// Command builds the exec.Cmd for opts.
func Command(opts StartOptions) *exec.Cmd {
	cmd := exec.Command(opts.Executable, opts.Args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	return cmd
}

// StartSession launches opts on a new PTY and begins pumping its output.
// onExit, if non-nil, runs after the process has exited and Done is closed.
func StartSession(id string, opts StartOptions, onExit func(*Session)) (*Session, error) {
	if opts.Executable == "" {
		return nil, fmt.Errorf("start %s: executable is required", id)
	}
	cmd := Command(opts)

	ws := DefaultSize
	ptmx, err := pty.StartWithSize(cmd, &ws)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	sess := &Session{
		ID:          id,
		Cmd:         cmd,
		PTY:         ptmx,
		done:        make(chan struct{}),
		subscribers: make(map[chan []byte]struct{}),
	}
	go sess.pump()
	go func() {
		cmd.Wait()
		sess.mu.Lock()
		sess.stopped = true
		sess.mu.Unlock()
		close(sess.done)
		if onExit != nil {
			onExit(sess)
		}
	}()
	return sess, nil
}

// pump reads PTY output into the replay buffer and fans it out.
func (s *Session) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.PTY.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.record(data)
		}
		if err != nil {
			break
		}
	}
	s.outMu.Lock()
	s.outputEnded = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.outMu.Unlock()
}

// Write sends data to the PTY.
func (s *Session) Write(data []byte) (int, error) {
	return s.PTY.Write(data)
}

// Done returns a channel that is closed when the session process exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pid returns the process id, or 0 if the process never started.
func (s *Session) Pid() int {
	if s.Cmd.Process == nil {
		return 0
	}
	return s.Cmd.Process.Pid
}

// Terminate signals the process and closes the PTY unless it already exited.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.Cmd.Process != nil {
		s.Cmd.Process.Signal(syscall.SIGTERM)
	}
	s.PTY.Close()
}

// Resize sets the PTY window size.
func (s *Session) Resize(rows, cols uint16) error {
	return pty.Setsize(s.PTY, &pty.Winsize{Rows: rows, Cols: cols})
}

// record appends data to the transcript and fans it out.
func (s *Session) record(data []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.appendReplay(data)
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
			// Slow subscriber, drop data
		}
	}
}

// appendReplay must be called with outMu held.
func (s *Session) appendReplay(data []byte) {
	s.total += int64(len(data))
	s.replayBuf = append(s.replayBuf, data...)
	if len(s.replayBuf) > ReplayBufSize {
		s.replayBuf = s.replayBuf[len(s.replayBuf)-ReplayBufSize:]
	}
}

func (s *Session) Output(from int64) ([]byte, int64, error) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	start := s.total - int64(len(s.replayBuf))
	from = max(from, start)
	from = min(from, s.total)
	return bytes.Clone(s.replayBuf[from-start:]), s.total, nil
}

// Subscribe returns a channel of PTY output, the stream offset its first
// byte will have, and an unsubscribe function. The channel is closed on
// unsubscribe or when the session's output ends.
func (s *Session) Subscribe() (<-chan []byte, int64, func()) {
	ch := make(chan []byte, 256)
	s.outMu.Lock()
	offset := s.total
	if s.outputEnded {
		close(ch)
		s.outMu.Unlock()
		return ch, offset, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.outMu.Unlock()

	unsub := func() {
		s.outMu.Lock()
		defer s.outMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, offset, unsub
}

// Manager hosts sessions in the current process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Start(id string, opts StartOptions) (SessionHandle, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	sess, err := StartSession(id, opts, m.forget)
	if err != nil {
		return nil, 0, err
	}
	m.sessions[id] = sess
	return sess, sess.Pid(), nil
}

// forget drops an exited session, unless the id was reused since.
func (m *Manager) forget(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sess.ID] == sess {
		delete(m.sessions, sess.ID)
	}
}

func (m *Manager) Get(id string) SessionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess := m.sessions[id]
	if sess == nil {
		return nil
	}
	return sess
}

func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	sess.Terminate()
	return nil
}

func (m *Manager) Resize(id string, rows, cols uint16) error {
	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Resize(rows, cols)
}

func (m *Manager) StopAll() {
	ids, _ := m.List()
	for _, id := range ids {
		m.Stop(id)
	}
}

// List returns live session ids in sorted order.
func (m *Manager) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ SessionManager = (*Manager)(nil)

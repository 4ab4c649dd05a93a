// Package shepherd hosts PTY-backed REPL sessions in a long-lived daemon so
// that short CLI invocations (start, send, output) can share them. Clients
// talk to the daemon over a Unix socket using a small framed protocol.
package shepherd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/peterje/rootrepl/internal/logging"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

// ErrAlreadyRunning is returned by Run when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("shepherd already running")

// connWriter wraps a net.Conn with a mutex for safe concurrent writes.
type connWriter struct {
	conn net.Conn
	mu   sync.Mutex
}

func (cw *connWriter) writeControl(msg any) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return writeControl(cw.conn, msg)
}

func (cw *connWriter) writeDataFrame(frameType byte, sessionID string, data []byte) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return writeDataFrame(cw.conn, frameType, sessionID, data)
}

// Shepherd owns PTY sessions on behalf of its clients.
type Shepherd struct {
	log *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*ptymgr.Session

	// Connected clients that receive exit notifications
	clientMu sync.Mutex
	clients  map[*connWriter]struct{}
}

// New creates a Shepherd with no sessions.
func New(log *logging.Logger) *Shepherd {
	return &Shepherd{
		log:      log.With("component", "shepherd"),
		sessions: make(map[string]*ptymgr.Session),
		clients:  make(map[*connWriter]struct{}),
	}
}

// LockPath returns the lock file guarding socketPath.
func LockPath(socketPath string) string {
	return socketPath + ".lock"
}

// Run starts a daemon on socketPath and blocks until SIGINT/SIGTERM.
func Run(socketPath string, log *logging.Logger) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	lock := flock.New(LockPath(socketPath))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s held)", ErrAlreadyRunning, lock.Path())
	}
	defer lock.Unlock()

	// Holding the lock means any socket file left behind is stale.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(socketPath)

	s := New(log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		s.log.Info("shutting down", "signal", sig.String())
		listener.Close()
	}()

	s.log.Info("listening", "socket", socketPath, "pid", os.Getpid())
	err = s.Serve(listener)
	s.StopAll()
	return err
}

// Serve accepts client connections until the listener is closed.
func (s *Shepherd) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Shepherd) handleConn(conn net.Conn) {
	cw := &connWriter{conn: conn}

	s.clientMu.Lock()
	s.clients[cw] = struct{}{}
	s.clientMu.Unlock()

	defer func() {
		s.clientMu.Lock()
		delete(s.clients, cw)
		s.clientMu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		frameType, payload, err := readFrame(reader)
		if err != nil {
			return // connection closed
		}

		switch frameType {
		case frameControl:
			s.handleControl(cw, payload)
		case frameInput:
			s.handleInput(payload)
		}
	}
}

func (s *Shepherd) handleControl(cw *connWriter, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warn("bad control message", "error", err)
		return
	}

	switch req.Command {
	case cmdPing:
		cw.writeControl(Response{ID: req.ID, Event: evtPong})
	case cmdStart:
		s.handleStart(cw, req)
	case cmdStop:
		s.handleStop(cw, req)
	case cmdResize:
		s.handleResize(cw, req)
	case cmdReplay:
		s.handleReplay(cw, req)
	case cmdSubscribe:
		s.handleSubscribe(cw, req)
	case cmdList:
		cw.writeControl(Response{ID: req.ID, Event: evtList, Sessions: s.List()})
	case cmdStopAll:
		s.StopAll()
		cw.writeControl(Response{ID: req.ID, Event: evtStopDone})
	default:
		cw.writeControl(errorResponse(req.ID, fmt.Errorf("unknown command %q", req.Command)))
	}
}

func (s *Shepherd) handleStart(cw *connWriter, req Request) {
	if req.Start == nil || req.SessionID == "" {
		cw.writeControl(errorResponse(req.ID, fmt.Errorf("start requires session_id and options")))
		return
	}

	s.mu.Lock()
	if _, ok := s.sessions[req.SessionID]; ok {
		s.mu.Unlock()
		cw.writeControl(errorResponse(req.ID, fmt.Errorf("%w: %s", ptymgr.ErrSessionExists, req.SessionID)))
		return
	}
	sess, err := ptymgr.StartSession(req.SessionID, *req.Start, s.sessionExited)
	if err != nil {
		s.mu.Unlock()
		cw.writeControl(errorResponse(req.ID, err))
		return
	}
	s.sessions[req.SessionID] = sess
	// Reply before releasing s.mu: a process that dies at once must not have
	// its exit notice overtake the reply.
	cw.writeControl(Response{
		ID:        req.ID,
		Event:     evtStarted,
		SessionID: req.SessionID,
		PID:       sess.Pid(),
	})
	s.mu.Unlock()

	s.log.Info("session started", "session", req.SessionID, "pid", sess.Pid(), "executable", req.Start.Executable)
}

// sessionExited drops sess unless its name was reused since. The exit
// notice is sent under s.mu so no client sees it after the reply to a later
// start of the same name.
func (s *Shepherd) sessionExited(sess *ptymgr.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.ID] != sess {
		return
	}
	delete(s.sessions, sess.ID)
	s.log.Info("session exited", "session", sess.ID)
	s.broadcastExit(sess.ID)
}

func (s *Shepherd) lookup(id string) *ptymgr.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// handleStop announces the exit itself; the process's own exit callback
// finds the name gone and stays quiet.
func (s *Shepherd) handleStop(cw *connWriter, req Request) {
	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	if ok {
		delete(s.sessions, req.SessionID)
		s.broadcastExit(req.SessionID)
	}
	s.mu.Unlock()

	if ok {
		sess.Terminate()
		s.log.Info("session stopped", "session", req.SessionID)
	}
	cw.writeControl(Response{ID: req.ID, Event: evtStopDone})
}

func (s *Shepherd) handleResize(cw *connWriter, req Request) {
	sess := s.lookup(req.SessionID)
	if sess == nil {
		cw.writeControl(errorResponse(req.ID, ptymgr.ErrSessionNotFound))
		return
	}
	if err := sess.Resize(req.Rows, req.Cols); err != nil {
		cw.writeControl(errorResponse(req.ID, err))
		return
	}
	cw.writeControl(Response{ID: req.ID, Event: evtResized})
}

func (s *Shepherd) handleReplay(cw *connWriter, req Request) {
	sess := s.lookup(req.SessionID)
	if sess == nil {
		cw.writeControl(errorResponse(req.ID, ptymgr.ErrSessionNotFound))
		return
	}
	data, end, err := sess.Output(req.Offset)
	if err != nil {
		cw.writeControl(errorResponse(req.ID, err))
		return
	}
	cw.writeControl(Response{
		ID:        req.ID,
		Event:     evtReplay,
		SessionID: req.SessionID,
		Data:      data,
		Offset:    end,
	})
}

func (s *Shepherd) handleSubscribe(cw *connWriter, req Request) {
	sess := s.lookup(req.SessionID)
	if sess == nil {
		cw.writeControl(errorResponse(req.ID, ptymgr.ErrSessionNotFound))
		return
	}

	// Subscribe before acknowledging so no output slips between the two.
	ch, offset, unsub := sess.Subscribe()
	cw.writeControl(Response{ID: req.ID, Event: evtSubbed, SessionID: req.SessionID, Offset: offset})

	go func() {
		defer unsub()
		for data := range ch {
			if err := cw.writeDataFrame(frameData, req.SessionID, data); err != nil {
				return
			}
		}
	}()
}

func (s *Shepherd) handleInput(payload []byte) {
	sessionID, data, err := parseDataPayload(payload)
	if err != nil {
		return
	}
	if sess := s.lookup(sessionID); sess != nil {
		sess.Write(data)
	}
}

// broadcastExit is called with s.mu held.
func (s *Shepherd) broadcastExit(sessionID string) {
	resp := Response{Event: evtExited, SessionID: sessionID}
	s.clientMu.Lock()
	clients := make([]*connWriter, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientMu.Unlock()

	for _, c := range clients {
		c.writeControl(resp)
	}
}

// List returns the live session ids in sorted order.
func (s *Shepherd) List() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// StopAll terminates every session.
func (s *Shepherd) StopAll() {
	s.mu.Lock()
	sessions := make([]*ptymgr.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		s.broadcastExit(id)
	}
	s.sessions = make(map[string]*ptymgr.Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Terminate()
	}
}

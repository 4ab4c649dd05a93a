package shepherd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/peterje/rootrepl/internal/logging"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

// Client connects to the shepherd and implements ptymgr.SessionManager.
type Client struct {
	conn   net.Conn
	connMu sync.Mutex // serialize writes
	log    *logging.Logger

	// Pending request-response correlation
	pendingMu sync.Mutex
	pending   map[string]chan Response

	// Per-session subscriber channels and done channels. A done channel
	// belongs to one incarnation of a name: it is replaced when the name is
	// started again and removed once closed.
	sessionMu      sync.Mutex
	sessionSubs    map[string][]chan []byte
	sessionDone    map[string]chan struct{}
	shepherdSubbed map[string]bool  // true if cmdSubscribe already sent for this session
	streamOffset   map[string]int64 // stream position of the next forwarded byte

	// subscribeMu serializes subscribe so a second local subscriber never
	// reads streamOffset before the first one's ack set it.
	subscribeMu sync.Mutex

	reqCounter atomic.Uint64
	closed     chan struct{}
	closer     sync.Once
}

// NewClient connects to the shepherd at the given socket path.
func NewClient(socketPath string, log *logging.Logger) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to shepherd: %w", err)
	}

	c := &Client{
		conn:           conn,
		log:            log.With("component", "shepherd-client"),
		pending:        make(map[string]chan Response),
		sessionSubs:    make(map[string][]chan []byte),
		sessionDone:    make(map[string]chan struct{}),
		shepherdSubbed: make(map[string]bool),
		streamOffset:   make(map[string]int64),
		closed:         make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// ConnectOrStart connects to a running shepherd on socketPath, launching
// "<this executable> shepherd --socket socketPath" first if none answers.
func ConnectOrStart(socketPath string, log *logging.Logger) (*Client, error) {
	if client, err := dialAndPing(socketPath, log); err == nil {
		log.Debug("connected to existing shepherd", "socket", socketPath)
		return client, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exe, "shepherd", "--socket", socketPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shepherd: %w", err)
	}
	// The shepherd outlives this process.
	cmd.Process.Release()
	log.Info("started shepherd", "socket", socketPath)

	for i := 0; i < 40; i++ { // 40 * 50ms = 2s
		time.Sleep(50 * time.Millisecond)
		if client, err := dialAndPing(socketPath, log); err == nil {
			return client, nil
		}
	}
	return nil, fmt.Errorf("shepherd did not become available within 2s")
}

func dialAndPing(socketPath string, log *logging.Logger) (*Client, error) {
	client, err := NewClient(socketPath, log)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Close disconnects from the shepherd.
func (c *Client) Close() error {
	var err error
	c.closer.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Ping checks if the shepherd is responsive.
func (c *Client) Ping() error {
	resp, err := c.sendRequest(Request{Command: cmdPing})
	if err != nil {
		return err
	}
	if resp.Event != evtPong {
		return fmt.Errorf("unexpected response: %s", resp.Event)
	}
	return nil
}

// List returns all active session ids in the shepherd.
func (c *Client) List() ([]string, error) {
	resp, err := c.sendRequest(Request{Command: cmdList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Start asks the shepherd to launch id. The handle's Done channel is the one
// the read loop registered for this incarnation when the reply arrived, so a
// fast exit cannot be missed and an earlier session of the same name cannot
// leak its closed channel into this one.
func (c *Client) Start(id string, opts ptymgr.StartOptions) (ptymgr.SessionHandle, int, error) {
	resp, err := c.sendRequest(Request{
		Command:   cmdStart,
		SessionID: id,
		Start:     &opts,
	})
	if err == nil {
		err = responseError(resp)
	}
	if err != nil {
		return nil, 0, err
	}
	return &ProxySession{client: c, sessionID: id, done: resp.done}, resp.PID, nil
}

func (c *Client) Stop(id string) error {
	resp, err := c.sendRequest(Request{
		Command:   cmdStop,
		SessionID: id,
	})
	if err != nil {
		return err
	}
	// The shepherd sends the exit notice before this reply, so local state
	// for id is already torn down.
	return responseError(resp)
}

// Get returns a handle for id if the shepherd is hosting it. Sessions
// started by another client are adopted here.
func (c *Client) Get(id string) ptymgr.SessionHandle {
	ids, err := c.List()
	if err != nil || !slices.Contains(ids, id) {
		return nil
	}
	return &ProxySession{client: c, sessionID: id, done: c.Done(id)}
}

func (c *Client) Resize(id string, rows, cols uint16) error {
	resp, err := c.sendRequest(Request{
		Command:   cmdResize,
		SessionID: id,
		Rows:      rows,
		Cols:      cols,
	})
	if err != nil {
		return err
	}
	return responseError(resp)
}

func (c *Client) StopAll() {
	c.sendRequest(Request{Command: cmdStopAll})
}

func (c *Client) nextReqID() string {
	return fmt.Sprintf("r%d", c.reqCounter.Add(1))
}

func (c *Client) sendRequest(req Request) (Response, error) {
	req.ID = c.nextReqID()

	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	err := writeControl(c.conn, req)
	c.connMu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.closed:
		return Response{}, fmt.Errorf("client closed")
	}
}

func (c *Client) writeInput(sessionID string, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return writeDataFrame(c.conn, frameInput, sessionID, data)
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		frameType, payload, err := readFrame(reader)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("read error", "error", err)
				c.Close()
			}
			return
		}

		switch frameType {
		case frameControl:
			c.handleControlFrame(payload)
		case frameData:
			c.handleDataFrame(payload)
		}
	}
}

func (c *Client) handleControlFrame(payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warn("bad control frame", "error", err)
		return
	}

	// Exit notifications carry no request ID.
	if resp.Event == evtExited && resp.ID == "" {
		c.sessionMu.Lock()
		if done, ok := c.sessionDone[resp.SessionID]; ok {
			closeOnce(done)
			delete(c.sessionDone, resp.SessionID)
		}
		for _, ch := range c.sessionSubs[resp.SessionID] {
			close(ch)
		}
		delete(c.sessionSubs, resp.SessionID)
		delete(c.shepherdSubbed, resp.SessionID)
		delete(c.streamOffset, resp.SessionID)
		c.sessionMu.Unlock()
		return
	}

	// Per-session state changes here, in frame order, rather than in the
	// waiting caller.
	switch resp.Event {
	case evtStarted:
		done := make(chan struct{})
		c.sessionMu.Lock()
		if old, ok := c.sessionDone[resp.SessionID]; ok {
			closeOnce(old)
		}
		c.sessionDone[resp.SessionID] = done
		c.sessionMu.Unlock()
		resp.done = done
	case evtSubbed:
		c.sessionMu.Lock()
		c.streamOffset[resp.SessionID] = resp.Offset
		c.sessionMu.Unlock()
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (c *Client) handleDataFrame(payload []byte) {
	sessionID, data, err := parseDataPayload(payload)
	if err != nil {
		return
	}

	// Sends happen under the lock so unsubscribe can close channels safely.
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.streamOffset[sessionID] += int64(len(data))
	for _, ch := range c.sessionSubs[sessionID] {
		select {
		case ch <- data:
		default:
		}
	}
}

func (c *Client) subscribe(sessionID string) (<-chan []byte, int64, func()) {
	c.subscribeMu.Lock()
	defer c.subscribeMu.Unlock()

	ch := make(chan []byte, 256)

	c.sessionMu.Lock()
	c.sessionSubs[sessionID] = append(c.sessionSubs[sessionID], ch)
	needSubscribe := !c.shepherdSubbed[sessionID]
	if needSubscribe {
		c.shepherdSubbed[sessionID] = true
	}
	offset := c.streamOffset[sessionID]
	c.sessionMu.Unlock()

	// The shepherd-side forwarder lives as long as this connection, so only
	// the first local subscriber asks for it.
	if needSubscribe {
		resp, err := c.sendRequest(Request{Command: cmdSubscribe, SessionID: sessionID})
		if err == nil {
			err = responseError(resp)
		}
		if err != nil {
			c.log.Debug("subscribe failed", "session", sessionID, "error", err)
		}
		offset = resp.Offset
	}

	unsub := func() {
		c.sessionMu.Lock()
		defer c.sessionMu.Unlock()
		subs := c.sessionSubs[sessionID]
		for i, s := range subs {
			if s == ch {
				c.sessionSubs[sessionID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, offset, unsub
}

func (c *Client) output(sessionID string, from int64) ([]byte, int64, error) {
	resp, err := c.sendRequest(Request{Command: cmdReplay, SessionID: sessionID, Offset: from})
	if err != nil {
		return nil, 0, err
	}
	if err := responseError(resp); err != nil {
		return nil, 0, err
	}
	return resp.Data, resp.Offset, nil
}

// Done returns a channel that is closed when the current incarnation of the
// given session exits.
func (c *Client) Done(sessionID string) <-chan struct{} {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	ch, ok := c.sessionDone[sessionID]
	if !ok {
		ch = make(chan struct{})
		c.sessionDone[sessionID] = ch
	}
	return ch
}

// ProxySession implements ptymgr.SessionHandle by proxying to the shepherd.
type ProxySession struct {
	client    *Client
	sessionID string
	done      <-chan struct{}
}

func (p *ProxySession) Output(from int64) ([]byte, int64, error) {
	return p.client.output(p.sessionID, from)
}

func (p *ProxySession) Subscribe() (<-chan []byte, int64, func()) {
	return p.client.subscribe(p.sessionID)
}

func (p *ProxySession) Write(data []byte) (int, error) {
	if err := p.client.writeInput(p.sessionID, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (p *ProxySession) Done() <-chan struct{} {
	return p.done
}

var _ ptymgr.SessionManager = (*Client)(nil)
var _ ptymgr.SessionHandle = (*ProxySession)(nil)

package shepherd

// The shepherd and its clients exchange length-prefixed frames over the
// Unix socket:
//
//	[uint32 big-endian length][frame type][payload]
//
// length covers the type byte and the payload. Control frames carry one
// JSON Request (client to shepherd) or Response (shepherd to client). Output
// and input frames carry raw terminal bytes for one session:
//
//	[session name length][session name][bytes]
//
// Session names are REPL session names and never exceed 255 bytes.

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

const (
	frameControl byte = 0x01
	frameData    byte = 0x02 // session output, shepherd to client
	frameInput   byte = 0x03 // keystrokes and code, client to shepherd
)

// maxFrameSize bounds one frame. The largest frames are transcript replies,
// which stay under ptymgr.ReplayBufSize plus JSON overhead.
const maxFrameSize = 10 * 1024 * 1024

// Requests. Every request gets exactly one reply carrying the same ID.
const (
	cmdPing      = "ping"      // -> evtPong
	cmdList      = "list"      // -> evtList with Sessions
	cmdStart     = "start"     // SessionID, Start -> evtStarted with PID
	cmdStop      = "stop"      // SessionID -> evtStopDone, unknown ids included
	cmdStopAll   = "stop_all"  // -> evtStopDone
	cmdResize    = "resize"    // SessionID, Rows, Cols -> evtResized
	cmdReplay    = "replay"    // SessionID, Offset -> evtReplay with Data, Offset
	cmdSubscribe = "subscribe" // SessionID -> evtSubbed with Offset, then frameData
)

// Replies, plus evtExited which the shepherd pushes to every connection
// without a request ID when a session ends, before any later reply that
// depends on the session being gone.
const (
	evtPong     = "pong"
	evtList     = "list"
	evtStarted  = "started"
	evtStopDone = "stop_done"
	evtResized  = "resized"
	evtReplay   = "replay"
	evtSubbed   = "subscribed"
	evtError    = "error"
	evtExited   = "exited"
)

// Request is a control message from a client.
type Request struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	SessionID string `json:"session_id,omitempty"`

	Start *ptymgr.StartOptions `json:"start,omitempty"`

	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`

	// Offset is the stream position a replay starts from.
	Offset int64 `json:"offset,omitempty"`
}

// Response is a control message from the shepherd.
type Response struct {
	ID        string `json:"id,omitempty"`
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`

	PID      int      `json:"pid,omitempty"`
	Sessions []string `json:"sessions,omitempty"`

	// Data is transcript output from the requested offset. Offset is the
	// stream position just past Data for evtReplay, and the position of the
	// first forwarded byte for evtSubbed.
	Data   []byte `json:"data,omitempty"`
	Offset int64  `json:"offset,omitempty"`

	// Error is the shepherd-side message. Code, when set, names the ptymgr
	// sentinel the error wraps so the client can hand back an error that
	// still matches with errors.Is.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	// done is attached by the client's read loop to evtStarted replies.
	done chan struct{}
}

const (
	codeExists   = "exists"
	codeNotFound = "not_found"
)

var codeSentinels = map[string]error{
	codeExists:   ptymgr.ErrSessionExists,
	codeNotFound: ptymgr.ErrSessionNotFound,
}

// errorResponse is the shepherd side of the sentinel round trip.
func errorResponse(id string, err error) Response {
	resp := Response{ID: id, Event: evtError, Error: err.Error()}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			resp.Code = code
		}
	}
	return resp
}

// responseError is the client side: nil for any reply but evtError,
// otherwise an error wrapping the sentinel named by Code, if any.
func responseError(resp Response) error {
	if resp.Event != evtError {
		return nil
	}
	if sentinel, ok := codeSentinels[resp.Code]; ok {
		return fmt.Errorf("shepherd: %w", sentinel)
	}
	return fmt.Errorf("shepherd: %s", resp.Error)
}

func writeControl(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	return writeFrame(w, frameControl, data)
}

func writeDataFrame(w io.Writer, frameType byte, sessionID string, data []byte) error {
	if len(sessionID) > 255 {
		return fmt.Errorf("session name too long for a data frame: %d bytes", len(sessionID))
	}
	payload := make([]byte, 0, 1+len(sessionID)+len(data))
	payload = append(payload, byte(len(sessionID)))
	payload = append(payload, sessionID...)
	payload = append(payload, data...)
	return writeFrame(w, frameType, payload)
}

func parseDataPayload(payload []byte) (sessionID string, data []byte, err error) {
	if len(payload) == 0 {
		return "", nil, fmt.Errorf("data frame has no session name")
	}
	n := int(payload[0])
	if len(payload) < 1+n {
		return "", nil, fmt.Errorf("data frame truncated inside session name")
	}
	return string(payload[1 : 1+n]), payload[1+n:], nil
}

func writeFrame(w io.Writer, frameType byte, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(1+len(payload)))
	header[4] = frameType
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	switch {
	case length == 0:
		return 0, nil, fmt.Errorf("frame without a type byte")
	case length > maxFrameSize:
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}

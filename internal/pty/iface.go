package pty

import (
	"errors"
	"math"
)

var (
	// ErrSessionExists is returned when starting a session whose id is live.
	ErrSessionExists = errors.New("session already running")
	// ErrSessionNotFound is returned for operations on an unknown id.
	ErrSessionNotFound = errors.New("session not found")
)

// StartOptions describes the REPL process to launch.
type StartOptions struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	WorkDir    string   `json:"work_dir,omitempty"`
	Env        []string `json:"env,omitempty"`
}

// EndOffset is past every real stream offset. Output(EndOffset) returns no
// data, only the current end of the stream.
const EndOffset int64 = math.MaxInt64

// SessionHandle represents a handle to a running PTY session.
//
// Offsets count every byte the session has ever written, so they keep
// growing after the retained transcript is full and old output is dropped.
type SessionHandle interface {
	// Output returns retained output from offset from onward and the offset
	// just past it. A from older than the retained window yields the whole
	// window.
	Output(from int64) (data []byte, end int64, err error)

	// Subscribe streams output written after the call. offset is the stream
	// position of the first byte delivered on the channel.
	Subscribe() (ch <-chan []byte, offset int64, unsub func())

	Write(data []byte) (int, error)
	Done() <-chan struct{}
}

// SessionManager manages PTY session lifecycles. At most one live session
// exists per id.
type SessionManager interface {
	Start(id string, opts StartOptions) (SessionHandle, int /* pid */, error)
	Stop(id string) error
	Get(id string) SessionHandle
	List() ([]string, error)
	Resize(id string, rows, cols uint16) error
	StopAll()
}

// Package backend defines how a REPL session is hosted and driven. Each
// backend supplies the same operations (start, send, previous/next prompt)
// over its own display surface; a Registry maps configured identifiers to
// backends.
package backend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/peterje/rootrepl/internal/prompt"
)

// ID names a backend variant.
type ID string

const (
	PTY  ID = "pty"
	Tmux ID = "tmux"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrSessionExists  = errors.New("session already running")
	ErrNoSession      = errors.New("no active session")

	// ErrNoStream is returned by Tailer methods for a session whose output
	// is not being logged, such as a tmux session started by hand.
	ErrNoStream = errors.New("session output is not logged")
)

// ParseID validates a configured backend identifier.
func ParseID(s string) (ID, error) {
	switch id := ID(s); id {
	case PTY, Tmux:
		return id, nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownBackend, s, PTY, Tmux)
}

// StartOptions describes the REPL process to launch.
type StartOptions struct {
	Executable string
	Args       []string
	WorkDir    string
	Env        []string
}

// Backend hosts named REPL sessions.
type Backend interface {
	ID() ID

	// Start launches a session. Fails with ErrSessionExists if name is live.
	Start(name string, opts StartOptions) (pid int, err error)

	// Send writes one line of input followed by a newline. Fails with
	// ErrNoSession if name is not live.
	Send(name, line string) error

	// PreviousPrompt and NextPrompt return input positions in Display(name)
	// relative to from. See prompt.Marker.
	PreviousPrompt(name string, from int) (int, error)
	NextPrompt(name string, from int) (int, error)

	// Display returns the session's cleaned display surface.
	Display(name string) (string, error)

	Has(name string) bool
	Stop(name string) error
	List() ([]string, error)
}

// Tailer is implemented by backends that can address session output by a
// byte offset that only grows. The display is a bounded window, so once it
// is full counting prompts in it stops working; offsets keep working.
type Tailer interface {
	// Offset returns the current end of the session's output stream.
	Offset(name string) (int64, error)

	// DisplaySince returns the cleaned output written at or after offset.
	// If that output is no longer retained it returns what is.
	DisplaySince(name string, offset int64) (string, error)
}

// displayer is the part of Backend prompt navigation is built on.
type displayer interface {
	Display(name string) (string, error)
}

func previousPrompt(b displayer, m *prompt.Marker, name string, from int) (int, error) {
	display, err := b.Display(name)
	if err != nil {
		return 0, err
	}
	return m.Previous(display, from)
}

func nextPrompt(b displayer, m *prompt.Marker, name string, from int) (int, error) {
	display, err := b.Display(name)
	if err != nil {
		return 0, err
	}
	return m.Next(display, from)
}

// Registry resolves backend identifiers. It is built once at startup and
// never modified, so Resolve always returns the same Backend for an id.
type Registry struct {
	backends map[ID]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[ID]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.ID()] = b
	}
	return r
}

// Resolve returns the backend registered for id.
func (r *Registry) Resolve(id string) (Backend, error) {
	parsed, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	b, ok := r.backends[parsed]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrUnknownBackend, id)
	}
	return b, nil
}

// IDs lists the registered identifiers.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

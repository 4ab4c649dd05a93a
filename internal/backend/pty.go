package backend

import (
	"errors"
	"fmt"

	"github.com/peterje/rootrepl/internal/prompt"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

// PTYBackend runs sessions on pseudo-terminals via a SessionManager, either
// in-process or in the shepherd daemon. The display is the session's replay
// transcript.
type PTYBackend struct {
	mgr    ptymgr.SessionManager
	marker *prompt.Marker
}

func NewPTYBackend(mgr ptymgr.SessionManager, marker *prompt.Marker) *PTYBackend {
	return &PTYBackend{mgr: mgr, marker: marker}
}

func (b *PTYBackend) ID() ID { return PTY }

// Manager exposes the underlying SessionManager for streaming and resize.
func (b *PTYBackend) Manager() ptymgr.SessionManager { return b.mgr }

func (b *PTYBackend) Start(name string, opts StartOptions) (int, error) {
	_, pid, err := b.mgr.Start(name, ptymgr.StartOptions{
		Executable: opts.Executable,
		Args:       opts.Args,
		WorkDir:    opts.WorkDir,
		Env:        opts.Env,
	})
	if errors.Is(err, ptymgr.ErrSessionExists) {
		return 0, fmt.Errorf("%w: %s", ErrSessionExists, name)
	}
	if err != nil {
		return 0, err
	}
	return pid, nil
}

func (b *PTYBackend) handle(name string) (ptymgr.SessionHandle, error) {
	h := b.mgr.Get(name)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return h, nil
}

func (b *PTYBackend) Send(name, line string) error {
	h, err := b.handle(name)
	if err != nil {
		return err
	}
	if _, err := h.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write to %s: %w", name, err)
	}
	return nil
}

func (b *PTYBackend) Display(name string) (string, error) {
	return b.DisplaySince(name, 0)
}

func (b *PTYBackend) Offset(name string) (int64, error) {
	h, err := b.handle(name)
	if err != nil {
		return 0, err
	}
	_, end, err := h.Output(ptymgr.EndOffset)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return end, nil
}

func (b *PTYBackend) DisplaySince(name string, offset int64) (string, error) {
	h, err := b.handle(name)
	if err != nil {
		return "", err
	}
	data, _, err := h.Output(offset)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return prompt.Clean(string(data)), nil
}

func (b *PTYBackend) PreviousPrompt(name string, from int) (int, error) {
	return previousPrompt(b, b.marker, name, from)
}

func (b *PTYBackend) NextPrompt(name string, from int) (int, error) {
	return nextPrompt(b, b.marker, name, from)
}

func (b *PTYBackend) Has(name string) bool {
	return b.mgr.Get(name) != nil
}

func (b *PTYBackend) Stop(name string) error {
	if !b.Has(name) {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return b.mgr.Stop(name)
}

func (b *PTYBackend) List() ([]string, error) {
	return b.mgr.List()
}

var (
	_ Backend = (*PTYBackend)(nil)
	_ Tailer  = (*PTYBackend)(nil)
)

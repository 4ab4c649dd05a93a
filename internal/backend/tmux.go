package backend

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterje/rootrepl/internal/prompt"
	"github.com/peterje/rootrepl/internal/tmux"
)

// TmuxBackend runs each session in a detached tmux session named
// prefix+name. The display is the pane's scrollback; the pane's output is
// also piped to logDir/prefix+name.log, whose size is the stream offset.
type TmuxBackend struct {
	runner tmux.Runner
	prefix string
	logDir string
	marker *prompt.Marker
}

func NewTmuxBackend(runner tmux.Runner, prefix, logDir string, marker *prompt.Marker) *TmuxBackend {
	return &TmuxBackend{runner: runner, prefix: prefix, logDir: logDir, marker: marker}
}

func (b *TmuxBackend) ID() ID { return Tmux }

func (b *TmuxBackend) target(name string) string {
	return b.prefix + name
}

// Start returns pid 0; tmux owns the process.
func (b *TmuxBackend) Start(name string, opts StartOptions) (int, error) {
	if opts.Executable == "" {
		return 0, fmt.Errorf("start %s: executable is required", name)
	}
	target := b.target(name)
	if b.runner.HasSession(target) {
		return 0, fmt.Errorf("%w: %s", ErrSessionExists, name)
	}
	if err := os.MkdirAll(b.logDir, 0755); err != nil {
		return 0, fmt.Errorf("create tmux log dir: %w", err)
	}
	log := b.logPath(name)
	if err := os.Remove(log); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("remove old log: %w", err)
	}

	cmd := tmux.ShellCommand(opts.Executable, opts.Args...)
	if err := b.runner.NewSession(target, cmd, opts.WorkDir, opts.Env); err != nil {
		return 0, err
	}
	if err := b.runner.PipeToFile(target, log); err != nil {
		b.runner.KillSession(target)
		return 0, err
	}
	return 0, nil
}

func (b *TmuxBackend) logPath(name string) string {
	return filepath.Join(b.logDir, b.target(name)+".log")
}

func (b *TmuxBackend) Send(name, line string) error {
	if !b.Has(name) {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return b.runner.SendLine(b.target(name), line)
}

func (b *TmuxBackend) Display(name string) (string, error) {
	if !b.Has(name) {
		return "", fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	out, err := b.runner.CaptureHistory(b.target(name))
	if err != nil {
		return "", err
	}
	return prompt.Clean(out), nil
}

func (b *TmuxBackend) Offset(name string) (int64, error) {
	if !b.Has(name) {
		return 0, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	info, err := os.Stat(b.logPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNoStream, name)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *TmuxBackend) DisplaySince(name string, offset int64) (string, error) {
	if !b.Has(name) {
		return "", fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	f, err := os.Open(b.logPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoStream, name)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return prompt.Clean(string(data)), nil
}

func (b *TmuxBackend) PreviousPrompt(name string, from int) (int, error) {
	return previousPrompt(b, b.marker, name, from)
}

func (b *TmuxBackend) NextPrompt(name string, from int) (int, error) {
	return nextPrompt(b, b.marker, name, from)
}

func (b *TmuxBackend) Has(name string) bool {
	return b.runner.HasSession(b.target(name))
}

func (b *TmuxBackend) Stop(name string) error {
	if !b.Has(name) {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	if err := b.runner.KillSession(b.target(name)); err != nil {
		return err
	}
	if err := os.Remove(b.logPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// List returns session names with the prefix stripped; tmux sessions
// without the prefix are not ours.
func (b *TmuxBackend) List() ([]string, error) {
	all, err := b.runner.ListSessions()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range all {
		if name, ok := strings.CutPrefix(s, b.prefix); ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

var (
	_ Backend = (*TmuxBackend)(nil)
	_ Tailer  = (*TmuxBackend)(nil)
)

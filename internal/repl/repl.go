// Package repl dispatches code to a ROOT session and reads its output back.
//
// Code regions are collapsed to a single line before sending, since the
// interpreter reads one line at a time. Output is recovered by scraping the
// session display for the text between the two most recent prompts.
package repl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/logging"
	"github.com/peterje/rootrepl/internal/models"
	"github.com/peterje/rootrepl/internal/prompt"
	"github.com/peterje/rootrepl/internal/rootrc"
)

var (
	// ErrTimeout is returned when a prompt-mode wait runs out of time.
	ErrTimeout = errors.New("timed out waiting for prompt")

	// ErrInvalidName is returned by Start for names outside [A-Za-z0-9_-].
	// tmux rewrites '.' and ':' in session names, and the shepherd frames
	// names in at most 255 bytes.
	ErrInvalidName = errors.New("invalid session name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks a session name before anything is started.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w %q: use 1 to 64 letters, digits, '_' or '-'", ErrInvalidName, name)
	}
	return nil
}

// Capture modes.
const (
	CaptureDelay  = "delay"
	CapturePrompt = "prompt"
)

type CaptureOptions struct {
	// Mode is CaptureDelay (sleep Delay, then scrape) or CapturePrompt
	// (poll every Poll until a new prompt appears, up to Timeout).
	Mode    string
	Delay   time.Duration
	Poll    time.Duration
	Timeout time.Duration
}

type RootrcOptions struct {
	Enabled bool
	// Path is resolved against the session working directory when relative.
	Path string
	// Hold bounds how long Start waits for the first prompt before removing
	// the file.
	Hold time.Duration
}

type Options struct {
	Start   backend.StartOptions
	Capture CaptureOptions
	Rootrc  RootrcOptions
}

// Recorder stores evaluations. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e models.Evaluation) (models.Evaluation, error)
}

// REPL drives sessions on one backend.
type REPL struct {
	backend  backend.Backend
	marker   *prompt.Marker
	opts     Options
	recorder Recorder
	log      *logging.Logger
}

func New(b backend.Backend, marker *prompt.Marker, opts Options, log *logging.Logger) *REPL {
	return &REPL{
		backend: b,
		marker:  marker,
		opts:    opts,
		log:     log.With("component", "repl", "backend", string(b.ID())),
	}
}

// WithRecorder enables evaluation history.
func (r *REPL) WithRecorder(rec Recorder) *REPL {
	r.recorder = rec
	return r
}

// Backend returns the backend sessions run on.
func (r *REPL) Backend() backend.Backend { return r.backend }

// Start launches session name. When enabled, a temporary .rootrc is present
// while ROOT starts up and removed once the first prompt shows (or Hold
// elapses); a user's own .rootrc is left alone.
func (r *REPL) Start(ctx context.Context, name string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if r.backend.Has(name) {
		return 0, fmt.Errorf("%w: %s", backend.ErrSessionExists, name)
	}

	var guard *rootrc.Guard
	if r.opts.Rootrc.Enabled {
		var err error
		guard, err = rootrc.Acquire(r.rootrcPath())
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := guard.Release(); err != nil {
				r.log.Warn("remove temporary rootrc", "path", guard.Path(), "error", err)
			}
		}()
		if guard.Created() {
			r.log.Debug("wrote temporary rootrc", "path", guard.Path())
		}
	}

	pid, err := r.backend.Start(name, r.opts.Start)
	if err != nil {
		return 0, err
	}
	r.log.Info("session started", "session", name, "pid", pid)

	if guard != nil && guard.Created() {
		// ROOT has read its rc files once it prints a prompt.
		if err := r.waitForFirstPrompt(ctx, name, r.opts.Rootrc.Hold); err != nil {
			if ctx.Err() != nil {
				return pid, ctx.Err()
			}
			r.log.Warn("no prompt before rootrc hold expired", "session", name, "hold", r.opts.Rootrc.Hold)
		}
	}
	return pid, nil
}

func (r *REPL) rootrcPath() string {
	p := r.opts.Rootrc.Path
	if p == "" {
		p = rootrc.DefaultPath
	}
	if filepath.IsAbs(p) || r.opts.Start.WorkDir == "" {
		return p
	}
	return filepath.Join(r.opts.Start.WorkDir, p)
}

// Stop terminates session name.
func (r *REPL) Stop(name string) error {
	if err := r.backend.Stop(name); err != nil {
		return err
	}
	r.log.Info("session stopped", "session", name)
	return nil
}

// List returns the live session names.
func (r *REPL) List() ([]string, error) {
	return r.backend.List()
}

// Send collapses text to one line and sends it. It does not wait for output.
func (r *REPL) Send(name, text string) error {
	line := prompt.Collapse(text)
	if err := r.backend.Send(name, line); err != nil {
		return err
	}
	r.log.Debug("sent", "session", name, "bytes", len(line))
	return nil
}

// LastOutput returns the output of the most recent completed command.
func (r *REPL) LastOutput(name string) (string, error) {
	display, err := r.backend.Display(name)
	if err != nil {
		return "", err
	}
	return r.marker.LastOutput(display)
}

// Eval sends text, waits according to the capture mode, and returns the
// scraped output. In prompt mode the wait ends at the first prompt printed
// after the send. The attempt is recorded when a Recorder is set.
func (r *REPL) Eval(ctx context.Context, name, text string) (string, error) {
	var a anchor
	if r.opts.Capture.Mode == CapturePrompt {
		var err error
		if a, err = r.anchor(name); err != nil {
			return "", err
		}
	}

	if err := r.Send(name, text); err != nil {
		return "", err
	}

	var out string
	err := r.waitForOutput(ctx, name, a)
	if err == nil {
		out, err = r.LastOutput(name)
	}
	r.record(ctx, name, prompt.Collapse(text), out, err)
	return out, err
}

func (r *REPL) record(ctx context.Context, name, command, output string, evalErr error) {
	if r.recorder == nil {
		return
	}
	e := models.Evaluation{
		Session: name,
		Backend: string(r.backend.ID()),
		Command: command,
		Output:  output,
	}
	if evalErr != nil {
		e.Error = evalErr.Error()
	}
	// Recording must not be cut short by the caller's deadline.
	if _, err := r.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn("record evaluation", "session", name, "error", err)
	}
}

// EvalFile executes a macro file (".x").
func (r *REPL) EvalFile(name, path string) error {
	return r.Send(name, ".x "+path)
}

// LoadFile loads a macro file without executing it (".L").
func (r *REPL) LoadFile(name, path string) error {
	return r.Send(name, ".L "+path)
}

// ChangeDir changes the interpreter's working directory.
func (r *REPL) ChangeDir(name, dir string) error {
	return r.Send(name, "gSystem->ChangeDirectory("+strconv.Quote(dir)+")")
}

// Quit asks ROOT to exit.
func (r *REPL) Quit(name string) error {
	return r.Send(name, ".q")
}

func (r *REPL) PreviousPrompt(name string, from int) (int, error) {
	return r.backend.PreviousPrompt(name, from)
}

func (r *REPL) NextPrompt(name string, from int) (int, error) {
	return r.backend.NextPrompt(name, from)
}

// Display returns the cleaned display surface of session name.
func (r *REPL) Display(name string) (string, error) {
	return r.backend.Display(name)
}

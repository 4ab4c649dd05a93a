// Package tmux drives the tmux binary for REPL sessions that live in
// detached tmux sessions. Command execution is injectable for tests.
package tmux

import (
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts the tmux operations the tmux backend needs.
type Runner interface {
	// NewSession creates a detached session running command in workDir.
	// env entries are KEY=VALUE pairs set in the session environment.
	NewSession(name, command, workDir string, env []string) error

	// SendLine types text literally into the session's pane, then Enter.
	SendLine(name, text string) error

	// CaptureHistory returns the pane's full scrollback with wrapped lines joined.
	CaptureHistory(name string) (string, error)

	// PipeToFile appends everything the pane's program writes to path.
	// Unlike the scrollback, the file is not bounded by history-limit.
	PipeToFile(name, path string) error

	ListSessions() ([]string, error)
	KillSession(name string) error
	HasSession(name string) bool
}

// CmdFunc is the signature for creating an *exec.Cmd. It matches exec.Command.
type CmdFunc func(name string, args ...string) *exec.Cmd

// TmuxRunner implements Runner by calling the tmux binary.
type TmuxRunner struct {
	runCmd CmdFunc
}

func NewTmuxRunner() *TmuxRunner {
	return &TmuxRunner{runCmd: exec.Command}
}

// NewTmuxRunnerWithCmd creates a TmuxRunner with a custom command function for testing.
func NewTmuxRunnerWithCmd(fn CmdFunc) *TmuxRunner {
	return &TmuxRunner{runCmd: fn}
}

func (r *TmuxRunner) run(op, target string, args ...string) (string, error) {
	out, err := r.runCmd("tmux", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s %q: %w: %s", op, target, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (r *TmuxRunner) NewSession(name, command, workDir string, env []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := r.run("new-session", name, args...)
	return err
}

// SendLine uses -l so tmux does not interpret words like "Enter" or "C-c"
// inside the text as key names.
func (r *TmuxRunner) SendLine(name, text string) error {
	if _, err := r.run("send-keys", name, "send-keys", "-t", name, "-l", text); err != nil {
		return err
	}
	_, err := r.run("send-keys", name, "send-keys", "-t", name, "Enter")
	return err
}

func (r *TmuxRunner) CaptureHistory(name string) (string, error) {
	return r.run("capture-pane", name, "capture-pane", "-p", "-J", "-S", "-", "-t", name)
}

func (r *TmuxRunner) PipeToFile(name, path string) error {
	_, err := r.run("pipe-pane", name, "pipe-pane", "-t", name, "cat >> "+shellQuote(path))
	return err
}

func (r *TmuxRunner) ListSessions() ([]string, error) {
	out, err := r.runCmd("tmux", "list-sessions", "-F", "#{session_name}").CombinedOutput()
	if err != nil {
		// tmux exits non-zero when no server or sessions exist.
		if strings.Contains(string(out), "no server running") ||
			strings.Contains(string(out), "no sessions") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

func (r *TmuxRunner) KillSession(name string) error {
	_, err := r.run("kill-session", name, "kill-session", "-t", name)
	return err
}

func (r *TmuxRunner) HasSession(name string) bool {
	// "=" forces an exact match instead of tmux's prefix matching.
	return r.runCmd("tmux", "has-session", "-t", "="+name).Run() == nil
}

// ShellCommand joins an executable and its arguments into one string for
// tmux, which hands it to the default shell.
func ShellCommand(executable string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{executable}, args...) {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Runner = (*TmuxRunner)(nil)

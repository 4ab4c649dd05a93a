package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/peterje/rootrepl/internal/backend"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
	"github.com/peterje/rootrepl/internal/style"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var attachCmd = &cobra.Command{
	Use:     "attach [name]",
	GroupID: GroupSession,
	Short:   "Attach the terminal to a session",
	Long: `Attach this terminal to a running session. For pty sessions, press Ctrl-]
to detach; the session keeps running. For tmux sessions this runs
"tmux attach" and tmux's own detach key applies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		name := sessionName(args)
		if backend.ID(e.cfg.Backend) == backend.Tmux {
			c := exec.Command("tmux", "attach-session", "-t", "="+e.cfg.Tmux.Prefix+name)
			c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
			return c.Run()
		}

		h := e.pty.Get(name)
		if h == nil {
			return fmt.Errorf("%w: %s", backend.ErrNoSession, name)
		}
		detached, err := attachPTY(e.pty, name, h)
		if err != nil {
			return err
		}
		if detached {
			style.Check(os.Stderr, "detached from %s", style.Title.Render(name))
		} else {
			fmt.Fprintln(os.Stderr, style.Dim.Render("session ended"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// attachPTY relays the terminal to a PTY session until the user detaches
// (detached == true) or the session exits.
func attachPTY(mgr ptymgr.SessionManager, name string, h ptymgr.SessionHandle) (detached bool, err error) {
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return false, fmt.Errorf("attach needs a terminal on stdin")
	}
	old, err := term.MakeRaw(stdin)
	if err != nil {
		return false, fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(stdin, old)

	resize := func() {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			mgr.Resize(name, uint16(rows), uint16(cols))
		}
	}
	resize()
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	replay, output, trim, unsub, err := ptymgr.Attach(h)
	if err != nil {
		return false, err
	}
	defer unsub()
	os.Stdout.Write(replay)

	detach := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
					h.Write(chunk[:i])
					close(detach)
					return
				}
				h.Write(chunk)
			}
			if err != nil {
				if err != io.EOF {
					close(detach)
				}
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-output:
			if !ok {
				return false, nil
			}
			os.Stdout.Write(trim.Trim(data))
		case <-winch:
			resize()
		case <-detach:
			return true, nil
		case <-h.Done():
			return false, nil
		}
	}
}

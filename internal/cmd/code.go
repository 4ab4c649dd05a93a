package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/repl"
	"github.com/peterje/rootrepl/internal/style"
)

var evalBoxed bool

var sendCmd = &cobra.Command{
	Use:     "send [code...]",
	GroupID: GroupCode,
	Short:   "Send code without waiting for output",
	Long: `Send code to the session. Multi-line code is joined into one line before
sending. With no arguments, or "-", code is read from stdin.

Examples:
  rootrepl send 'TFile f("run.root"); f.ls()'
  sed -n 10,20p ana.C | rootrepl send`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			code, err := readCode(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return r.Send(sessionFlag, code)
		})
	},
}

var evalCmd = &cobra.Command{
	Use:     "eval [code...]",
	GroupID: GroupCode,
	Short:   "Send code and print its output",
	Long: `Send code, wait for ROOT to answer, and print the output between the
prompts. The wait is a fixed delay or, with capture.mode = "prompt", lasts
until the next prompt appears.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			code, err := readCode(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out, err := r.Eval(ctx, sessionFlag, code)
			if err != nil {
				return err
			}
			printOutput(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var outputCmd = &cobra.Command{
	Use:     "output",
	GroupID: GroupCode,
	Short:   "Print the output of the last completed command",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			out, err := r.LastOutput(sessionFlag)
			if err != nil {
				return err
			}
			printOutput(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sourceCmd = &cobra.Command{
	Use:     "source <macro>",
	GroupID: GroupCode,
	Short:   "Execute a macro file (.x)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			return r.EvalFile(sessionFlag, args[0])
		})
	},
}

var loadCmd = &cobra.Command{
	Use:     "load <macro>",
	GroupID: GroupCode,
	Short:   "Load a macro file without executing it (.L)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			return r.LoadFile(sessionFlag, args[0])
		})
	},
}

var cdCmd = &cobra.Command{
	Use:     "cd <dir>",
	GroupID: GroupCode,
	Short:   "Change the interpreter's working directory",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			return r.ChangeDir(sessionFlag, args[0])
		})
	},
}

func init() {
	evalCmd.Flags().BoolVar(&evalBoxed, "box", false, "Frame the output in a box")
	outputCmd.Flags().BoolVar(&evalBoxed, "box", false, "Frame the output in a box")

	rootCmd.AddCommand(sendCmd, evalCmd, outputCmd, sourceCmd, loadCmd, cdCmd)
}

// withREPL runs fn against the configured backend's REPL.
func withREPL(fn func(r *repl.REPL) error) error {
	e, err := newEnv(envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e.current())
}

func readCode(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printOutput(w io.Writer, out string) {
	if evalBoxed {
		fmt.Fprintln(w, style.Box.Render(strings.TrimRight(out, "\n")))
		return
	}
	fmt.Fprint(w, out)
}

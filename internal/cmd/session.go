package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/style"
)

var startCmd = &cobra.Command{
	Use:     "start [name]",
	GroupID: GroupSession,
	Short:   "Start a ROOT session",
	Long: `Start a ROOT session in the background.

While ROOT starts, a temporary ./.rootrc disabling prompt colors is written
to the working directory unless one already exists. It is removed once the
first prompt appears.

Examples:
  rootrepl start              # session "main" on the configured backend
  rootrepl start ana -b tmux  # session "ana" inside tmux`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:     "stop [name]",
	GroupID: GroupSession,
	Short:   "Stop a session",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		name := sessionName(args)
		if err := e.current().Stop(name); err != nil {
			return err
		}
		style.Check(cmd.OutOrStdout(), "stopped %s", style.Title.Render(name))
		return nil
	},
}

var quitCmd = &cobra.Command{
	Use:     "quit [name]",
	GroupID: GroupSession,
	Short:   "Ask ROOT to exit (.q)",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()
		return e.current().Quit(sessionName(args))
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: GroupSession,
	Short:   "List running sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		names, err := e.current().List()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(w, style.Dim.Render("no sessions"))
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(w, "%s  %s\n", style.Title.Render(name), style.Dim.Render(e.cfg.Backend))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, quitCmd, listCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	e, err := newEnv(envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := sessionName(args)
	pid, err := e.current().Start(ctx, name)
	if err != nil {
		return err
	}
	detail := e.cfg.Backend
	if pid > 0 {
		detail = fmt.Sprintf("%s, pid %d", detail, pid)
	}
	style.Check(cmd.OutOrStdout(), "started %s %s", style.Title.Render(name), style.Dim.Render("("+detail+")"))
	return nil
}

// sessionName picks the positional name if given, else --session.
func sessionName(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return sessionFlag
}

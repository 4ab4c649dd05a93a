// Package cmd implements the rootrepl command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/style"
)

// Command groups
const (
	GroupSession = "session"
	GroupCode    = "code"
	GroupService = "service"
)

var (
	configPath  string
	backendFlag string
	sessionFlag string
)

var rootCmd = &cobra.Command{
	Use:   "rootrepl",
	Short: "Drive a ROOT interactive session from editors and scripts",
	Long: `rootrepl runs the ROOT C++ interpreter in a long-lived session and sends it
code one line at a time. Output of the last command is recovered by reading
the session display between the two most recent prompts.

Sessions run either on a pseudo-terminal owned by a background shepherd
process (backend "pty") or inside a detached tmux session (backend "tmux").`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $ROOTREPL_CONFIG, ./rootrepl.toml, ~/.config/rootrepl/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Session backend: pty or tmux (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", defaultSession, "Session name")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSession, Title: "Sessions:"},
		&cobra.Group{ID: GroupCode, Title: "Sending code:"},
		&cobra.Group{ID: GroupService, Title: "Services:"},
	)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, style.Error.Render("Error:"), err)
		os.Exit(1)
	}
}

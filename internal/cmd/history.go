package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/style"
)

var (
	historyLimit int
	historyAll   bool
	historyClear bool
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: GroupCode,
	Short:   "Show evaluated commands and their output",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, flush, err := loadConfig()
		if err != nil {
			return err
		}
		defer flush()
		if !cfg.History.Enabled {
			return errors.New("history is disabled (history.enabled = false)")
		}

		e := &env{cfg: cfg, log: log}
		if err := e.openHistory(); err != nil {
			return err
		}
		defer e.Close()

		session := sessionFlag
		if historyAll {
			session = ""
		}
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		if historyClear {
			n, err := e.history.Clear(ctx, session)
			if err != nil {
				return err
			}
			style.Check(w, "removed %d entries", n)
			return nil
		}

		evals, err := e.history.List(ctx, session, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(evals)
		}
		// Oldest first reads naturally in a terminal.
		for i := len(evals) - 1; i >= 0; i-- {
			ev := evals[i]
			fmt.Fprintf(w, "%s %s %s\n",
				style.Dim.Render(ev.CreatedAt.Local().Format("15:04:05")),
				style.Title.Render(ev.Session),
				ev.Command)
			if ev.Error != "" {
				fmt.Fprintln(w, style.Error.Render(ev.Error))
			} else if ev.Output != "" {
				fmt.Fprint(w, ev.Output)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Include every session")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete history instead of showing it")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}

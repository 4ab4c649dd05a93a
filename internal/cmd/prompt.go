package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/repl"
)

var promptFrom int

var promptCmd = &cobra.Command{
	Use:     "prompt prev|next",
	GroupID: GroupCode,
	Short:   "Print the input position of the previous or next prompt",
	Long: `Print the byte offset in the session display where the previous or next
prompt ends and input begins, relative to --from.

Without --from, "prev" searches back from the end of the display and "next"
forward from its start.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"prev", "next"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withREPL(func(r *repl.REPL) error {
			from := promptFrom
			var pos int
			var err error
			switch args[0] {
			case "prev", "previous":
				if !cmd.Flags().Changed("from") {
					display, derr := r.Display(sessionFlag)
					if derr != nil {
						return derr
					}
					from = len(display)
				}
				pos, err = r.PreviousPrompt(sessionFlag, from)
			case "next":
				if !cmd.Flags().Changed("from") {
					from = -1
				}
				pos, err = r.NextPrompt(sessionFlag, from)
			default:
				return fmt.Errorf("direction must be prev or next, got %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pos)
			return nil
		})
	},
}

func init() {
	promptCmd.Flags().IntVar(&promptFrom, "from", 0, "Offset to search from")
	rootCmd.AddCommand(promptCmd)
}

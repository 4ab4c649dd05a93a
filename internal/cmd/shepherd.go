package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/shepherd"
)

var shepherdSocket string

var shepherdCmd = &cobra.Command{
	Use:     "shepherd",
	GroupID: GroupService,
	Short:   "Run the PTY host daemon",
	Long: `Run the shepherd, the background process that owns PTY sessions so they
survive across rootrepl invocations. Other commands start it on demand; there
is usually no need to run it by hand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, flush, err := loadConfig()
		if err != nil {
			return err
		}
		defer flush()

		socket := cfg.Shepherd.Socket
		if shepherdSocket != "" {
			socket = shepherdSocket
		}
		err = shepherd.Run(socket, log.With("component", "shepherd"))
		if errors.Is(err, shepherd.ErrAlreadyRunning) {
			log.Info("shepherd already running", "socket", socket)
			return nil
		}
		return err
	},
}

func init() {
	shepherdCmd.Flags().StringVar(&shepherdSocket, "socket", "", "Unix socket to listen on (default from config)")
	rootCmd.AddCommand(shepherdCmd)
}

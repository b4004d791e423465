package queue

import (
	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/spf13/cobra"
)

var (
	conn  remote.Flags
	limit int
)

// Cmd is the parent command for the automation queue.
var Cmd = &cobra.Command{
	Use:   "queue",
	Short: "Operate the automation queue",
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one pass over the pending executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conn.Client()
		if err != nil {
			return err
		}

		summary, err := c.ProcessQueue(cmd.Context(), limit)
		if err != nil {
			return err
		}

		remote.Printf(cmd, "Processed %d pending execution(s): %d completed, %d failed, %d skipped, %d errored\n",
			summary.Found, summary.Completed, summary.Failed, summary.Skipped, summary.Errors)
		return nil
	},
}

func init() {
	conn.Register(Cmd)
	processCmd.Flags().IntVar(&limit, "limit", 0, "Maximum executions to run (default: server batch size)")
	Cmd.AddCommand(processCmd)
}

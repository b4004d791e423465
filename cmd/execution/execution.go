package execution

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/client"
	"github.com/spf13/cobra"
)

var (
	conn   remote.Flags
	filter client.ExecutionFilter
)

// Cmd is the parent command for automation executions.
var Cmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"executions", "exec"},
	Short:   "Inspect and retry automation executions",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conn.Client()
		if err != nil {
			return err
		}

		execs, err := c.ListExecutions(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			remote.Printf(cmd, "No executions found.\n")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tATTEMPT\tSOURCE\tCREATED")
		for _, e := range execs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.Status, e.Attempt, e.TriggerSourceID, e.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conn.Client()
		if err != nil {
			return err
		}

		exec, err := c.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printExecution(cmd, exec)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conn.Client()
		if err != nil {
			return err
		}

		exec, err := c.RetryExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		remote.Printf(cmd, "Enqueued attempt %d of %s as %s\n", exec.Attempt, args[0], exec.ID)
		return nil
	},
}

var retryCallbacksCmd = &cobra.Command{
	Use:   "retry-callbacks <id>",
	Short: "Retry failed completion callbacks for an execution",
	Long:  "Retry failed completion callbacks for a finished execution. Only callbacks that previously failed are re-sent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conn.Client()
		if err != nil {
			return err
		}

		history, err := c.RetryCallbacks(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, cb := range history {
			remote.Printf(cmd, "%s\t%s\t%s\n", cb.ID, cb.Status, cb.URL)
		}
		return nil
	},
}

func init() {
	conn.Register(Cmd)

	listCmd.Flags().StringVar(&filter.TriggerID, "trigger-id", "", "Only executions of this trigger")
	listCmd.Flags().StringVar(&filter.Status, "status", "", "Only executions in this status")
	listCmd.Flags().StringVar(&filter.SourceID, "source-id", "", "Only executions for this source record")
	listCmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of executions")
	listCmd.Flags().IntVar(&filter.Offset, "offset", 0, "Number of executions to skip")

	Cmd.AddCommand(listCmd, getCmd, retryCmd, retryCallbacksCmd)
}

func printExecution(cmd *cobra.Command, e *models.AutomationExecution) {
	remote.Printf(cmd, "ID:           %s\n", e.ID)
	remote.Printf(cmd, "Trigger:      %s\n", e.TriggerID)
	remote.Printf(cmd, "Source:       %s\n", e.TriggerSourceID)
	remote.Printf(cmd, "Status:       %s\n", e.Status)
	remote.Printf(cmd, "Attempt:      %d\n", e.Attempt)
	remote.Printf(cmd, "Triggered by: %s\n", e.TriggeredBy)
	if e.ErrorMessage != nil {
		remote.Printf(cmd, "Error:        %s (%s)\n", *e.ErrorMessage, e.FailedAction)
	}
	for _, a := range e.ActionsTaken {
		remote.Printf(cmd, "  - %s at %s\n", a.Action, a.At.Format(time.RFC3339))
	}
}

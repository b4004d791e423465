package cmd

import (
	"github.com/opsdesk/opsdesk/cmd/execution"
	"github.com/opsdesk/opsdesk/cmd/mailbox"
	"github.com/opsdesk/opsdesk/cmd/queue"
	"github.com/opsdesk/opsdesk/cmd/start"
	"github.com/opsdesk/opsdesk/cmd/trigger"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	trigger.Cmd,
	execution.Cmd,
	queue.Cmd,
	mailbox.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "opsdesk",
		Short:         "Event-driven back-office automation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}

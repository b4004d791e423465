package mailbox

import (
	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/opsdesk/opsdesk/internal/app"
	"github.com/opsdesk/opsdesk/internal/ingest"
	"github.com/opsdesk/opsdesk/pkg/db"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	email   string
	enqueue bool
)

// Cmd is the parent command for mailbox ingestion.
var Cmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Ingest employee mailboxes",
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one mailbox, or every enabled mailbox, into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := db.Migrate(); err != nil {
			return err
		}

		a, err := app.New(ctx, env.Variables(), db.Connection())
		if err != nil {
			return err
		}

		var results []*ingest.SyncResult
		if email != "" {
			res, err := a.Ingest.SyncMailbox(ctx, email, 0)
			if err != nil {
				return err
			}
			results = append(results, res)
		} else {
			var failed int
			if results, failed, err = a.Ingest.SyncAll(ctx); err != nil {
				return err
			}
			if failed > 0 {
				cmd.PrintErrf("%d mailbox(es) failed to sync\n", failed)
			}
		}

		executions := 0
		for _, res := range results {
			remote.Printf(cmd, "%s: fetched %d, stored %d, enqueued %d (full=%t)\n",
				res.Mailbox, res.Fetched, res.Inserted, len(res.Executions), res.Full)
			executions += len(res.Executions)
		}

		if enqueue && executions > 0 {
			summary, err := a.ProcessQueue(ctx, executions)
			if err != nil {
				return err
			}
			remote.Printf(cmd, "Ran %d execution(s): %d completed, %d failed\n", summary.Found, summary.Completed, summary.Failed)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Register Gmail push channels for one mailbox, or renew them for every enabled mailbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		vars := env.Variables()
		if vars.GmailPushTopic == "" {
			return errors.New("OPSDESK_GMAIL_PUSH_TOPIC is not set")
		}

		if err := db.Migrate(); err != nil {
			return err
		}

		a, err := app.New(ctx, vars, db.Connection())
		if err != nil {
			return err
		}

		if email != "" {
			ch, err := a.Ingest.WatchMailbox(ctx, email)
			if err != nil {
				return err
			}
			remote.Printf(cmd, "%s: watching until %s (history %d)\n", ch.ResourceID, ch.Expiration.Format("2006-01-02 15:04"), ch.HistoryID)
			return nil
		}

		res, err := a.Ingest.RenewChannels(ctx, vars.ChannelRenewWithin)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			cmd.PrintErrf("%d channel(s) failed to renew\n", res.Failed)
		}
		remote.Printf(cmd, "Renewed %d channel(s)\n", res.Renewed)
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&email, "email", "", "Mailbox to watch (default: renew every enabled mailbox)")
	Cmd.AddCommand(watchCmd)

	syncCmd.Flags().StringVar(&email, "email", "", "Mailbox to sync (default: every enabled mailbox)")
	syncCmd.Flags().BoolVar(&enqueue, "run", false, "Run the enqueued executions after syncing")
	Cmd.AddCommand(syncCmd)
}

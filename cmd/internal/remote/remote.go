// Package remote holds the connection flags shared by commands that talk
// to a running opsdesk server.
package remote

import (
	"fmt"
	"io"

	"github.com/opsdesk/opsdesk/pkg/client"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/spf13/cobra"
)

// Flags are the --server and --token values of one command tree.
type Flags struct {
	Server string
	Token  string
}

// Register adds persistent connection flags to cmd.
func (f *Flags) Register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.Server, "server", "", "opsdesk server base URL (default: $OPSDESK_SERVER_URL)")
	cmd.PersistentFlags().StringVar(&f.Token, "token", "", "bearer token (default: $OPSDESK_API_TOKEN)")
}

// Client builds an API client, preferring flags over the environment.
func (f *Flags) Client() (*client.Client, error) {
	vars := env.Variables()

	server := vars.ServerURL
	if f.Server != "" {
		server = f.Server
	}
	token := vars.APIToken
	if f.Token != "" {
		token = f.Token
	}

	return client.New(server, token, vars.HTTPTimeout)
}

// Printf writes to the command's output, reporting write failures on
// stderr.
func Printf(cmd *cobra.Command, format string, args ...any) {
	printTo(cmd, cmd.OutOrStdout(), format, args...)
}

func printTo(cmd *cobra.Command, w io.Writer, format string, args ...any) {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
	}
}

package trigger

import (
	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/spf13/cobra"
)

var conn remote.Flags

// Cmd is the parent command for trigger definitions.
var Cmd = &cobra.Command{
	Use:     "trigger",
	Aliases: []string{"triggers"},
	Short:   "Manage automation trigger definitions",
}

func init() {
	conn.Register(Cmd)
}

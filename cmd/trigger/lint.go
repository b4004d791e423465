package trigger

import (
	"fmt"

	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/opsdesk/opsdesk/internal/action"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
	"github.com/spf13/cobra"
)

var lintPaths []string

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate trigger definition manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := schema.Load(lintPaths)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			remote.Printf(cmd, "No trigger definitions found.\n")
			return nil
		}

		templates := action.Default().Names()
		for _, def := range defs {
			if err := def.Validate(templates); err != nil {
				return fmt.Errorf("definition %s: %w", def.Metadata.Name, err)
			}
		}

		remote.Printf(cmd, "Validated %d trigger definition(s)\n", len(defs))
		return nil
	},
}

func init() {
	lintCmd.Flags().StringSliceVarP(&lintPaths, "path", "p", nil, "Paths to trigger definition files or directories (default: current directory)")
	Cmd.AddCommand(lintCmd)
}

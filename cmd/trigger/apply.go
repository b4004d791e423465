package trigger

import (
	"sort"
	"strings"

	"github.com/opsdesk/opsdesk/cmd/internal/remote"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
	"github.com/spf13/cobra"
)

var (
	applyPaths  []string
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply trigger definitions via the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := schema.Load(applyPaths)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			remote.Printf(cmd, "No trigger definitions found.\n")
			return nil
		}

		c, err := conn.Client()
		if err != nil {
			return err
		}

		out, err := c.ApplyTriggers(cmd.Context(), defs, applyDryRun)
		if err != nil {
			return err
		}

		if out.Plan != nil {
			printPlan(cmd, *out.Plan)
		}
		if out.Result != nil {
			remote.Printf(cmd, "Applied %d trigger definition(s): %d created, %d updated, %d unchanged\n",
				len(defs), len(out.Result.Created), len(out.Result.Updated), len(out.Result.Unchanged))
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringSliceVarP(&applyPaths, "path", "p", nil, "Paths to trigger definition files or directories (default: current directory)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show the changes without writing them")
	Cmd.AddCommand(applyCmd)
}

func printPlan(cmd *cobra.Command, plan ruledef.Plan) {
	if plan.Empty() {
		remote.Printf(cmd, "No changes detected.\n")
		return
	}

	section := func(title string, names []string) {
		if len(names) == 0 {
			return
		}
		sort.Strings(names)
		remote.Printf(cmd, "%s:\n", title)
		for _, name := range names {
			remote.Printf(cmd, "  - %s\n", name)
		}
	}

	section("Creates", plan.Creates)

	if len(plan.Updates) > 0 {
		remote.Printf(cmd, "Updates:\n")
		sort.Slice(plan.Updates, func(i, j int) bool { return plan.Updates[i].Name < plan.Updates[j].Name })
		for _, upd := range plan.Updates {
			remote.Printf(cmd, "  - %s\n%s\n", upd.Name, indent(upd.Diff, "    "))
		}
	}

	section("Untracked", plan.Untracked)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

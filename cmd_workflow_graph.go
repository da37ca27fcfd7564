package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/workflow"
)

func init() {
	var (
		argRef   string
		argEvent string
	)
	cmd := &cobra.Command{
		Use:   "graph [flags] WORKFLOW_FILE >OUT_DOTFILE",
		Short: "Write the job dependency graph as Graphviz DOT",
		Long: "Write the workflow's job graph to stdout in Graphviz DOT format.  " +
			"Jobs that would be skipped for the given event and ref are drawn " +
			"dashed.  Render it with something like:" +
			"\n\n" +
			"    cibuild workflow graph ci.yml | dot -Tsvg -o ci.svg",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0], flags.ErrOrStderr())
			if err != nil {
				return err
			}
			ev := workflow.Event{Kind: argEvent, Ref: argRef}
			p, err := plan.Compile(wf, ev, nil)
			if err != nil {
				return err
			}
			return p.WriteDOT(os.Stdout)
		},
	}
	cmd.Flags().StringVar(&argRef, "ref", "refs/heads/main",
		"Plan as if `REF` had been pushed or targeted")
	cmd.Flags().StringVar(&argEvent, "event", workflow.EventPush,
		"Plan as if `EVENT` had happened: push, pull_request, or manual")

	argparserWorkflow.AddCommand(cmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dgroup"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/datawire/cibuild/pkg/cliutil"
	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/runner"
	"github.com/datawire/cibuild/pkg/secrets"
	"github.com/datawire/cibuild/pkg/workflow"
)

// envFlag collects repeated KEY=VAL assignments.
type envFlag []string

var _ pflag.Value = (*envFlag)(nil)

func (f *envFlag) String() string { return strings.Join(*f, ",") }

func (f *envFlag) Set(val string) error {
	if !strings.Contains(val, "=") {
		return fmt.Errorf("not a KEY=VAL assignment: %q", val)
	}
	*f = append(*f, val)
	return nil
}

func (f *envFlag) Type() string { return "KEY=VAL" }

func init() {
	var (
		argRef         string
		argEvent       string
		argJobs        []string
		argEnv         envFlag
		argEnvFiles    []string
		argMaxParallel int
		argRunDir      string
		argNoFailFast  bool
		argDryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] WORKFLOW_FILE",
		Short: "Run a workflow locally",
		Long: "Load a workflow file, expand it for the given event and ref, and run " +
			"every triggered job on this machine.  Jobs run in dependency order, in " +
			"parallel where the graph allows; each matrix leg gets its own working " +
			"directory, virtualenv, and log file under the run directory." +
			"\n\n" +
			"The exit status is zero only if every leg succeeded or was skipped by " +
			"its condition.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0], flags.ErrOrStderr())
			if err != nil {
				return err
			}

			switch argEvent {
			case workflow.EventPush, workflow.EventPullRequest, workflow.EventManual:
			default:
				return fmt.Errorf("invalid --event %q (one of: push, pull_request, manual)", argEvent)
			}
			ev := workflow.Event{Kind: argEvent, Ref: argRef}
			if !wf.Triggers(ev) {
				return fmt.Errorf("workflow %q has no %s trigger matching %s", wf.Name, ev.Kind, ev.Ref)
			}

			p, err := plan.Compile(wf, ev, argJobs)
			if err != nil {
				return err
			}
			if argDryRun {
				return printPlan(flags.OutOrStdout(), p)
			}

			env, err := secrets.Resolve(os.Environ(), argEnvFiles, argEnv)
			if err != nil {
				return err
			}
			store, err := secrets.FromEnv(env, p.RequiredSecrets())
			if err != nil {
				return err
			}

			var res *runner.Result
			grp := dgroup.NewGroup(flags.Context(), dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("run", func(ctx context.Context) error {
				var err error
				res, err = runner.Run(ctx, p, runner.Options{
					RunDir:      argRunDir,
					MaxParallel: argMaxParallel,
					NoFailFast:  argNoFailFast,
					Env:         env,
					Secrets:     store,
				})
				return err
			})
			waitErr := grp.Wait()
			if res != nil {
				if err := printSummary(flags.OutOrStdout(), res); err != nil {
					return err
				}
			}
			if waitErr != nil {
				return waitErr
			}
			if !res.Success {
				counts := res.Counts()
				return fmt.Errorf("run %s failed: %d failed, %d canceled, %d skipped",
					res.RunID,
					counts[runner.StatusFailed],
					counts[runner.StatusCanceled],
					counts[runner.StatusSkipped])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argRef, "ref", "refs/heads/main",
		"Run as if `REF` had been pushed or targeted")
	cmd.Flags().StringVar(&argEvent, "event", workflow.EventPush,
		"Run as if `EVENT` had happened: push, pull_request, or manual")
	cmd.Flags().StringArrayVar(&argJobs, "job", nil,
		"Run only job `ID` plus whatever it needs; repeatable")
	cmd.Flags().Var(&argEnv, "env",
		"Set `KEY=VAL` in the environment of every step; repeatable")
	cmd.Flags().StringArrayVar(&argEnvFiles, "env-file", nil,
		"Load environment variables and secrets from `ENVFILE`; repeatable")
	cmd.Flags().IntVar(&argMaxParallel, "max-parallel", 0,
		"Run at most `N` legs at once; 0 means the number of CPUs")
	cmd.Flags().StringVar(&argRunDir, "run-dir", "",
		"Put logs, artifacts, and result.yaml under `DIR` instead of .cibuild/runs/<run-id>")
	cmd.Flags().BoolVar(&argNoFailFast, "no-fail-fast", false,
		"Let a job's remaining matrix legs finish when a sibling leg fails")
	cmd.Flags().BoolVar(&argDryRun, "dry-run", false,
		"Print the plan and run nothing")

	argparser.AddCommand(cmd)
}

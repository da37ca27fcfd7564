package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/runner"
	"github.com/datawire/cibuild/pkg/workflow"
)

// loadWorkflow reads and validates a workflow file, printing every diagnostic
// to errOut before failing.
func loadWorkflow(path string, errOut io.Writer) (*workflow.Workflow, error) {
	wf, err := workflow.Load(path)
	if err != nil {
		return nil, err
	}
	if errs := wf.Validate(); len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(errOut, "%s: %v\n", path, err)
		}
		return nil, fmt.Errorf("%s: invalid workflow", path)
	}
	return wf, nil
}

// printPlan writes a table of the plan's legs, in dependency order, with the
// status each leg would start in.
func printPlan(out io.Writer, p *plan.Plan) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "LEG\tPYTHON\tNEEDS\tSTATUS")
	for _, jobID := range p.Jobs() {
		needs := strings.Join(p.Needs(jobID), ",")
		if needs == "" {
			needs = "-"
		}
		for _, leg := range p.LegsOf(jobID) {
			python := leg.Python()
			if python == "" {
				python = "-"
			}
			status := string(runner.StatusPending)
			if leg.Skip {
				status = string(runner.StatusSkipped) + " (condition is false)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", leg.Name(), python, needs, status)
		}
	}
	return tw.Flush()
}

// printSummary writes a table of how each leg of a finished run ended up.
func printSummary(out io.Writer, res *runner.Result) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "LEG\tSTATUS\tDURATION\tREASON")
	for _, lr := range res.Legs {
		duration := lr.Duration
		if duration == "" {
			duration = "-"
		}
		reason := lr.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", lr.Leg, lr.Status, duration, reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\nresult: %s\n", filepath.Join(res.Dir, "result.yaml"))
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/datawire/cibuild/pkg/cliutil"
	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/runner"
	"github.com/datawire/cibuild/pkg/workflow"
)

func init() {
	var (
		argRef    string
		argEvent  string
		argOutput string
	)
	cmd := &cobra.Command{
		Use:   "jobs [flags] WORKFLOW_FILE",
		Short: "Show the jobs and matrix legs a run would consist of",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
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
			switch argOutput {
			case "text":
				return printPlan(flags.OutOrStdout(), p)
			case "yaml":
				out, err := yaml.Marshal(jobsDoc(p))
				if err != nil {
					return err
				}
				_, err = flags.OutOrStdout().Write(out)
				return err
			default:
				return fmt.Errorf("invalid --output format %q (one of: text, yaml)", argOutput)
			}
		},
	}
	cmd.Flags().StringVar(&argRef, "ref", "refs/heads/main",
		"Plan as if `REF` had been pushed or targeted")
	cmd.Flags().StringVar(&argEvent, "event", workflow.EventPush,
		"Plan as if `EVENT` had happened: push, pull_request, or manual")
	cmd.Flags().StringVarP(&argOutput, "output", "o", "text",
		"Write the plan as `FORMAT`: text or yaml")

	argparserWorkflow.AddCommand(cmd)
}

type yamlLeg struct {
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	Python string `yaml:"python,omitempty"`
	Status string `yaml:"status"`
	Reason string `yaml:"reason,omitempty"`
}

type yamlJob struct {
	ID    string    `yaml:"id"`
	Needs []string  `yaml:"needs,omitempty"`
	Legs  []yamlLeg `yaml:"legs"`
}

type yamlPlan struct {
	Workflow string    `yaml:"workflow"`
	Event    string    `yaml:"event"`
	Ref      string    `yaml:"ref,omitempty"`
	Secrets  []string  `yaml:"secrets,omitempty"`
	Jobs     []yamlJob `yaml:"jobs"`
}

func jobsDoc(p *plan.Plan) yamlPlan {
	doc := yamlPlan{
		Workflow: p.Workflow.Name,
		Event:    p.Event.Kind,
		Ref:      p.Event.Ref,
		Secrets:  p.RequiredSecrets(),
	}
	for _, jobID := range p.Jobs() {
		job := yamlJob{
			ID:    jobID,
			Needs: p.Needs(jobID),
		}
		for _, leg := range p.LegsOf(jobID) {
			yl := yamlLeg{
				Name:   leg.Name(),
				Dir:    leg.Dir(),
				Python: leg.Python(),
				Status: string(runner.StatusPending),
			}
			if leg.Skip {
				yl.Status = string(runner.StatusSkipped)
				yl.Reason = "condition is false"
			}
			job.Legs = append(job.Legs, yl)
		}
		doc.Jobs = append(doc.Jobs, job)
	}
	return doc
}

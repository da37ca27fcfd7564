// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package plan compiles a workflow and a run event into the concrete list of
// legs to execute and the dependency graph between the jobs that own them.
package plan

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/datawire/cibuild/pkg/expr"
	"github.com/datawire/cibuild/pkg/workflow"
)

// A Leg is one schedulable unit of work: a job, or one matrix combination of
// a job.
type Leg struct {
	JobID string
	Job   *workflow.Job
	// Values holds the leg's matrix values; empty for a matrix-less job.
	Values workflow.LegValues
	// Skip is set when the job's `if` condition evaluated to false at plan
	// time.  A skipped leg never runs, and counts as satisfied for
	// dependent jobs.
	Skip bool

	dir string
}

// Name returns the leg's display name: the job id, plus the parenthesized
// matrix values when there are any.
func (leg *Leg) Name() string {
	if len(leg.Values.Keys) == 0 {
		return leg.JobID
	}
	return fmt.Sprintf("%s (%s)", leg.JobID, leg.Values.Suffix())
}

// Dir returns a filesystem-safe name for the leg, unique within its plan.
func (leg *Leg) Dir() string {
	return leg.dir
}

// Python returns the leg's interpreter request, or "" for no interpreter.
func (leg *Leg) Python() string {
	return leg.Job.PythonFor(leg.Values.Values)
}

// A Plan is the compiled form of a workflow for one run: the included jobs in
// dependency order, their expanded legs, and the edges between them.
type Plan struct {
	Workflow *workflow.Workflow
	Event    workflow.Event

	jobOrder []string
	legs     []*Leg
	byJob    map[string][]*Leg
}

// Compile expands a workflow into a plan for the given event.  When 'only' is
// non-empty, the plan is restricted to the named jobs plus everything they
// transitively need.
//
// Job-level `if` conditions are evaluated here, against the run context and
// each leg's matrix values; environment variables are a run-time concern and
// are not in scope.  Legs whose condition is false are planned as skipped.
func Compile(wf *workflow.Workflow, ev workflow.Event, only []string) (*Plan, error) {
	include, err := selectJobs(wf, only)
	if err != nil {
		return nil, err
	}

	dag := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for jobID := range include {
		if err := dag.AddVertex(jobID); err != nil {
			return nil, fmt.Errorf("job %q: %w", jobID, err)
		}
	}
	for jobID := range include {
		for _, need := range wf.Jobs[jobID].Needs {
			err := dag.AddEdge(need, jobID)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
				// A duplicate `needs` entry is harmless.
			default:
				return nil, fmt.Errorf("job %q: needs %q: %w", jobID, need, err)
			}
		}
	}
	jobOrder, err := graph.StableTopologicalSort(dag, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Workflow: wf,
		Event:    ev,
		jobOrder: jobOrder,
		byJob:    make(map[string][]*Leg, len(jobOrder)),
	}
	seenDirs := make(map[string]int)
	for _, jobID := range jobOrder {
		job := wf.Jobs[jobID]
		var matrix *workflow.Matrix
		if job.Strategy != nil {
			matrix = job.Strategy.Matrix
		}
		for _, values := range matrix.Expand() {
			leg := &Leg{
				JobID:  jobID,
				Job:    job,
				Values: values,
			}
			if job.If != "" {
				scope := &expr.Scope{
					Ref:    ev.Ref,
					Event:  ev.Kind,
					Matrix: values.Values,
				}
				ok, err := expr.EvalBool(scope, job.If)
				if err != nil {
					return nil, fmt.Errorf("job %q: %w", jobID, err)
				}
				leg.Skip = !ok
			}
			leg.dir = uniqueDir(seenDirs, leg.Name())
			p.legs = append(p.legs, leg)
			p.byJob[jobID] = append(p.byJob[jobID], leg)
		}
	}
	return p, nil
}

// selectJobs resolves a job subset: the named jobs plus their transitive
// needs.  An empty subset selects every job.
func selectJobs(wf *workflow.Workflow, only []string) (map[string]bool, error) {
	include := make(map[string]bool, len(wf.Jobs))
	if len(only) == 0 {
		for jobID := range wf.Jobs {
			include[jobID] = true
		}
		return include, nil
	}
	var walk func(jobID string) error
	walk = func(jobID string) error {
		job, ok := wf.Jobs[jobID]
		if !ok {
			return fmt.Errorf("unknown job %q", jobID)
		}
		if include[jobID] {
			return nil
		}
		include[jobID] = true
		for _, need := range job.Needs {
			if err := walk(need); err != nil {
				return err
			}
		}
		return nil
	}
	for _, jobID := range only {
		if err := walk(jobID); err != nil {
			return nil, err
		}
	}
	return include, nil
}

// Jobs returns the included job ids, dependencies before dependents.
func (p *Plan) Jobs() []string {
	return p.jobOrder
}

// Legs returns every leg: jobs in dependency order, a job's legs in matrix
// order.
func (p *Plan) Legs() []*Leg {
	return p.legs
}

// LegsOf returns the legs of one job.
func (p *Plan) LegsOf(jobID string) []*Leg {
	return p.byJob[jobID]
}

// Needs returns the ids of the jobs that must finish before the given job
// starts.
func (p *Plan) Needs(jobID string) []string {
	return p.Workflow.Jobs[jobID].Needs
}

// RequiredSecrets returns the sorted union of the secret names declared by
// jobs that have at least one non-skipped leg.
func (p *Plan) RequiredSecrets() []string {
	set := make(map[string]bool)
	for _, leg := range p.legs {
		if leg.Skip {
			continue
		}
		for _, name := range leg.Job.Secrets {
			set[name] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//nolint:gochecknoglobals // Would be 'const'.
var reDirUnsafe = regexp.MustCompile(`[^A-Za-z0-9._=+-]+`)

func uniqueDir(seen map[string]int, name string) string {
	dir := strings.Trim(reDirUnsafe.ReplaceAllString(name, "_"), "_")
	if dir == "" {
		dir = "leg"
	}
	seen[dir]++
	if n := seen[dir]; n > 1 {
		dir = fmt.Sprintf("%s-%d", dir, n)
	}
	return dir
}

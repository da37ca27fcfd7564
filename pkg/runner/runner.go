// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package runner executes a compiled plan: legs run in parallel goroutines
// where the job graph allows, each with its own virtualenv and log file, with
// secret masking, coverage gating, and artifact capture.
package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/secrets"
)

// Options adjust a Run.
type Options struct {
	// RunDir is where logs, captured artifacts, and result.yaml land;
	// empty means .cibuild/runs/<run-id>.
	RunDir string
	// ProjectDir is the directory steps run in; empty means the current
	// directory.
	ProjectDir string
	// MaxParallel bounds how many legs run at once across the whole run;
	// zero means the number of CPUs.
	MaxParallel int
	// NoFailFast keeps a job's remaining legs running when a sibling leg
	// fails.  Dependency skipping is not affected.
	NoFailFast bool
	// Env is the base environment for steps (see secrets.Resolve); nil
	// means the process environment.
	Env map[string]string
	// Secrets supplies the values for jobs that declare secrets, and
	// drives output masking.
	Secrets *secrets.Store
}

type run struct {
	plan *plan.Plan
	opts Options
	id   string
	dir  string
	sem  *semaphore.Weighted

	mu      sync.Mutex
	results map[*plan.Leg]*LegResult

	jobs map[string]*jobRun
}

type jobRun struct {
	id   string
	legs []*plan.Leg
	done chan struct{}
	// blocked is written before done is closed and read only after.
	blocked bool
}

// errSiblingFailed is the cancellation cause used by fail-fast.
var errSiblingFailed = errors.New("a sibling leg failed")

// Run executes the plan.  The returned error covers engine failures only;
// legs failing is reported through Result.Success and the per-leg statuses.
func Run(ctx context.Context, p *plan.Plan, opts Options) (*Result, error) {
	if opts.Env == nil {
		env, err := secrets.Resolve(os.Environ(), nil, nil)
		if err != nil {
			return nil, err
		}
		opts.Env = env
	}
	r, err := newRun(p, opts)
	if err != nil {
		return nil, err
	}
	dlog.Infof(ctx, "run %s: %s: %d jobs, %d legs",
		r.id, p.Workflow.Name, len(p.Jobs()), len(p.Legs()))
	started := time.Now()

	grp := new(errgroup.Group)
	for _, jobID := range p.Jobs() {
		jr := r.jobs[jobID]
		grp.Go(func() error {
			return r.runJob(ctx, jr)
		})
	}
	err = grp.Wait()

	res := r.buildResult(started, time.Now())
	if err != nil {
		return res, err
	}
	if err := res.write(); err != nil {
		return res, err
	}
	counts := res.Counts()
	dlog.Infof(ctx, "run %s: done: %d succeeded, %d failed, %d skipped, %d canceled",
		r.id, counts[StatusSucceeded], counts[StatusFailed], counts[StatusSkipped], counts[StatusCanceled])
	return res, nil
}

func newRun(p *plan.Plan, opts Options) (*run, error) {
	id := newRunID()
	dir := opts.RunDir
	if dir == "" {
		dir = filepath.Join(".cibuild", "runs", id)
	}
	for _, sub := range []string{"logs", "work", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o777); err != nil {
			return nil, err
		}
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}
	r := &run{
		plan:    p,
		opts:    opts,
		id:      id,
		dir:     dir,
		sem:     semaphore.NewWeighted(int64(maxParallel)),
		results: make(map[*plan.Leg]*LegResult, len(p.Legs())),
		jobs:    make(map[string]*jobRun, len(p.Jobs())),
	}
	for _, leg := range p.Legs() {
		r.results[leg] = &LegResult{
			Job:    leg.JobID,
			Leg:    leg.Name(),
			Status: StatusPending,
		}
	}
	for _, jobID := range p.Jobs() {
		r.jobs[jobID] = &jobRun{
			id:   jobID,
			legs: p.LegsOf(jobID),
			done: make(chan struct{}),
		}
	}
	return r, nil
}

func newRunID() string {
	var suffix [2]byte
	_, _ = rand.Read(suffix[:])
	return time.Now().UTC().Format("20060102-150405") + "-" + hex.EncodeToString(suffix[:])
}

// runJob waits for the job's needs, then runs its legs.  A leg failing with
// fail-fast on cancels the job's other legs; whatever happens, dependents are
// told through the blocked flag.
func (r *run) runJob(ctx context.Context, jr *jobRun) error {
	defer close(jr.done)
	for _, need := range r.plan.Needs(jr.id) {
		needRun := r.jobs[need]
		select {
		case <-needRun.done:
		case <-ctx.Done():
			r.setAll(ctx, jr, StatusCanceled, "run canceled")
			jr.blocked = true
			return nil
		}
		if needRun.blocked {
			r.setAll(ctx, jr, StatusSkipped, fmt.Sprintf("dependency %q did not succeed", need))
			jr.blocked = true
			return nil
		}
	}

	job := r.plan.Workflow.Jobs[jr.id]
	failFast := job.Strategy.FailFastEnabled() && !r.opts.NoFailFast
	legCtx, cancelSiblings := context.WithCancelCause(ctx)
	defer cancelSiblings(nil)

	var jobSem *semaphore.Weighted
	if job.Strategy != nil && job.Strategy.MaxParallel > 0 {
		jobSem = semaphore.NewWeighted(int64(job.Strategy.MaxParallel))
	}

	grp := new(errgroup.Group)
	for _, leg := range jr.legs {
		leg := leg
		grp.Go(func() error {
			if leg.Skip {
				r.setStatus(ctx, leg, StatusSkipped, "condition is false")
				return nil
			}
			if jobSem != nil {
				if err := jobSem.Acquire(legCtx, 1); err != nil {
					r.setStatus(ctx, leg, StatusCanceled, cancelReason(legCtx))
					return nil
				}
				defer jobSem.Release(1)
			}
			if err := r.sem.Acquire(legCtx, 1); err != nil {
				r.setStatus(ctx, leg, StatusCanceled, cancelReason(legCtx))
				return nil
			}
			defer r.sem.Release(1)
			if !r.runLeg(legCtx, leg) && failFast {
				cancelSiblings(errSiblingFailed)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	for _, leg := range jr.legs {
		if st := r.status(leg); st != StatusSucceeded && st != StatusSkipped {
			jr.blocked = true
		}
	}
	return nil
}

func cancelReason(ctx context.Context) string {
	if cause := context.Cause(ctx); errors.Is(cause, errSiblingFailed) {
		return errSiblingFailed.Error()
	}
	return "run canceled"
}

func (r *run) status(leg *plan.Leg) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[leg].Status
}

func (r *run) setStatus(ctx context.Context, leg *plan.Leg, st Status, reason string) {
	r.mu.Lock()
	lr := r.results[leg]
	lr.Status = st
	lr.Reason = reason
	switch st {
	case StatusRunning:
		lr.started = time.Now()
	case StatusSucceeded, StatusFailed, StatusCanceled:
		if !lr.started.IsZero() {
			lr.Duration = time.Since(lr.started).Round(time.Millisecond).String()
		}
	}
	r.mu.Unlock()

	msg := string(st)
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", st, reason)
	}
	if st == StatusFailed {
		dlog.Errorf(ctx, "%s: %s", leg.Name(), msg)
	} else {
		dlog.Infof(ctx, "%s: %s", leg.Name(), msg)
	}
}

func (r *run) setAll(ctx context.Context, jr *jobRun, st Status, reason string) {
	for _, leg := range jr.legs {
		r.setStatus(ctx, leg, st, reason)
	}
}

func (r *run) buildResult(started, finished time.Time) *Result {
	res := &Result{
		Workflow: r.plan.Workflow.Name,
		RunID:    r.id,
		Event:    r.plan.Event.Kind,
		Ref:      r.plan.Event.Ref,
		Started:  started.UTC(),
		Finished: finished.UTC(),
		Success:  true,
		Dir:      r.dir,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, leg := range r.plan.Legs() {
		lr := r.results[leg]
		res.Legs = append(res.Legs, lr)
		if lr.Status != StatusSucceeded && lr.Status != StatusSkipped {
			res.Success = false
		}
	}
	return res
}

// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/cibuild/pkg/artifact"
	"github.com/datawire/cibuild/pkg/cobertura"
	"github.com/datawire/cibuild/pkg/expr"
	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/python/pyenv"
	"github.com/datawire/cibuild/pkg/workflow"
)

// legState carries what every stage of a leg needs: the expansion scope, the
// assembled environment (scope.Env aliases it), the venv interpreter, and the
// masked log writer.
type legState struct {
	leg       *plan.Leg
	scope     *expr.Scope
	env       map[string]string
	pythonExe string
	out       io.Writer
}

// runLeg drives one leg start to finish and reports whether it succeeded.
func (r *run) runLeg(ctx context.Context, leg *plan.Leg) bool {
	r.setStatus(ctx, leg, StatusRunning, "")

	legCtx := ctx
	if leg.Job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		legCtx, cancel = context.WithTimeout(ctx, time.Duration(leg.Job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	err := r.execLeg(legCtx, leg)
	switch {
	case err == nil:
		r.setStatus(ctx, leg, StatusSucceeded, "")
		return true
	case legCtx.Err() != nil && ctx.Err() == nil:
		r.setStatus(ctx, leg, StatusFailed,
			fmt.Sprintf("timed out after %dm", leg.Job.TimeoutMinutes))
		return false
	case ctx.Err() != nil:
		r.setStatus(ctx, leg, StatusCanceled, cancelReason(ctx))
		return false
	default:
		r.setStatus(ctx, leg, StatusFailed, err.Error())
		return false
	}
}

// execLeg does the leg's actual work: virtualenv, environment assembly,
// steps, the coverage gate, artifact capture.  The returned error is the
// leg's failure reason.
func (r *run) execLeg(ctx context.Context, leg *plan.Leg) (err error) {
	workDir := filepath.Join(r.dir, "work", leg.Dir())
	if err := os.MkdirAll(workDir, 0o777); err != nil {
		return err
	}
	logPath := filepath.Join("logs", leg.Dir()+".log")
	logFile, err := os.Create(filepath.Join(r.dir, logPath))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.results[leg].Log = logPath
	r.mu.Unlock()
	out := r.opts.Secrets.Masker(logFile)
	defer func() {
		maybeSetErr(&err, out.Close())
		maybeSetErr(&err, logFile.Close())
	}()

	env := make(map[string]string, len(r.opts.Env)+8)
	for key, val := range r.opts.Env {
		env[key] = val
	}
	env["CIBUILD_EVENT"] = r.plan.Event.Kind
	env["CIBUILD_REF"] = r.plan.Event.Ref
	env["CIBUILD_REF_NAME"] = expr.RefName(r.plan.Event.Ref)
	env["CIBUILD_JOB"] = leg.JobID
	env["CIBUILD_RUN_ID"] = r.id

	var pythonExe string
	if request := leg.Python(); request != "" {
		interp, err := pyenv.Find(ctx, request)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "using %s (Python %s)\n", interp.Exe, interp.Version.String())
		venv, err := pyenv.NewVenv(ctx, interp, filepath.Join(workDir, "venv"))
		if err != nil {
			return err
		}
		env = venv.Environ(env)
		pythonExe = venv.Python
	}

	st := &legState{
		leg: leg,
		scope: &expr.Scope{
			Ref:    r.plan.Event.Ref,
			Event:  r.plan.Event.Kind,
			Matrix: leg.Values.Values,
			Env:    env,
		},
		env:       env,
		pythonExe: pythonExe,
		out:       out,
	}
	if err := layerEnv(st.scope, env, r.plan.Workflow.Env); err != nil {
		return err
	}
	if err := layerEnv(st.scope, env, leg.Job.Env); err != nil {
		return err
	}
	for _, name := range leg.Job.Secrets {
		if val, ok := r.opts.Secrets.Get(name); ok {
			env[name] = val
		}
	}

	for i, step := range leg.Job.Steps {
		if err := r.runStep(ctx, st, i, step); err != nil {
			return err
		}
	}
	if err := r.checkCoverage(ctx, st); err != nil {
		return err
	}
	return r.captureArtifacts(ctx, st)
}

func (r *run) runStep(ctx context.Context, st *legState, i int, step workflow.Step) error {
	title := step.Name
	if title == "" {
		title = fmt.Sprintf("step %d", i+1)
	}

	stepEnv := st.env
	stepScope := st.scope
	if len(step.Env) > 0 {
		stepEnv = make(map[string]string, len(st.env)+len(step.Env))
		for key, val := range st.env {
			stepEnv[key] = val
		}
		stepScope = &expr.Scope{
			Ref:    st.scope.Ref,
			Event:  st.scope.Event,
			Matrix: st.scope.Matrix,
			Env:    stepEnv,
		}
		if err := layerEnv(stepScope, stepEnv, step.Env); err != nil {
			return fmt.Errorf("%s: %w", title, err)
		}
		// Secrets outrank step env.
		for _, name := range st.leg.Job.Secrets {
			if val, ok := r.opts.Secrets.Get(name); ok {
				stepEnv[name] = val
			}
		}
	}

	if step.If != "" {
		ok, err := expr.EvalBool(stepScope, step.If)
		if err != nil {
			return fmt.Errorf("%s: %w", title, err)
		}
		if !ok {
			fmt.Fprintf(st.out, "=== %s (skipped: condition is false)\n", title)
			dlog.Infof(ctx, "%s: %s: skipped (condition is false)", st.leg.Name(), title)
			return nil
		}
	}

	script, err := expr.Expand(stepScope, step.Run)
	if err != nil {
		return fmt.Errorf("%s: %w", title, err)
	}
	argv, err := shellArgv(step.Shell, script, st.pythonExe)
	if err != nil {
		return fmt.Errorf("%s: %w", title, err)
	}

	fmt.Fprintf(st.out, "=== %s\n", title)
	for _, line := range strings.Split(strings.TrimRight(script, "\n"), "\n") {
		fmt.Fprintf(st.out, "+ %s\n", line)
	}

	dir := r.opts.ProjectDir
	if step.WorkingDirectory != "" {
		wd, err := expr.Expand(stepScope, step.WorkingDirectory)
		if err != nil {
			return fmt.Errorf("%s: %w", title, err)
		}
		dir = filepath.Join(dir, wd)
	}

	cmd := dexec.CommandContext(ctx, argv[0], argv[1:]...)
	// The script text and its output can embed secret values; both go to
	// the masked leg log only.
	cmd.DisableLogging = true
	cmd.Dir = dir
	cmd.Env = envSlice(stepEnv)
	cmd.Stdout = st.out
	cmd.Stderr = st.out
	dlog.Infof(ctx, "%s: %s", st.leg.Name(), title)
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(st.out, "%s: %v\n", title, err)
		return fmt.Errorf("%s: %w", title, err)
	}
	return nil
}

func (r *run) checkCoverage(ctx context.Context, st *legState) error {
	gate := st.leg.Job.Coverage
	if gate == nil {
		return nil
	}
	minStr, err := expr.Expand(st.scope, string(gate.Min))
	if err != nil {
		return fmt.Errorf("coverage: min: %w", err)
	}
	minPct, err := cobertura.ParsePercent(minStr)
	if err != nil {
		return fmt.Errorf("coverage: min: %w", err)
	}
	reportPath, err := expr.Expand(st.scope, gate.Report)
	if err != nil {
		return fmt.Errorf("coverage: report: %w", err)
	}
	report, err := cobertura.Load(filepath.Join(r.opts.ProjectDir, reportPath))
	if err != nil {
		return fmt.Errorf("coverage: %w", err)
	}
	if err := report.Check(minPct); err != nil {
		fmt.Fprintf(st.out, "%v\n", err)
		return err
	}
	fmt.Fprintf(st.out, "coverage %.2f%% meets the %.2f%% minimum\n", report.Percent(), minPct)
	dlog.Infof(ctx, "%s: coverage %.2f%% (minimum %.2f%%)", st.leg.Name(), report.Percent(), minPct)
	return nil
}

func (r *run) captureArtifacts(ctx context.Context, st *legState) error {
	if len(st.leg.Job.Artifacts) == 0 {
		return nil
	}
	legDir := st.leg.Dir()
	if err := os.MkdirAll(filepath.Join(r.dir, "artifacts", legDir), 0o777); err != nil {
		return err
	}
	clamp := artifact.ClampTime()
	for i, pat := range st.leg.Job.Artifacts {
		src, err := expr.Expand(st.scope, pat)
		if err != nil {
			return fmt.Errorf("artifact %q: %w", pat, err)
		}
		layer, err := artifact.FromPath(
			filepath.Join(r.opts.ProjectDir, src),
			path.Join("artifacts", legDir, filepath.Base(src)),
			clamp)
		if err != nil {
			return fmt.Errorf("artifact %q: %w", src, err)
		}
		rel := filepath.Join("artifacts", legDir, fmt.Sprintf("%d.layer.tar", i))
		if err := artifact.WriteLayer(layer, filepath.Join(r.dir, rel)); err != nil {
			return fmt.Errorf("artifact %q: %w", src, err)
		}
		r.mu.Lock()
		r.results[st.leg].Artifacts = append(r.results[st.leg].Artifacts, rel)
		r.mu.Unlock()
		fmt.Fprintf(st.out, "captured artifact %s as %s\n", src, rel)
		dlog.Infof(ctx, "%s: captured artifact %s", st.leg.Name(), src)
	}
	return nil
}

// layerEnv expands one env mapping onto env in sorted key order; scope.Env
// must alias env so that later layers and steps see earlier values.
func layerEnv(scope *expr.Scope, env map[string]string, layer workflow.EnvMap) error {
	keys := make([]string, 0, len(layer))
	for key := range layer {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		val, err := expr.Expand(scope, string(layer[key]))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		env[key] = val
	}
	return nil
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ret := make([]string, 0, len(keys))
	for _, key := range keys {
		ret = append(ret, key+"="+env[key])
	}
	return ret
}

func shellArgv(shell, script, pythonExe string) ([]string, error) {
	switch shell {
	case "", "bash":
		return []string{"bash", "-euo", "pipefail", "-c", script}, nil
	case "sh":
		return []string{"sh", "-eu", "-c", script}, nil
	case "python":
		exe := pythonExe
		if exe == "" {
			exe = "python3"
		}
		return []string{exe, "-c", script}, nil
	default:
		return nil, fmt.Errorf("unknown shell %q", shell)
	}
}

func maybeSetErr(dst *error, src error) {
	if src != nil && *dst == nil {
		*dst = src
	}
}

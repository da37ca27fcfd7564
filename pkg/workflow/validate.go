package workflow

import (
	"fmt"
	"path"
	"regexp"
	"sort"

	"github.com/datawire/cibuild/pkg/expr"
	"github.com/datawire/cibuild/pkg/python/pep440"
)

//nolint:gochecknoglobals // Would be 'const'.
var (
	reJobID   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	reDimName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reEnvName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// JobIDs returns the workflow's job IDs, sorted.
func (wf *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(wf.Jobs))
	for id := range wf.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the workflow for structural problems: bad identifiers,
// dangling or self `needs`, stepless jobs, unparseable conditions and
// interpolations, bad matrices, incomplete coverage gates, undeclared
// secrets.  It reports every problem it finds rather than stopping at the
// first, and never mutates the workflow.
func (wf *Workflow) Validate() []error {
	var errs []error
	complain := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(wf.Jobs) == 0 {
		complain("workflow has no jobs")
	}

	if wf.On != nil {
		checkPatterns := func(what string, patterns []string) {
			for _, pattern := range patterns {
				if _, err := path.Match(pattern, ""); err != nil {
					complain("on.%s: bad pattern %q", what, pattern)
				}
			}
		}
		if wf.On.Push != nil {
			checkPatterns("push.branches", wf.On.Push.Branches)
			checkPatterns("push.tags", wf.On.Push.Tags)
		}
		if wf.On.PullRequest != nil {
			checkPatterns("pull_request.branches", wf.On.PullRequest.Branches)
		}
	}

	checkEnv := func(where string, env EnvMap) {
		for _, name := range sortedEnvKeys(env) {
			if !reEnvName.MatchString(name) {
				complain("%s: %q is not a valid environment variable name", where, name)
			}
			if err := expr.ValidateTemplate(string(env[name])); err != nil {
				complain("%s: %s: %v", where, name, err)
			}
		}
	}
	checkEnv("env", wf.Env)

	declaredSecrets := make(map[string]bool, len(wf.Secrets))
	for _, name := range wf.Secrets {
		if !reEnvName.MatchString(name) {
			complain("secrets: %q is not a valid environment variable name", name)
		}
		declaredSecrets[name] = true
	}

	for _, jobID := range wf.JobIDs() {
		job := wf.Jobs[jobID]
		if !reJobID.MatchString(jobID) {
			complain("job %q: invalid job id", jobID)
		}
		if job == nil {
			complain("job %q: empty job", jobID)
			continue
		}

		for _, need := range job.Needs {
			switch {
			case need == jobID:
				complain("job %q: needs itself", jobID)
			default:
				if _, ok := wf.Jobs[need]; !ok {
					complain("job %q: needs unknown job %q", jobID, need)
				}
			}
		}

		if err := expr.Validate(job.If); err != nil {
			complain("job %q: if: %v", jobID, err)
		}
		if job.Python != "" {
			if _, err := pep440.ParseVersion(job.Python); err != nil {
				complain("job %q: python: %v", jobID, err)
			}
		}
		checkEnv(fmt.Sprintf("job %q: env", jobID), job.Env)

		if job.Strategy != nil {
			if job.Strategy.MaxParallel < 0 {
				complain("job %q: strategy: negative max-parallel", jobID)
			}
			wf.validateMatrix(jobID, job.Strategy.Matrix, complain)
		}

		if len(job.Steps) == 0 {
			complain("job %q: no steps", jobID)
		}
		for i, step := range job.Steps {
			stepName := fmt.Sprintf("job %q: step %d", jobID, i+1)
			if step.Name != "" {
				stepName = fmt.Sprintf("job %q: step %q", jobID, step.Name)
			}
			if step.Run == "" {
				complain("%s: missing run", stepName)
			} else if err := expr.ValidateTemplate(step.Run); err != nil {
				complain("%s: run: %v", stepName, err)
			}
			switch step.Shell {
			case "", "bash", "sh", "python":
			default:
				complain("%s: unknown shell %q", stepName, step.Shell)
			}
			if err := expr.Validate(step.If); err != nil {
				complain("%s: if: %v", stepName, err)
			}
			checkEnv(stepName+": env", step.Env)
		}

		if job.Coverage != nil {
			if job.Coverage.Report == "" {
				complain("job %q: coverage: missing report path", jobID)
			}
			if job.Coverage.Min == "" {
				complain("job %q: coverage: missing min", jobID)
			} else if err := expr.ValidateTemplate(string(job.Coverage.Min)); err != nil {
				complain("job %q: coverage: min: %v", jobID, err)
			}
		}

		for _, name := range job.Secrets {
			if !declaredSecrets[name] {
				complain("job %q: secret %q is not declared in the workflow secrets list",
					jobID, name)
			}
		}

		for _, artifact := range job.Artifacts {
			if err := expr.ValidateTemplate(artifact); err != nil {
				complain("job %q: artifacts: %v", jobID, err)
			}
		}

		if job.TimeoutMinutes < 0 {
			complain("job %q: negative timeout-minutes", jobID)
		}
	}

	return errs
}

func (wf *Workflow) validateMatrix(jobID string, m *Matrix, complain func(string, ...interface{})) {
	if m == nil {
		return
	}
	dims := make(map[string]bool, len(m.Dimensions))
	for _, dim := range m.Dimensions {
		if !reDimName.MatchString(dim.Name) {
			complain("job %q: matrix: invalid dimension name %q", jobID, dim.Name)
		}
		if len(dim.Values) == 0 {
			complain("job %q: matrix %q: no values", jobID, dim.Name)
		}
		if dim.Name == "python" {
			for _, val := range dim.Values {
				if _, err := pep440.ParseVersion(string(val)); err != nil {
					complain("job %q: matrix python: %v", jobID, err)
				}
			}
		}
		dims[dim.Name] = true
	}
	for i, entry := range m.Exclude {
		for _, key := range sortedKeys(entry) {
			if !dims[key] {
				complain("job %q: matrix exclude[%d]: unknown dimension %q", jobID, i, key)
			}
		}
	}
	for i, entry := range m.Include {
		for _, key := range sortedKeys(entry) {
			if !reDimName.MatchString(key) {
				complain("job %q: matrix include[%d]: invalid name %q", jobID, i, key)
			}
		}
	}
	if len(m.Expand()) == 0 {
		complain("job %q: matrix expands to zero legs", jobID)
	}
}

func sortedEnvKeys(m EnvMap) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package runner_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/datawire/cibuild/pkg/artifact"
	"github.com/datawire/cibuild/pkg/plan"
	"github.com/datawire/cibuild/pkg/runner"
	"github.com/datawire/cibuild/pkg/secrets"
	"github.com/datawire/cibuild/pkg/workflow"
)

func needsExe(t *testing.T, exe string) {
	t.Helper()
	if _, err := dexec.LookPath(exe); err != nil {
		t.SkipNow()
	}
}

func compileWorkflow(t *testing.T, yamlStr string, ev workflow.Event) *plan.Plan {
	t.Helper()
	wf, err := workflow.Parse([]byte(yamlStr))
	require.NoError(t, err)
	require.Empty(t, wf.Validate())
	p, err := plan.Compile(wf, ev, nil)
	require.NoError(t, err)
	return p
}

func legResult(t *testing.T, res *runner.Result, name string) *runner.LegResult {
	t.Helper()
	for _, lr := range res.Legs {
		if lr.Leg == name {
			return lr
		}
	}
	t.Fatalf("no leg %q in result", name)
	return nil
}

//nolint:gochecknoglobals // Would be 'const'.
var pushMain = workflow.Event{Kind: workflow.EventPush, Ref: "refs/heads/main"}

func TestRunOrder(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()
	runDir := filepath.Join(t.TempDir(), "run")

	p := compileWorkflow(t, `
name: order
jobs:
  a:
    steps:
      - run: echo one > out.txt
  b:
    needs: a
    steps:
      - run: cat out.txt > two.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{RunDir: runDir, ProjectDir: proj})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, runDir, res.Dir)

	body, err := os.ReadFile(filepath.Join(proj, "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(body))

	lrA := legResult(t, res, "a")
	assert.Equal(t, runner.StatusSucceeded, lrA.Status)
	assert.Equal(t, filepath.Join("logs", "a.log"), lrA.Log)
	logBody, err := os.ReadFile(filepath.Join(runDir, lrA.Log))
	require.NoError(t, err)
	assert.Contains(t, string(logBody), "=== step 1")
	assert.Contains(t, string(logBody), "+ echo one > out.txt")

	// result.yaml round-trips
	resultBody, err := os.ReadFile(filepath.Join(runDir, "result.yaml"))
	require.NoError(t, err)
	var reread runner.Result
	require.NoError(t, yaml.Unmarshal(resultBody, &reread))
	assert.Equal(t, "order", reread.Workflow)
	assert.True(t, reread.Success)
	require.Len(t, reread.Legs, 2)
	assert.Equal(t, res.RunID, reread.RunID)
}

func TestRunFailureSkipsDependents(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, false)
	proj := t.TempDir()

	p := compileWorkflow(t, `
jobs:
  a:
    steps:
      - run: exit 1
  b:
    needs: a
    steps:
      - run: echo unreachable > should-not-exist.txt
  c:
    steps:
      - run: echo fine > c.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     filepath.Join(t.TempDir(), "run"),
		ProjectDir: proj,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	lrA := legResult(t, res, "a")
	assert.Equal(t, runner.StatusFailed, lrA.Status)
	assert.Contains(t, lrA.Reason, "step 1")

	lrB := legResult(t, res, "b")
	assert.Equal(t, runner.StatusSkipped, lrB.Status)
	assert.Contains(t, lrB.Reason, `dependency "a"`)
	assert.NoFileExists(t, filepath.Join(proj, "should-not-exist.txt"))

	assert.Equal(t, runner.StatusSucceeded, legResult(t, res, "c").Status)
	assert.FileExists(t, filepath.Join(proj, "c.txt"))
}

func TestRunConditionSkipSatisfiesDependents(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()

	p := compileWorkflow(t, `
jobs:
  gated:
    if: event == "push" && startswith(ref, "refs/tags/")
    steps:
      - run: echo deploy > deploy.txt
  after:
    needs: gated
    steps:
      - run: echo after > after.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     filepath.Join(t.TempDir(), "run"),
		ProjectDir: proj,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	lrGated := legResult(t, res, "gated")
	assert.Equal(t, runner.StatusSkipped, lrGated.Status)
	assert.Equal(t, "condition is false", lrGated.Reason)
	assert.NoFileExists(t, filepath.Join(proj, "deploy.txt"))

	assert.Equal(t, runner.StatusSucceeded, legResult(t, res, "after").Status)
	assert.FileExists(t, filepath.Join(proj, "after.txt"))
}

func TestRunEnvAndConditions(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()
	runDir := filepath.Join(t.TempDir(), "run")

	p := compileWorkflow(t, `
env:
  GREETING: hello
jobs:
  j:
    env:
      WHO: world
    steps:
      - name: write
        run: printf '%s' "${{ env.GREETING }}-${{ env.WHO }}" > msg.txt
      - name: never
        if: event == "pull_request"
        run: echo nope > nope.txt
      - name: vars
        run: printf '%s' "$CIBUILD_JOB/$CIBUILD_EVENT/$CIBUILD_REF_NAME" > vars.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{RunDir: runDir, ProjectDir: proj})
	require.NoError(t, err)
	require.True(t, res.Success)

	body, err := os.ReadFile(filepath.Join(proj, "msg.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello-world", string(body))

	assert.NoFileExists(t, filepath.Join(proj, "nope.txt"))
	logBody, err := os.ReadFile(filepath.Join(runDir, legResult(t, res, "j").Log))
	require.NoError(t, err)
	assert.Contains(t, string(logBody), "never (skipped: condition is false)")

	body, err = os.ReadFile(filepath.Join(proj, "vars.txt"))
	require.NoError(t, err)
	assert.Equal(t, "j/push/main", string(body))
}

func TestRunSecretsMasked(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()
	runDir := filepath.Join(t.TempDir(), "run")

	store, err := secrets.FromEnv(map[string]string{"TOKEN": "hunter2-very-secret"}, []string{"TOKEN"})
	require.NoError(t, err)

	p := compileWorkflow(t, `
secrets: [TOKEN]
jobs:
  publish:
    secrets: [TOKEN]
    steps:
      - run: echo "token is $TOKEN"
  quiet:
    steps:
      - run: printf '%s' "${TOKEN:-unset}" > leak.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     runDir,
		ProjectDir: proj,
		Env:        map[string]string{"PATH": os.Getenv("PATH")},
		Secrets:    store,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	logBody, err := os.ReadFile(filepath.Join(runDir, legResult(t, res, "publish").Log))
	require.NoError(t, err)
	assert.Contains(t, string(logBody), "token is ***")
	assert.NotContains(t, string(logBody), "hunter2-very-secret")

	// the secret is only injected into jobs that declare it
	body, err := os.ReadFile(filepath.Join(proj, "leak.txt"))
	require.NoError(t, err)
	assert.Equal(t, "unset", string(body))
}

func TestRunCoverageGate(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, false)
	proj := t.TempDir()

	p := compileWorkflow(t, `
env:
  MIN_COVERAGE: "90"
jobs:
  good:
    coverage:
      report: good.xml
      min: "50"
    steps:
      - run: printf '%s' '<coverage line-rate="0.75" lines-valid="4" lines-covered="3"></coverage>' > good.xml
  bad:
    coverage:
      report: bad.xml
      min: ${{ env.MIN_COVERAGE }}
    steps:
      - run: printf '%s' '<coverage line-rate="0.5" lines-valid="4" lines-covered="2"></coverage>' > bad.xml
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     filepath.Join(t.TempDir(), "run"),
		ProjectDir: proj,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, runner.StatusSucceeded, legResult(t, res, "good").Status)

	lrBad := legResult(t, res, "bad")
	assert.Equal(t, runner.StatusFailed, lrBad.Status)
	assert.Contains(t, lrBad.Reason, "below the required 90.00%")
}

func TestRunArtifacts(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, false)
	proj := t.TempDir()
	runDir := filepath.Join(t.TempDir(), "run")

	p := compileWorkflow(t, `
jobs:
  build:
    artifacts: [dist]
    steps:
      - run: mkdir -p dist && echo wheel > dist/pkg.whl
  broken:
    artifacts: [nope]
    steps:
      - run: "true"
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{RunDir: runDir, ProjectDir: proj})
	require.NoError(t, err)
	assert.False(t, res.Success)

	lrBuild := legResult(t, res, "build")
	require.Equal(t, runner.StatusSucceeded, lrBuild.Status)
	require.Equal(t, []string{filepath.Join("artifacts", "build", "0.layer.tar")}, lrBuild.Artifacts)

	layer, err := artifact.OpenLayer(filepath.Join(runDir, lrBuild.Artifacts[0]))
	require.NoError(t, err)
	var listing bytes.Buffer
	require.NoError(t, artifact.Listing(&listing, layer))
	assert.Contains(t, listing.String(), "artifacts/build/dist/pkg.whl")

	lrBroken := legResult(t, res, "broken")
	assert.Equal(t, runner.StatusFailed, lrBroken.Status)
	assert.Contains(t, lrBroken.Reason, "nope")
}

func TestRunNoFailFast(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	ctx := dlog.NewTestContext(t, false)

	p := compileWorkflow(t, `
jobs:
  m:
    strategy:
      matrix:
        v: ["1", "2"]
    steps:
      - run: test "${{ matrix.v }}" != "1"
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     filepath.Join(t.TempDir(), "run"),
		ProjectDir: t.TempDir(),
		NoFailFast: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, runner.StatusFailed, legResult(t, res, "m (1)").Status)
	assert.Equal(t, runner.StatusSucceeded, legResult(t, res, "m (2)").Status)
}

func TestRunFailFastCancelsSiblings(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	needsExe(t, "sleep")
	ctx := dlog.NewTestContext(t, false)

	p := compileWorkflow(t, `
jobs:
  m:
    strategy:
      matrix:
        v: ["1", "2"]
    steps:
      - run: test "${{ matrix.v }}" != "1" || exit 1; sleep 30
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:      filepath.Join(t.TempDir(), "run"),
		ProjectDir:  t.TempDir(),
		MaxParallel: 2,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, runner.StatusFailed, legResult(t, res, "m (1)").Status)

	lr2 := legResult(t, res, "m (2)")
	assert.Equal(t, runner.StatusCanceled, lr2.Status)
	assert.Equal(t, "a sibling leg failed", lr2.Reason)
}

func TestRunShells(t *testing.T) {
	t.Parallel()
	needsExe(t, "sh")
	needsExe(t, "python3")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()

	p := compileWorkflow(t, `
jobs:
  j:
    steps:
      - shell: sh
        run: printf '%s' fromsh > sh.txt
      - shell: python
        run: open("py.txt", "w").write("frompy")
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:     filepath.Join(t.TempDir(), "run"),
		ProjectDir: proj,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	body, err := os.ReadFile(filepath.Join(proj, "sh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fromsh", string(body))
	body, err = os.ReadFile(filepath.Join(proj, "py.txt"))
	require.NoError(t, err)
	assert.Equal(t, "frompy", string(body))
}

func TestRunMaxParallelSerializes(t *testing.T) {
	t.Parallel()
	needsExe(t, "bash")
	needsExe(t, "sleep")
	ctx := dlog.NewTestContext(t, true)
	proj := t.TempDir()

	p := compileWorkflow(t, `
jobs:
  p:
    steps:
      - run: echo p-start >> seq.txt; sleep 0.2; echo p-end >> seq.txt
  q:
    steps:
      - run: echo q-start >> seq.txt; sleep 0.2; echo q-end >> seq.txt
`, pushMain)
	res, err := runner.Run(ctx, p, runner.Options{
		RunDir:      filepath.Join(t.TempDir(), "run"),
		ProjectDir:  proj,
		MaxParallel: 1,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	body, err := os.ReadFile(filepath.Join(proj, "seq.txt"))
	require.NoError(t, err)
	got := string(body)
	if got != "p-start\np-end\nq-start\nq-end\n" && got != "q-start\nq-end\np-start\np-end\n" {
		t.Fatalf("legs interleaved:\n%s", got)
	}
}

package pyenv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/cibuild/pkg/python/pep440"
	"github.com/datawire/cibuild/pkg/python/pyenv"
)

func version(t *testing.T, str string) pep440.Version {
	t.Helper()
	ver, err := pep440.ParseVersion(str)
	require.NoError(t, err)
	return *ver
}

func TestMatches(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Ver     string
		Request string
		Out     bool
	}
	testcases := map[string]TestCase{
		"series":            {Ver: "3.11.4", Request: "3.11", Out: true},
		"series-miss":       {Ver: "3.10.12", Request: "3.11", Out: false},
		"major-only":        {Ver: "3.11.4", Request: "3", Out: true},
		"exact":             {Ver: "3.9.18", Request: "3.9.18", Out: true},
		"exact-miss":        {Ver: "3.9.12", Request: "3.9.18", Out: false},
		"request-too-deep":  {Ver: "3.9", Request: "3.9.18", Out: false},
		"prerelease-series": {Ver: "3.13.0rc1", Request: "3.13", Out: true},
		"bad-request":       {Ver: "3.11.4", Request: "not-a-version", Out: false},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Out, pyenv.Matches(version(t, tc.Ver), tc.Request))
		})
	}
}

func TestFindNotFound(t *testing.T) {
	// t.Setenv is incompatible with t.Parallel.
	t.Setenv("PATH", t.TempDir())
	ctx := context.Background()

	interp, err := pyenv.Find(ctx, "3.11")
	assert.Nil(t, interp)
	var notFound *pyenv.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "3.11", notFound.Request)
	assert.Contains(t, err.Error(), `"3.11"`)
}

func TestFindBadRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	interp, err := pyenv.Find(ctx, "elephant")
	assert.Nil(t, interp)
	assert.Error(t, err)
	var notFound *pyenv.NotFoundError
	assert.False(t, errors.As(err, &notFound))
}

func TestVenvEnviron(t *testing.T) {
	t.Parallel()
	venv := &pyenv.Venv{
		Dir:    "/work/leg/venv",
		Bin:    "/work/leg/venv/bin",
		Python: "/work/leg/venv/bin/python",
	}

	env := venv.Environ(map[string]string{
		"PATH":       "/usr/local/bin:/usr/bin",
		"HOME":       "/home/user",
		"PYTHONHOME": "/opt/python",
	})
	assert.Equal(t, "/work/leg/venv/bin:/usr/local/bin:/usr/bin", env["PATH"])
	assert.Equal(t, "/work/leg/venv", env["VIRTUAL_ENV"])
	assert.Equal(t, "/home/user", env["HOME"])
	_, hasPythonHome := env["PYTHONHOME"]
	assert.False(t, hasPythonHome)

	// No PATH in the base environment.
	env = venv.Environ(nil)
	assert.Equal(t, "/work/leg/venv/bin", env["PATH"])
}

package pypi_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/cibuild/pkg/python/pep440"
	"github.com/datawire/cibuild/pkg/python/pypi"
)

func mustVersion(t *testing.T, str string) pep440.Version {
	t.Helper()
	ver, err := pep440.ParseVersion(str)
	require.NoError(t, err)
	return *ver
}

const scmdataIndexPage = `<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.0">
    <title>Links for scmdata</title>
  </head>
  <body>
    <h1>Links for scmdata</h1>
    <a href="../../packages/scmdata-0.14.0.tar.gz" data-yanked="">scmdata-0.14.0.tar.gz</a><br/>
    <a href="../../packages/scmdata-0.15.0.tar.gz">scmdata-0.15.0.tar.gz</a><br/>
    <a href="../../packages/scmdata-0.15.0-py3-none-any.whl" data-requires-python="&gt;=3.9">scmdata-0.15.0-py3-none-any.whl</a><br/>
    <a href="../../packages/scmdata-0.16.0b1.tar.gz">scmdata-0.16.0b1.tar.gz</a><br/>
  </body>
</html>
`

func newIndexServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/scmdata", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, scmdataIndexPage)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()
	testcases := map[string]string{
		"scmdata":   "scmdata",
		"Scm-Data":  "scm-data",
		"scm_data":  "scm-data",
		"scm.data":  "scm-data",
		"scm__data": "scm-data",
		"Group.-_X": "group-x",
	}
	for in, out := range testcases {
		in, out := in, out
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, out, pypi.NormalizeName(in))
		})
	}
}

func TestParseFilename(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		In     string
		Out    *pypi.FilenameInfo
		OutErr string
	}
	testcases := map[string]TestCase{
		"sdist-targz": {
			In: "scmdata-0.15.0.tar.gz",
			Out: &pypi.FilenameInfo{
				Project: "scmdata",
				Version: mustVersion(t, "0.15.0"),
				Kind:    pypi.KindSdist,
			},
		},
		"sdist-zip": {
			In: "scm-data-1.0rc1.zip",
			Out: &pypi.FilenameInfo{
				Project: "scm-data",
				Version: mustVersion(t, "1.0rc1"),
				Kind:    pypi.KindSdist,
			},
		},
		"wheel": {
			In: "scmdata-0.15.0-py3-none-any.whl",
			Out: &pypi.FilenameInfo{
				Project: "scmdata",
				Version: mustVersion(t, "0.15.0"),
				Kind:    pypi.KindWheel,
			},
		},
		"wheel-build-tag": {
			In: "scmdata-0.15.0-1ubuntu-py3-none-any.whl",
			Out: &pypi.FilenameInfo{
				Project: "scmdata",
				Version: mustVersion(t, "0.15.0"),
				Kind:    pypi.KindWheel,
			},
		},
		"unrecognized": {
			In:     "README.txt",
			OutErr: "unrecognized distribution filename",
		},
		"sdist-bad-version": {
			In:     "scmdata-bogus.tar.gz",
			OutErr: "invalid sdist filename",
		},
		"no-separator": {
			In:     "scmdata.tar.gz",
			OutErr: "unrecognized distribution filename",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			info, err := pypi.ParseFilename(tc.In)
			if tc.OutErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.OutErr)
				assert.Nil(t, info)
			} else {
				require.NoError(t, err)
				require.NotNil(t, info)
				assert.Equal(t, tc.Out.Project, info.Project)
				assert.Equal(t, tc.Out.Kind, info.Kind)
				assert.Zero(t, tc.Out.Version.Cmp(info.Version))
			}
		})
	}
}

func TestFiles(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := newIndexServer(t)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}
	files, err := client.Files(ctx, "ScmData")
	require.NoError(t, err)
	require.Len(t, files, 4)

	assert.Equal(t, "scmdata-0.14.0.tar.gz", files[0].Filename)
	assert.True(t, files[0].Yanked)
	assert.Equal(t, server.URL+"/packages/scmdata-0.14.0.tar.gz", files[0].URL)

	assert.Equal(t, "scmdata-0.15.0-py3-none-any.whl", files[2].Filename)
	assert.False(t, files[2].Yanked)
	assert.Equal(t, ">=3.9", files[2].RequiresPython)
}

func TestFilesRequiresPython(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := newIndexServer(t)

	py38 := mustVersion(t, "3.8.10")
	client := pypi.Client{BaseURL: server.URL + "/simple/", Python: &py38}
	files, err := client.Files(ctx, "scmdata")
	require.NoError(t, err)
	// The wheel requires >=3.9 and is hidden from a 3.8 interpreter.
	require.Len(t, files, 3)
	for _, file := range files {
		assert.NotEqual(t, "scmdata-0.15.0-py3-none-any.whl", file.Filename)
	}
}

func TestFilesBadName(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	client := pypi.Client{BaseURL: "http://localhost:1/simple/"}

	_, err := client.Files(ctx, "scm data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal character")

	_, err = client.Files(ctx, "")
	require.Error(t, err)
}

func TestVersions(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := newIndexServer(t)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}
	versions, err := client.Versions(ctx, "scmdata")
	require.NoError(t, err)

	strs := make([]string, 0, len(versions))
	for _, ver := range versions {
		strs = append(strs, ver.String())
	}
	// 0.14.0 is yanked; 0.15.0 appears once despite sdist+wheel; the list is
	// sorted oldest to newest.
	assert.Equal(t, []string{"0.15.0", "0.16.0b1"}, strs)
}

func TestHasRelease(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := newIndexServer(t)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}

	ok, err := client.HasRelease(ctx, "scmdata", mustVersion(t, "0.15.0"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Yanked releases don't count.
	ok, err = client.HasRelease(ctx, "scmdata", mustVersion(t, "0.14.0"))
	require.NoError(t, err)
	assert.False(t, ok)

	// An unknown project is a "no", not an error.
	ok, err = client.HasRelease(ctx, "no-such-project", mustVersion(t, "1.0"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepoVersionCheck(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/scmdata", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head>
			<meta name="pypi:repository-version" content="2.0">
			</head><body></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}
	_, err := client.Files(ctx, "scmdata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compatible")
}

func TestAwait(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/scmdata", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, scmdataIndexPage)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}
	err := client.Await(ctx, "scmdata", mustVersion(t, "0.15.0"), 5*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestAwaitTimeout(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", http.NotFound)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := pypi.Client{BaseURL: server.URL + "/simple/"}
	err := client.Await(ctx, "scmdata", mustVersion(t, "0.15.0"), 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownload(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)

	content := []byte("not really an sdist")
	sum := sha256.Sum256(content)

	mux := http.NewServeMux()
	mux.HandleFunc("/packages/scmdata-0.15.0.tar.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := pypi.Client{}

	got, err := client.Download(ctx, pypi.File{
		Filename: "scmdata-0.15.0.tar.gz",
		URL:      server.URL + "/packages/scmdata-0.15.0.tar.gz#sha256=" + hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = client.Download(ctx, pypi.File{
		Filename: "scmdata-0.15.0.tar.gz",
		URL:      server.URL + "/packages/scmdata-0.15.0.tar.gz#sha256=" + hex.EncodeToString(make([]byte, 32)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

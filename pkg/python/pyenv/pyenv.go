// Package pyenv locates Python interpreters and creates virtualenvs for job
// legs to run in.
package pyenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datawire/dlib/dexec"

	"github.com/datawire/cibuild/pkg/python/pep440"
)

// Interpreter is a Python executable that has been found on the PATH and has
// reported its version.
type Interpreter struct {
	Exe     string
	Version pep440.Version
}

// NotFoundError is the error returned by Find when no installed interpreter
// satisfies the request.
type NotFoundError struct {
	Request string
}

func (e *NotFoundError) Error() string {
	if e.Request == "" {
		return "no python interpreter found"
	}
	return fmt.Sprintf("no python interpreter found for version %q", e.Request)
}

// Matches reports whether an interpreter version satisfies a version request;
// a request names a release series, so "3.9" matches any 3.9.x.
func Matches(ver pep440.Version, request string) bool {
	want, err := pep440.ParseVersion(request)
	if err != nil {
		return false
	}
	if len(want.Release) > len(ver.Release) {
		return false
	}
	for i := range want.Release {
		if ver.Release[i] != want.Release[i] {
			return false
		}
	}
	return true
}

// Find locates a Python interpreter.  An empty request accepts any Python 3;
// otherwise the request is a version such as "3.11", tried first as an exact
// executable name ("python3.11") and then by scanning the PATH for
// interpreters whose reported version matches.
func Find(ctx context.Context, request string) (*Interpreter, error) {
	var candidates []string
	if request == "" {
		candidates = []string{"python3", "python"}
	} else {
		if _, err := pep440.ParseVersion(request); err != nil {
			return nil, fmt.Errorf("pyenv.Find: bad version request %q: %w", request, err)
		}
		candidates = []string{"python" + request}
	}
	for _, name := range candidates {
		exe, err := dexec.LookPath(name)
		if err != nil {
			continue
		}
		interp, err := probe(ctx, exe)
		if err != nil {
			continue
		}
		if request == "" || Matches(interp.Version, request) {
			return interp, nil
		}
	}
	if request != "" {
		if interp := scan(ctx, request); interp != nil {
			return interp, nil
		}
	}
	return nil, &NotFoundError{Request: request}
}

// scan probes every pythonX-looking executable on the PATH, returning the
// newest one that matches the request.
func scan(ctx context.Context, request string) *Interpreter {
	names := make(map[string]struct{})
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "python" || name == "python3" || strings.HasPrefix(name, "python3.") {
				names[name] = struct{}{}
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var best *Interpreter
	seen := make(map[string]struct{})
	for _, name := range sorted {
		exe, err := dexec.LookPath(name)
		if err != nil {
			continue
		}
		if _, dup := seen[exe]; dup {
			continue
		}
		seen[exe] = struct{}{}
		interp, err := probe(ctx, exe)
		if err != nil || !Matches(interp.Version, request) {
			continue
		}
		if best == nil || interp.Version.Cmp(best.Version) > 0 {
			best = interp
		}
	}
	return best
}

func probe(ctx context.Context, exe string) (*Interpreter, error) {
	cmd := dexec.CommandContext(ctx, exe, "--version")
	cmd.DisableLogging = true
	bs, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	str := strings.TrimPrefix(strings.TrimSpace(string(bs)), "Python ")
	ver, err := pep440.ParseVersion(str)
	if err != nil {
		return nil, fmt.Errorf("parse %q --version output: %w", exe, err)
	}
	return &Interpreter{Exe: exe, Version: *ver}, nil
}

// runErr folds a subprocess's captured stderr in to the error message.
func runErr(what string, err error) error {
	var exitErr *dexec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		err = fmt.Errorf("%w:\n > %s", err,
			strings.Join(strings.Split(strings.TrimRight(string(exitErr.Stderr), "\n"), "\n"), "\n > "))
	}
	return fmt.Errorf("%s: %w", what, err)
}

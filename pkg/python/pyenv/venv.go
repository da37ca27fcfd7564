// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pyenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dexec"
)

// Venv is a created virtualenv.
type Venv struct {
	// Dir is the root of the virtualenv.
	Dir string
	// Bin is Dir/bin.
	Bin string
	// Python is the interpreter inside the virtualenv.
	Python string
}

// NewVenv creates a virtualenv at 'dir' (clearing any existing one) using the
// given interpreter.
func NewVenv(ctx context.Context, interp *Interpreter, dir string) (*Venv, error) {
	cmd := dexec.CommandContext(ctx, interp.Exe, "-m", "venv", "--clear", dir)
	if _, err := cmd.Output(); err != nil {
		return nil, runErr(fmt.Sprintf("create venv %q with %q", dir, interp.Exe), err)
	}
	bin := filepath.Join(dir, "bin")
	return &Venv{
		Dir:    dir,
		Bin:    bin,
		Python: filepath.Join(bin, "python"),
	}, nil
}

// Environ returns a copy of 'base' adjusted the way `bin/activate` would
// adjust it: the venv's bin directory is prepended to the PATH, VIRTUAL_ENV
// is set, and PYTHONHOME is cleared.
func (v *Venv) Environ(base map[string]string) map[string]string {
	env := make(map[string]string, len(base)+2)
	for key, val := range base {
		env[key] = val
	}
	env["VIRTUAL_ENV"] = v.Dir
	if path := env["PATH"]; path != "" {
		env["PATH"] = v.Bin + string(os.PathListSeparator) + path
	} else {
		env["PATH"] = v.Bin
	}
	delete(env, "PYTHONHOME")
	return env
}

// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Status is a leg's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusSkipped legs never ran: their condition was false, or a
	// dependency did not succeed.
	StatusSkipped  Status = "skipped"
	StatusCanceled Status = "canceled"
)

// A Result is what a run leaves behind; it is also what result.yaml in the
// run directory holds.
type Result struct {
	Workflow string       `yaml:"workflow"`
	RunID    string       `yaml:"run-id"`
	Event    string       `yaml:"event"`
	Ref      string       `yaml:"ref,omitempty"`
	Started  time.Time    `yaml:"started"`
	Finished time.Time    `yaml:"finished"`
	Success  bool         `yaml:"success"`
	Legs     []*LegResult `yaml:"legs"`

	// Dir is the run directory; result.yaml does not record it, being in
	// it.
	Dir string `yaml:"-"`
}

// A LegResult is one leg's outcome.  Log and Artifacts are paths relative to
// the run directory.
type LegResult struct {
	Job       string   `yaml:"job"`
	Leg       string   `yaml:"leg"`
	Status    Status   `yaml:"status"`
	Reason    string   `yaml:"reason,omitempty"`
	Duration  string   `yaml:"duration,omitempty"`
	Log       string   `yaml:"log,omitempty"`
	Artifacts []string `yaml:"artifacts,omitempty"`

	started time.Time
}

// Counts returns how many legs ended in each status.
func (res *Result) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, lr := range res.Legs {
		counts[lr.Status]++
	}
	return counts
}

func (res *Result) write() error {
	bs, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(res.Dir, "result.yaml"), bs, 0o666)
}

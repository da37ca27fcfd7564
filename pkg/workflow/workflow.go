// Package workflow is the definition model for cibuild workflow files
// (YAML): jobs, triggers, matrices, steps, coverage gates, and artifact
// captures.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"sigs.k8s.io/yaml"
)

// A Workflow is a parsed workflow file.
type Workflow struct {
	// Name is a display name; defaults to the file name at load time.
	Name string `json:"name,omitempty"`
	// On restricts which events run the workflow.  Absent means any
	// event.
	On *Trigger `json:"on,omitempty"`
	// Env is layered under every job's environment.
	Env EnvMap `json:"env,omitempty"`
	// Secrets declares the secret names that jobs may request; values
	// come from the run environment, never from the file.
	Secrets []string `json:"secrets,omitempty"`
	Jobs    map[string]*Job `json:"jobs"`
}

// A Job is a named group of steps, possibly expanded into several legs by a
// matrix.
type Job struct {
	Name string `json:"name,omitempty"`
	// Needs lists job IDs that must finish before this job starts; it
	// may be written as a single string or as a list.
	Needs StringOrSlice `json:"needs,omitempty"`
	// If is a condition expression; false skips the job (dependents
	// still treat it as satisfied).
	If string `json:"if,omitempty"`
	// Python requests an interpreter series such as "3.9"; a matrix
	// dimension named "python" is used when this is unset.
	Python   string        `json:"python,omitempty"`
	Strategy *Strategy     `json:"strategy,omitempty"`
	Env      EnvMap        `json:"env,omitempty"`
	// Secrets names workflow-declared secrets to inject into this job's
	// steps; jobs that do not ask get nothing.
	Secrets []string `json:"secrets,omitempty"`
	Steps   []Step   `json:"steps"`
	// Coverage gates the job after its steps succeed.
	Coverage *CoverageGate `json:"coverage,omitempty"`
	// Artifacts lists paths captured as layers after the job succeeds.
	Artifacts      []string `json:"artifacts,omitempty"`
	TimeoutMinutes int      `json:"timeout-minutes,omitempty"`
}

// PythonFor resolves the interpreter request for a leg with the given matrix
// values.
func (j *Job) PythonFor(values map[string]string) string {
	if j.Python != "" {
		return j.Python
	}
	return values["python"]
}

type Strategy struct {
	Matrix *Matrix `json:"matrix,omitempty"`
	// FailFast cancels a job's sibling legs when one fails.  Default
	// true.
	FailFast    *bool `json:"fail-fast,omitempty"`
	MaxParallel int   `json:"max-parallel,omitempty"`
}

// FailFastEnabled is nil-safe: no strategy, or no explicit setting, means
// fail-fast.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

type Step struct {
	Name string `json:"name,omitempty"`
	Run  string `json:"run"`
	// Shell selects the step interpreter: "bash" (default), "sh", or
	// "python".
	Shell            string `json:"shell,omitempty"`
	Env              EnvMap `json:"env,omitempty"`
	WorkingDirectory string `json:"working-directory,omitempty"`
	If               string `json:"if,omitempty"`
}

// A CoverageGate fails the job when the report's line coverage is below Min
// percent.
type CoverageGate struct {
	// Report is the path of a Cobertura XML report, relative to the leg
	// working directory.
	Report string `json:"report"`
	// Min is the minimum line coverage in percent; it may be an
	// interpolated string such as "${{ env.MIN_COVERAGE }}".
	Min Scalar `json:"min"`
}

// A Scalar is a YAML value that may be written as a string, number, or bool;
// it is carried as its string form.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		*s = Scalar(v)
	case json.Number:
		*s = Scalar(v.String())
	case bool:
		*s = Scalar(strconv.FormatBool(v))
	default:
		return fmt.Errorf("invalid scalar value: %v", v)
	}
	return nil
}

// An EnvMap is a mapping of environment variable names to Scalar values.
type EnvMap map[string]Scalar

// Strings converts to a plain string map.
func (m EnvMap) Strings() map[string]string {
	if m == nil {
		return nil
	}
	ret := make(map[string]string, len(m))
	for k, v := range m {
		ret[k] = string(v)
	}
	return ret
}

// A StringOrSlice is a []string that may be written in YAML as either a
// single string or a list of strings.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]string)(s))
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = StringOrSlice{one}
	return nil
}

// Parse strictly decodes workflow YAML; unknown fields are errors.
func Parse(data []byte) (*Workflow, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		return nil, err
	}
	// YAML 1.1 reads a bare `on:` key as the boolean true; put it back.
	if v, ok := raw["true"]; ok {
		if _, both := raw["on"]; both {
			return nil, fmt.Errorf(`both "on" and a bare on: key are present`)
		}
		raw["on"] = v
		delete(raw, "true")
	}
	fixed, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(fixed))
	dec.DisallowUnknownFields()
	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, err
	}
	if err := restoreDimensionOrder(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Load reads and parses the workflow file at path.  The workflow name
// defaults to the file's base name.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, &fs.PathError{Op: "parse", Path: path, Err: err}
	}
	if wf.Name == "" {
		wf.Name = path
	}
	return wf, nil
}

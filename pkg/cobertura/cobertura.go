// Package cobertura reads Cobertura XML coverage reports, such as the ones
// written by coverage.py's `coverage xml` command.
package cobertura

import (
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Report is the root `<coverage>` element of a Cobertura report.  Only the
// summary attributes and the per-package rates are retained; class and line
// detail is skipped.
type Report struct {
	XMLName      xml.Name  `xml:"coverage"`
	Version      string    `xml:"version,attr"`
	Timestamp    int64     `xml:"timestamp,attr"`
	LineRate     float64   `xml:"line-rate,attr"`
	BranchRate   float64   `xml:"branch-rate,attr"`
	LinesValid   int       `xml:"lines-valid,attr"`
	LinesCovered int       `xml:"lines-covered,attr"`
	Packages     []Package `xml:"packages>package"`
}

type Package struct {
	Name     string  `xml:"name,attr"`
	LineRate float64 `xml:"line-rate,attr"`
}

// Parse reads a Cobertura XML document from 'r'.
func Parse(r io.Reader) (*Report, error) {
	var ret Report
	if err := xml.NewDecoder(r).Decode(&ret); err != nil {
		return nil, fmt.Errorf("cobertura: %w", err)
	}
	return &ret, nil
}

// Load reads a Cobertura XML report from the named file.
func Load(path string) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()
	ret, err := Parse(file)
	if err != nil {
		return nil, &fs.PathError{Op: "parse", Path: path, Err: err}
	}
	return ret, nil
}

// Percent returns the overall line coverage as a percentage in [0, 100].
func (r *Report) Percent() float64 {
	return 100 * r.LineRate
}

// Check returns an error if the report's line coverage is below the 'min'
// percentage.
func (r *Report) Check(min float64) error {
	if pct := r.Percent(); pct < min {
		return fmt.Errorf("coverage %.2f%% is below the required %.2f%% (%d of %d lines)",
			pct, min, r.LinesCovered, r.LinesValid)
	}
	return nil
}

// ParsePercent parses a coverage threshold such as "90", "90.5", or "90%",
// returning it as a float in [0, 100].
func ParsePercent(str string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(str), "%")
	if trimmed == "" {
		return 0, fmt.Errorf("invalid coverage threshold %q", str)
	}
	val, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coverage threshold %q: %w", str, err)
	}
	if val < 0 || val > 100 {
		return 0, fmt.Errorf("coverage threshold %q is outside of [0, 100]", str)
	}
	return val, nil
}

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	yamlv2 "gopkg.in/yaml.v2"
)

// A Matrix expands a job into one leg per combination of dimension values.
type Matrix struct {
	// Dimensions, in file order; the last dimension varies fastest.
	Dimensions []Dimension
	// Exclude removes produced legs whose values match every key of an
	// entry.
	Exclude []map[string]Scalar
	// Include entries extend matching legs with extra values, or append
	// whole new legs when nothing matches.
	Include []map[string]Scalar
}

type Dimension struct {
	Name   string
	Values []Scalar
}

// UnmarshalJSON decodes the matrix mapping by hand so that dimension file
// order survives; "include" and "exclude" are not dimensions.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("matrix: expected a mapping")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("matrix: expected a string key, got %v", keyTok)
		}
		switch key {
		case "include":
			if err := dec.Decode(&m.Include); err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
		case "exclude":
			if err := dec.Decode(&m.Exclude); err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
		default:
			var vals []Scalar
			if err := dec.Decode(&vals); err != nil {
				return fmt.Errorf("matrix %q: %w", key, err)
			}
			m.Dimensions = append(m.Dimensions, Dimension{Name: key, Values: vals})
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// restoreDimensionOrder re-sorts every matrix's dimensions into file order.
// Parse goes through a JSON round that alphabetizes mapping keys, so the
// order that UnmarshalJSON saw is not the order the file wrote; a second
// decode of just the matrix mappings with yaml.v2's MapSlice recovers it.
func restoreDimensionOrder(data []byte, wf *Workflow) error {
	var doc struct {
		Jobs map[string]struct {
			Strategy struct {
				Matrix yamlv2.MapSlice `yaml:"matrix"`
			} `yaml:"strategy"`
		} `yaml:"jobs"`
	}
	if err := yamlv2.Unmarshal(data, &doc); err != nil {
		return err
	}
	for jobID, rawJob := range doc.Jobs {
		job := wf.Jobs[jobID]
		if job == nil || job.Strategy == nil || job.Strategy.Matrix == nil {
			continue
		}
		order := make(map[string]int, len(rawJob.Strategy.Matrix))
		for i, item := range rawJob.Strategy.Matrix {
			if key, ok := item.Key.(string); ok {
				order[key] = i
			}
		}
		dims := job.Strategy.Matrix.Dimensions
		sort.SliceStable(dims, func(i, j int) bool {
			return order[dims[i].Name] < order[dims[j].Name]
		})
	}
	return nil
}

// LegValues is one expanded combination of matrix values.  Keys holds the
// value names in naming order: dimensions in file order, then any
// include-introduced extras.
type LegValues struct {
	Keys   []string
	Values map[string]string
}

// Suffix is the parenthesized part of a leg name: the values joined in key
// order, such as "3.9, ==1.2.0".
func (lv LegValues) Suffix() string {
	parts := make([]string, 0, len(lv.Keys))
	for _, key := range lv.Keys {
		parts = append(parts, lv.Values[key])
	}
	return strings.Join(parts, ", ")
}

func (lv LegValues) clone() LegValues {
	values := make(map[string]string, len(lv.Values))
	for k, v := range lv.Values {
		values[k] = v
	}
	return LegValues{
		Keys:   append([]string(nil), lv.Keys...),
		Values: values,
	}
}

// Expand returns the matrix's legs: the cartesian product of the dimensions,
// minus exclude matches, extended or appended by include entries.  A nil or
// empty matrix yields a single leg with no values; a matrix of only include
// entries yields one leg per entry; same input, same order.
func (m *Matrix) Expand() []LegValues {
	if m == nil || (len(m.Dimensions) == 0 && len(m.Include) == 0) {
		return []LegValues{{Values: map[string]string{}}}
	}

	var legs []LegValues
	if len(m.Dimensions) > 0 {
		legs = []LegValues{{Values: map[string]string{}}}
		for _, dim := range m.Dimensions {
			next := make([]LegValues, 0, len(legs)*len(dim.Values))
			for _, leg := range legs {
				for _, val := range dim.Values {
					grown := leg.clone()
					grown.Keys = append(grown.Keys, dim.Name)
					grown.Values[dim.Name] = string(val)
					next = append(next, grown)
				}
			}
			legs = next
		}
		if len(m.Exclude) > 0 {
			kept := legs[:0]
			for _, leg := range legs {
				if !matchesAnyEntry(m.Exclude, leg) {
					kept = append(kept, leg)
				}
			}
			legs = kept
		}
	}

	return m.applyInclude(legs)
}

// applyInclude merges each include entry into every leg it matches on the
// original dimensions; an entry matching no leg is appended as a new one.
// Without dimensions there is nothing to match, and every entry appends.
func (m *Matrix) applyInclude(legs []LegValues) []LegValues {
	dims := make(map[string]bool, len(m.Dimensions))
	for _, dim := range m.Dimensions {
		dims[dim.Name] = true
	}
	for _, entry := range m.Include {
		matched := false
		if len(dims) > 0 {
			for i := range legs {
				if !entryMatches(entry, legs[i], dims) {
					continue
				}
				matched = true
				for _, key := range sortedKeys(entry) {
					if _, ok := legs[i].Values[key]; !ok {
						legs[i].Keys = append(legs[i].Keys, key)
					}
					legs[i].Values[key] = string(entry[key])
				}
			}
		}
		if !matched {
			leg := LegValues{Values: make(map[string]string, len(entry))}
			for _, key := range sortedKeys(entry) {
				leg.Keys = append(leg.Keys, key)
				leg.Values[key] = string(entry[key])
			}
			legs = append(legs, leg)
		}
	}
	return legs
}

// entryMatches reports whether every entry key that names an original
// dimension agrees with the leg's value for it.
func entryMatches(entry map[string]Scalar, leg LegValues, dims map[string]bool) bool {
	for key, val := range entry {
		if !dims[key] {
			continue
		}
		if leg.Values[key] != string(val) {
			return false
		}
	}
	return true
}

// matchesAnyEntry reports whether any entry's keys are all present in the
// leg with equal values.
func matchesAnyEntry(entries []map[string]Scalar, leg LegValues) bool {
	for _, entry := range entries {
		all := true
		for key, val := range entry {
			if leg.Values[key] != string(val) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]Scalar) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

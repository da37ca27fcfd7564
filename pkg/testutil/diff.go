// Copyright (C) 2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package testutil has helpers for tests that compare OCI layers.
package testutil

import (
	"archive/tar"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/datawire/cibuild/pkg/artifact"
)

// spewConfig elides pointer addresses and capacities so that two equivalent
// layers dump to identical text.
//
//nolint:gochecknoglobals // it's a constant
var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisableCapacities:       true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

// DumpLayer renders every tar header and file body in a layer as text, for
// diffing.
func DumpLayer(layer ociv1.Layer) (str string, err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			str = ""
			err = _err
		}
	}

	reader, err := layer.Uncompressed()
	if err != nil {
		return "", err
	}
	defer func() {
		maybeSetErr(reader.Close())
	}()

	ret := new(strings.Builder)
	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(ret, "header = %s", spewConfig.Sdump(header))
		body, err := io.ReadAll(tarReader)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(ret, "body = %s", spewConfig.Sdump(body))
	}
	return ret.String(), nil
}

// AssertEqualLayers compares two layers entry by entry, failing the test with
// a unified diff when they differ.  Listings are compared first so that a
// mismatch fails with something short to read.
func AssertEqualLayers(t *testing.T, exp, act ociv1.Layer) bool {
	t.Helper()

	expList, err := listing(exp)
	if err != nil {
		t.Errorf("error listing expected layer: %v", err)
		return false
	}
	actList, err := listing(act)
	if err != nil {
		t.Errorf("error listing actual layer: %v", err)
		return false
	}
	if expList != actList {
		t.Errorf("listing diff:\n%s", unifiedDiff(expList, actList))
		return false
	}

	expFull, err := DumpLayer(exp)
	if err != nil {
		t.Errorf("error dumping expected layer: %v", err)
		return false
	}
	actFull, err := DumpLayer(act)
	if err != nil {
		t.Errorf("error dumping actual layer: %v", err)
		return false
	}
	if expFull != actFull {
		t.Errorf("full diff:\n%s", unifiedDiff(expFull, actFull))
		return false
	}
	return true
}

func listing(layer ociv1.Layer) (string, error) {
	var out strings.Builder
	if err := artifact.Listing(&out, layer); err != nil {
		return "", err
	}
	return out.String(), nil
}

func unifiedDiff(exp, act string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(exp),
		B:        difflib.SplitLines(act),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}

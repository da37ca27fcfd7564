package pep440_test

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/datawire/cibuild/pkg/python/pep440"
)

func TestSort(t *testing.T) {
	t.Parallel()
	testcases := map[string][]string{
		"final-releases": {
			"0.9",
			"0.9.1",
			"0.9.2",
			"0.9.10",
			"0.9.11",
			"1.0",
			"1.0.1",
			"1.1",
			"2.0",
			"2.0.1",
		},
		"date-based": {
			"2012.4",
			"2012.7",
			"2012.10",
			"2013.1",
			"2013.6",
		},
		"pre-releases": {
			"4.3a2",
			"4.3b2",
			"4.3rc2",
			"4.3",
		},
		"version-epochs": {
			"2013.10",
			"2014.04",
			"1!1.0",
			"1!1.1",
			"1!2.0",
		},
		"suffixes-and-relative-ordering": {
			"1.0.dev456",
			"1.0a1",
			"1.0a2.dev456",
			"1.0a12.dev456",
			"1.0a12",
			"1.0b1.dev456",
			"1.0b2",
			"1.0b2.post345.dev456",
			"1.0b2.post345",
			"1.0rc1.dev456",
			"1.0rc1",
			"1.0",
			"1.0+abc.5",
			"1.0+abc.7",
			"1.0+5",
			"1.0.post456.dev34",
			"1.0.post456",
			"1.1.dev1",
		},
		"local-segment": {
			"1.0",
			"1.0+a",
			"1.0+bar",
			"1.0+z",
			"1.0+0",
			"1.0+0.z",
			"1.0+0.0",
			"1.0+0.0.0",
			"1.0+1",
			"1.0+10",
			"1.1",
		},
	}
	for tcName, tcData := range testcases {
		strs := tcData
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			rand := rand.New(rand.NewSource(time.Now().UnixNano()))

			vers := make([]*pep440.Version, 0, len(strs))
			exps := make([]string, 0, len(strs))
			for _, str := range strs {
				ver, err := pep440.ParseVersion(str)
				require.NoError(t, err)
				require.NotNil(t, ver)
				vers = append(vers, ver)
				exps = append(exps, ver.String())
			}

			// shuffle the list so that `sort` has something to do.
			rand.Shuffle(len(vers), func(i, j int) {
				vers[i], vers[j] = vers[j], vers[i]
			})

			sort.Slice(vers, func(i, j int) bool {
				return vers[i].Cmp(*vers[j]) < 1
			})
			acts := make([]string, 0, len(strs))
			for _, ver := range vers {
				acts = append(acts, ver.String())
			}
			assert.Equal(t, exps, acts)
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input      string
		Normalized string // empty for parse error
	}
	testcases := map[string]TestCase{
		"case-sensitivity":                    {"1.1RC1", "1.1rc1"},
		"integer-normalization-1":             {"00", "0"},
		"integer-normalization-2":             {"09000", "9000"},
		"pre-release-separators-1":            {"1.1.a1", "1.1a1"},
		"pre-release-separators-2":            {"1.1-a1", "1.1a1"},
		"pre-release-separators-3":            {"1.0a.1", "1.0a1"},
		"pre-release-spelling-1":              {"1.1alpha1", "1.1a1"},
		"pre-release-spelling-2":              {"1.1beta2", "1.1b2"},
		"pre-release-spelling-3":              {"1.1c3", "1.1rc3"},
		"implicit-pre-release-number":         {"1.2a", "1.2a0"},
		"post-release-separators-1":           {"1.2-post2", "1.2.post2"},
		"post-release-separators-2":           {"1.2post2", "1.2.post2"},
		"post-release-spelling":               {"1.0-r4", "1.0.post4"},
		"implicit-post-release-number":        {"1.2.post", "1.2.post0"},
		"implicit-post-releases-1":            {"1.0-1", "1.0.post1"},
		"implicit-post-releases-2":            {"1.0-", ""},
		"development-release-separators-1":    {"1.2-dev2", "1.2.dev2"},
		"development-release-separators-2":    {"1.2dev2", "1.2.dev2"},
		"implicit-development-release-number": {"1.2.dev", "1.2.dev0"},
		"local-version-segments":              {"1.0+ubuntu-1", "1.0+ubuntu.1"},
		"preceding-v-character":               {"v1.0", "1.0"},
		"leading-and-trailing-whitespace":     {"1.0\n", "1.0"},
		"not-a-version":                       {"bogus", ""},
		"empty":                               {"", ""},
	}
	for tcName, tcData := range testcases {
		tcData := tcData
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			t.Logf("input: %q", tcData.Input)
			ver, err := pep440.ParseVersion(tcData.Input)
			if tcData.Normalized == "" {
				assert.Error(t, err)
				assert.Nil(t, ver)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, ver)
				assert.Equal(t, tcData.Normalized, ver.String())
				if len(ver.Local) == 0 {
					assert.Equal(t, tcData.Normalized, ver.PublicVersion.String())
				}
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()
	testcases := map[string]pep440.Version{
		"1!2.3rc4.post5.dev6+ubuntu.7": {
			PublicVersion: pep440.PublicVersion{
				Epoch:   1,
				Release: []int{2, 3},
				Pre:     &pep440.PreRelease{L: "rc", N: 4},
				Post:    intPtr(5),
				Dev:     intPtr(6),
			},
			Local: []intstr.IntOrString{
				intstr.FromString("ubuntu"),
				intstr.FromInt(7),
			},
		},
		"3.12": {
			PublicVersion: pep440.PublicVersion{
				Release: []int{3, 12},
			},
		},
	}
	for tcInput, tcWant := range testcases {
		tcInput, tcWant := tcInput, tcWant
		t.Run(tcInput, func(t *testing.T) {
			t.Parallel()
			got := mustParseVersion(t, tcInput)
			assert.Equal(t, tcWant, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"0",
		"1.0",
		"1!2.0",
		"1.0a0",
		"1.0rc1",
		"1.0.post0",
		"1.0.dev6",
		"1.0b2.post345.dev456",
		"1.0+abc.5",
		"2012.10",
	}
	for _, input := range inputs {
		input := input
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			ver1 := mustParseVersion(t, input)
			ver2 := mustParseVersion(t, ver1.String())
			assert.Zero(t, ver1.Cmp(ver2))
			assert.Zero(t, ver2.Cmp(ver1))
			assert.Equal(t, input, ver1.String())
		})
	}
}

func TestUtilMethods(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input pep440.Version

		Major        int
		Minor        int
		Micro        int
		IsPreRelease bool
		IsFinal      bool
	}
	testcases := []TestCase{
		{mustParseVersion(t, "1"), 1, 0, 0, false, true},
		{mustParseVersion(t, "1+par"), 1, 0, 0, false, false},
		{mustParseVersion(t, "3.8"), 3, 8, 0, false, true},
		{mustParseVersion(t, "3.12.1"), 3, 12, 1, false, true},
		{mustParseVersion(t, "1.2rc2"), 1, 2, 0, true, false},
		{mustParseVersion(t, "1.2.post3"), 1, 2, 0, false, false},
		{mustParseVersion(t, "1.2.dev3"), 1, 2, 0, true, false},
	}
	for _, tc := range testcases {
		tc := tc
		t.Run(tc.Input.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Major, tc.Input.Major(), "Major")
			assert.Equal(t, tc.Minor, tc.Input.Minor(), "Minor")
			assert.Equal(t, tc.Micro, tc.Input.Micro(), "Micro")
			assert.Equal(t, tc.IsPreRelease, tc.Input.IsPreRelease(), "IsPreRelease")
			assert.Equal(t, tc.IsFinal, tc.Input.IsFinal(), "IsFinal")
		})
	}
}

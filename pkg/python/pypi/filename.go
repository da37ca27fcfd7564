package pypi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/datawire/cibuild/pkg/python/pep440"
)

// NormalizeName normalizes a project name per PEP 503: runs of `-`, `_`, and
// `.` collapse to a single `-`, and the result is lowercased.
func NormalizeName(str string) string {
	return strings.ToLower(reNameSeparators.ReplaceAllLiteralString(str, "-"))
}

//nolint:gochecknoglobals // Would be 'const'.
var reNameSeparators = regexp.MustCompile("[-_.]+")

type DistKind string

const (
	KindSdist DistKind = "sdist"
	KindWheel DistKind = "wheel"
)

// FilenameInfo is what a distribution filename says about itself.
type FilenameInfo struct {
	Project string
	Version pep440.Version
	Kind    DistKind
}

//nolint:gochecknoglobals // Would be 'const'.
var reWheelFilename = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
	^(?P<distribution>[^-]+)
	-(?P<version>[^-]+)
	(?:-(?P<build>[0-9][^-]*))?
	-(?P<python>[^-]+)
	-(?P<abi>[^-]+)
	-(?P<platform>[^-]+)
	\.whl$`, ``))

//nolint:gochecknoglobals // Would be 'const'.
var sdistSuffixes = []string{".tar.gz", ".tar.bz2", ".zip"}

// ParseFilename extracts the project and version from an sdist filename
// ("scmdata-1.2.3.tar.gz") or a wheel filename
// ("scmdata-1.2.3-py3-none-any.whl").
func ParseFilename(filename string) (*FilenameInfo, error) {
	if match := reWheelFilename.FindStringSubmatch(filename); match != nil {
		ver, err := pep440.ParseVersion(match[reWheelFilename.SubexpIndex("version")])
		if err != nil {
			return nil, fmt.Errorf("invalid wheel filename: %q: %w", filename, err)
		}
		return &FilenameInfo{
			Project: match[reWheelFilename.SubexpIndex("distribution")],
			Version: *ver,
			Kind:    KindWheel,
		}, nil
	}
	for _, suffix := range sdistSuffixes {
		if !strings.HasSuffix(filename, suffix) {
			continue
		}
		base := strings.TrimSuffix(filename, suffix)
		sep := strings.LastIndex(base, "-")
		if sep < 1 {
			break
		}
		ver, err := pep440.ParseVersion(base[sep+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid sdist filename: %q: %w", filename, err)
		}
		return &FilenameInfo{
			Project: base[:sep],
			Version: *ver,
			Kind:    KindSdist,
		}, nil
	}
	return nil, fmt.Errorf("unrecognized distribution filename: %q", filename)
}

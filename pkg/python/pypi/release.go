package pypi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/cibuild/pkg/python/pep440"
)

// File is one distribution file listed on a project's index page.
type File struct {
	Filename       string
	URL            string
	RequiresPython string
	Yanked         bool
}

// Files lists the distribution files for a project.
func (c Client) Files(ctx context.Context, project string) ([]File, error) {
	if err := checkProjectName(project); err != nil {
		return nil, err
	}
	c.fillDefaults()
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, NormalizeName(project))
	links, err := c.getIndex(ctx, u.String())
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(links))
	for _, l := range links {
		file := File{
			Filename:       l.text,
			URL:            l.href,
			RequiresPython: l.dataAttrs["data-requires-python"],
		}
		_, file.Yanked = l.dataAttrs["data-yanked"]
		if c.Python != nil && file.RequiresPython != "" {
			spec, err := pep440.ParseSpecifier(file.RequiresPython)
			if err == nil && !spec.Match(*c.Python) {
				continue
			}
		}
		files = append(files, file)
	}
	return files, nil
}

// Versions lists the released versions of a project, sorted oldest to
// newest.  Versions all of whose files have been yanked are skipped, as are
// files whose names don't parse.
func (c Client) Versions(ctx context.Context, project string) ([]pep440.Version, error) {
	files, err := c.Files(ctx, project)
	if err != nil {
		return nil, err
	}
	byStr := make(map[string]pep440.Version)
	for _, file := range files {
		if file.Yanked {
			continue
		}
		info, err := ParseFilename(file.Filename)
		if err != nil {
			continue
		}
		byStr[info.Version.String()] = info.Version
	}
	ret := make([]pep440.Version, 0, len(byStr))
	for _, ver := range byStr {
		ret = append(ret, ver)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Cmp(ret[j]) < 0
	})
	return ret, nil
}

// HasRelease reports whether a project has a (non-yanked) release of the
// given version.  An index that doesn't know the project at all reports
// false rather than an error.
func (c Client) HasRelease(ctx context.Context, project string, version pep440.Version) (bool, error) {
	versions, err := c.Versions(ctx, project)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	for _, ver := range versions {
		if ver.Cmp(version) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Await polls until the project has a release of the given version; a fresh
// upload can take a little while to show up in the index.
func (c Client) Await(ctx context.Context, project string, version pep440.Version, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	for {
		ok, err := c.HasRelease(ctx, project, version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		dlog.Infof(ctx, "%s==%s is not visible in the index yet; checking again in %v",
			project, version.String(), interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Download fetches a distribution file, verifying the checksum fragment on
// its URL if present.
func (c Client) Download(ctx context.Context, file File) ([]byte, error) {
	_, content, err := c.get(ctx, file.URL)
	return content, err
}

// Copyright (C) 2021-2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pypi is a client for the Simple Repository API (PEP 503) offered by
// PyPI and compatible indexes, including the API versioning meta tag
// (PEP 629) and yank support (PEP 592).
//
// https://www.python.org/dev/peps/pep-0503/
package pypi

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/net/html"

	"github.com/datawire/cibuild/pkg/python/pep440"
)

const DefaultBaseURL = "https://pypi.org/simple/"

// Client talks to a Simple Repository API index.  The zero value talks to
// PyPI.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// Python, if set, hides files whose data-requires-python says they
	// can't run on that interpreter version.
	Python *pep440.Version
}

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/datawire/cibuild/pkg/python/pypi"
	}
}

type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// get fetches a URL, verifying any checksum carried in the URL fragment
// ("#sha256=..."), and returns the final URL (after redirects) along with the
// body.
func (c Client) get(ctx context.Context, requestURL string) (_ *url.URL, _ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}
	if u, err := url.Parse(requestURL); err == nil && u.Fragment != "" {
		if keyvals, err := url.ParseQuery(u.Fragment); err == nil {
			for key, vals := range keyvals {
				var sum []byte
				for _, val := range vals {
					switch key {
					case "md5":
						_sum := md5.Sum(content)
						sum = _sum[:]
					case "sha1":
						_sum := sha1.Sum(content)
						sum = _sum[:]
					case "sha224":
						_sum := sha256.Sum224(content)
						sum = _sum[:]
					case "sha256":
						_sum := sha256.Sum256(content)
						sum = _sum[:]
					case "sha384":
						_sum := sha512.Sum384(content)
						sum = _sum[:]
					case "sha512":
						_sum := sha512.Sum512(content)
						sum = _sum[:]
					}
					if sum != nil && hex.EncodeToString(sum) != val {
						//nolint:lll // error string
						return nil, nil, fmt.Errorf("checksum mismatch: %s: expected=%s actual=%s",
							key, val, hex.EncodeToString(sum))
					}
				}
			}
		}
	}

	return resp.Request.URL, content, nil
}

func visitHTML(node *html.Node, fn func(*html.Node) error) error {
	if err := fn(node); err != nil {
		return err
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if err := visitHTML(child, fn); err != nil {
			return err
		}
	}
	return nil
}

func getAttr(node *html.Node, name string) (val string, ok bool) {
	for _, attr := range node.Attr {
		if attr.Namespace == "" && attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

//nolint:gochecknoglobals // Would be 'const'.
var supportedRepoVersion, _ = pep440.ParseVersion("1.0")

// checkRepoVersion enforces the PEP 629 "pypi:repository-version" meta tag: a
// newer major version is an error, a newer minor version just gets a warning.
func checkRepoVersion(ctx context.Context, doc *html.Node) error {
	verStr := "1.0"
	err := visitHTML(doc, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "meta" {
			return nil
		}
		if name, _ := getAttr(node, "name"); name != "pypi:repository-version" {
			return nil
		}
		if content, ok := getAttr(node, "content"); ok {
			verStr = content
		}
		return nil
	})
	if err != nil {
		return err
	}
	version, err := pep440.ParseVersion(verStr)
	if err != nil {
		return fmt.Errorf("server's pypi:repository-version: %w", err)
	}
	if version.Major() > supportedRepoVersion.Major() {
		return fmt.Errorf("server's pypi:repository-version (%s) is not compatible with this client", version)
	}
	if version.Minor() > supportedRepoVersion.Minor() {
		dlog.Warnf(ctx, "server's pypi:repository-version (%s) is newer than this client", version)
	}
	return nil
}

type link struct {
	text      string
	href      string
	dataAttrs map[string]string
}

// getIndex fetches an index page and returns its links, with hrefs resolved
// against the final URL.
func (c Client) getIndex(ctx context.Context, requestURL string) ([]link, error) {
	location, content, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if err := checkRepoVersion(ctx, doc); err != nil {
		return nil, err
	}

	var links []link
	if err := visitHTML(doc, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}
		l := link{
			dataAttrs: make(map[string]string),
		}
		for _, attr := range node.Attr {
			switch {
			case attr.Namespace == "" && attr.Key == "href":
				href, err := location.Parse(attr.Val)
				if err != nil {
					return err
				}
				l.href = href.String()
			case attr.Namespace == "" && strings.HasPrefix(attr.Key, "data-"):
				l.dataAttrs[attr.Key] = attr.Val
			}
		}
		var text bytes.Buffer
		_ = visitHTML(node, func(child *html.Node) error {
			if child.Type == html.TextNode {
				text.WriteString(child.Data)
			}
			return nil
		})
		l.text = text.String()
		links = append(links, l)
		return nil
	}); err != nil {
		return nil, err
	}
	return links, nil
}

// checkProjectName enforces PEP 503's "the only valid characters in a name
// are the ASCII alphabet, ASCII numbers, `.`, `-`, and `_`".
func checkProjectName(project string) error {
	for _, char := range project {
		if !(('a' <= char && char <= 'z') ||
			('A' <= char && char <= 'Z') ||
			('0' <= char && char <= '9') ||
			char == '.' ||
			char == '-' ||
			char == '_') {
			return fmt.Errorf("illegal character in project name: %q: %s",
				project, strconv.QuoteRuneToASCII(char))
		}
	}
	if project == "" {
		return fmt.Errorf("empty project name")
	}
	return nil
}

// Copyright (C) 2021-2023  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package artifact captures job outputs as OCI layer tarballs, and bundles,
// lists, and extracts them.
package artifact

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

var (
	clampOnce sync.Once
	clamp     time.Time
)

// ClampTime returns the timestamp that layer entries get clamped to:
// $SOURCE_DATE_EPOCH if it is set, otherwise the current time (fixed at
// first use, so that every layer in a run agrees).
func ClampTime() time.Time {
	clampOnce.Do(func() {
		secs, err := strconv.ParseInt(os.Getenv("SOURCE_DATE_EPOCH"), 10, 64)
		if err == nil {
			clamp = time.Unix(secs, 0)
		} else {
			clamp = time.Now()
		}
	})
	return clamp
}

// FromPath creates a layer containing the file or directory tree at 'root',
// stored in the layer under the name 'prefix' (as if by `cp -r root
// prefix`).  Ownership is normalized to root, and timestamps newer than
// 'clampTime' are clamped to it.
func FromPath(root, prefix string, clampTime time.Time, opts ...ociv1tarball.LayerOption) (ociv1.Layer, error) {
	prefix = path.Clean(prefix)
	if prefix == "." || path.IsAbs(prefix) || prefix == ".." || strings.HasPrefix(prefix, "../") {
		return nil, fmt.Errorf("bad layer prefix: %q", prefix)
	}

	var byteWriter bytes.Buffer
	tarWriter := tar.NewWriter(&byteWriter)

	var parents []string
	for dir := path.Dir(prefix); dir != "."; dir = path.Dir(dir) {
		parents = append(parents, dir)
	}
	for i := len(parents) - 1; i >= 0; i-- {
		if err := tarWriter.WriteHeader(&tar.Header{
			Name:     parents[i],
			Typeflag: tar.TypeDir,
			Mode:     0o755,
			ModTime:  clampTime,
			Uname:    "root",
			Gname:    "root",
		}); err != nil {
			return nil, err
		}
	}

	type logEntry struct {
		Name string
		Info fs.FileInfo
	}
	var log []logEntry

	err := filepath.Walk(root, func(filename string, info fs.FileInfo, e error) error {
		if e != nil {
			return e
		}
		rel, err := filepath.Rel(root, filename)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}
		defer func() {
			log = append(log, logEntry{Name: name, Info: info})
		}()

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		for _, entry := range log {
			if os.SameFile(entry.Info, info) {
				header.Typeflag = tar.TypeLink
				header.Linkname = entry.Name
				header.Size = 0
				break
			}
		}
		if header.Typeflag == tar.TypeSymlink {
			header.Linkname, err = os.Readlink(filename)
			if err != nil {
				return err
			}
		}
		if header.ModTime.After(clampTime) {
			header.ModTime = clampTime
		}
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}
		header.Uid = 0
		header.Gid = 0
		header.Uname = "root"
		header.Gname = "root"
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if header.Typeflag == tar.TypeReg {
			reader, err := os.Open(filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tarWriter, reader); err != nil {
				_ = reader.Close()
				return err
			}
			if err := reader.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}

	byteSlice := byteWriter.Bytes()
	return ociv1tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(byteSlice)), nil
	}, opts...)
}

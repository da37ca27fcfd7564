package artifact

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

type entry struct {
	header *tar.Header
	body   []byte
}

// readLayer reads a layer's entries in to memory, with names path.Clean()'d.
// Entries that would escape the layer root are rejected, as are whiteout
// markers; artifact layers never contain whiteouts, and refusing them is
// what lets Merge be a plain overwrite.
func readLayer(layer ociv1.Layer) (_ []entry, err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			err = _err
		}
	}

	reader, err := layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("reading layer contents: %w", err)
	}
	defer func() {
		maybeSetErr(reader.Close())
	}()

	var entries []entry
	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		name := path.Clean(header.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("layer contains file outside of the layer root: %q", header.Name)
		}
		if strings.HasPrefix(path.Base(name), ".wh.") {
			return nil, fmt.Errorf("whiteout marker in artifact layer: %q", header.Name)
		}
		header.Name = name
		body, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		entries = append(entries, entry{header: header, body: body})
	}
	return entries, nil
}

// Merge squashes artifact layers in to a single layer.  On duplicate names
// the later layer wins; an entry keeps its first layer's position in the
// output, so merging is stable.
func Merge(layers []ociv1.Layer, opts ...ociv1tarball.LayerOption) (ociv1.Layer, error) {
	var order []string
	byName := make(map[string]entry)
	for _, layer := range layers {
		entries, err := readLayer(layer)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, seen := byName[e.header.Name]; !seen {
				order = append(order, e.header.Name)
			}
			byName[e.header.Name] = e
		}
	}

	var byteWriter bytes.Buffer
	tarWriter := tar.NewWriter(&byteWriter)
	for _, name := range order {
		e := byName[name]
		if err := tarWriter.WriteHeader(e.header); err != nil {
			return nil, err
		}
		if len(e.body) > 0 {
			if _, err := tarWriter.Write(e.body); err != nil {
				return nil, err
			}
		}
	}
	if err := tarWriter.Close(); err != nil {
		return nil, err
	}

	byteSlice := byteWriter.Bytes()
	return ociv1tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(byteSlice)), nil
	}, opts...)
}

// Bundle writes an image tarball containing the given layers to 'out'.  A
// nil base starts from the empty image.
func Bundle(out io.Writer, base ociv1.Image, layers ...ociv1.Layer) error {
	if base == nil {
		base = empty.Image
	}
	img, err := mutate.AppendLayers(base, layers...)
	if err != nil {
		return err
	}
	return ociv1tarball.Write(nil, img, out)
}

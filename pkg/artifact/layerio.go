package artifact

import (
	"io"
	"io/fs"
	"os"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

// OpenLayer reads a layer from a tarball file, such as one written by
// WriteLayer.
func OpenLayer(filename string) (ociv1.Layer, error) {
	layer, err := ociv1tarball.LayerFromFile(filename)
	if err != nil {
		return nil, &fs.PathError{
			Op:   "open layerfile",
			Path: filename,
			Err:  err,
		}
	}
	return layer, nil
}

// OpenImage reads an image from a docker-save-style tarball file, such as
// one written by Bundle.
func OpenImage(filename string) (ociv1.Image, error) {
	img, err := ociv1tarball.ImageFromPath(filename, nil)
	if err != nil {
		return nil, &fs.PathError{
			Op:   "open imagefile",
			Path: filename,
			Err:  err,
		}
	}
	return img, nil
}

// WriteLayer writes a layer's uncompressed tarball to a file.
func WriteLayer(layer ociv1.Layer, filename string) (err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			err = _err
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(file.Close())
	}()

	reader, err := layer.Uncompressed()
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(reader.Close())
	}()

	_, err = io.Copy(file, reader)
	return err
}

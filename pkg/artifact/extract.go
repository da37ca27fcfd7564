package artifact

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
)

// Listing writes a `tar -tv`-style table of the layer's entries to 'out'.
func Listing(out io.Writer, layer ociv1.Layer) error {
	entries, err := readLayer(layer)
	if err != nil {
		return err
	}
	tabWriter := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, e := range entries {
		name := e.header.Name
		switch e.header.Typeflag {
		case tar.TypeSymlink:
			name += " -> " + e.header.Linkname
		case tar.TypeLink:
			name += " link to " + e.header.Linkname
		}
		fmt.Fprintf(tabWriter, "%s\t%d/%d\t%d\t%s\t%s\n",
			e.header.FileInfo().Mode(),
			e.header.Uid, e.header.Gid,
			e.header.Size,
			e.header.ModTime.UTC().Format("2006-01-02 15:04"),
			name)
	}
	return tabWriter.Flush()
}

// linkTargetOK reports whether a symlink with the given (clean) name may
// point at linkname without escaping the extraction root.
func linkTargetOK(name, linkname string) bool {
	if path.IsAbs(linkname) {
		return false
	}
	resolved := path.Join(path.Dir(name), linkname)
	return resolved != ".." && !strings.HasPrefix(resolved, "../")
}

// Extract unpacks a layer under destDir, refusing entries or link targets
// that would land outside of it.
func Extract(layer ociv1.Layer, destDir string) error {
	entries, err := readLayer(layer)
	if err != nil {
		return err
	}
	for _, e := range entries {
		target := filepath.Join(destDir, filepath.FromSlash(e.header.Name))
		mode := e.header.FileInfo().Mode()
		switch e.header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode.Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, e.body, mode.Perm()); err != nil {
				return err
			}
			if err := os.Chtimes(target, e.header.ModTime, e.header.ModTime); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !linkTargetOK(e.header.Name, e.header.Linkname) {
				return fmt.Errorf("symlink %q escapes the extraction root: %q",
					e.header.Name, e.header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(e.header.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			linkname := path.Clean(e.header.Linkname)
			if path.IsAbs(linkname) || linkname == ".." || strings.HasPrefix(linkname, "../") {
				return fmt.Errorf("hard link %q escapes the extraction root: %q",
					e.header.Name, e.header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(destDir, filepath.FromSlash(linkname)), target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported tar entry type %q: %q", e.header.Typeflag, e.header.Name)
		}
	}
	return nil
}

package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

var epoch = time.Unix(0, 0)

// ignoredDirs are never part of a bundle.
var ignoredDirs = map[string]bool{
	".git": true,
}

// bundle packages the tree under root as a gzipped tarball, and
// returns it along with the digest of the (uncompressed) tar
// stream. Entries are written in lexical order with ownership and
// timestamps zeroed, so the digest depends only on paths, modes and
// contents.
func bundle(root string) ([]byte, digest.Digest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading source directory %s", root)
	}
	if !info.IsDir() {
		return nil, "", errors.Errorf("source %s is not a directory", root)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	digester := digest.Canonical.Digester()
	tw := tar.NewWriter(io.MultiWriter(gz, digester.Hash()))

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addEntry(tw, path, filepath.ToSlash(rel), d)
	})
	if err != nil {
		return nil, "", errors.Wrapf(err, "packaging %s", root)
	}
	if err := tw.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing tar stream")
	}
	if err := gz.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing gzip stream")
	}
	return buf.Bytes(), digester.Digest(), nil
}

func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	switch {
	case info.Mode().IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		return tw.WriteHeader(hdr)
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		return tw.WriteHeader(hdr)
	case info.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	default:
		// sockets, devices and the like have no place in a bundle
		return nil
	}
}

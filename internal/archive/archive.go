// Package archive unpacks downloaded source archives and packs staged
// install trees.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ErrUnsupported is returned for file names with an unknown archive suffix.
var ErrUnsupported = eris.New("archive format not supported")

type extractor func(f *os.File, destDir string) error

func extractorFor(name string) (extractor, error) {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return func(f *os.File, destDir string) error {
			r, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer r.Close()
			return extractTar(r, destDir)
		}, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return func(f *os.File, destDir string) error {
			return extractTar(bzip2.NewReader(f), destDir)
		}, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return func(f *os.File, destDir string) error {
			r, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}
			return extractTar(r, destDir)
		}, nil
	}
	return nil, eris.Wrapf(ErrUnsupported, "%s", path.Base(name))
}

// Supported reports whether Extract understands the file name's suffix.
func Supported(name string) bool {
	_, err := extractorFor(name)
	return err == nil
}

// Extract unpacks file into destDir, creating it if needed. It returns the
// sorted top-level entries of the archive. Entries that would land outside
// destDir are rejected.
func Extract(file, destDir string) ([]string, error) {
	ex, err := extractorFor(file)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", file)
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create directory %s", destDir)
	}
	if err := ex(f, destDir); err != nil {
		return nil, eris.Wrapf(err, "failed to extract %s", filepath.Base(file))
	}
	return TopLevel(destDir)
}

// TopLevel lists the entries directly below dir, sorted.
func TopLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// destPath maps an archive entry to a path below destDir.
func destPath(destDir, name string) (string, error) {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		return "", nil
	}
	local, err := filepath.Localize(name)
	if err != nil || !filepath.IsLocal(local) {
		return "", eris.Errorf("illegal entry name %q", name)
	}
	return filepath.Join(destDir, local), nil
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(dest))
	}
	if mode&0o777 == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o200)
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", dest)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to write extracted file %s", dest)
	}
	return out.Close()
}

// writeSymlink creates dest -> target. Targets may not climb with "..":
// an earlier link in the archive can make a lexically contained path
// resolve outside destDir.
func writeSymlink(destDir, dest, target string) error {
	for _, elem := range strings.FieldsFunc(filepath.ToSlash(target), func(r rune) bool { return r == '/' }) {
		if elem == ".." {
			return eris.Errorf("symlink %s climbs out of its directory: %s", dest, target)
		}
	}
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(filepath.Dir(dest), target)
	}
	if rel, err := filepath.Rel(destDir, resolved); err != nil || !filepath.IsLocal(rel) {
		return eris.Errorf("symlink %s points outside the archive: %s", dest, target)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	os.Remove(dest)
	if err := os.Symlink(target, dest); err != nil {
		return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, target)
	}
	return nil
}

func extractZip(f *os.File, destDir string) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "failed to read zip directory")
	}
	for _, item := range zr.File {
		dest, err := destPath(destDir, item.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}
		mode := item.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		case mode&os.ModeSymlink != 0:
			rc, err := item.Open()
			if err != nil {
				return err
			}
			target, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(destDir, dest, string(target)); err != nil {
				return err
			}
			continue
		}

		rc, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
		}
		err = writeFile(dest, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		item, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "failed to read archive entry")
		}
		dest, err := destPath(destDir, item.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(destDir, dest, item.Linkname); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr, item.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Hard links, devices and fifos never appear in source releases.
		}
	}
}

package bootstrap

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qiniu/x/errors"
	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/internal/build"
)

func isSharedLib(name string) bool {
	return strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.") ||
		strings.HasSuffix(name, ".dylib") || strings.HasSuffix(name, ".dll")
}

func isFindModule(name string) bool {
	if !strings.HasSuffix(name, ".cmake") {
		return false
	}
	return strings.HasPrefix(name, "Find") ||
		strings.HasSuffix(name, "Config.cmake") || strings.HasSuffix(name, "-config.cmake")
}

func findFiles(root string, match func(name string) bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && match(d.Name()) {
			found = append(found, p)
		}
		return nil
	})
	return found, err
}

// Verify checks the end state of a finished run and reports every problem:
// at least one dynamic library and one find-module descriptor staged, every
// archive extracted to its declared directory, and the staging dir holding
// exactly the files the recorded installs added.
func (r *Runner) Verify() error {
	var errs errors.List

	var libs []string
	for _, dir := range []string{r.layout.LibDir(), filepath.Join(r.layout.PrefixDir(), "bin")} {
		found, err := findFiles(dir, isSharedLib)
		if err != nil {
			errs.Add(eris.Wrapf(err, "cannot scan %s", dir))
		}
		libs = append(libs, found...)
	}
	if len(libs) == 0 {
		errs.Add(eris.Errorf("no dynamic library below %s", r.layout.LibDir()))
	}
	mods, err := findFiles(r.layout.ShareDir(), isFindModule)
	if err != nil {
		errs.Add(eris.Wrapf(err, "cannot scan %s", r.layout.ShareDir()))
	}
	if len(mods) == 0 {
		errs.Add(eris.Errorf("no find-module descriptor below %s", r.layout.ShareDir()))
	}

	var recorded []string
	for i := range r.plan.Archives {
		a := &r.plan.Archives[i]
		e, ok := r.cache.Get(a.Module())
		if !ok {
			errs.Add(eris.Errorf("%s: no recorded build", a.Module()))
			continue
		}
		if e.Dir != a.ExpectedDir() {
			errs.Add(eris.Wrapf(ErrDirMismatch, "%s: extracted to %q, want %q", a.Module(), e.Dir, a.ExpectedDir()))
		}
		if fi, err := os.Stat(r.sourceRoot(a)); err != nil || !fi.IsDir() {
			errs.Add(eris.Errorf("%s: source dir %s is missing", a.Module(), r.sourceRoot(a)))
		}
		recorded = append(recorded, e.Installed...)
	}
	sort.Strings(recorded)

	staged, err := build.Snapshot(r.layout.Root)
	if err != nil {
		errs.Add(eris.Wrapf(err, "cannot scan %s", r.layout.Root))
	} else {
		missing, extra := build.Diff(recorded, stripMarker(staged))
		for _, p := range missing {
			errs.Add(eris.Errorf("installed file %s is missing from the staging dir", p))
		}
		for _, p := range extra {
			errs.Add(eris.Errorf("unexpected file %s in the staging dir", p))
		}
	}
	return errs.ToError()
}

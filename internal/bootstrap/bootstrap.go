// Package bootstrap runs the fixed, fail-fast sequence that stages a pinned
// set of native dependencies and then builds, tests and documents the
// project that depends on them.
package bootstrap

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/internal/build"
	"github.com/sfml-ci/sfboot/internal/env"
	"github.com/sfml-ci/sfboot/internal/fetch"
	"github.com/sfml-ci/sfboot/internal/plan"
	"github.com/sfml-ci/sfboot/internal/publish"
	"github.com/sfml-ci/sfboot/pkgs/buildsys"
)

var (
	// ErrFindModuleMissing is returned when a dependent archive is prepared
	// before the archive providing its find-module descriptor was installed.
	ErrFindModuleMissing = eris.New("find-module descriptor missing")
	// ErrDirMismatch is returned when an archive does not extract to its
	// declared versioned directory.
	ErrDirMismatch = eris.New("extracted directory does not match")
	// ErrChecksum is returned when a download does not match its pin.
	ErrChecksum = fetch.ErrChecksum
)

// stagingMarker identifies staging dirs this package may remove.
const stagingMarker = ".sfboot-staging"

// Fetcher downloads archives.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error)
}

// Publisher uploads a finished staging dir.
type Publisher interface {
	Publish(ctx context.Context, stagingDir, runID string) (publish.Object, error)
}

// Options configures a Runner.
type Options struct {
	Plan    *plan.Plan
	WorkDir string
	Staging string
	Project string

	Fetcher Fetcher
	// Publisher is optional. Without one the publish step is left out.
	Publisher Publisher
	// Exec starts the build tool processes. Nil runs them.
	Exec buildsys.RunFunc
	// ShellExec starts the programs of project command lines. Nil runs them.
	ShellExec func(ctx context.Context, args []string) error

	Stdout io.Writer
	Stderr io.Writer
	Jobs   int
	DryRun bool
	// RunID defaults to a random UUID.
	RunID string
}

// Layout locates the staging prefix.
type Layout struct {
	// Root is the destination root passed to installs as DESTDIR.
	Root string
	// Prefix is the install prefix the artifacts are configured for.
	Prefix string
}

// PrefixDir is where installs land: Root joined with Prefix.
func (l Layout) PrefixDir() string { return buildsys.OutputDir(l.Root, l.Prefix) }

func (l Layout) LibDir() string     { return filepath.Join(l.PrefixDir(), "lib") }
func (l Layout) IncludeDir() string { return filepath.Join(l.PrefixDir(), "include") }
func (l Layout) ShareDir() string   { return filepath.Join(l.PrefixDir(), "share") }

// driver is a build system whose process output can be redirected.
type driver interface {
	buildsys.BuildSystem
	Output(stdout, stderr io.Writer)
}

// Runner executes the bootstrap steps of one plan.
type Runner struct {
	opts   Options
	plan   *plan.Plan
	layout Layout
	runID  string

	cache *build.Cache
	// previous holds the install manifests recorded by the last run.
	previous map[string][]string

	env       buildsys.Env
	downloads map[string]string
	srcDirs   map[string]string
	drivers   map[string]driver
	unlock    func()
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Plan == nil {
		return nil, eris.New("no plan")
	}
	if opts.Fetcher == nil && !opts.DryRun {
		return nil, eris.New("no fetcher")
	}
	for _, p := range []*string{&opts.WorkDir, &opts.Staging, &opts.Project} {
		if *p == "" {
			return nil, eris.New("work dir, staging and project dir are required")
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid path %s", *p)
		}
		*p = abs
	}
	if err := checkStaging(opts.Staging, opts.WorkDir, opts.Project); err != nil {
		return nil, err
	}
	if opts.Exec == nil {
		opts.Exec = buildsys.DefaultRun
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	cache, err := build.Load(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	previous := make(map[string][]string)
	for _, a := range opts.Plan.Archives {
		if e, ok := cache.Get(a.Module()); ok && len(e.Installed) > 0 {
			previous[a.Name] = e.Installed
		}
	}

	return &Runner{
		opts:      opts,
		plan:      opts.Plan,
		layout:    Layout{Root: opts.Staging, Prefix: opts.Plan.Prefix},
		runID:     opts.RunID,
		cache:     cache,
		previous:  previous,
		env:       buildsys.Env{},
		downloads: make(map[string]string),
		srcDirs:   make(map[string]string),
		drivers:   make(map[string]driver),
		unlock:    func() {},
	}, nil
}

// checkStaging refuses staging dirs whose removal would take other inputs
// with them.
func checkStaging(staging string, others ...string) error {
	if filepath.Dir(staging) == staging {
		return eris.Errorf("staging dir %s is a filesystem root", staging)
	}
	for _, o := range others {
		if o == staging || within(staging, o) {
			return eris.Errorf("staging dir %s contains %s", staging, o)
		}
	}
	return nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}

// RunID identifies this run in logs and uploads.
func (r *Runner) RunID() string { return r.runID }

// Layout returns the staging layout.
func (r *Runner) Layout() Layout { return r.layout }

// ProjectEnv returns the variables set for the project steps: the platform's
// library search variables with the staging lib dir in front.
func (r *Runner) ProjectEnv() buildsys.Env {
	e := buildsys.Env{}
	for _, v := range env.LibrarySearchVars() {
		e.PrependPath(v, r.layout.LibDir())
	}
	return e
}

// sourceRoot is where an archive's top-level dir is extracted to.
func (r *Runner) sourceRoot(a *plan.Archive) string {
	return filepath.Join(r.opts.WorkDir, "src", a.Name, a.ExpectedDir())
}

func (r *Runner) entry(a *plan.Archive) *build.Entry {
	if e, ok := r.cache.Get(a.Module()); ok {
		return e
	}
	e := &build.Entry{}
	r.cache.Set(a.Module(), e)
	return e
}

func (r *Runner) saveCache() error {
	if r.opts.DryRun {
		return nil
	}
	return r.cache.Save()
}

// resetStaging empties root. Existing non-empty dirs are only removed when
// they carry the staging marker.
func resetStaging(root string) error {
	entries, err := os.ReadDir(root)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return eris.Wrapf(err, "cannot read %s", root)
	case len(entries) > 0:
		if _, err := os.Stat(filepath.Join(root, stagingMarker)); err != nil {
			return eris.Errorf("refusing to remove %s: not a staging dir", root)
		}
		if err := os.RemoveAll(root); err != nil {
			return eris.Wrapf(err, "failed to remove %s", root)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", root)
	}
	return os.WriteFile(filepath.Join(root, stagingMarker), []byte("sfboot\n"), 0o644)
}

func stripMarker(paths []string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if p != stagingMarker {
			out = append(out, p)
		}
	}
	return out
}

// Clean removes the staging dir and the work dir. A non-empty staging dir
// without the staging marker is left alone.
func (r *Runner) Clean() error {
	unlock, err := build.Lock(r.opts.WorkDir)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := os.ReadDir(r.layout.Root)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return eris.Wrapf(err, "cannot read %s", r.layout.Root)
	case len(entries) > 0:
		if _, err := os.Stat(filepath.Join(r.layout.Root, stagingMarker)); err != nil {
			return eris.Errorf("refusing to remove %s: not a staging dir", r.layout.Root)
		}
		fallthrough
	default:
		if err := os.RemoveAll(r.layout.Root); err != nil {
			return eris.Wrapf(err, "failed to remove %s", r.layout.Root)
		}
	}
	if err := os.RemoveAll(r.opts.WorkDir); err != nil {
		return eris.Wrapf(err, "failed to remove %s", r.opts.WorkDir)
	}
	return nil
}

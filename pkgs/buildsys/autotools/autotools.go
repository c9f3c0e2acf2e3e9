// Package autotools wraps the configure/make/make install workflow.
package autotools

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/sfml-ci/sfboot/pkgs/buildsys"
)

// AutoTools drives ./configure based builds out of tree.
type AutoTools struct {
	sourceDir string
	buildDir  string
	prefix    string
	destDir   string
	vars      map[string]string
	env       buildsys.Env
	run       buildsys.RunFunc
	stdout    io.Writer
	stderr    io.Writer
}

var _ buildsys.BuildSystem = (*AutoTools)(nil)

// New returns an AutoTools building sourceDir in buildDir. An empty buildDir
// means "<sourceDir>/build".
func New(sourceDir, buildDir string) *AutoTools {
	if buildDir == "" {
		buildDir = filepath.Join(sourceDir, "build")
	}
	return &AutoTools{
		sourceDir: sourceDir,
		buildDir:  buildDir,
		vars:      map[string]string{},
		env:       buildsys.Env{},
		run:       buildsys.DefaultRun,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

func (a *AutoTools) Source(dir string) {
	a.sourceDir = dir
}

func (a *AutoTools) Prefix(dir string) {
	a.prefix = dir
}

func (a *AutoTools) DestDir(dir string) {
	a.destDir = dir
}

// Define passes KEY=VALUE to ./configure (e.g. CFLAGS=-O2).
func (a *AutoTools) Define(key, value string) {
	a.vars[key] = value
}

func (a *AutoTools) Env(key, value string) {
	a.env[key] = value
}

func (a *AutoTools) Exec(fn buildsys.RunFunc) {
	if fn == nil {
		fn = buildsys.DefaultRun
	}
	a.run = fn
}

// Output redirects the output of every started process.
func (a *AutoTools) Output(stdout, stderr io.Writer) {
	a.stdout, a.stderr = stdout, stderr
}

// Use configures the build environment to use a dependency installed under root.
func (a *AutoTools) Use(root string) {
	a.env.UseRoot(root)
}

// Configure runs <source>/configure from the build directory.
func (a *AutoTools) Configure(ctx context.Context, args ...string) error {
	if err := os.MkdirAll(a.buildDir, 0o755); err != nil {
		return err
	}
	exe, configArgs := a.ConfigureArgs(args...)
	return a.exec(ctx, exe, configArgs)
}

// ConfigureArgs returns the executable and arguments Configure would use.
func (a *AutoTools) ConfigureArgs(args ...string) (string, []string) {
	exe := filepath.Join(a.sourceDir, "configure")
	if !filepath.IsAbs(exe) {
		if abs, err := filepath.Abs(exe); err == nil {
			exe = abs
		}
	}

	var configArgs []string
	if a.prefix != "" {
		configArgs = append(configArgs, "--prefix="+a.prefix)
	}
	keys := make([]string, 0, len(a.vars))
	for k := range a.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		configArgs = append(configArgs, k+"="+a.vars[k])
	}
	return exe, append(configArgs, args...)
}

// Build runs make (or provided args) in the build directory.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	return a.exec(ctx, "make", args)
}

// Install runs "make install DESTDIR=<dest>" in the build directory.
func (a *AutoTools) Install(ctx context.Context, args ...string) error {
	cmdArgs := []string{"install"}
	if a.destDir != "" {
		cmdArgs = append(cmdArgs, "DESTDIR="+a.destDir)
	}
	return a.exec(ctx, "make", append(cmdArgs, args...))
}

// OutputDir returns DestDir/Prefix, falling back to the build dir.
func (a *AutoTools) OutputDir() string {
	if out := buildsys.OutputDir(a.destDir, a.prefix); out != "" {
		return out
	}
	return a.buildDir
}

func (a *AutoTools) exec(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = a.buildDir
	cmd.Stdout = a.stdout
	cmd.Stderr = a.stderr
	if len(a.env) > 0 {
		cmd.Env = a.env.Environ(os.Environ())
	}
	return a.run(ctx, cmd)
}

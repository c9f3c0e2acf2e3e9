// Package hostcheck verifies the host preconditions of a bootstrap run:
// required tools and their versions, native packages and an unprivileged,
// writable staging location.
package hostcheck

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/qiniu/x/errors"
	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/internal/plan"
	"github.com/sfml-ci/sfboot/pkgs/gnu"
	"github.com/sfml-ci/sfboot/pkgs/mod/module"
)

// ErrNotWritable is returned when the staging location cannot be written by
// the current user.
var ErrNotWritable = eris.New("not writable by the current user")

// Checker runs host checks. The zero value uses the real host.
type Checker struct {
	LookPath func(file string) (string, error)
	Output   func(ctx context.Context, name string, args ...string) ([]byte, error)
	// Compare orders tool versions. Nil uses GNU version ordering.
	Compare module.VersionComparator
}

func (c *Checker) atLeast(have, want string) bool {
	if c.Compare == nil {
		return gnu.AtLeast(have, want)
	}
	return c.Compare(have, want) >= 0
}

func (c *Checker) lookPath(file string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath(file)
	}
	return exec.LookPath(file)
}

func (c *Checker) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.Output != nil {
		return c.Output(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// ToolVersion returns the first version number printed by "<tool> --version".
func (c *Checker) ToolVersion(ctx context.Context, tool string) (string, error) {
	out, err := c.output(ctx, tool, "--version")
	if err != nil {
		return "", eris.Wrapf(err, "%s --version failed", tool)
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if v := gnu.Extract(sc.Text()); v != "" {
			return v, nil
		}
	}
	return "", eris.Errorf("%s --version printed no version", tool)
}

// Tools checks that every tool is on PATH and at least its minimum version.
func (c *Checker) Tools(ctx context.Context, tools []plan.Tool) error {
	var errs errors.List
	for _, t := range tools {
		if _, err := c.lookPath(t.Name); err != nil {
			errs.Add(eris.Errorf("%s: not found on PATH", t.Name))
			continue
		}
		if t.Min == "" {
			continue
		}
		have, err := c.ToolVersion(ctx, t.Name)
		if err != nil {
			errs.Add(err)
			continue
		}
		if !c.atLeast(have, t.Min) {
			errs.Add(eris.Errorf("%s: version %s is older than %s", t.Name, have, t.Min))
		}
	}
	return errs.ToError()
}

// Packages checks native packages with dpkg-query. It reports false without
// an error when the host has no dpkg.
func (c *Checker) Packages(ctx context.Context, pkgs []string) (bool, error) {
	if len(pkgs) == 0 {
		return true, nil
	}
	if _, err := c.lookPath("dpkg-query"); err != nil {
		return false, nil
	}
	var errs errors.List
	for _, p := range pkgs {
		out, err := c.output(ctx, "dpkg-query", "-W", "-f=${Status}", p)
		if err != nil || !strings.HasSuffix(strings.TrimSpace(string(out)), "installed") {
			errs.Add(eris.Errorf("package %s is not installed", p))
		}
	}
	return true, errs.ToError()
}

// Staging checks that dir, or the closest existing parent it would be
// created in, is writable without elevated privileges.
func Staging(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for p := abs; ; p = filepath.Dir(p) {
		fi, err := os.Stat(p)
		if err == nil {
			if !fi.IsDir() {
				return eris.Errorf("%s is not a directory", p)
			}
			if err := writable(p); err != nil {
				return eris.Wrapf(ErrNotWritable, "%s", p)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return eris.Wrapf(err, "cannot inspect %s", p)
		}
		if filepath.Dir(p) == p {
			return eris.Errorf("no existing parent of %s", abs)
		}
	}
}

// Privileged reports whether the process runs with elevated privileges.
func Privileged() bool {
	return privileged()
}

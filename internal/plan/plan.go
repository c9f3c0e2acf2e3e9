// Package plan describes the pinned set of native dependencies a bootstrap
// run fetches, builds and installs, and the dependent project it then builds.
package plan

import (
	_ "embed"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/qiniu/x/errors"
	"github.com/rotisserie/eris"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/sfml-ci/sfboot/internal/shell"
	"github.com/sfml-ci/sfboot/pkgs/mod/module"
)

//go:embed default.yml
var defaultPlan []byte

// Build systems an archive can declare.
const (
	CMake     = "cmake"
	Autotools = "autotools"
)

// Plan is the full, ordered bootstrap description.
type Plan struct {
	Prefix   string            `yaml:"prefix"`
	Vars     map[string]string `yaml:"vars,omitempty"`
	Archives []Archive         `yaml:"archives"`
	Project  Project           `yaml:"project"`
	Tools    []Tool            `yaml:"tools,omitempty"`
	Packages []string          `yaml:"packages,omitempty"`
}

// Archive is one pinned source archive. Archives are built in the order
// they appear in the plan.
type Archive struct {
	Name      string            `yaml:"name"`
	Version   string            `yaml:"version"`
	URL       string            `yaml:"url"`
	Sha256    string            `yaml:"sha256,omitempty"`
	Dir       string            `yaml:"dir,omitempty"`
	Build     string            `yaml:"build,omitempty"`
	BuildType string            `yaml:"buildType,omitempty"`
	Defines   map[string]string `yaml:"defines,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Requires  []Require         `yaml:"requires,omitempty"`
}

// Require declares that an archive is built against an earlier one.
type Require struct {
	Name       string      `yaml:"name"`
	FindModule *FindModule `yaml:"findModule,omitempty"`
	// RootDefine, when set, is passed to the configure step pointing at the
	// required archive's staged install prefix.
	RootDefine string `yaml:"rootDefine,omitempty"`
}

// FindModule is a find-module descriptor installed by a required archive
// that must be copied into the dependent source tree before configuring.
type FindModule struct {
	// From is relative to the staged install prefix.
	From string `yaml:"from"`
	// To is a directory relative to the dependent archive's source root.
	To string `yaml:"to"`
}

// Project is the dependent binding project built last.
type Project struct {
	Dir      string   `yaml:"dir"`
	Config   string   `yaml:"config,omitempty"`
	Steps    []Step   `yaml:"steps"`
	Excludes []string `yaml:"excludes,omitempty"`
}

// Step is one shell command line run inside the project dir.
type Step struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
	// Excludes appends "-- --skip <group>" for every excluded test group.
	Excludes bool `yaml:"excludes,omitempty"`
}

// Tool is a host executable the run depends on.
type Tool struct {
	Name string `yaml:"name"`
	Min  string `yaml:"min,omitempty"`
}

// Module returns the archive identity.
func (a *Archive) Module() module.Version {
	return module.Version{Name: a.Name, Version: a.Version}
}

// ExpectedDir returns the top-level directory the archive must extract to.
func (a *Archive) ExpectedDir() string {
	if a.Dir != "" {
		return a.Dir
	}
	return a.Module().Dir()
}

// FileName returns the last path element of the archive URL.
func (a *Archive) FileName() string {
	u, err := url.Parse(a.URL)
	if err != nil || u.Path == "" {
		return path.Base(a.URL)
	}
	return path.Base(u.Path)
}

// BuildSystem returns the declared build system, cmake by default.
func (a *Archive) BuildSystem() string {
	if a.Build == "" {
		return CMake
	}
	return a.Build
}

// Archive returns the archive with the given name.
func (p *Plan) Archive(name string) (*Archive, bool) {
	for i := range p.Archives {
		if p.Archives[i].Name == name {
			return &p.Archives[i], true
		}
	}
	return nil, false
}

// Default returns the embedded plan.
func Default() (*Plan, error) {
	return Parse(defaultPlan)
}

// DefaultBytes returns the raw embedded plan, for writing a starter file.
func DefaultBytes() []byte {
	return append([]byte(nil), defaultPlan...)
}

// Load reads the plan at file, or the embedded plan when file is empty.
// The result is resolved and validated.
func Load(file string) (*Plan, error) {
	if file == "" {
		return Default()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "read plan %s", file)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "plan %s", file)
	}
	return p, nil
}

// Parse decodes, resolves and validates a plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "decode plan")
	}
	p.Resolve()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var varMatcher = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

// Expand replaces {NAME} placeholders with vars. Unknown placeholders are
// left in place so Validate can report them.
func Expand(s string, vars map[string]string) string {
	return varMatcher.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Resolve applies defaults and expands placeholders in place.
func (p *Plan) Resolve() {
	if p.Prefix == "" {
		p.Prefix = "/usr/local"
	}
	if p.Project.Dir == "" {
		p.Project.Dir = "."
	}
	for i := range p.Archives {
		a := &p.Archives[i]
		vars := map[string]string{"PREFIX": p.Prefix}
		for k, v := range p.Vars {
			vars[k] = v
		}
		vars["NAME"] = a.Name
		vars["VERSION"] = a.Version

		a.URL = Expand(a.URL, vars)
		a.Dir = Expand(a.Dir, vars)
		for k, v := range a.Defines {
			a.Defines[k] = Expand(v, vars)
		}
		for j, arg := range a.Args {
			a.Args[j] = Expand(arg, vars)
		}
		a.Sha256 = strings.ToLower(strings.TrimSpace(a.Sha256))
	}
}

var sha256Matcher = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate reports every problem found in the plan.
func (p *Plan) Validate() error {
	var errs errors.List
	if !path.IsAbs(p.Prefix) {
		errs.Add(eris.Errorf("prefix %q is not absolute", p.Prefix))
	}
	if len(p.Archives) == 0 {
		errs.Add(eris.New("no archives"))
	}
	seen := make(map[string]bool)
	for i := range p.Archives {
		a := &p.Archives[i]
		if err := a.validate(seen); err != nil {
			errs.Add(eris.Wrapf(err, "archive %s", a.Module()))
		}
		seen[a.Name] = true
	}
	if len(p.Project.Steps) == 0 {
		errs.Add(eris.New("project has no steps"))
	}
	stepNames := make(map[string]bool)
	for _, s := range p.Project.Steps {
		switch {
		case s.Name == "" || strings.TrimSpace(s.Run) == "":
			errs.Add(eris.Errorf("project step %q needs a name and a command", s.Name))
		case stepNames[s.Name]:
			errs.Add(eris.Errorf("duplicate project step %q", s.Name))
		case s.Excludes && len(p.Project.Excludes) > 0:
			if err := shell.CheckCommand(s.Run); err != nil {
				errs.Add(eris.Wrapf(err, "project step %q", s.Name))
			}
		}
		stepNames[s.Name] = true
	}
	for _, g := range p.Project.Excludes {
		if g == "" || strings.ContainsAny(g, " \t\n") {
			errs.Add(eris.Errorf("invalid excluded group %q", g))
		}
	}
	if p.Project.Config != "" && filepath.IsAbs(p.Project.Config) {
		errs.Add(eris.Errorf("project config %q must be relative to the project dir", p.Project.Config))
	}
	return errs.ToError()
}

func (a *Archive) validate(earlier map[string]bool) error {
	var errs errors.List
	if a.Name == "" {
		errs.Add(eris.New("missing name"))
	} else if _, err := module.EscapePath(a.Name); err != nil || strings.ContainsAny(a.Name, "/\\") {
		errs.Add(eris.Errorf("invalid name %q", a.Name))
	}
	if earlier[a.Name] {
		errs.Add(eris.New("duplicate archive"))
	}
	if !semver.IsValid("v" + a.Version) {
		errs.Add(eris.Errorf("version %q is not a release version", a.Version))
	}
	u, err := url.Parse(a.URL)
	switch {
	case err != nil || u.Host == "":
		errs.Add(eris.Errorf("invalid url %q", a.URL))
	case u.Scheme == "http" && a.Sha256 == "":
		errs.Add(eris.Errorf("plain http url %q needs a pinned sha256", a.URL))
	case u.Scheme != "https" && u.Scheme != "http":
		errs.Add(eris.Errorf("unsupported url scheme %q", u.Scheme))
	}
	if varMatcher.MatchString(a.URL) {
		errs.Add(eris.Errorf("unresolved placeholder in url %q", a.URL))
	}
	if !strings.Contains(a.FileName(), a.Version) {
		errs.Add(eris.Errorf("archive file %q does not carry version %s", a.FileName(), a.Version))
	}
	if a.Sha256 != "" && !sha256Matcher.MatchString(a.Sha256) {
		errs.Add(eris.Errorf("malformed sha256 %q", a.Sha256))
	}
	if dir := a.ExpectedDir(); dir != filepath.Base(dir) || dir == "." || dir == ".." {
		errs.Add(eris.Errorf("dir %q must be a single path element", dir))
	}
	switch a.BuildSystem() {
	case CMake, Autotools:
	default:
		errs.Add(eris.Errorf("unknown build system %q", a.Build))
	}
	for _, r := range a.Requires {
		if !earlier[r.Name] {
			errs.Add(eris.Errorf("requires %q which is not declared before it", r.Name))
		}
		if fm := r.FindModule; fm != nil {
			if fm.From == "" || fm.To == "" || path.IsAbs(fm.From) || path.IsAbs(fm.To) {
				errs.Add(eris.Errorf("find module of %s needs relative from and to", r.Name))
			}
		}
	}
	return errs.ToError()
}

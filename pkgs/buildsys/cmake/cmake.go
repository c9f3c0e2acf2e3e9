// Package cmake wraps the cmake configure/build/install workflow.
package cmake

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sfml-ci/sfboot/pkgs/buildsys"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake drives CMake-based builds. Installs are relocated below DestDir so
// they never touch the real prefix.
type CMake struct {
	sourceDir string
	buildDir  string
	prefix    string
	destDir   string
	generator string
	buildType string
	toolchain string
	jobs      int
	defines   map[string]defineValue
	env       buildsys.Env
	run       buildsys.RunFunc
	stdout    io.Writer
	stderr    io.Writer
}

var _ buildsys.BuildSystem = (*CMake)(nil)

// New returns a CMake for an out-of-tree build of sourceDir in buildDir.
// An empty buildDir means "<sourceDir>/build".
func New(sourceDir, buildDir string) *CMake {
	if buildDir == "" {
		buildDir = filepath.Join(sourceDir, "build")
	}
	return &CMake{
		sourceDir: sourceDir,
		buildDir:  buildDir,
		defines:   make(map[string]defineValue),
		env:       buildsys.Env{},
		run:       buildsys.DefaultRun,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

// Source overrides the source directory.
func (c *CMake) Source(dir string) { c.sourceDir = dir }

// Prefix sets CMAKE_INSTALL_PREFIX, the path the artifacts expect at runtime.
func (c *CMake) Prefix(dir string) { c.prefix = dir }

// DestDir sets the destination-root override applied at install time.
func (c *CMake) DestDir(dir string) { c.destDir = dir }

// Generator sets the CMake generator (e.g. "Ninja", "Unix Makefiles").
func (c *CMake) Generator(name string) { c.generator = name }

// BuildType sets CMAKE_BUILD_TYPE (e.g. "Release", "Debug").
func (c *CMake) BuildType(name string) { c.buildType = name }

// Toolchain sets CMAKE_TOOLCHAIN_FILE.
func (c *CMake) Toolchain(path string) { c.toolchain = path }

// Jobs sets the --parallel level of the build step. Zero leaves it to CMake.
func (c *CMake) Jobs(n int) { c.jobs = n }

// Output redirects the output of every started process.
func (c *CMake) Output(stdout, stderr io.Writer) {
	c.stdout, c.stderr = stdout, stderr
}

// Exec replaces the function used to start processes.
func (c *CMake) Exec(fn buildsys.RunFunc) {
	if fn == nil {
		fn = buildsys.DefaultRun
	}
	c.run = fn
}

// Define adds a -D<key>:STRING=<value> definition.
func (c *CMake) Define(key, value string) {
	c.defines[key] = defineValue{value: value, typeName: "STRING"}
}

// DefinePath adds a -D<key>:PATH=<value> definition.
func (c *CMake) DefinePath(key, value string) {
	c.defines[key] = defineValue{value: value, typeName: "PATH"}
}

// DefineBool adds a -D<key>:BOOL=ON/OFF definition.
func (c *CMake) DefineBool(key string, value bool) {
	v := "OFF"
	if value {
		v = "ON"
	}
	c.defines[key] = defineValue{value: v, typeName: "BOOL"}
}

// ModulePath appends dir to CMAKE_MODULE_PATH so find_package() picks up
// Find<Name>.cmake descriptors from it.
func (c *CMake) ModulePath(dir string) {
	if cur, ok := c.defines["CMAKE_MODULE_PATH"]; ok && cur.value != "" {
		dir = cur.value + ";" + dir
	}
	c.DefinePath("CMAKE_MODULE_PATH", dir)
}

// Env sets a variable for every process this CMake starts.
func (c *CMake) Env(key, value string) {
	c.env[key] = value
}

// Use makes a dependency installed under root visible to configure and
// compile steps.
func (c *CMake) Use(root string) {
	c.env.UseRoot(root)
}

// Configure runs "cmake -S <source> -B <build>" with all configured options.
// Extra args are appended at the end.
func (c *CMake) Configure(ctx context.Context, args ...string) error {
	if err := os.MkdirAll(c.buildDir, 0o755); err != nil {
		return err
	}
	return c.exec(ctx, c.ConfigureArgs(args...), nil)
}

// ConfigureArgs returns the cmake arguments Configure would use.
func (c *CMake) ConfigureArgs(args ...string) []string {
	cmakeArgs := []string{"-S", c.sourceDir, "-B", c.buildDir}
	if c.generator != "" {
		cmakeArgs = append(cmakeArgs, "-G", c.generator)
	}
	if c.prefix != "" {
		c.DefinePath("CMAKE_INSTALL_PREFIX", c.prefix)
	}
	if c.toolchain != "" {
		c.DefinePath("CMAKE_TOOLCHAIN_FILE", c.toolchain)
	}
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, c.definesArgs()...)
	return append(cmakeArgs, args...)
}

// Build runs "cmake --build <build>" with optional extra arguments.
func (c *CMake) Build(ctx context.Context, args ...string) error {
	cmakeArgs := []string{"--build", c.buildDir}
	if c.buildType != "" {
		cmakeArgs = append(cmakeArgs, "--config", c.buildType)
	}
	if c.jobs > 0 {
		cmakeArgs = append(cmakeArgs, "--parallel", strconv.Itoa(c.jobs))
	}
	cmakeArgs = append(cmakeArgs, args...)
	return c.exec(ctx, cmakeArgs, nil)
}

// Install runs "cmake --install <build>" with DESTDIR set to the
// destination root, so files land in DestDir/Prefix.
func (c *CMake) Install(ctx context.Context, args ...string) error {
	cmakeArgs := []string{"--install", c.buildDir}
	if c.buildType != "" {
		cmakeArgs = append(cmakeArgs, "--config", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, args...)

	var extra buildsys.Env
	if c.destDir != "" {
		extra = buildsys.Env{"DESTDIR": c.destDir}
	}
	return c.exec(ctx, cmakeArgs, extra)
}

// OutputDir returns DestDir/Prefix, falling back to the build dir when
// neither is set.
func (c *CMake) OutputDir() string {
	if out := buildsys.OutputDir(c.destDir, c.prefix); out != "" {
		return out
	}
	return c.buildDir
}

// BuildDir returns the out-of-tree build directory.
func (c *CMake) BuildDir() string { return c.buildDir }

func (c *CMake) exec(ctx context.Context, args []string, extra buildsys.Env) error {
	cmd := exec.CommandContext(ctx, "cmake", args...)
	cmd.Dir = c.buildDir
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr

	env := buildsys.Env{}
	for k, v := range c.env {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	if len(env) > 0 {
		cmd.Env = env.Environ(os.Environ())
	}
	return c.run(ctx, cmd)
}

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := c.defines[k]
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}

package buildsys

import (
	"context"
	"os/exec"
)

// RunFunc executes a prepared command. Drivers call it for every process
// they start so callers can log, dry-run or fake the invocation.
type RunFunc func(ctx context.Context, cmd *exec.Cmd) error

// DefaultRun runs cmd and waits for it to finish.
func DefaultRun(ctx context.Context, cmd *exec.Cmd) error {
	return cmd.Run()
}

// BuildSystem captures shared capabilities of build helpers (CMake, Autotools).
// It keeps the common lifecycle and dependency/env setup; implementations add their own extras.
type BuildSystem interface {
	// Use makes headers, libraries and pkg-config files installed under
	// root visible to the build.
	Use(root string)

	// Basic paths.
	Source(dir string)
	Prefix(dir string)
	DestDir(dir string)

	// Define passes a named configuration value to the configure step.
	Define(key, value string)

	// Environment helper.
	Env(key, val string)

	// Exec replaces the function used to start processes.
	Exec(fn RunFunc)

	// Lifecycle.
	Configure(ctx context.Context, args ...string) error
	Build(ctx context.Context, args ...string) error
	Install(ctx context.Context, args ...string) error

	// Where artifacts land: DestDir joined with Prefix.
	OutputDir() string
}

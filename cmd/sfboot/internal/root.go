package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/config"
	"github.com/sfml-ci/sfboot/internal/env"
	"github.com/sfml-ci/sfboot/internal/fetch"
	"github.com/sfml-ci/sfboot/internal/logging"
	"github.com/sfml-ci/sfboot/internal/plan"
)

var (
	configFile string
	cfg        *config.Config
	// exitCode is set by commands that report a child process status.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "sfboot",
	Short: "sfboot stages native dependencies and builds the project using them",
	Long: `sfboot fetches pinned source archives, builds and installs them into an
unprivileged staging dir and then builds, tests and documents the project
that links against them. Every step runs in order and the first failure
stops the run.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configFile, "config", "c", "", "Config file (default "+config.DefaultFile+")")
	f.String("workdir", "", "Directory for downloads, sources and the build cache")
	f.String("staging", "", "Staging dir the archives are installed into")
	f.String("project", "", "Directory of the dependent project")
	f.String("plan", "", "Plan file (default: embedded plan)")
	f.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	f.Bool("json", false, "Output JSON lines instead of console messages")
	f.Bool("dry-run", false, "Log commands without running them")
	f.String("cabundle", "", "Extra PEM bundle to trust for downloads")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	exitCode = 0
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// step failures were logged by the run
		var serr *bootstrap.StepError
		if !errors.As(err, &serr) {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", eris.ToString(err, logging.Debug()))
		}
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

// setup loads the configuration, applies the flags over it and attaches a
// logger to the command context.
func setup(cmd *cobra.Command, args []string) error {
	var files []string
	if configFile != "" {
		files = append(files, configFile)
	}
	c, err := config.Load(files...)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, c); err != nil {
		return err
	}
	if err := c.Resolve(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	level := cfg.LogLevel()
	if logging.Debug() && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	logger := logging.New(cmd.ErrOrStderr(), level, cfg.Log.JSON)
	cmd.SetContext(logging.WithLogger(cmd.Context(), &logger))
	return nil
}

// applyFlags copies the flags given on the command line over c.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	strs := map[string]*string{
		"workdir":   &c.WorkDir,
		"staging":   &c.Staging,
		"project":   &c.Project,
		"plan":      &c.Plan,
		"log-level": &c.Log.Level,
		"cabundle":  &c.HTTP.CABundle,
	}
	for name, p := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*p = v
	}
	bools := map[string]*bool{
		"json":    &c.Log.JSON,
		"dry-run": &c.DryRun,
	}
	for name, p := range bools {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func loadPlan() (*plan.Plan, error) {
	return plan.Load(cfg.Plan)
}

// projectDir resolves the plan's project dir against the configured one.
func projectDir(p *plan.Plan) string {
	if filepath.IsAbs(p.Project.Dir) {
		return p.Project.Dir
	}
	return filepath.Join(cfg.Project, p.Project.Dir)
}

func newFetcher(cmd *cobra.Command) (*fetch.Fetcher, error) {
	return fetch.New(filepath.Join(cfg.WorkDir, "downloads"), fetch.Options{
		Timeout:  cfg.HTTP.Timeout,
		CABundle: cfg.HTTP.CABundle,
		Progress: !env.IsCI() && !cfg.Log.JSON,
		Output:   cmd.ErrOrStderr(),
	})
}

// newRunner returns a Runner for the configured dirs. Commands that only
// inspect the plan or the staging dir pass a nil fetcher.
func newRunner(cmd *cobra.Command, p *plan.Plan, opts bootstrap.Options) (*bootstrap.Runner, error) {
	opts.Plan = p
	opts.WorkDir = cfg.WorkDir
	opts.Staging = cfg.Staging
	opts.Project = projectDir(p)
	if opts.Fetcher == nil {
		opts.DryRun = true
	}
	if opts.Stdout == nil {
		opts.Stdout = cmd.OutOrStdout()
	}
	if opts.Stderr == nil {
		opts.Stderr = cmd.ErrOrStderr()
	}
	return bootstrap.New(opts)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

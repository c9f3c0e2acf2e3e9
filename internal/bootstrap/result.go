package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sfml-ci/sfboot/internal/logging"
	"github.com/sfml-ci/sfboot/internal/shell"
)

// StepError is the only error a run reports: the first step that failed.
type StepError struct {
	Step string
	// Code is the exit code of the failing child process, or 1.
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (exit code %d): %v", e.Step, e.Code, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepReport records one executed step.
type StepReport struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	Steps []StepReport
	// Failed names the first failing step; empty on success.
	Failed string
	Err    *StepError
}

// ExitCode is 0 on success and the failing step's code otherwise.
func (r *Result) ExitCode() int {
	if r.Err == nil {
		return 0
	}
	return r.Err.Code
}

// Run executes every step in order and stops at the first failure. There
// are no retries. Cancelling ctx fails the running or next step.
func (r *Runner) Run(ctx context.Context) *Result {
	logger := logging.FromContext(ctx).With().Str("run", r.runID).Logger()
	ctx = logging.WithLogger(ctx, &logger)
	defer func() { r.unlock() }()

	res := &Result{RunID: r.runID}
	logger.Info().Bool("dry_run", r.opts.DryRun).Str("staging", r.layout.Root).Msg("bootstrap started")
	for _, s := range r.Steps() {
		start := time.Now()
		err := ctx.Err()
		if err == nil {
			logger.Debug().Str("step", s.Name).Msg("started")
			err = s.run(ctx)
		}
		report := StepReport{Name: s.Name, Duration: time.Since(start)}
		if err != nil {
			serr := &StepError{Step: s.Name, Code: shell.ExitCode(err), Err: err}
			report.Err = serr
			res.Steps = append(res.Steps, report)
			res.Failed = s.Name
			res.Err = serr
			logger.Error().Str("step", s.Name).Int("code", serr.Code).Err(err).Msg("step failed")
			return res
		}
		res.Steps = append(res.Steps, report)
		logger.Info().Str("step", s.Name).Dur("duration", report.Duration).Msg("done")
	}
	logger.Info().Int("steps", len(res.Steps)).Msg("bootstrap finished")
	return res
}

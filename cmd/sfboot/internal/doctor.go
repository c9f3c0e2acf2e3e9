package internal

import (
	"github.com/qiniu/x/errors"
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/hostcheck"
	"github.com/sfml-ci/sfboot/internal/logging"
)

var checker = &hostcheck.Checker{}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the host for the tools and packages a run needs",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	p, err := loadPlan()
	if err != nil {
		return err
	}

	var errs errors.List
	if err := checker.Tools(ctx, p.Tools); err != nil {
		errs.Add(err)
	} else {
		log.Info().Int("tools", len(p.Tools)).Msg("tools found")
	}
	checked, err := checker.Packages(ctx, p.Packages)
	switch {
	case err != nil:
		errs.Add(err)
	case !checked:
		log.Warn().Msg("dpkg-query not found, native packages not checked")
	default:
		log.Info().Int("packages", len(p.Packages)).Msg("packages installed")
	}
	if err := hostcheck.Staging(cfg.Staging); err != nil {
		errs.Add(err)
	}
	if hostcheck.Privileged() {
		log.Warn().Msg("running with elevated privileges")
	}
	if err := errs.ToError(); err != nil {
		return err
	}
	log.Info().Msg("host is ready")
	return nil
}

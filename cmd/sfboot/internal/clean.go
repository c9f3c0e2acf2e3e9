package internal

import (
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/logging"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the staging dir and the work dir",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	p, err := loadPlan()
	if err != nil {
		return err
	}
	r, err := newRunner(cmd, p, bootstrap.Options{})
	if err != nil {
		return err
	}
	log := logging.FromContext(cmd.Context())
	if cfg.DryRun {
		log.Info().Bool("command", true).Msg("rm -rf " + r.Layout().Root + " " + cfg.WorkDir)
		return nil
	}
	if err := r.Clean(); err != nil {
		return err
	}
	log.Info().Str("staging", r.Layout().Root).Str("workdir", cfg.WorkDir).Msg("removed")
	return nil
}

package internal

import (
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/logging"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the staging dir left by the last run",
	Long: `Verify checks that the staging dir holds at least one dynamic library and
one find-module descriptor, that every archive extracted to its declared
directory and that the staged files are exactly the ones the last run
installed.`,
	Args: cobra.NoArgs,
	RunE: runVerifyCmd,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	p, err := loadPlan()
	if err != nil {
		return err
	}
	r, err := newRunner(cmd, p, bootstrap.Options{})
	if err != nil {
		return err
	}
	if err := r.Verify(); err != nil {
		return err
	}
	logging.FromContext(cmd.Context()).Info().Str("path", r.Layout().Root).Msg("staging dir verified")
	return nil
}

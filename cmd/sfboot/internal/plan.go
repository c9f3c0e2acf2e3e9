package internal

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/plan"
)

var planWrite string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the steps and commands of a run",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planWrite, "write", "w", "", "Write the embedded plan to `file` and exit")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planWrite != "" {
		if _, err := os.Stat(planWrite); err == nil {
			return eris.Errorf("%s already exists", planWrite)
		}
		if err := os.WriteFile(planWrite, plan.DefaultBytes(), 0o644); err != nil {
			return eris.Wrapf(err, "failed to write %s", planWrite)
		}
		printf(cmd, "wrote %s\n", planWrite)
		return nil
	}

	p, err := loadPlan()
	if err != nil {
		return err
	}
	r, err := newRunner(cmd, p, bootstrap.Options{})
	if err != nil {
		return err
	}
	for i, s := range r.Steps() {
		printf(cmd, "%d. %s\n", i+1, s.Name)
		for _, c := range s.Commands {
			printf(cmd, "\t%s\n", c)
		}
	}
	return nil
}

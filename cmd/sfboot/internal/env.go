package internal

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/shell"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print export lines for the staging search paths",
	Long:  `Env prints the variables the project steps run with, for use with eval.`,
	Args:  cobra.NoArgs,
	RunE:  runEnv,
}

func init() {
	rootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	p, err := loadPlan()
	if err != nil {
		return err
	}
	r, err := newRunner(cmd, p, bootstrap.Options{})
	if err != nil {
		return err
	}
	vars := r.ProjectEnv()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printf(cmd, "export %s=%s\n", k, shell.Format([]string{vars[k]}))
	}
	return nil
}

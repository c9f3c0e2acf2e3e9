package internal

import (
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/bootstrap"
	"github.com/sfml-ci/sfboot/internal/logging"
	"github.com/sfml-ci/sfboot/internal/publish"
)

var (
	runJobs    int
	runPublish bool
	runVerify  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every bootstrap step in order",
	Long: `Run stages the plan's archives into a fresh staging dir, configures the
project to use them and runs the project steps. The exit code is the exit
code of the first failing child process, or 1.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 0, "Parallel build jobs (0 leaves it to the build tool)")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "Upload the staging dir when the run succeeds")
	runCmd.Flags().BoolVar(&runVerify, "verify", false, "Verify the staging dir when the run succeeds")
	rootCmd.AddCommand(runCmd)
}

func newPublisher() (*publish.Publisher, error) {
	pc := publish.Config{
		Endpoint:  cfg.Publish.Endpoint,
		AccessKey: cfg.Publish.AccessKey,
		SecretKey: cfg.Publish.SecretKey,
		Region:    cfg.Publish.Region,
		Bucket:    cfg.Publish.Bucket,
		Prefix:    cfg.Publish.Prefix,
		UseSSL:    cfg.Publish.UseSSL,
	}
	client, err := publish.NewMinIOClient(pc)
	if err != nil {
		return nil, err
	}
	return publish.New(client, pc), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	p, err := loadPlan()
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cmd)
	if err != nil {
		return err
	}
	opts := bootstrap.Options{
		Fetcher: fetcher,
		Jobs:    runJobs,
		DryRun:  cfg.DryRun,
	}
	if runPublish || cfg.Publish.Enabled {
		pub, err := newPublisher()
		if err != nil {
			return err
		}
		opts.Publisher = pub
	}
	r, err := newRunner(cmd, p, opts)
	if err != nil {
		return err
	}

	res := r.Run(ctx)
	if res.Err != nil {
		exitCode = res.ExitCode()
		return res.Err
	}
	if runVerify && !cfg.DryRun {
		if err := r.Verify(); err != nil {
			return err
		}
		log.Info().Str("run", res.RunID).Msg("staging dir verified")
	}
	return nil
}

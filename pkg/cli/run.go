package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/database"
	"dev/bravebird/ipview-verify/pkg/models"
	"dev/bravebird/ipview-verify/pkg/report"
	"dev/bravebird/ipview-verify/pkg/verify"
)

// RunOptions holds flags for the run command. A flag only overrides the
// config file and environment when it is given.
type RunOptions struct {
	*RootOptions
	URL          string
	TimeoutMs    int
	TransitionMs int
	Driver       string
	Artifacts    string
	Headless     bool
	RoundTrip    bool
	Save         bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the verification once and report the verdict",
		Long: `Run the verification once and report the verdict.

Exit status is 0 when every phase passes, 1 when the page fails an
assertion and 2 when the run could not be carried out.

Examples:
  verify run --url http://localhost:8000
  verify run --driver playwright --round-trip --format json
  verify run -c verify.yaml --artifacts ./out --save`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	addRunFlags(cmd, opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	defaults := config.Default()
	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", defaults.TargetURL, "page under test")
	f.IntVar(&opts.TimeoutMs, "timeout-ms", defaults.TimeoutMs, "settle timeout in milliseconds")
	f.IntVar(&opts.TransitionMs, "transition-ms", defaults.TransitionSettleMs, "wait after clicking the toggle in milliseconds")
	f.StringVar(&opts.Driver, "driver", defaults.Browser.Driver, "browser driver (rod|chromedp|playwright)")
	f.StringVar(&opts.Artifacts, "artifacts", defaults.Artifacts.Dir, "directory for screenshots and result.json")
	f.BoolVar(&opts.Headless, "headless", defaults.Browser.Headless, "run the browser headless")
	f.BoolVar(&opts.RoundTrip, "round-trip", false, "toggle a second time and expect the starting theme")
	f.BoolVar(&opts.Save, "save", false, "store the result in the configured database")
}

// resolveConfig layers the given flags over the file and environment.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("url") {
		cfg.TargetURL = opts.URL
	}
	if f.Changed("timeout-ms") {
		cfg.TimeoutMs = opts.TimeoutMs
	}
	if f.Changed("transition-ms") {
		cfg.TransitionSettleMs = opts.TransitionMs
	}
	if f.Changed("driver") {
		cfg.Browser.Driver = opts.Driver
	}
	if f.Changed("artifacts") {
		cfg.Artifacts.Dir = opts.Artifacts
	}
	if f.Changed("headless") {
		cfg.Browser.Headless = opts.Headless
	}
	if f.Changed("round-trip") {
		cfg.Toggle.RoundTrip = opts.RoundTrip
	}

	return cfg, cfg.Validate()
}

func runVerify(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd, opts.Verbose)

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifacts.New(ctx, cfg.Artifacts, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up artifact storage", err)
	}

	runnerOpts := []verify.Option{verify.WithLogger(logger)}
	if opts.launch != nil {
		runnerOpts = append(runnerOpts, verify.WithLauncher(opts.launch))
	}

	res, runErr := verify.NewRunner(cfg, store, runnerOpts...).Run(ctx)

	if opts.Save {
		if err := saveResult(ctx, cfg.Database, res); err != nil {
			logger.Warn("failed to store result", "run_id", res.ID, "error", err)
		}
	}

	if err := report.Write(cmd.OutOrStdout(), opts.Format, res); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if runErr != nil {
		return WrapExitError(ExitCodeFor(runErr), "verification failed", runErr)
	}
	return nil
}

func saveResult(ctx context.Context, dbCfg config.DatabaseConfig, res *models.RunResult) error {
	db, err := database.Open(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return db.SaveResult(context.WithoutCancel(ctx), res)
}

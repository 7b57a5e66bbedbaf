package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var (
		dryRun   bool
		tenantID int64
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over the configured tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tenant") {
				if tenantID <= 0 {
					return newExitError(exitConfigInvalid, fmt.Errorf("--tenant must be positive"))
				}
				cfg.AllTenants = false
				cfg.TenantID = tenantID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			var observer *progressPrinter
			if !quiet && !dryRun {
				observer = &progressPrinter{out: out}
			}

			sweeper, err := a.newSweeper(dryRun, progressObserver(observer))
			if err != nil {
				return err
			}

			if dryRun {
				logInfo(out, "Dry run: nothing will be deleted.")
			}
			stats, err := sweeper.Sweep(ctx)
			if stats.ID != "" && !stats.FinishedAt.IsZero() {
				logSummary(out, stats)
			}
			if err != nil {
				logFailure(cmd.ErrOrStderr(), "SWEEP FAILED.", err)
				return newExitError(exitSweepFailed, err)
			}
			if stats.TenantFailures > 0 {
				return newExitError(exitTenantsFailed, fmt.Errorf("%d tenant(s) failed", stats.TenantFailures))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and report without deleting")
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "sweep only this tenant")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print deletion progress")

	return cmd
}

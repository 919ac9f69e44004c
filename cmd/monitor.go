package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genroute/internal/monitoring"
	"github.com/sells-group/genroute/internal/quota"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Evaluate gateway health and send alerts",
	Long: "Collects path mix, refusal rate, degraded answers, quota usage and dead-letter depth " +
		"from the store, then alerts through the monitoring webhook. Runs once unless --watch is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("monitor"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ledger := quota.New(st, cfg.Providers)
		ledger.Restore(ctx)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, ledger, nil),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts := checker.Check(ctx)
		if snap == nil {
			return eris.New("monitor: metrics collection failed")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
			Alerts   []monitoring.Alert          `json:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	monitorCmd.Flags().Bool("watch", false, "keep checking on the configured interval")
	rootCmd.AddCommand(monitorCmd)
}

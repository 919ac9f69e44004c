package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset provider daily quotas",
}

// openLedger restores the ledger for the configured providers.
func openLedger(ctx context.Context) (*quota.Ledger, func(), error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	ledger := quota.New(st, cfg.Providers)
	ledger.Restore(ctx)
	return ledger, func() { st.Close() }, nil //nolint:errcheck
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show usage against each provider's daily limit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ledger, closeFn, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		formatQuotas(os.Stdout, ledger.Snapshot(), time.Now())
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <provider-id>...",
	Short: "Zero a provider's counter and start a new window",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ledger, closeFn, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		known := ledger.Snapshot()
		for _, id := range args {
			if !knownProvider(known, id) {
				return eris.Errorf("quota reset: unknown provider %q", id)
			}
		}
		for _, id := range args {
			ledger.Reset(ctx, id)
			fmt.Fprintf(os.Stdout, "reset %s\n", id)
		}
		return nil
	},
}

var quotaSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply every due daily reset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		ledger, closeFn, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		reset := ledger.Sweep(ctx)
		if len(reset) == 0 {
			fmt.Fprintln(os.Stderr, "No resets due.")
			return nil
		}
		for _, id := range reset {
			fmt.Fprintf(os.Stdout, "reset %s\n", id)
		}
		return nil
	},
}

func formatQuotas(w io.Writer, states []model.QuotaState, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tUSED\tLIMIT\tREMAINING\tRESETS IN")
	for _, s := range states {
		limit, remaining := "-", "-"
		if s.Limit > 0 {
			limit = fmt.Sprintf("%d", s.Limit)
			remaining = fmt.Sprintf("%d", s.Remaining())
		}
		until := s.NextReset().Sub(now).Truncate(time.Minute)
		if until < 0 {
			until = 0
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", s.ProviderID, s.Used, limit, remaining, until)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	quotaCmd.AddCommand(quotaStatusCmd, quotaResetCmd, quotaSweepCmd)
	rootCmd.AddCommand(quotaCmd)
}

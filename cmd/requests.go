package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		fmt.Fprintf(os.Stderr, "Schema up to date (%s).\n", cfg.Store.Driver)
		return nil
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List logged generation requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		path, _ := cmd.Flags().GetString("path")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.RequestFilter{Path: model.FallbackPath(path), Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		logs, err := st.ListRequests(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "requests list")
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(logs)
		}
		formatRequests(os.Stdout, logs)
		return nil
	},
}

func formatRequests(w io.Writer, logs []model.RequestLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tPROVIDER\tREFUSAL\tQUEUED\tCREATED\tQUERY")
	for _, l := range logs {
		path, provider, refusal, queued := "-", "-", "", 0
		if r := l.Result; r != nil {
			path = string(r.Path)
			provider = valueOr(r.SourceProvider, "-")
			if r.RefusalDetected {
				refusal = "yes"
			}
			queued = r.DocumentsQueued
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(l.ID), path, provider, refusal, queued,
			l.CreatedAt.Format("2006-01-02 15:04"), truncate(l.Query, 50))
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	requestsCmd.Flags().String("path", "", "filter by path (direct, fallback, escalated)")
	requestsCmd.Flags().Duration("since", 24*time.Hour, "only requests newer than this")
	requestsCmd.Flags().Int("limit", 50, "maximum rows")
	requestsCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(requestsCmd)
}

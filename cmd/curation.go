package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genroute/internal/config"
	"github.com/sells-group/genroute/internal/curation"
	"github.com/sells-group/genroute/internal/resilience"
)

var curationCmd = &cobra.Command{
	Use:   "curation",
	Short: "Inspect the curation queue and its dead letters",
}

var curationDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage curation items the target rejected",
}

var curationDLQListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered curation items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "curation dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead-letter queue is empty.")
			return nil
		}
		formatDLQ(os.Stdout, entries)
		return nil
	},
}

var curationDLQRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove dead-lettered items after manual follow-up",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, id := range args {
			if err := st.RemoveDLQ(ctx, id); err != nil {
				return eris.Wrapf(err, "curation dlq remove %s", id)
			}
			fmt.Fprintf(os.Stdout, "removed %s\n", id)
		}
		return nil
	},
}

var curationPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List items awaiting review in the Notion curation database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Curation.Target != config.CurationNotion {
			return eris.New("curation pending requires curation.target=notion")
		}
		h := curation.NewNotionHandoff(newNotionClient(cfg), cfg.Notion.CurationDB)
		items, err := h.Pending(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing pending.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PAGE\tCREATED\tTITLE\tURL")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.PageID, it.CreatedAt.Format("2006-01-02 15:04"), truncate(it.Title, 50), it.URL)
		}
		return tw.Flush()
	},
}

func formatDLQ(w io.Writer, entries []resilience.DLQEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tTYPE\tCREATED\tTITLE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Target, e.ErrorType, e.CreatedAt.Format("2006-01-02 15:04"),
			truncate(e.Title, 40), truncate(e.Error, 60))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	curationDLQListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	curationDLQListCmd.Flags().Int("limit", 50, "maximum rows")
	curationDLQCmd.AddCommand(curationDLQListCmd, curationDLQRemoveCmd)
	curationCmd.AddCommand(curationDLQCmd, curationPendingCmd)
	rootCmd.AddCommand(curationCmd)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/maintenance-supervisor/internal/adapters/mcp"
	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/report"
)

func newInboxCommand(rt *runtime) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List unread emails and whether they were processed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxResults <= 0 {
				return fmt.Errorf("--max-results must be positive")
			}
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			items, err := svc.Inbox.ListUnread(cmd.Context(), maxResults)
			if err != nil {
				return fmt.Errorf("listing inbox: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No unread emails.")
				return nil
			}
			for _, item := range items {
				state := "new"
				if item.Processed {
					state = "processed"
				}
				fmt.Fprintf(out, "  %-20s %-9s %-30s %s\n", item.ID, state, item.Sender, strings.TrimSpace(item.Subject))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 10, "maximum unread emails to list")
	return cmd
}

func newClassifyCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <email-id>",
		Short: "Classify an email without recording, filing or notifying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			preview, err := svc.Inbox.Preview(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("classifying %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), preview)
		},
	}
}

func newRunOnceCommand(rt *runtime) *cobra.Command {
	var maxResults int
	var noNotify bool
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Process unread maintenance emails once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxResults <= 0 {
				return fmt.Errorf("--max-results must be positive")
			}
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.Processor.ProcessUnread(cmd.Context(), domain.BatchOptions{
				MaxResults:        maxResults,
				SendNotifications: !noNotify,
			})
			if err != nil {
				return fmt.Errorf("processing unread mail: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed %d email(s), %d failed.\n", len(result.Records), len(result.Errors))
			for _, rec := range result.Records {
				printRecordLine(out, rec)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %-20s ERROR  %s\n", e.EmailID, e.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 10, "maximum unread emails to fetch")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "skip channel notifications")
	return cmd
}

func newProcessCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "process <email-id>",
		Short: "Process or resume a single email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.Processor.ProcessOne(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("processing %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newRecordCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "record <email-id>",
		Short: "Show the processing record of an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.Records.GetRecord(cmd.Context(), args[0])
			if err != nil {
				if domain.IsKind(err, domain.ErrRecordNotFound) {
					return fmt.Errorf("no record for email %s", args[0])
				}
				return fmt.Errorf("loading record: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newStatsCommand(rt *runtime) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.Stats.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading stats: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newDigestCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Post the statistics digest to the team channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := svc.Reports.PublishDigest(cmd.Context())
			if err != nil {
				return fmt.Errorf("posting digest: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Digest posted (%s).\n", ref.ID)
			return nil
		},
	}
}

func newExportCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Write statistics and records to a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.Stats.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading stats: %w", err)
			}
			records, err := svc.Records.ListRecords(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading records: %w", err)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[0], err)
			}
			seq := func(yield func(domain.ProcessingRecord, error) bool) {
				for _, rec := range records {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if err := report.WriteWorkbook(f, stats, seq); err != nil {
				_ = f.Close()
				return fmt.Errorf("writing workbook: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s.\n", len(records), args[0])
			return nil
		},
	}
}

func newRawCommand(rt *runtime) *cobra.Command {
	raw := &cobra.Command{
		Use:   "raw",
		Short: "Browse archived raw model responses",
	}
	raw.AddCommand(&cobra.Command{
		Use:   "list [prefix]",
		Short: "List archived responses, optionally under a date prefix such as 2026-03-01",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			keys, err := svc.Archive.List(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("listing archive: %w", err)
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived responses.")
				return nil
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	})
	raw.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Print one archived response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			rc, err := svc.Archive.Open(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	})
	return raw
}

func newMCPCommand(rt *runtime) *cobra.Command {
	mcp := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server commands",
	}
	mcp.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline as MCP tools on stdio",
		Long: `Serve the pipeline over MCP on stdio.

Tools: process_email, process_unread, get_record, get_stats,
list_unread, classify_email.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.get(cmd.Context())
			if err != nil {
				return err
			}
			srv := mcpadapter.NewServer(svc.Processor, svc.Records, svc.Stats, appVersion)
			if svc.Inbox != nil {
				srv.WithInbox(svc.Inbox)
			}
			if err := srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("running MCP server: %w", err)
			}
			return nil
		},
	})
	return mcp
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecordLine(w io.Writer, rec domain.ProcessingRecord) {
	category, priority := "-", "-"
	if rec.Classification != nil {
		category = rec.Classification.Category.Emoji() + " " + string(rec.Classification.Category)
		priority = string(rec.Classification.Priority)
	}
	fmt.Fprintf(w, "  %-20s %-17s %-22s %-7s %s\n", rec.EmailID, rec.Status, category, priority, rec.Subject)
}

func printStats(w io.Writer, stats domain.Stats) {
	fmt.Fprintf(w, "Total emails: %d (degraded classifications: %d)\n\n", stats.Total, stats.Degraded)

	fmt.Fprintln(w, "== BY CATEGORY ==")
	for _, share := range stats.CategoryBreakdown {
		fmt.Fprintf(w, "  %s %-16s %4d  %5.1f%%\n", share.Emoji, share.Category, share.Count, share.Percentage)
	}

	fmt.Fprintln(w, "\n== BY PRIORITY ==")
	for _, p := range domain.Priorities() {
		fmt.Fprintf(w, "  %s %-16s %4d\n", p.Emoji(), p, stats.ByPriority[p])
	}

	fmt.Fprintln(w, "\n== BY OUTCOME ==")
	for _, s := range domain.RecordStatuses {
		fmt.Fprintf(w, "  %-18s %4d\n", s, stats.ByOutcome[s])
	}

	if len(stats.Recent) == 0 {
		return
	}
	fmt.Fprintln(w, "\n== RECENT ==")
	for _, r := range stats.Recent {
		fmt.Fprintf(w, "  %-20s %-17s %s\n", r.EmailID, r.Status, strings.TrimSpace(r.Subject))
	}
}

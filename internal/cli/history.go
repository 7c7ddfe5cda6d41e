package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"atomic-image-manager/internal/history"
)

const defaultHistoryLimit = 10

// NewHistoryCmd returns the command group for the operation history.
func NewHistoryCmd(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain the operation history",
	}
	cmd.AddCommand(newHistoryListCmd(logger))
	cmd.AddCommand(newHistoryReportCmd(logger))
	cmd.AddCommand(newHistoryPruneCmd(logger))
	cmd.AddCommand(newHistoryClearCmd(logger))
	cmd.AddCommand(newHistoryExportCmd(logger))
	return cmd
}

func newHistoryListCmd(logger *zap.Logger) *cobra.Command {
	var limit int
	var opType string
	var failed, successful bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			store := a.manager.History()
			var entries []history.Entry
			switch {
			case opType != "":
				entries = store.GetEntriesByType(history.OperationType(opType))
			case failed:
				entries = store.GetFailedEntries()
			case successful:
				entries = store.GetSuccessfulEntries()
			default:
				entries = store.Entries()
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			showHistory(a, entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Maximum entries to show (0 for all)")
	cmd.Flags().StringVar(&opType, "type", "", "Only show one operation type (rebase, rollback, pin, unpin, update, other)")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only show failed operations")
	cmd.Flags().BoolVar(&successful, "successful", false, "Only show successful operations")
	cmd.MarkFlagsMutuallyExclusive("type", "failed", "successful")
	return cmd
}

func showHistory(a *app, entries []history.Entry) {
	if len(entries) == 0 {
		a.printer.Info("No operations recorded")
		return
	}
	rows := [][]string{{"Time", "When", "Operation", "Result", "Image", "Command"}}
	for _, e := range entries {
		result := Green("ok")
		if !e.Success {
			result = Red("failed")
			if e.ErrorMessage != nil {
				result += ": " + truncate(*e.ErrorMessage, 60)
			}
		}
		image := e.ImageName
		if image == "" {
			image = "-"
		}
		rows = append(rows, []string{
			e.FormattedTime(),
			humanize.Time(e.Time()),
			string(e.OperationType),
			result,
			image,
			e.Command,
		})
	}
	a.printer.Table(rows)
}

func newHistoryReportCmd(logger *zap.Logger) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the history for auditing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.manager.History().GenerateSecurityReport()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			showReport(a, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func showReport(a *app, r history.Report) {
	a.printer.Section("Security report")
	a.printer.Printf("Generated: %s\nHistory file: %s\n\n", r.Generated.Format(history.TimeFormat), r.HistoryFile)
	a.printer.Table([][]string{
		{"Total", "Successful", "Failed", "Success rate"},
		{
			humanize.Comma(int64(r.Summary.TotalCommands)),
			humanize.Comma(int64(r.Summary.Successful)),
			humanize.Comma(int64(r.Summary.Failed)),
			r.Summary.SuccessRate,
		},
	})

	if len(r.Operations) > 0 {
		a.printer.Section("By operation")
		a.printer.Table(countsTable("Operation", r.Operations))
	}
	if len(r.Users) > 0 {
		a.printer.Section("By user")
		a.printer.Table(countsTable("User", r.Users))
	}
	if len(r.RecentFailures) > 0 {
		a.printer.Section("Recent failures")
		rows := [][]string{{"Time", "User", "Command", "Error"}}
		for _, f := range r.RecentFailures {
			rows = append(rows, []string{f.Timestamp, f.User, f.Command, Red(f.Error)})
		}
		a.printer.Table(rows)
	}
}

func countsTable(label string, counts map[string]history.Counts) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := [][]string{{label, "Total", "Successful", "Failed"}}
	for _, k := range keys {
		c := counts[k]
		rows = append(rows, []string{k, fmt.Sprint(c.Total), fmt.Sprint(c.Success), fmt.Sprint(c.Failed)})
	}
	return rows
}

func newHistoryPruneCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: fmt.Sprintf("Drop entries beyond the newest %d", history.MaxEntries),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			removed, err := a.manager.History().PruneOldEntries()
			if err != nil {
				logStructuredError(a.logger, err, "Failed to prune history")
				return err
			}
			a.printer.Success(fmt.Sprintf("Removed %d entries", removed))
			return nil
		},
	}
}

func newHistoryClearCmd(logger *zap.Logger) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return newWithSentinel(ErrConfirmationRequired, "refusing to clear history without --yes")
			}
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.manager.History().ClearHistory(); err != nil {
				logStructuredError(a.logger, err, "Failed to clear history")
				return err
			}
			a.printer.Success("History cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting the history")
	return cmd
}

func newHistoryExportCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write a copy of the history to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if path == "" {
				return newWithSentinel(ErrExportPathRequired, "export path is required")
			}
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.manager.History().ExportHistory(path); err != nil {
				logStructuredError(a.logger, err, "Failed to export history")
				return err
			}
			if info, err := os.Stat(path); err == nil {
				a.printer.Success(fmt.Sprintf("Exported history to %s (%s)", path, humanize.Bytes(uint64(info.Size()))))
			} else {
				a.printer.Success("Exported history to " + path)
			}
			return nil
		},
	}
}

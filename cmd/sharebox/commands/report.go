package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sharebox/internal/cli/output"
	"github.com/marmos91/sharebox/pkg/config"
	"github.com/marmos91/sharebox/pkg/export"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
)

var (
	reportFormat    string
	reportSince     time.Duration
	reportKind      string
	reportAction    string
	reportExportDir string
	reportS3        bool
	reportSource    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the event journal",
	Long: `Read the event journal and print transfer, authentication and
connection statistics.

The server holds an exclusive lock on a badger journal while it runs, so
run this against a stopped server or a copy of the journal directory.

Examples:
  # Summary table
  sharebox report

  # Last hour, uploads only, as JSON
  sharebox report --since 1h --action upload --format json

  # Raw records as CSV
  sharebox report --format csv > events.csv

  # Write the json, csv and text artifacts to a directory
  sharebox report --export-dir "Analysis Reports"

  # Upload the artifacts to the bucket in reports.s3
  sharebox report --s3`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "o", "table", "Output format: table, json, csv")
	reportCmd.Flags().DurationVar(&reportSince, "since", 0, "Only include records newer than this (e.g. 30m, 24h)")
	reportCmd.Flags().StringVar(&reportKind, "kind", "", "Only include records of this kind: action, connection")
	reportCmd.Flags().StringVar(&reportAction, "action", "", "Only include this action or connection event (e.g. upload, auth_fail)")
	reportCmd.Flags().StringVar(&reportExportDir, "export-dir", "", "Write report artifacts to this directory")
	reportCmd.Flags().BoolVar(&reportS3, "s3", false, "Upload report artifacts to reports.s3")
	reportCmd.Flags().StringVar(&reportSource, "source", "server", "Source label used in artifact names")
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if cfg.Journal.Type == "memory" {
		return fmt.Errorf("journal type is memory: nothing is persisted to report on")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := config.CreateJournal(ctx, &cfg.Journal, true)
	if err != nil {
		return fmt.Errorf("open journal (is the server still running?): %w", err)
	}
	defer func() { _ = j.Close() }()

	q := journal.Query{Kind: reportKind}
	if reportSince > 0 {
		q.Since = time.Now().Add(-reportSince)
	}
	records, err := j.Events(ctx, q)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if reportAction != "" {
		records = filterAction(records, reportAction)
	}

	if reportExportDir != "" || reportS3 {
		return exportReport(ctx, cmd.OutOrStdout(), cfg, records)
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, journal.Summarize(records))
	case output.FormatCSV:
		return journal.WriteCSV(out, records)
	default:
		return printReportTables(out, journal.Summarize(records))
	}
}

func filterAction(records []journal.Record, action string) []journal.Record {
	out := records[:0]
	for _, rec := range records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

func exportReport(ctx context.Context, out io.Writer, cfg *config.Config, records []journal.Record) error {
	kind := config.ExportDir
	if reportS3 {
		kind = config.ExportS3
	}

	dst, err := config.CreateExportDestination(ctx, &cfg.Reports, kind, reportExportDir)
	if err != nil {
		return err
	}

	locations, err := export.Archive(ctx, dst, reportSource, records, time.Now())
	if err != nil {
		return fmt.Errorf("export report: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Exported %d records:\n", len(records))
	for _, loc := range locations {
		_, _ = fmt.Fprintf(out, "  %s\n", loc)
	}
	return nil
}

func printReportTables(w io.Writer, r journal.Report) error {
	pairs := [][2]string{
		{"Records", strconv.Itoa(r.TotalRecords)},
		{"Actions", strconv.Itoa(r.TotalActions)},
		{"Successful", strconv.Itoa(r.SuccessfulActions)},
		{"Failed", strconv.Itoa(r.FailedActions)},
		{"Uptime (s)", formatFloat(r.SystemUptimeSeconds)},
	}
	if !r.First.IsZero() {
		pairs = append(pairs,
			[2]string{"First", r.First.Format(time.RFC3339)},
			[2]string{"Last", r.Last.Format(time.RFC3339)},
		)
	}
	if a := r.Authentication; a != nil {
		pairs = append(pairs,
			[2]string{"Auth attempts", strconv.Itoa(a.TotalAttempts)},
			[2]string{"Auth failed", strconv.Itoa(a.Failed)},
			[2]string{"Auth avg response (s)", formatFloat(a.AvgResponseTime)},
		)
	}
	if err := output.SimpleTable(w, pairs); err != nil {
		return err
	}

	if r.Uploads != nil || r.Downloads != nil {
		_, _ = fmt.Fprintln(w)
		transfers := output.NewTableData("DIRECTION", "COUNT", "AVG MB/S", "MIN MB/S", "MAX MB/S", "AVG TIME (S)", "TOTAL MB")
		addTransferRow(transfers, "upload", r.Uploads)
		addTransferRow(transfers, "download", r.Downloads)
		addTransferRow(transfers, "overall", r.Transfers)
		if err := output.PrintTable(w, transfers); err != nil {
			return err
		}
	}

	if len(r.Actions) > 0 {
		_, _ = fmt.Fprintln(w)
		actions := output.NewTableData("ACTION", "COUNT", "OK", "FAILED", "BYTES", "AVG DURATION (S)", "AVG MB/S")
		for _, kind := range r.ActionKinds() {
			s := r.Actions[kind]
			actions.AddRow(kind,
				strconv.Itoa(s.Count),
				strconv.Itoa(s.Successes),
				strconv.Itoa(s.Failures),
				strconv.FormatInt(s.Bytes, 10),
				formatFloat(s.AvgDuration),
				formatFloat(s.AvgRateMBps),
			)
		}
		if err := output.PrintTable(w, actions); err != nil {
			return err
		}
	}

	if len(r.Clients) > 0 {
		_, _ = fmt.Fprintln(w)
		clients := output.NewTableData("CLIENT", "EVENTS")
		for _, id := range sortedKeys(r.Clients) {
			clients.AddRow(id, strconv.Itoa(r.Clients[id]))
		}
		return output.PrintTable(w, clients)
	}
	return nil
}

func addTransferRow(t *output.TableData, name string, s *journal.TransferStats) {
	if s == nil {
		return
	}
	t.AddRow(name,
		strconv.Itoa(s.Count),
		formatFloat(s.AvgRateMBps),
		formatFloat(s.MinRateMBps),
		formatFloat(s.MaxRateMBps),
		formatFloat(s.AvgTransferTime),
		formatFloat(s.TotalDataMB),
	)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

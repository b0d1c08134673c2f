package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/sharebox/pkg/metrics"
)

// TransferStats summarizes uploads or downloads.
type TransferStats struct {
	Count           int     `json:"count"`
	AvgRateMBps     float64 `json:"avg_rate_mbps"`
	MaxRateMBps     float64 `json:"max_rate_mbps"`
	MinRateMBps     float64 `json:"min_rate_mbps"`
	AvgTransferTime float64 `json:"avg_transfer_time"`
	TotalDataMB     float64 `json:"total_data_mb"`
}

// AuthStats summarizes authentication attempts.
type AuthStats struct {
	TotalAttempts   int     `json:"total_attempts"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// ActionStats summarizes one action kind.
type ActionStats struct {
	Count       int     `json:"count"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Bytes       int64   `json:"bytes"`
	AvgDuration float64 `json:"avg_duration_seconds"`
	AvgRateMBps float64 `json:"avg_rate_mbps"`
}

// Report is the statistics view over a set of records.
type Report struct {
	TotalRecords        int                    `json:"total_records"`
	TotalActions        int                    `json:"total_actions"`
	SuccessfulActions   int                    `json:"successful_actions"`
	FailedActions       int                    `json:"failed_actions"`
	SystemUptimeSeconds float64                `json:"system_uptime_seconds"`
	First               time.Time              `json:"first,omitempty"`
	Last                time.Time              `json:"last,omitempty"`
	Uploads             *TransferStats         `json:"upload_stats,omitempty"`
	Downloads           *TransferStats         `json:"download_stats,omitempty"`
	Transfers           *TransferStats         `json:"overall_transfer_stats,omitempty"`
	Authentication      *AuthStats             `json:"authentication_stats,omitempty"`
	Actions             map[string]ActionStats `json:"actions"`
	Connections         map[string]int         `json:"connections"`
	Clients             map[string]int         `json:"clients"`
}

// Summarize computes a Report from records.
func Summarize(records []Record) Report {
	r := Report{
		TotalRecords: len(records),
		Actions:      make(map[string]ActionStats),
		Connections:  make(map[string]int),
		Clients:      make(map[string]int),
	}

	var uploads, downloads []Record
	var auth []Record

	for _, rec := range records {
		if r.First.IsZero() || rec.Timestamp.Before(r.First) {
			r.First = rec.Timestamp
		}
		if rec.Timestamp.After(r.Last) {
			r.Last = rec.Timestamp
		}
		r.SystemUptimeSeconds = math.Max(r.SystemUptimeSeconds, rec.SystemUptime)

		if rec.Kind == KindConnection {
			r.Connections[rec.Action]++
			if rec.Action == string(metrics.EventAuthSuccess) || rec.Action == string(metrics.EventAuthFail) {
				auth = append(auth, rec)
			}
			continue
		}

		r.TotalActions++
		r.Clients[rec.ClientID]++

		stats := r.Actions[rec.Action]
		stats.Count++
		stats.Bytes += rec.FileSizeBytes
		stats.AvgDuration += rec.DurationSeconds
		stats.AvgRateMBps += rec.TransferRateMBps
		switch rec.Status {
		case string(metrics.StatusSuccess):
			stats.Successes++
			r.SuccessfulActions++
		case string(metrics.StatusFailure):
			stats.Failures++
			r.FailedActions++
		}
		r.Actions[rec.Action] = stats

		switch rec.Action {
		case string(metrics.ActionUpload):
			uploads = append(uploads, rec)
		case string(metrics.ActionDownload):
			downloads = append(downloads, rec)
		}
	}

	for kind, stats := range r.Actions {
		stats.AvgDuration /= float64(stats.Count)
		stats.AvgRateMBps /= float64(stats.Count)
		r.Actions[kind] = stats
	}

	r.Uploads = transferStats(uploads)
	r.Downloads = transferStats(downloads)
	r.Transfers = transferStats(append(append([]Record{}, uploads...), downloads...))

	if len(auth) > 0 {
		a := &AuthStats{TotalAttempts: len(auth)}
		var total float64
		for _, rec := range auth {
			if rec.Action == string(metrics.EventAuthSuccess) {
				a.Successful++
			} else {
				a.Failed++
			}
			total += rec.DurationSeconds
		}
		a.AvgResponseTime = total / float64(len(auth))
		r.Authentication = a
	}

	return r
}

func transferStats(records []Record) *TransferStats {
	if len(records) == 0 {
		return nil
	}

	s := &TransferStats{
		Count:       len(records),
		MinRateMBps: math.Inf(1),
	}
	var rateSum, timeSum float64
	for _, rec := range records {
		rateSum += rec.TransferRateMBps
		timeSum += rec.DurationSeconds
		s.TotalDataMB += rec.FileSizeMB
		s.MaxRateMBps = math.Max(s.MaxRateMBps, rec.TransferRateMBps)
		s.MinRateMBps = math.Min(s.MinRateMBps, rec.TransferRateMBps)
	}
	s.AvgRateMBps = rateSum / float64(len(records))
	s.AvgTransferTime = timeSum / float64(len(records))
	return s
}

// ActionKinds returns the action kinds present in the report, sorted.
func (r Report) ActionKinds() []string {
	kinds := make([]string, 0, len(r.Actions))
	for k := range r.Actions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ============================================================================
// Export
// ============================================================================

// csvHeader is the column order of WriteCSV.
var csvHeader = []string{
	"timestamp", "kind", "action", "filename", "file_size_bytes", "file_size_mb",
	"duration_seconds", "transfer_rate_mbps", "client_id", "status", "system_uptime",
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, rec := range records {
		row := []string{
			rec.Timestamp.Format(time.RFC3339Nano),
			rec.Kind,
			rec.Action,
			rec.Filename,
			strconv.FormatInt(rec.FileSizeBytes, 10),
			f(rec.FileSizeMB),
			f(rec.DurationSeconds),
			f(rec.TransferRateMBps),
			rec.ClientID,
			rec.Status,
			strconv.FormatFloat(rec.SystemUptime, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteText writes the human-readable summary report.
func WriteText(w io.Writer, source string, r Report, generated time.Time) error {
	ew := &errWriter{w: w}

	ew.printf("-- %s ANALYSIS REPORT --\n", strings.ToUpper(source))
	ew.printf("Report Generated: %s\n", generated.Format("20060102_150405"))
	ew.printf("System Uptime: %.2f seconds\n\n", r.SystemUptimeSeconds)

	ew.printf("-- ACTION SUMMARY --\n")
	ew.printf("Total Actions: %d\n", r.TotalActions)
	ew.printf("Successful: %d\n", r.SuccessfulActions)
	ew.printf("Failed: %d\n\n", r.FailedActions)

	writeTransfer := func(title, noun string, s *TransferStats) {
		if s == nil {
			return
		}
		ew.printf("-- %s SUMMARY --\n", strings.ToUpper(title))
		ew.printf("Number of %ss: %d\n", title, s.Count)
		ew.printf("Average %s Rate: %.4f MB/sec\n", title, s.AvgRateMBps)
		ew.printf("Maximum %s Rate: %.4f MB/sec\n", title, s.MaxRateMBps)
		ew.printf("Minimum %s Rate: %.4f MB/sec\n", title, s.MinRateMBps)
		ew.printf("Average Transfer Time: %.4f seconds\n", s.AvgTransferTime)
		ew.printf("Total Data %s: %.2f MB\n\n", noun, s.TotalDataMB)
	}
	writeTransfer("Upload", "Uploaded", r.Uploads)
	writeTransfer("Download", "Downloaded", r.Downloads)

	if a := r.Authentication; a != nil {
		ew.printf("-- AUTHENTICATION SUMMARY --\n")
		ew.printf("Total Auth Attempts: %d\n", a.TotalAttempts)
		ew.printf("Successful: %d\n", a.Successful)
		ew.printf("Failed: %d\n", a.Failed)
		ew.printf("Average Response Time: %.4f seconds\n", a.AvgResponseTime)
	}

	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

package config

import (
	"context"
	"fmt"

	"github.com/marmos91/sharebox/pkg/export"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
)

// CreateSink assembles the event sink every session records into.
//
// Fast in-process sinks (extra, the debug LogSink) are called inline. The
// journal sits behind an AsyncSink so a slow disk never stalls a transfer;
// the returned AsyncSink (nil without a journal) must be closed on shutdown.
func CreateSink(cfg *Config, extra metrics.Sink, j *journal.Journal) (metrics.Sink, *metrics.AsyncSink) {
	sinks := []metrics.Sink{extra}

	if cfg.Server.LogEvents {
		sinks = append(sinks, metrics.LogSink{})
	}

	var async *metrics.AsyncSink
	if j != nil {
		async = metrics.NewAsyncSink(j, cfg.Server.EventBuffer)
		sinks = append(sinks, async)
	}

	return metrics.NewFanout(sinks...), async
}

// Export destination types.
const (
	ExportDir = "dir"
	ExportS3  = "s3"
)

// CreateExportDestination creates a report destination.
//
// Supported kinds:
//   - "dir": local directory (dir argument, or reports.export_dir)
//   - "s3": bucket from reports.s3
func CreateExportDestination(ctx context.Context, cfg *ReportsConfig, kind, dir string) (export.Destination, error) {
	switch kind {
	case ExportDir, "":
		if dir == "" {
			dir = cfg.ExportDir
		}
		return export.NewDir(dir)
	case ExportS3:
		dst, err := export.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 export destination: %w", err)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unknown export destination: %q (supported: dir, s3)", kind)
	}
}

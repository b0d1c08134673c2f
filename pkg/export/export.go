// Package export ships journal reports to a destination: a local directory or
// an S3 bucket.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
)

// Destination stores a named report artifact and returns where it went.
type Destination interface {
	Put(ctx context.Context, name string, body []byte) (string, error)
}

// DirDestination writes artifacts into a local directory.
type DirDestination struct {
	dir string
}

// NewDir creates dir if needed.
func NewDir(dir string) (*DirDestination, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &DirDestination{dir: dir}, nil
}

// Put writes body to dir/name atomically (temp file + rename).
func (d *DirDestination) Put(ctx context.Context, name string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	target := filepath.Join(d.dir, name)
	tmp, err := os.CreateTemp(d.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}

	return target, nil
}

// Archive renders records and their summary as JSON, CSV and text and puts
// all three at dst. Names follow <source>_metrics_<timestamp>.{json,csv} and
// <source>_report_<timestamp>.txt.
func Archive(ctx context.Context, dst Destination, source string, records []journal.Record, now time.Time) ([]string, error) {
	stamp := now.Format("20060102_150405")

	var jsonBuf, csvBuf, txtBuf bytes.Buffer
	if err := journal.WriteJSON(&jsonBuf, records); err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}
	if err := journal.WriteCSV(&csvBuf, records); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	if err := journal.WriteText(&txtBuf, source, journal.Summarize(records), now); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	artifacts := []struct {
		name string
		body []byte
	}{
		{fmt.Sprintf("%s_metrics_%s.json", source, stamp), jsonBuf.Bytes()},
		{fmt.Sprintf("%s_metrics_%s.csv", source, stamp), csvBuf.Bytes()},
		{fmt.Sprintf("%s_report_%s.txt", source, stamp), txtBuf.Bytes()},
	}

	locations := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		loc, err := dst.Put(ctx, a.name, a.body)
		if err != nil {
			return locations, err
		}
		logger.Info("Exported %s (%d bytes)", loc, len(a.body))
		locations = append(locations, loc)
	}

	return locations, nil
}

// Package journal persists the action and connection event stream to BadgerDB
// so it can be summarized and exported after the fact.
//
// Records are keyed by "e:" + big-endian unix nanoseconds + a random UUID,
// which keeps iteration in time order and makes concurrent writers collision
// free. Values are JSON-encoded Record structs.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/metrics"
)

var keyPrefix = []byte("e:")

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("journal closed")

// Record kinds.
const (
	KindAction     = "action"
	KindConnection = "connection"
)

// StatusInfo marks connection events that are neither a success nor a failure.
const StatusInfo = "info"

// Record is one journaled event. Field names match the JSON/CSV export format.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Kind             string    `json:"kind"`
	Action           string    `json:"action"`
	Filename         string    `json:"filename"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	FileSizeMB       float64   `json:"file_size_mb"`
	DurationSeconds  float64   `json:"duration_seconds"`
	TransferRateMBps float64   `json:"transfer_rate_mbps"`
	ClientID         string    `json:"client_id"`
	Status           string    `json:"status"`
	SystemUptime     float64   `json:"system_uptime"`
}

// Config configures the journal database.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps everything in RAM (tests, dry runs).
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every write. Off by default.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ReadOnly opens an existing journal for reporting while no server holds it.
	ReadOnly bool `mapstructure:"-"`
}

// Journal is a metrics.Sink and metrics.EventSink backed by BadgerDB.
type Journal struct {
	db      *badger.DB
	started time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the journal database.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites).
		WithReadOnly(cfg.ReadOnly)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", cfg.Path, err)
	}

	logger.Debug("Journal opened at %s (in-memory=%v)", cfg.Path, cfg.InMemory)
	return &Journal{db: db, started: time.Now()}, nil
}

// Close flushes and closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func eventKey(ts time.Time) []byte {
	id := uuid.New()
	key := make([]byte, 0, len(keyPrefix)+8+len(id))
	key = append(key, keyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	key = append(key, id[:]...)
	return key
}

func timeKey(ts time.Time) []byte {
	key := make([]byte, 0, len(keyPrefix)+8)
	key = append(key, keyPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
}

// Append writes rec under its timestamp.
func (j *Journal) Append(rec Record) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ErrClosed
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(rec.Timestamp), value)
	})
}

func (j *Journal) uptime(at time.Time) float64 {
	return at.Sub(j.started).Seconds()
}

// ActionRecord converts a metrics.Action into a journal record.
func (j *Journal) ActionRecord(a metrics.Action) Record {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	return Record{
		Timestamp:        a.Time,
		Kind:             KindAction,
		Action:           string(a.Kind),
		Filename:         a.Path,
		FileSizeBytes:    a.Size,
		FileSizeMB:       float64(a.Size) / (1 << 20),
		DurationSeconds:  a.Duration.Seconds(),
		TransferRateMBps: metrics.Throughput(a.Size, a.Duration),
		ClientID:         a.ClientID,
		Status:           string(a.Status),
		SystemUptime:     j.uptime(a.Time),
	}
}

// ConnectionRecord converts a metrics.Connection into a journal record.
// Events containing "success" are successes; every other event is info.
func (j *Journal) ConnectionRecord(c metrics.Connection) Record {
	if c.Time.IsZero() {
		c.Time = time.Now()
	}
	status := StatusInfo
	if c.Event == metrics.EventAuthSuccess {
		status = string(metrics.StatusSuccess)
	}
	return Record{
		Timestamp:       c.Time,
		Kind:            KindConnection,
		Action:          string(c.Event),
		DurationSeconds: c.ResponseTime.Seconds(),
		ClientID:        c.ClientID,
		Status:          status,
		SystemUptime:    j.uptime(c.Time),
	}
}

// WriteAction implements metrics.EventSink.
func (j *Journal) WriteAction(a metrics.Action) {
	if err := j.Append(j.ActionRecord(a)); err != nil {
		logger.Warn("Journal: failed to record %s action: %v", a.Kind, err)
	}
}

// WriteConnection implements metrics.EventSink.
func (j *Journal) WriteConnection(c metrics.Connection) {
	if err := j.Append(j.ConnectionRecord(c)); err != nil {
		logger.Warn("Journal: failed to record %s event: %v", c.Event, err)
	}
}

// RecordAction implements metrics.Sink. It writes synchronously; wrap the
// journal in metrics.AsyncSink on the request path.
func (j *Journal) RecordAction(kind metrics.ActionKind, path string, size int64, d time.Duration, clientID string, status metrics.Status) {
	j.WriteAction(metrics.Action{
		Time: time.Now(), Kind: kind, Path: path, Size: size, Duration: d, ClientID: clientID, Status: status,
	})
}

// RecordConnection implements metrics.Sink.
func (j *Journal) RecordConnection(clientID string, event metrics.ConnectionEvent, responseTime time.Duration) {
	j.WriteConnection(metrics.Connection{
		Time: time.Now(), ClientID: clientID, Event: event, ResponseTime: responseTime,
	})
}

// Query bounds an Events scan. Zero times are open ends; Until is exclusive.
type Query struct {
	Since time.Time
	Until time.Time
	Kind  string
	Limit int
}

// Events returns the records matching q in time order.
func (j *Journal) Events(ctx context.Context, q Query) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}

	var records []Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = keyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		start := keyPrefix
		if !q.Since.IsZero() {
			start = timeKey(q.Since)
		}
		var end []byte
		if !q.Until.IsZero() {
			end = timeKey(q.Until)
		}

		scanned := 0
		for it.Seek(start); it.Valid(); it.Next() {
			if scanned%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			scanned++

			item := it.Item()
			if end != nil && string(item.Key()) >= string(end) {
				break
			}

			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode journal record: %w", err)
			}

			if q.Kind != "" && rec.Kind != q.Kind {
				continue
			}
			records = append(records, rec)
			if q.Limit > 0 && len(records) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Report summarizes every record in the journal.
func (j *Journal) Report(ctx context.Context) (Report, error) {
	records, err := j.Events(ctx, Query{})
	if err != nil {
		return Report{}, err
	}
	return Summarize(records), nil
}

package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sharebox/internal/logger"
)

// ActionKind names a client operation.
type ActionKind string

const (
	ActionDir             ActionKind = "dir"
	ActionSubfolderCreate ActionKind = "subfolder_create"
	ActionSubfolderDelete ActionKind = "subfolder_delete"
	ActionDelete          ActionKind = "delete"
	ActionUpload          ActionKind = "upload"
	ActionDownload        ActionKind = "download"
)

// ConnectionEvent names a connection lifecycle event.
type ConnectionEvent string

const (
	EventConnect     ConnectionEvent = "connect"
	EventDisconnect  ConnectionEvent = "disconnect"
	EventAuthSuccess ConnectionEvent = "auth_success"
	EventAuthFail    ConnectionEvent = "auth_fail"
)

// Status is the outcome of an action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Sink receives the action and connection event stream.
//
// Calls are fire-and-forget: implementations must never block the caller for
// long and must never fail it. A zero responseTime means "not measured".
type Sink interface {
	RecordAction(kind ActionKind, path string, sizeBytes int64, duration time.Duration, clientID string, status Status)
	RecordConnection(clientID string, event ConnectionEvent, responseTime time.Duration)
}

// Action is one RecordAction call captured as a value.
type Action struct {
	Time     time.Time
	Kind     ActionKind
	Path     string
	Size     int64
	Duration time.Duration
	ClientID string
	Status   Status
}

// Connection is one RecordConnection call captured as a value.
type Connection struct {
	Time         time.Time
	ClientID     string
	Event        ConnectionEvent
	ResponseTime time.Duration
}

// EventSink is implemented by sinks that want the original event value,
// including the time it was recorded. AsyncSink prefers it over Sink so a
// queued event keeps its timestamp.
type EventSink interface {
	Sink
	WriteAction(Action)
	WriteConnection(Connection)
}

// ============================================================================
// Noop
// ============================================================================

// NewNoopSink returns a Sink that discards everything.
func NewNoopSink() Sink {
	return noopSink{}
}

type noopSink struct{}

func (noopSink) RecordAction(ActionKind, string, int64, time.Duration, string, Status) {}
func (noopSink) RecordConnection(string, ConnectionEvent, time.Duration)               {}

// ============================================================================
// Fanout
// ============================================================================

// Fanout forwards every event to each of its sinks in order.
type Fanout []Sink

// NewFanout drops nil sinks. It returns a noop sink when none remain and the
// single sink itself when only one does.
func NewFanout(sinks ...Sink) Sink {
	var out Fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return NewNoopSink()
	case 1:
		return out[0]
	default:
		return out
	}
}

func (f Fanout) RecordAction(kind ActionKind, path string, size int64, d time.Duration, clientID string, status Status) {
	for _, s := range f {
		s.RecordAction(kind, path, size, d, clientID, status)
	}
}

func (f Fanout) RecordConnection(clientID string, event ConnectionEvent, responseTime time.Duration) {
	for _, s := range f {
		s.RecordConnection(clientID, event, responseTime)
	}
}

// ============================================================================
// Async
// ============================================================================

// DefaultAsyncBuffer is the queue length used when NewAsyncSink gets size <= 0.
const DefaultAsyncBuffer = 1024

type sinkEvent struct {
	action *Action
	conn   *Connection
}

// AsyncSink decouples sessions from slow sinks (disk journal, remote
// exporters). Events go through a bounded queue drained by one goroutine.
// When the queue is full the event is dropped and counted; the caller never
// waits.
type AsyncSink struct {
	next    Sink
	queue   chan sinkEvent
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts the drain goroutine. Call Close to flush and stop it.
func NewAsyncSink(next Sink, size int) *AsyncSink {
	if size <= 0 {
		size = DefaultAsyncBuffer
	}

	a := &AsyncSink{
		next:  next,
		queue: make(chan sinkEvent, size),
		done:  make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *AsyncSink) drain() {
	defer close(a.done)

	for ev := range a.queue {
		a.deliver(ev)
	}
}

// deliver isolates the drain loop from a panicking sink.
func (a *AsyncSink) deliver(ev sinkEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Metrics sink panic: %v", r)
		}
	}()

	if es, ok := a.next.(EventSink); ok {
		switch {
		case ev.action != nil:
			es.WriteAction(*ev.action)
		case ev.conn != nil:
			es.WriteConnection(*ev.conn)
		}
		return
	}

	switch {
	case ev.action != nil:
		act := ev.action
		a.next.RecordAction(act.Kind, act.Path, act.Size, act.Duration, act.ClientID, act.Status)
	case ev.conn != nil:
		a.next.RecordConnection(ev.conn.ClientID, ev.conn.Event, ev.conn.ResponseTime)
	}
}

func (a *AsyncSink) enqueue(ev sinkEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}

	select {
	case a.queue <- ev:
	default:
		if a.dropped.Add(1) == 1 {
			logger.Warn("Metrics sink queue full, dropping events")
		}
	}
}

func (a *AsyncSink) RecordAction(kind ActionKind, path string, size int64, d time.Duration, clientID string, status Status) {
	a.enqueue(sinkEvent{action: &Action{
		Time: time.Now(), Kind: kind, Path: path, Size: size, Duration: d, ClientID: clientID, Status: status,
	}})
}

func (a *AsyncSink) RecordConnection(clientID string, event ConnectionEvent, responseTime time.Duration) {
	a.enqueue(sinkEvent{conn: &Connection{
		Time: time.Now(), ClientID: clientID, Event: event, ResponseTime: responseTime,
	}})
}

// Dropped returns how many events were discarded.
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events, delivers everything already queued and waits
// for the drain goroutine. It is safe to call more than once.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.done
}

// ============================================================================
// Log
// ============================================================================

// LogSink writes every event as a debug log line.
type LogSink struct{}

func (LogSink) RecordAction(kind ActionKind, path string, size int64, d time.Duration, clientID string, status Status) {
	if !logger.IsDebug() {
		return
	}
	logger.Debug("[ACTION] %s path=%q size=%d duration=%s mbps=%.2f client=%s status=%s",
		kind, path, size, d, Throughput(size, d), clientID, status)
}

func (LogSink) RecordConnection(clientID string, event ConnectionEvent, responseTime time.Duration) {
	if !logger.IsDebug() {
		return
	}
	if responseTime > 0 {
		logger.Debug("[CONNECTION] %s client=%s response_time=%s", event, clientID, responseTime)
		return
	}
	logger.Debug("[CONNECTION] %s client=%s", event, clientID)
}

// Throughput returns MB/s for size bytes moved in d, or 0 when d is zero.
func Throughput(size int64, d time.Duration) float64 {
	if d <= 0 || size <= 0 {
		return 0
	}
	return float64(size) / (1024 * 1024) / d.Seconds()
}

package metrics

import "time"

// Transfer directions for RecordBytesTransferred.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// ServerMetrics provides observability for file server adapter operations.
//
// Implementations collect metrics about commands, connection lifecycle and
// throughput. It is optional: when not provided to the adapter, a no-op
// implementation is used.
type ServerMetrics interface {
	// RecordCommand records a completed command with its verb, duration and
	// outcome. errorKind is empty on success.
	RecordCommand(verb string, duration time.Duration, errorKind string)

	// RecordCommandStart increments the in-flight gauge for verb.
	RecordCommandStart(verb string)

	// RecordCommandEnd decrements the in-flight gauge for verb.
	RecordCommandEnd(verb string)

	// RecordBytesTransferred records payload bytes moved in direction
	// (DirectionUpload or DirectionDownload).
	RecordBytesTransferred(direction string, bytes int64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by the shutdown timeout.
	RecordConnectionForceClosed()

	// RecordConnectionRejected counts connections refused at admission
	// ("max_connections" or "rate_limit").
	RecordConnectionRejected(reason string)
}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) RecordCommand(string, time.Duration, string) {}
func (noopServerMetrics) RecordCommandStart(string)                   {}
func (noopServerMetrics) RecordCommandEnd(string)                     {}
func (noopServerMetrics) RecordBytesTransferred(string, int64)        {}
func (noopServerMetrics) SetActiveConnections(int32)                  {}
func (noopServerMetrics) RecordConnectionAccepted()                   {}
func (noopServerMetrics) RecordConnectionClosed()                     {}
func (noopServerMetrics) RecordConnectionForceClosed()                {}
func (noopServerMetrics) RecordConnectionRejected(string)             {}

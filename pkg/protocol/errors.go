package protocol

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/storage"
	"github.com/marmos91/sharebox/pkg/transfer"
)

// Kind classifies a failed request. Each kind maps to a fixed reply and
// decides whether the session survives.
type Kind int

const (
	// KindProtocol covers malformed verbs and argument counts. Session stays open.
	KindProtocol Kind = iota
	// KindAuth is a credential mismatch. Session is closed.
	KindAuth
	// KindPath is an escape attempt or otherwise unusable path.
	KindPath
	// KindNotFound is a missing file. The message differs per verb.
	KindNotFound
	// KindLockConflict means another operation holds the path.
	KindLockConflict
	// KindIO is a filesystem failure; its message reaches the client.
	KindIO
	// KindTransferIncomplete means the peer stopped sending before the
	// announced size arrived.
	KindTransferIncomplete
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindPath:
		return "path"
	case KindNotFound:
		return "not_found"
	case KindLockConflict:
		return "lock_conflict"
	case KindIO:
		return "io"
	case KindTransferIncomplete:
		return "transfer_incomplete"
	default:
		return "unknown"
	}
}

// Canonical client-facing messages.
const (
	MsgInvalidPath      = "Invalid path"
	MsgBusy             = "File is currently being processed"
	MsgUploadIncomplete = "Upload incomplete"
)

// RequestError is a classified request failure.
type RequestError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Reply is the response sent to the client for this error.
func (e *RequestError) Reply() Response {
	if e.Kind == KindAuth {
		return Disconnected(e.Message)
	}
	return Error(e.Message)
}

// Fatal reports whether the session must close after replying.
func (e *RequestError) Fatal() bool {
	return e.Kind == KindAuth
}

// Protocolf builds a KindProtocol error.
func Protocolf(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// Usage builds the reply for a malformed argument list.
func Usage(hint string) *RequestError {
	return &RequestError{Kind: KindProtocol, Message: "Usage: " + hint}
}

// NotFound builds a KindNotFound error with a verb-specific message.
func NotFound(msg string) *RequestError {
	return &RequestError{Kind: KindNotFound, Message: msg}
}

// AuthFailed is the single reply for any credential mismatch.
func AuthFailed() *RequestError {
	return &RequestError{Kind: KindAuth, Message: MsgAuthFailed}
}

// Classify maps an arbitrary error to a RequestError. Sentinel errors from the
// storage, lock and transfer packages get their fixed reply; anything else is
// an I/O error whose message is surfaced without server-side paths.
func Classify(err error) *RequestError {
	if err == nil {
		return nil
	}

	var re *RequestError
	if errors.As(err, &re) {
		return re
	}

	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		return &RequestError{Kind: KindPath, Message: MsgInvalidPath, Err: err}
	case errors.Is(err, lock.ErrBusy):
		return &RequestError{Kind: KindLockConflict, Message: MsgBusy, Err: err}
	case errors.Is(err, transfer.ErrShortRead):
		return &RequestError{Kind: KindTransferIncomplete, Message: MsgUploadIncomplete, Err: err}
	}

	return &RequestError{Kind: KindIO, Message: ioMessage(err), Err: err}
}

// ioMessage strips the operation and absolute path from *fs.PathError and
// *os.LinkError so the storage layout is not disclosed to clients.
func ioMessage(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err.Error()
	}
	return err.Error()
}

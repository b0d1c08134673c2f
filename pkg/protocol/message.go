// Package protocol implements the line-oriented wire format shared by the
// server and the client.
//
// Every command and every response is one text line terminated by "\n".
// Commands are whitespace-separated tokens with a case-insensitive verb.
// Responses have the form STATUS@payload. Raw file bytes are exchanged only
// after a size has been announced with READY@<size> or FILEINFO@<size>.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the leading token of a response line.
type Status string

const (
	StatusOK           Status = "OK"
	StatusError        Status = "ERROR"
	StatusReady        Status = "READY"
	StatusFileInfo     Status = "FILEINFO"
	StatusDisconnected Status = "DISCONNECTED"
)

// Verbs understood by the server.
const (
	VerbConnect   = "CONNECT"
	VerbDir       = "DIR"
	VerbSubfolder = "SUBFOLDER"
	VerbDelete    = "DELETE"
	VerbUpload    = "UPLOAD"
	VerbDownload  = "DOWNLOAD"
	VerbLogout    = "LOGOUT"
	VerbQuit      = "QUIT"
	VerbExit      = "EXIT"
)

// Fixed payloads.
const (
	EmptyListing     = "<empty>"
	PayloadExists    = "EXISTS"
	AckReady         = "READY"
	AnswerOverwrite  = "y"
	AnswerKeep       = "n"
	MsgAuthenticated = "Authenticated"
	MsgAuthFailed    = "Authentication failed"
	MsgGoodbye       = "Goodbye"
	MsgConnectFirst  = "You must CONNECT first"
	MsgUnknown       = "Unknown command"
	MsgTooLong       = "Command too long"
	MsgTooMany       = "Too many connections"
)

// ErrMalformedResponse is returned by ParseResponse for lines that are not
// STATUS@payload with a known status.
var ErrMalformedResponse = errors.New("malformed response")

// Response is one server reply line.
type Response struct {
	Status  Status
	Payload string
}

// OK, Error, Ready, FileInfo and Disconnected build responses.
func OK(payload string) Response           { return Response{StatusOK, payload} }
func Error(payload string) Response        { return Response{StatusError, payload} }
func Ready(size int64) Response            { return Response{StatusReady, strconv.FormatInt(size, 10)} }
func FileInfo(size int64) Response         { return Response{StatusFileInfo, strconv.FormatInt(size, 10)} }
func Disconnected(payload string) Response { return Response{StatusDisconnected, payload} }

// String renders the response without the line terminator.
func (r Response) String() string {
	return string(r.Status) + "@" + r.Payload
}

// Encode renders the response as a wire line. Line breaks inside the payload
// would split the frame, so they are replaced with spaces.
func (r Response) Encode() []byte {
	payload := strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Payload)
	return []byte(string(r.Status) + "@" + payload + "\n")
}

// Size parses the payload of a READY or FILEINFO response.
func (r Response) Size() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(r.Payload), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad size %q", ErrMalformedResponse, r.Payload)
	}
	return n, nil
}

// ParseResponse parses a reply line (terminator optional).
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")

	status, payload, found := strings.Cut(line, "@")
	if !found {
		return Response{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}

	switch s := Status(status); s {
	case StatusOK, StatusError, StatusReady, StatusFileInfo, StatusDisconnected:
		return Response{Status: s, Payload: payload}, nil
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, status)
	}
}

// Command is one parsed request line.
type Command struct {
	// Verb is upper-cased.
	Verb string
	Args []string
}

// ParseCommand splits line on whitespace. ok is false for blank lines.
func ParseCommand(line string) (cmd Command, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Verb: strings.ToUpper(fields[0]), Args: fields[1:]}, true
}

// Path re-joins Args[from:to] with single spaces so paths containing spaces
// survive tokenization. A negative to counts from the end.
func (c Command) Path(from, to int) string {
	if to < 0 {
		to = len(c.Args) + to
	}
	if from >= to || from >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[from:to], " ")
}

// String renders the command as a wire line without terminator.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + " " + strings.Join(c.Args, " ")
}

// FormatCommand builds a command line with terminator.
func FormatCommand(verb string, args ...string) []byte {
	return []byte(Command{Verb: verb, Args: args}.String() + "\n")
}

// ParseSize parses a client-announced byte count.
func ParseSize(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, Protocolf("File size must be a non-negative integer")
	}
	return n, nil
}

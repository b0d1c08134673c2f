package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineBytes bounds a single command or response line.
const DefaultMaxLineBytes = 4096

// ErrLineTooLong is returned by LineReader.ReadLine when a line exceeds the
// limit. The whole offending line has been consumed.
var ErrLineTooLong = errors.New("line too long")

// LineReader reads bounded text lines and raw bytes from the same buffered
// stream. Binary payloads must be read through the LineReader itself, since
// bytes following a command line may already sit in its buffer.
type LineReader struct {
	br  *bufio.Reader
	max int
}

// NewLineReader wraps r. maxLine <= 0 selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineReader{br: bufio.NewReaderSize(r, maxLine+2), max: maxLine}
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator.
// A final unterminated line is returned with a nil error; io.EOF is returned
// only when no bytes remain.
func (l *LineReader) ReadLine() (string, error) {
	var buf []byte
	tooLong := false

	for {
		frag, err := l.br.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, frag...)
			// +2 leaves room for a "\r\n" terminator split across fragments.
			if len(buf) > l.max+2 {
				tooLong, buf = true, nil
			}
		}

		switch {
		case err == nil:
			return l.finish(buf, tooLong)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !tooLong && len(buf) == 0 {
				return "", io.EOF
			}
			return l.finish(buf, tooLong)
		default:
			return "", err
		}
	}
}

func (l *LineReader) finish(buf []byte, tooLong bool) (string, error) {
	if tooLong {
		return "", ErrLineTooLong
	}
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	if len(buf) > l.max {
		return "", ErrLineTooLong
	}
	return string(buf), nil
}

// Read implements io.Reader for binary payloads.
func (l *LineReader) Read(p []byte) (int, error) {
	return l.br.Read(p)
}

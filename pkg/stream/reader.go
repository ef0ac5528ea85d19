package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineBytes bounds a single event line. Longer lines are consumed and
// reported as a *ParseError wrapping ErrLineTooLong.
const MaxLineBytes = 16 << 20

// ErrLineTooLong marks a line that exceeded MaxLineBytes.
var ErrLineTooLong = errors.New("event line too long")

const maxQuotedPayload = 120

// ParseError reports a line that carried the data prefix but did not decode.
// It is not fatal: the Reader can continue with the next line.
type ParseError struct {
	Line    int
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	payload := e.Payload
	if len(payload) > maxQuotedPayload {
		payload = payload[:maxQuotedPayload] + "..."
	}
	return fmt.Sprintf("line %d: malformed event %q: %v", e.Line, payload, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Reader splits a byte stream into events. Partial lines are held until the
// rest of the line arrives.
type Reader struct {
	br      *bufio.Reader
	line    int
	maxLine int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), maxLine: MaxLineBytes}
}

// Next returns the next event, a *ParseError for a malformed or oversized
// line, or io.EOF once the stream ends. Any other error comes from the
// underlying reader.
func (r *Reader) Next() (Event, error) {
	for {
		text, tooLong, err := r.readLine()
		if err != nil {
			return nil, err
		}
		r.line++
		if tooLong {
			return nil, &ParseError{Line: r.line, Err: ErrLineTooLong}
		}

		payload, ok := ParseLine(text)
		if !ok {
			continue
		}

		ev, err := Unmarshal([]byte(payload))
		if err != nil {
			return nil, &ParseError{Line: r.line, Payload: payload, Err: err}
		}
		return ev, nil
	}
}

// readLine returns the next line without its newline. An unterminated final
// line is returned before io.EOF. Lines over the limit are drained and only
// reported.
func (r *Reader) readLine() (line string, tooLong bool, err error) {
	var buf []byte
	for {
		part, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(bytes.TrimSuffix(part, []byte("\n"))) > r.maxLine {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, part...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 && !tooLong {
				return "", false, io.EOF
			}
		case err != nil:
			return "", false, err
		}
		return string(bytes.TrimSuffix(buf, []byte("\n"))), tooLong, nil
	}
}

// ParseLine extracts the payload of a data line. The space after the colon is
// optional. Blank lines, comments and other fields report false.
func ParseLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}

	payload := strings.TrimPrefix(line[len("data:"):], " ")
	if payload == "" {
		return "", false
	}
	return payload, true
}

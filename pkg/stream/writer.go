package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DataPrefix starts every event line on the wire.
const DataPrefix = "data: "

// Writer encodes events as `data: <json>\n\n` frames and flushes each one so
// the client sees it immediately.
type Writer struct {
	w     io.Writer
	flush func() error
}

// NewWriter wraps w. When w is an http.ResponseWriter every event is flushed
// through its ResponseController.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		sw.flush = http.NewResponseController(rw).Flush
	}
	return sw
}

// WriteEvent writes one frame. A returned error means the peer is gone or the
// connection is broken; callers stop streaming.
func (s *Writer) WriteEvent(ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", DataPrefix, data); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Type(), err)
	}

	if s.flush != nil {
		if err := s.flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("failed to flush %s event: %w", ev.Type(), err)
		}
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/stream"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeRequest(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		logger.Warn("Rejected stream request: %v", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.source.Ready(); err != nil {
		logger.Error("Token source %s is not ready: %v", s.source.Name(), err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	model, ok := s.models.Resolve(req.Model)
	if !ok {
		logger.Info("Model %q is not available, using %s", req.Model, model)
	}

	streamID := uuid.NewString()
	logger.Info("Stream %s started: %d messages, model %s", streamID, len(req.Messages), model)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	out := stream.NewWriter(w)
	if err := out.WriteEvent(stream.NewHeartbeat(s.now())); err != nil {
		logger.Warn("Stream %s: client went away before the first event: %v", streamID, err)
		return
	}

	s.pump(r.Context(), out, streamID, llm.Request{Model: model, Messages: req.Messages})
}

// pump runs the upstream in its own goroutine and owns every write to the
// response. Fragments arrive over an unbuffered channel, so a chunk is on the
// wire before the source can produce the next one. The upstream goroutine is
// joined before pump returns.
func (s *Server) pump(parent context.Context, out *stream.Writer, streamID string, req llm.Request) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	fragments := make(chan []byte)
	result := make(chan error, 1)

	go func() {
		handler := stream.Callbacks{
			Chunk: func(chunk []byte) error {
				select {
				case fragments <- chunk:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}
		result <- s.source.Stream(ctx, req, handler)
	}()

	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	abort := func(reason error) {
		logger.Warn("Stream %s aborted: %v", streamID, reason)
		cancel()
		<-result
	}

	chunks := 0
	for {
		select {
		case fragment := <-fragments:
			if len(fragment) == 0 {
				continue
			}
			chunks++
			if err := out.WriteEvent(stream.NewDelta(streamID, string(fragment))); err != nil {
				abort(err)
				return
			}

		case <-heartbeat:
			if err := out.WriteEvent(stream.NewHeartbeat(s.now())); err != nil {
				abort(err)
				return
			}

		case err := <-result:
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("Stream %s cancelled by client after %d chunks", streamID, chunks)
					return
				}
				logger.Error("Stream %s failed after %d chunks: %v", streamID, chunks, err)
				if werr := out.WriteEvent(stream.NewError(upstreamMessage(err))); werr != nil {
					logger.Warn("Stream %s: could not deliver error event: %v", streamID, werr)
				}
				return
			}
			if werr := out.WriteEvent(stream.NewComplete()); werr != nil {
				logger.Warn("Stream %s: could not deliver complete event: %v", streamID, werr)
				return
			}
			logger.Info("Stream %s completed with %d chunks", streamID, chunks)
			return

		case <-ctx.Done():
			abort(ctx.Err())
			return
		}
	}
}

// upstreamMessage is the human-readable text sent in an error event.
func upstreamMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream request timed out"
	case errors.Is(err, llm.ErrMissingCredentials):
		return "server is missing API credentials"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "upstream request failed"
}

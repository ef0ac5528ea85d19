// Package client is the stream consumer: it sends the conversation to the
// stream endpoint, parses the event stream and drives each assistant
// message from streaming to complete or failed.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/stream"
)

// Snapshot is the state handed to subscribers after every observable change.
type Snapshot struct {
	Messages    []chat.Message
	IsStreaming bool
	StreamError error
	// Retries counts the connection retries of the current or most recent
	// stream.
	Retries int
}

// Client holds one conversation and at most one active stream.
//
// All state sits behind a single mutex. Body reading happens on the goroutine
// that called SendMessage or RetryMessage; debounce and timeout timers take
// the same lock. Subscribers run outside the lock, one at a time, and never
// receive a snapshot older than one already delivered. A subscriber must not
// call SendMessage, RetryMessage or CancelStream synchronously.
type Client struct {
	endpoint   string
	cfg        StreamConfig
	httpClient *http.Client
	clock      clockwork.Clock
	model      string
	newID      func() string

	mu          sync.Mutex
	conv        chat.Conversation
	active      *session
	streamErr   error
	retries     int
	version     uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int

	notifyMu  sync.Mutex
	delivered uint64
}

// New returns a client that streams replies from endpoint. It starts with an
// empty conversation and makes no requests until SendMessage is called.
func New(endpoint string, cfg StreamConfig, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		cfg:         cfg,
		httpClient:  http.DefaultClient,
		clock:       clockwork.NewRealClock(),
		newID:       defaultIDGenerator,
		conv:        chat.NewConversation(),
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage appends the user's message and a streaming assistant reply,
// then streams the reply. It blocks until the reply completes or fails and
// returns the failure, if any. The text is stored as given. Blank text and
// sends during an active stream are rejected without changing state.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrStreamActive
	}

	user := chat.NewUserMessage(c.newID(), text)
	reply := chat.NewAssistantMessage(c.newID())
	c.conv = chat.AddMessage(c.conv, user, reply)
	history := chat.PriorTurns(c.conv, len(c.conv.Messages)-1)
	s := c.startLocked(ctx, reply.ID)
	c.mu.Unlock()
	c.publish()

	logger.Debug("Sending message %s with %d prior turns", user.ID, len(history))
	return c.run(s, history)
}

// RetryMessage re-streams a failed assistant message in place, replaying the
// turns that preceded it. It blocks like SendMessage.
func (c *Client) RetryMessage(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotRetryable, ErrStreamActive)
	}

	idx := chat.IndexOf(c.conv, messageID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: message %s not found", ErrNotRetryable, messageID)
	}

	restarted, err := chat.Restart(c.conv.Messages[idx])
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotRetryable, err)
	}

	c.conv = chat.ReplaceAt(c.conv, idx, restarted)
	history := chat.PriorTurns(c.conv, idx)
	s := c.startLocked(ctx, messageID)
	c.mu.Unlock()
	c.publish()

	logger.Info("Retrying message %s", messageID)
	return c.run(s, history)
}

// CancelStream stops the active stream, keeping whatever content was
// received. It does nothing when no stream is active.
func (c *Client) CancelStream() {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.failLocked(s, cancelledError())
	c.mu.Unlock()
	c.publish()

	logger.Info("Cancelled stream for message %s", s.messageID)
}

// Messages returns a copy of the conversation in order.
func (c *Client) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.GetMessages(c.conv)
}

// IsStreaming reports whether a reply is currently in flight.
func (c *Client) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// StreamError returns the failure of the most recent stream, or nil. It is
// cleared when the next stream starts.
func (c *Client) StreamError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamErr
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for state changes. The returned func unregisters it.
func (c *Client) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:    chat.GetMessages(c.conv),
		IsStreaming: c.active != nil,
		StreamError: c.streamErr,
		Retries:     c.retries,
	}
}

// changedLocked records an observable change for the next publish.
func (c *Client) changedLocked() {
	c.version++
}

// publish delivers the current state if it is newer than the last delivery.
func (c *Client) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.version == c.delivered {
		c.mu.Unlock()
		return
	}
	c.delivered = c.version
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Client) startLocked(parent context.Context, messageID string) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		messageID:    messageID,
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: c.clock.Now(),
	}
	s.debounce = newDebouncer(c.clock, c.cfg.Debounce,
		func(content string) { c.setContentLocked(s, content) },
		func(gen uint64) { c.onDebounce(s, gen) },
	)

	c.active = s
	c.streamErr = nil
	c.retries = 0
	c.armTimeoutLocked(s)
	c.changedLocked()
	return s
}

// run consumes the response body for s and returns its terminal error.
func (c *Client) run(s *session, history []chat.Message) error {
	resp, err := c.connect(s, history)
	if err != nil || resp == nil {
		c.mu.Lock()
		if c.active == s {
			c.failLocked(s, c.classifyLocked(s, err))
		}
		result := s.err
		c.mu.Unlock()
		c.publish()
		return result
	}
	defer resp.Body.Close()

	reader := stream.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			var parseErr *stream.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn("Skipping malformed event: %v", parseErr)
				continue
			}

			c.mu.Lock()
			if c.active == s {
				if errors.Is(err, io.EOF) {
					err = &StreamError{Kind: KindProtocol, Message: "stream ended before the response completed", Err: io.ErrUnexpectedEOF}
				}
				c.failLocked(s, c.classifyLocked(s, err))
			}
			result := s.err
			c.mu.Unlock()
			c.publish()
			return result
		}

		ended := c.handleEvent(s, ev)
		c.publish()
		if ended {
			c.mu.Lock()
			result := s.err
			c.mu.Unlock()
			return result
		}
	}
}

// classifyLocked maps a failure of the active session onto a StreamError.
func (c *Client) classifyLocked(s *session, err error) error {
	if s.ctx.Err() != nil {
		return cancelledError()
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr
	}
	if err == nil {
		return transportError(errors.New("connection closed"))
	}
	return transportError(err)
}

// handleEvent applies one event and reports whether the session is over.
func (c *Client) handleEvent(s *session, ev stream.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != s {
		return true
	}

	s.lastActivity = c.clock.Now()
	c.armTimeoutLocked(s)

	switch e := ev.(type) {
	case *stream.Heartbeat:
		return false

	case *stream.Chunk:
		mode := s.acc.mode
		if !s.acc.AddChunk(e) {
			logger.Warn("Ignoring chunk for message %s: nothing usable in %s mode", s.messageID, mode)
			return false
		}
		if mode == modeUnset {
			logger.Debug("Message %s streaming in %s mode", s.messageID, s.acc.mode)
		}
		s.debounce.Set(s.acc.Content())
		return false

	case *stream.Complete:
		c.completeLocked(s)
		return true

	case *stream.Error:
		c.failLocked(s, upstreamError(e.Message))
		return true

	default:
		logger.Debug("Ignoring %s event", ev.Type())
		return false
	}
}

func (c *Client) setContentLocked(s *session, content string) {
	idx := chat.IndexOf(c.conv, s.messageID)
	if idx < 0 || c.conv.Messages[idx].Content == content {
		return
	}

	updated, err := chat.SetContent(c.conv.Messages[idx], content)
	if err != nil {
		logger.Error("Dropping content update: %v", err)
		return
	}
	c.conv = chat.ReplaceAt(c.conv, idx, updated)
	c.changedLocked()
}

func (c *Client) onDebounce(s *session, gen uint64) {
	c.mu.Lock()
	if c.active == s {
		s.debounce.Fire(gen)
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Client) armTimeoutLocked(s *session) {
	if c.cfg.Timeout <= 0 {
		return
	}
	if s.timeout != nil {
		s.timeout.Stop()
	}
	s.timeout = c.clock.AfterFunc(c.cfg.Timeout, func() { c.onTimeout(s) })
}

func (c *Client) onTimeout(s *session) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}

	// A timer that could not be stopped in time may fire after fresh activity
	idle := c.clock.Now().Sub(s.lastActivity)
	if idle < c.cfg.Timeout {
		s.timeout = c.clock.AfterFunc(c.cfg.Timeout-idle, func() { c.onTimeout(s) })
		c.mu.Unlock()
		return
	}

	logger.Warn("Stream for message %s timed out after %s without data", s.messageID, idle)
	c.failLocked(s, &StreamError{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("no response from the server for %s", c.cfg.Timeout),
		Err:     ErrTimeout,
	})
	c.mu.Unlock()
	c.publish()
}

func (c *Client) completeLocked(s *session) {
	s.debounce.Flush()

	idx := chat.IndexOf(c.conv, s.messageID)
	if completed, err := chat.Complete(c.conv.Messages[idx]); err == nil {
		c.conv = chat.ReplaceAt(c.conv, idx, completed)
	} else {
		logger.Error("Could not complete message: %v", err)
	}

	logger.Debug("Message %s complete after %d chunks", s.messageID, s.acc.chunkCount)
	c.endLocked(s, nil)
}

// failLocked marks the session's message failed with err, keeping the
// content received so far.
func (c *Client) failLocked(s *session, err error) {
	s.debounce.Flush()

	idx := chat.IndexOf(c.conv, s.messageID)
	if failed, ferr := chat.Fail(c.conv.Messages[idx]); ferr == nil {
		c.conv = chat.ReplaceAt(c.conv, idx, failed)
	} else {
		logger.Error("Could not fail message: %v", ferr)
	}

	logger.Warn("Message %s failed: %v", s.messageID, err)
	c.streamErr = err
	c.endLocked(s, err)
}

// endLocked releases the active-session slot and aborts the request.
func (c *Client) endLocked(s *session, err error) {
	s.err = err
	s.stopTimers()
	s.cancel()
	c.active = nil
	c.changedLocked()
}

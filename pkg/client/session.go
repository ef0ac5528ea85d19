package client

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// session is the consumer side of one in-flight response. It lives from the
// moment a send or retry is accepted until the message completes or fails,
// and is only touched with the client lock held.
type session struct {
	messageID    string
	ctx          context.Context
	cancel       context.CancelFunc
	lastActivity time.Time
	acc          accumulator
	debounce     *debouncer
	timeout      clockwork.Timer
	err          error
}

func (s *session) stopTimers() {
	s.debounce.Stop()
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

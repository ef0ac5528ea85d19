package llm

import (
	"context"
	"errors"

	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/stream"
)

// ErrMissingCredentials is returned by Ready when a provider needs an API key
// that is not configured.
var ErrMissingCredentials = errors.New("missing API credentials")

// Request is one generation: the conversation so far, oldest first, and the
// model to run it on.
type Request struct {
	Model    string
	Messages []chat.Message
}

// Source produces text incrementally for a conversation.
//
// Stream reports each fragment to handler.OnChunk in production order, then
// calls OnComplete with the full text or OnError with the failure, and
// returns the same error. Cancelling ctx aborts the upstream request.
type Source interface {
	Name() string
	Ready() error
	Stream(ctx context.Context, req Request, handler stream.Handler) error
}

// fail reports err to the handler and returns it.
func fail(handler stream.Handler, err error) error {
	handler.OnError(err)
	return err
}

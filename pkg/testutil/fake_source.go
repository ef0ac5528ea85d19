package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/stream"
)

// FakeSource is a scripted llm.Source. It emits Fragments in order, then
// either blocks until its context ends (Block), fails with Err, or completes.
// A positive FailFirst limits Err to that many initial calls.
type FakeSource struct {
	Fragments []string
	Delay     time.Duration
	Err       error
	FailFirst int
	Block     bool
	ReadyErr  error

	mu       sync.Mutex
	requests []llm.Request
	results  []error
}

func NewFakeSource(fragments ...string) *FakeSource {
	return &FakeSource{Fragments: fragments}
}

func (f *FakeSource) Name() string {
	return "fake"
}

func (f *FakeSource) Ready() error {
	return f.ReadyErr
}

func (f *FakeSource) Stream(ctx context.Context, req llm.Request, handler stream.Handler) (err error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.results = append(f.results, err)
		f.mu.Unlock()
	}()

	var content strings.Builder
	for _, fragment := range f.Fragments {
		if f.Delay > 0 {
			select {
			case <-ctx.Done():
				handler.OnError(ctx.Err())
				return ctx.Err()
			case <-time.After(f.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			handler.OnError(err)
			return err
		}

		content.WriteString(fragment)
		if err := handler.OnChunk([]byte(fragment)); err != nil {
			handler.OnError(err)
			return err
		}
	}

	if f.Block {
		<-ctx.Done()
		handler.OnError(ctx.Err())
		return ctx.Err()
	}

	if f.Err != nil && (f.FailFirst <= 0 || call <= f.FailFirst) {
		handler.OnError(f.Err)
		return f.Err
	}
	return handler.OnComplete(content.String())
}

// Requests returns every request the source received.
func (f *FakeSource) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

// Results returns the error each finished Stream call returned.
func (f *FakeSource) Results() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.results...)
}

var _ llm.Source = (*FakeSource)(nil)

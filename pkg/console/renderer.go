// Package console renders a streaming conversation on a line-oriented
// terminal and runs the interactive chat loop on top of it.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/client"
)

const (
	userLabel      = "you ›"
	assistantLabel = "assistant ›"
	retryHint      = "type /retry to try again"
	emptyReply     = "(empty response)"
)

// Indicator is a waiting animation shown until the first content arrives.
type Indicator interface {
	Start()
	Stop()
}

// NewSpinner returns the default waiting indicator, drawn on stderr.
func NewSpinner() Indicator {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = "  waiting for a response"
	return s
}

type messageView struct {
	printed  string
	labeled  bool
	finished bool
}

// Renderer turns consumer snapshots into terminal output. Render is safe to
// use directly as a client subscriber.
type Renderer struct {
	out          io.Writer
	styles       Styles
	newIndicator func() Indicator
	hideThinking bool

	mu      sync.Mutex
	views   map[string]*messageView
	waiting Indicator
}

type RendererOption func(*Renderer)

func WithIndicator(newIndicator func() Indicator) RendererOption {
	return func(r *Renderer) {
		r.newIndicator = newIndicator
	}
}

// WithoutThinking prints only the reply part of messages from reasoning
// models, keeping the indicator up while the model thinks.
func WithoutThinking() RendererOption {
	return func(r *Renderer) {
		r.hideThinking = true
	}
}

func NewRenderer(out io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{
		out:          out,
		styles:       DefaultStyles(out),
		newIndicator: NewSpinner,
		views:        make(map[string]*messageView),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render prints whatever changed for assistant messages since the last
// snapshot. Messages that were already finished when first seen are not
// printed.
func (r *Renderer) Render(snap client.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range snap.Messages {
		if msg.IsAssistant() {
			r.renderAssistant(msg, snap.StreamError)
		}
	}
}

func (r *Renderer) renderAssistant(msg chat.Message, streamErr error) {
	v, ok := r.views[msg.ID]
	if !ok {
		v = &messageView{finished: !msg.IsStreaming()}
		r.views[msg.ID] = v
	}
	if v.finished {
		if !msg.IsStreaming() {
			return
		}
		// retried in place
		*v = messageView{}
	}

	content := msg.Content
	if r.hideThinking {
		_, content = chat.SplitThinking(content)
	}
	if content != v.printed {
		r.writeContent(v, content)
	}

	switch msg.Status {
	case chat.StatusStreaming:
		if !v.labeled {
			r.startWaiting()
		}
	case chat.StatusComplete:
		r.stopWaiting()
		if v.labeled {
			fmt.Fprintln(r.out)
		}
		if msg.IsEmpty() {
			fmt.Fprintln(r.out, r.styles.Notice.Render(emptyReply))
		}
		v.finished = true
	case chat.StatusFailed:
		r.stopWaiting()
		if v.labeled {
			fmt.Fprintln(r.out)
		}
		reason := "the response failed"
		if streamErr != nil {
			reason = streamErr.Error()
		}
		if worthRetrying(streamErr) {
			r.styles.Failure.Fprintf(r.out, "✗ %s (%s)\n", reason, retryHint)
		} else {
			r.styles.Failure.Fprintf(r.out, "✗ %s\n", reason)
		}
		v.finished = true
	}
}

// worthRetrying is false only for failures a retry cannot fix, such as a
// rejected request.
func worthRetrying(err error) bool {
	var streamErr *client.StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Retryable()
	}
	return true
}

func (r *Renderer) writeContent(v *messageView, content string) {
	if !v.labeled {
		r.stopWaiting()
		fmt.Fprint(r.out, r.styles.AssistantLabel.Render(assistantLabel)+" ")
		v.labeled = true
	}

	if strings.HasPrefix(content, v.printed) {
		fmt.Fprint(r.out, content[len(v.printed):])
	} else {
		fmt.Fprint(r.out, "\n"+content)
	}
	v.printed = content
}

func (r *Renderer) startWaiting() {
	if r.waiting != nil || r.newIndicator == nil {
		return
	}
	r.waiting = r.newIndicator()
	r.waiting.Start()
}

func (r *Renderer) stopWaiting() {
	if r.waiting == nil {
		return
	}
	r.waiting.Stop()
	r.waiting = nil
}

// Prompt prints the input prompt.
func (r *Renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, r.styles.UserLabel.Render(userLabel)+" ")
}

// Notice prints an informational line.
func (r *Renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.styles.Notice.Render(fmt.Sprintf(format, args...)))
}

package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/client"
	"github.com/killallgit/streamline/pkg/logger"
)

// Chat is the consumer surface the REPL drives.
type Chat interface {
	SendMessage(ctx context.Context, text string) error
	RetryMessage(ctx context.Context, messageID string) error
	CancelStream()
	Messages() []chat.Message
	Subscribe(fn func(client.Snapshot)) (unsubscribe func())
}

const helpText = "commands: /retry resends the last failed reply, /cancel stops the current one, /quit exits"

// REPL reads user input line by line. Sends run in the background so
// /cancel and /quit stay responsive while a reply streams.
type REPL struct {
	chat     Chat
	renderer *Renderer
}

func NewREPL(c Chat, renderer *Renderer) *REPL {
	return &REPL{chat: c, renderer: renderer}
}

// Run processes input until EOF, /quit or ctx is done. On EOF it waits for
// the active reply to finish; otherwise the reply is cancelled.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	unsubscribe := r.chat.Subscribe(r.renderer.Render)
	defer unsubscribe()

	quit := make(chan struct{})
	defer close(quit)
	lines, readErr := readLines(in, quit)

	// done is non-nil while a reply is streaming
	var done chan error
	stop := func() {
		if done != nil {
			r.chat.CancelStream()
			<-done
		}
	}

	r.renderer.Notice(helpText)
	r.renderer.Prompt()
	for {
		select {
		case <-ctx.Done():
			stop()
			return nil

		case err := <-done:
			done = nil
			if err != nil {
				logger.Debug("Reply ended with error: %v", err)
			}
			r.renderer.Prompt()

		case line, ok := <-lines:
			if !ok {
				if done != nil {
					<-done
				}
				return <-readErr
			}

			text := strings.TrimSpace(line)
			switch {
			case text == "":
				if done == nil {
					r.renderer.Prompt()
				}

			case text == "/quit" || text == "/exit":
				stop()
				return nil

			case text == "/help":
				r.renderer.Notice(helpText)

			case text == "/cancel":
				if done == nil {
					r.renderer.Notice("nothing is streaming")
					r.renderer.Prompt()
					continue
				}
				r.chat.CancelStream()

			case text == "/retry":
				if done != nil {
					r.renderer.Notice("a reply is still streaming; /cancel it first")
					continue
				}
				failed, ok := chat.GetLastFailed(chat.Conversation{Messages: r.chat.Messages()})
				if !ok {
					r.renderer.Notice("nothing to retry")
					r.renderer.Prompt()
					continue
				}
				done = r.start(ctx, func(ctx context.Context) error {
					return r.chat.RetryMessage(ctx, failed.ID)
				})

			case strings.HasPrefix(text, "/"):
				r.renderer.Notice("unknown command %s; %s", text, helpText)
				if done == nil {
					r.renderer.Prompt()
				}

			default:
				if done != nil {
					r.renderer.Notice("a reply is still streaming; /cancel it first")
					continue
				}
				done = r.start(ctx, func(ctx context.Context) error {
					return r.chat.SendMessage(ctx, text)
				})
			}
		}
	}
}

// RunOnce sends a single prompt, renders the reply and returns its error.
func RunOnce(ctx context.Context, c Chat, renderer *Renderer, prompt string) error {
	unsubscribe := c.Subscribe(renderer.Render)
	defer unsubscribe()
	return c.SendMessage(ctx, prompt)
}

func (r *REPL) start(ctx context.Context, fn func(context.Context) error) chan error {
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	return done
}

// readLines feeds lines from in until EOF or until quit is closed. The error
// channel yields the read error, or nil on EOF, once lines is closed.
func readLines(in io.Reader, quit <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				errc <- nil
				return
			}
		}
		err := scanner.Err()
		if errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
		errc <- err
	}()
	return lines, errc
}

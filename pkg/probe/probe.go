// Package probe measures how models stream through a streamline endpoint:
// time to first visible content, total duration and how many updates the
// consumer published.
package probe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/killallgit/streamline/pkg/client"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/tokens"
)

// DefaultPrompt asks for a reply long enough to stream in several chunks.
const DefaultPrompt = "Count from one to twenty in words, separated by commas."

// Result is the outcome of streaming one prompt with one model.
type Result struct {
	Model        string
	Completed    bool
	FirstContent time.Duration
	Total        time.Duration
	Updates      int
	Chars        int
	Tokens       int
	Retries      int
	Err          string

	// Estimated is set when Tokens is an estimate rather than an encoding
	// count.
	Estimated bool
}

// TokensPerSecond is the reply's token rate over the whole request.
func (r Result) TokensPerSecond() float64 {
	if r.Total <= 0 {
		return 0
	}
	return float64(r.Tokens) / r.Total.Seconds()
}

// TokenCounter counts the tokens of a reply produced by model and reports
// whether the count is exact.
type TokenCounter func(model, text string) (count int, exact bool)

type Prober struct {
	endpoint string
	cfg      client.StreamConfig
	prompt   string
	pause    time.Duration
	count    TokenCounter
	opts     []client.Option
}

type Option func(*Prober)

// WithPrompt replaces DefaultPrompt. An empty prompt is ignored.
func WithPrompt(prompt string) Option {
	return func(p *Prober) {
		if prompt != "" {
			p.prompt = prompt
		}
	}
}

// WithPause waits between models so a local server is not hammered.
func WithPause(d time.Duration) Option {
	return func(p *Prober) {
		p.pause = d
	}
}

// WithTokenCounter replaces the default word-based estimate.
func WithTokenCounter(count TokenCounter) Option {
	return func(p *Prober) {
		p.count = count
	}
}

// EncodingCounter counts with the model's BPE encoding when it can be
// loaded.
func EncodingCounter(model, text string) (int, bool) {
	counter := tokens.NewCounter(model)
	return counter.Count(text), counter.Exact()
}

// WithClientOptions passes options to every client the prober creates.
func WithClientOptions(opts ...client.Option) Option {
	return func(p *Prober) {
		p.opts = append(p.opts, opts...)
	}
}

func New(endpoint string, cfg client.StreamConfig, opts ...Option) *Prober {
	p := &Prober{
		endpoint: endpoint,
		cfg:      cfg,
		prompt:   DefaultPrompt,
		count:    func(_, text string) (int, bool) { return tokens.Estimate(text), false },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe streams the prompt once with model. Failures are reported in the
// result, not returned.
func (p *Prober) Probe(ctx context.Context, model string) Result {
	result := Result{Model: model}

	opts := append([]client.Option{client.WithModel(model)}, p.opts...)
	c := client.New(p.endpoint, p.cfg, opts...)

	var (
		mu      sync.Mutex
		last    string
		updates int
		first   time.Duration
	)
	start := time.Now()
	unsubscribe := c.Subscribe(func(s client.Snapshot) {
		if len(s.Messages) == 0 {
			return
		}
		content := s.Messages[len(s.Messages)-1].Content

		mu.Lock()
		defer mu.Unlock()
		if content == last {
			return
		}
		if last == "" {
			first = time.Since(start)
		}
		last = content
		updates++
	})
	defer unsubscribe()

	err := c.SendMessage(ctx, p.prompt)
	result.Total = time.Since(start)
	result.Retries = c.Snapshot().Retries

	mu.Lock()
	result.FirstContent = first
	result.Updates = updates
	result.Chars = len([]rune(last))
	reply := last
	mu.Unlock()
	var exact bool
	result.Tokens, exact = p.count(model, reply)
	result.Estimated = !exact

	if err != nil {
		result.Err = err.Error()
		logger.Warn("Probe of %s failed: %v", model, err)
		return result
	}
	result.Completed = true
	logger.Info("Probe of %s completed in %s with %d updates", model, result.Total, result.Updates)
	return result
}

// ProbeAll probes each model in order, stopping early if ctx ends.
func (p *Prober) ProbeAll(ctx context.Context, models []string) []Result {
	results := make([]Result, 0, len(models))
	for i, model := range models {
		if i > 0 && p.pause > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(p.pause):
			}
		}
		if ctx.Err() != nil {
			return results
		}
		results = append(results, p.Probe(ctx, model))
	}
	return results
}

// PrintResults writes one row per result and a summary line.
func PrintResults(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATUS\tFIRST\tTOTAL\tUPDATES\tRETRIES\tCHARS\tTOKENS/S")
	completed := 0
	for _, r := range results {
		status := "ok"
		if r.Completed {
			completed++
		} else {
			status = "failed: " + r.Err
		}
		rate := fmt.Sprintf("%.1f", r.TokensPerSecond())
		if r.Estimated {
			rate = "~" + rate
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Model, status,
			r.FirstContent.Round(time.Millisecond), r.Total.Round(time.Millisecond),
			r.Updates, r.Retries, r.Chars, rate)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "%d/%d models streamed to completion\n", completed, len(results))
	return nil
}

package client_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/client"
	"github.com/killallgit/streamline/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var noDebounce = client.StreamConfig{Timeout: 5 * time.Second, RetryAttempts: 0, RetryDelay: 10 * time.Millisecond}

func contentOf(c *client.Client) func() string {
	return func() string { return assistant(c.Messages()).Content }
}

var _ = Describe("Client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("SendMessage", func() {
		It("streams a reply to completion", func() {
			endpoint := newFakeEndpoint(sse(
				stream.NewHeartbeat(time.Now()),
				stream.NewDelta("s1", "Hel"),
				stream.NewDelta("s1", "lo"),
				stream.NewComplete(),
			))
			c := client.New(endpoint.URL(), client.DefaultStreamConfig())

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())

			msgs := c.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs[0].Content).To(Equal("hi"))
			Expect(msgs[0].Status).To(Equal(chat.StatusComplete))
			Expect(msgs[1].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[1].Content).To(Equal("Hello"))
			Expect(msgs[1].Status).To(Equal(chat.StatusComplete))
			Expect(c.IsStreaming()).To(BeFalse())
			Expect(c.StreamError()).NotTo(HaveOccurred())
		})

		It("keeps partial content and the server message when the upstream fails", func() {
			endpoint := newFakeEndpoint(sse(
				stream.NewDelta("s1", "Hi"),
				stream.NewError("rate limited"),
			))
			c := client.New(endpoint.URL(), client.DefaultStreamConfig())

			err := c.SendMessage(ctx, "hello")
			Expect(err).To(MatchError("rate limited"))

			var streamErr *client.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Kind).To(Equal(client.KindUpstream))

			reply := assistant(c.Messages())
			Expect(reply.Status).To(Equal(chat.StatusFailed))
			Expect(reply.Content).To(Equal("Hi"))
			Expect(c.IsStreaming()).To(BeFalse())
			Expect(c.StreamError()).To(MatchError("rate limited"))
		})

		It("names messages with the configured id generator", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s1", "ok"), stream.NewComplete()))
			n := 0
			c := client.New(endpoint.URL(), noDebounce, client.WithIDGenerator(func() string {
				n++
				return fmt.Sprintf("m%d", n)
			}))

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())

			msgs := c.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].ID).To(Equal("m1"))
			Expect(msgs[1].ID).To(Equal("m2"))
			Expect(endpoint.Requests()[0].Messages[0].ID).To(Equal("m1"))
		})

		It("sends the text exactly as typed", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s1", "ok"), stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce)

			text := "  indented code:\n    x := 1\n"
			Expect(c.SendMessage(ctx, text)).To(Succeed())

			Expect(c.Messages()[0].Content).To(Equal(text))
			Expect(endpoint.Requests()[0].Messages[0].Content).To(Equal(text))
		})

		It("rejects blank messages without touching state", func() {
			c := client.New("http://127.0.0.1:1", client.DefaultStreamConfig())

			Expect(c.SendMessage(ctx, "   \n")).To(MatchError(client.ErrEmptyMessage))
			Expect(c.Messages()).To(BeEmpty())
			Expect(c.IsStreaming()).To(BeFalse())
		})

		It("refuses a second send while a stream is active", func() {
			steps := newStepper()
			endpoint := newFakeEndpoint(steps.respond)
			c := client.New(endpoint.URL(), noDebounce)

			done := make(chan error, 1)
			go func() { done <- c.SendMessage(ctx, "first") }()
			Eventually(c.IsStreaming).Should(BeTrue())

			Expect(c.SendMessage(ctx, "second")).To(MatchError(client.ErrStreamActive))
			Expect(c.Messages()).To(HaveLen(2))

			steps.Send(stream.NewComplete())
			Eventually(done).Should(Receive(BeNil()))
			Expect(endpoint.Requests()).To(HaveLen(1))
		})

		It("sends prior turns and the model with each request", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "ok"), stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce, client.WithModel("qwen3:latest"))

			Expect(c.SendMessage(ctx, "one")).To(Succeed())
			Expect(c.SendMessage(ctx, "two")).To(Succeed())

			requests := endpoint.Requests()
			Expect(requests).To(HaveLen(2))
			Expect(requests[0].Model).To(Equal("qwen3:latest"))
			Expect(requests[0].Messages).To(HaveLen(1))

			second := requests[1].Messages
			Expect(second).To(HaveLen(3))
			Expect(second[0].Content).To(Equal("one"))
			Expect(second[1].Role).To(Equal(chat.RoleAssistant))
			Expect(second[1].Content).To(Equal("ok"))
			Expect(second[2].Content).To(Equal("two"))
		})

		It("preserves insertion order across sends", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "r"), stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce)

			for i := 0; i < 3; i++ {
				Expect(c.SendMessage(ctx, fmt.Sprintf("q%d", i))).To(Succeed())
			}

			msgs := c.Messages()
			Expect(msgs).To(HaveLen(6))
			for i := 0; i < 3; i++ {
				Expect(msgs[2*i].Content).To(Equal(fmt.Sprintf("q%d", i)))
				Expect(msgs[2*i+1].Role).To(Equal(chat.RoleAssistant))
			}
		})
	})

	Describe("content modes", func() {
		It("replaces content in cumulative mode", func() {
			endpoint := newFakeEndpoint(sse(
				stream.NewCumulative("s", "He"),
				stream.NewCumulative("s", "Hello"),
				stream.NewComplete(),
			))
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("Hello"))
		})

		It("completes when a cumulative chunk exceeds a megabyte", func() {
			long := strings.Repeat("a", 1<<20)
			endpoint := newFakeEndpoint(sse(
				stream.NewCumulative("s", strings.Repeat("a", 10)),
				stream.NewCumulative("s", long),
				stream.NewComplete(),
			))
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			reply := assistant(c.Messages())
			Expect(reply.Status).To(Equal(chat.StatusComplete))
			Expect(reply.Content).To(HaveLen(1 << 20))
		})

		It("locks the mode on the first chunk", func() {
			endpoint := newFakeEndpoint(sse(
				stream.NewDelta("s", "a"),
				stream.NewCumulative("s", "IGNORED"),
				stream.NewDelta("s", "b"),
				stream.NewComplete(),
			))
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("ab"))
		})

		It("prefers delta when a chunk carries both fields", func() {
			both := stream.NewDelta("s", " world")
			full := "Hello world"
			both.Content = &full

			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "Hello"), both, stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("Hello world"))
		})
	})

	Describe("wire tolerance", func() {
		It("skips malformed lines and unknown events", func() {
			endpoint := newFakeEndpoint(func(_ int, w http.ResponseWriter, r *http.Request) {
				openStream(w)
				fmt.Fprint(w, "data: {\"type\":\"chunk\",\"delta\":\"a\",\"done\":false}\n\n")
				fmt.Fprint(w, "data: {oops\n\n")
				fmt.Fprint(w, ": comment\n\n")
				fmt.Fprint(w, "data: {\"type\":\"usage\",\"tokens\":3}\n\n")
				fmt.Fprint(w, "data:{\"type\":\"chunk\",\"delta\":\"b\",\"done\":false}\n\n")
				fmt.Fprint(w, "data: {\"type\":\"complete\",\"done\":true}\n\n")
			})
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("ab"))
		})

		It("fails with a protocol error when the body ends early", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "half")))
			c := client.New(endpoint.URL(), noDebounce)

			err := c.SendMessage(ctx, "hi")
			var streamErr *client.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Kind).To(Equal(client.KindProtocol))

			reply := assistant(c.Messages())
			Expect(reply.Status).To(Equal(chat.StatusFailed))
			Expect(reply.Content).To(Equal("half"))
		})
	})

	Describe("non-2xx responses", func() {
		It("fails with the server's error without retrying", func() {
			endpoint := newFakeEndpoint(func(_ int, w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"messages must be a non-empty array"}`)
			})
			cfg := client.DefaultStreamConfig()
			cfg.RetryDelay = time.Millisecond
			c := client.New(endpoint.URL(), cfg)

			err := c.SendMessage(ctx, "hi")
			Expect(err).To(MatchError(ContainSubstring("messages")))

			var streamErr *client.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Kind).To(Equal(client.KindStatus))
			Expect(streamErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(endpoint.Requests()).To(HaveLen(1))
			Expect(assistant(c.Messages()).Status).To(Equal(chat.StatusFailed))
		})
	})

	Describe("transport retries", func() {
		It("retries failed connections with the same request", func() {
			endpoint := newFakeEndpoint(func(attempt int, w http.ResponseWriter, r *http.Request) {
				if attempt <= 2 {
					hangUp(w)
					return
				}
				sse(stream.NewDelta("s", "finally"), stream.NewComplete())(attempt, w, r)
			})
			cfg := client.StreamConfig{Timeout: 5 * time.Second, RetryAttempts: 3, RetryDelay: 5 * time.Millisecond}
			c := client.New(endpoint.URL(), cfg)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("finally"))

			requests := endpoint.Requests()
			Expect(requests).To(HaveLen(3))
			Expect(requests[2]).To(Equal(requests[0]))
		})

		It("gives up after the configured attempts", func() {
			endpoint := newFakeEndpoint(func(_ int, w http.ResponseWriter, r *http.Request) {
				hangUp(w)
			})
			cfg := client.StreamConfig{Timeout: 5 * time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond}
			c := client.New(endpoint.URL(), cfg)

			err := c.SendMessage(ctx, "hi")
			var streamErr *client.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Kind).To(Equal(client.KindTransport))
			Expect(endpoint.Requests()).To(HaveLen(2))
			Expect(c.IsStreaming()).To(BeFalse())
		})
	})

	Describe("CancelStream", func() {
		It("fails the active message, keeps its content and frees the slot", func() {
			steps := newStepper()
			endpoint := newFakeEndpoint(steps.respond)
			c := client.New(endpoint.URL(), noDebounce)

			done := make(chan error, 1)
			go func() { done <- c.SendMessage(ctx, "hi") }()

			Eventually(c.IsStreaming).Should(BeTrue())
			steps.Send(stream.NewDelta("s", "par"))
			Eventually(contentOf(c)).Should(Equal("par"))

			c.CancelStream()

			Expect(c.IsStreaming()).To(BeFalse())
			reply := assistant(c.Messages())
			Expect(reply.Status).To(Equal(chat.StatusFailed))
			Expect(reply.Content).To(Equal("par"))
			Expect(c.StreamError()).To(MatchError(client.ErrCancelled))

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(client.ErrCancelled))

			By("being idempotent")
			before := c.Messages()
			c.CancelStream()
			Expect(c.Messages()).To(Equal(before))

			By("allowing the next send")
			endpoint.SetResponder(sse(stream.NewDelta("s", "next"), stream.NewComplete()))
			Expect(c.SendMessage(ctx, "again")).To(Succeed())
			Expect(assistant(c.Messages()).Content).To(Equal("next"))
		})

		It("does nothing when idle", func() {
			c := client.New("http://127.0.0.1:1", client.DefaultStreamConfig())
			c.CancelStream()
			Expect(c.Messages()).To(BeEmpty())
			Expect(c.StreamError()).NotTo(HaveOccurred())
		})

		It("treats cancellation of the caller's context the same way", func() {
			steps := newStepper()
			endpoint := newFakeEndpoint(steps.respond)
			c := client.New(endpoint.URL(), noDebounce)

			sendCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- c.SendMessage(sendCtx, "hi") }()
			Eventually(c.IsStreaming).Should(BeTrue())

			cancel()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(client.ErrCancelled))
			Expect(assistant(c.Messages()).Status).To(Equal(chat.StatusFailed))
		})
	})

	Describe("RetryMessage", func() {
		It("re-streams a failed reply in place with the original prompt", func() {
			endpoint := newFakeEndpoint(func(attempt int, w http.ResponseWriter, r *http.Request) {
				if attempt == 1 {
					sse(stream.NewDelta("s", "Hi"), stream.NewError("rate limited"))(attempt, w, r)
					return
				}
				sse(stream.NewDelta("s", "Hello again"), stream.NewComplete())(attempt, w, r)
			})
			c := client.New(endpoint.URL(), noDebounce)

			Expect(c.SendMessage(ctx, "hello")).To(HaveOccurred())
			failed := assistant(c.Messages())

			Expect(c.RetryMessage(ctx, failed.ID)).To(Succeed())

			msgs := c.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].ID).To(Equal(failed.ID))
			Expect(msgs[1].Content).To(Equal("Hello again"))
			Expect(msgs[1].Status).To(Equal(chat.StatusComplete))
			Expect(c.StreamError()).NotTo(HaveOccurred())

			requests := endpoint.Requests()
			Expect(requests).To(HaveLen(2))
			Expect(requests[1].Messages).To(HaveLen(1))
			Expect(requests[1].Messages[0].Content).To(Equal("hello"))
			Expect(requests[1].Messages[0].ID).To(Equal(requests[0].Messages[0].ID))
		})

		It("only accepts failed assistant messages", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "ok"), stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce)
			Expect(c.SendMessage(ctx, "hi")).To(Succeed())

			msgs := c.Messages()
			Expect(c.RetryMessage(ctx, msgs[0].ID)).To(MatchError(client.ErrNotRetryable))
			Expect(c.RetryMessage(ctx, msgs[1].ID)).To(MatchError(client.ErrNotRetryable))
			Expect(c.RetryMessage(ctx, "missing")).To(MatchError(client.ErrNotRetryable))
			Expect(endpoint.Requests()).To(HaveLen(1))
		})

		It("is refused while a stream is active", func() {
			steps := newStepper()
			endpoint := newFakeEndpoint(func(attempt int, w http.ResponseWriter, r *http.Request) {
				if attempt == 1 {
					sse(stream.NewError("boom"))(attempt, w, r)
					return
				}
				steps.respond(attempt, w, r)
			})
			c := client.New(endpoint.URL(), noDebounce)
			Expect(c.SendMessage(ctx, "first")).To(HaveOccurred())
			failed := assistant(c.Messages())

			go c.SendMessage(ctx, "second")
			Eventually(c.IsStreaming).Should(BeTrue())

			err := c.RetryMessage(ctx, failed.ID)
			Expect(err).To(MatchError(client.ErrNotRetryable))
			Expect(err).To(MatchError(client.ErrStreamActive))

			c.CancelStream()
		})
	})

	Describe("subscribers", func() {
		It("see every state transition in order", func() {
			endpoint := newFakeEndpoint(sse(stream.NewDelta("s", "a"), stream.NewDelta("s", "b"), stream.NewComplete()))
			c := client.New(endpoint.URL(), noDebounce)

			recorder := &snapshotRecorder{}
			unsubscribe := c.Subscribe(recorder.Record)

			Expect(c.SendMessage(ctx, "hi")).To(Succeed())

			snaps := recorder.Snapshots()
			Expect(len(snaps)).To(BeNumerically(">=", 2))
			Expect(snaps[0].IsStreaming).To(BeTrue())
			Expect(snaps[0].Messages).To(HaveLen(2))

			last := snaps[len(snaps)-1]
			Expect(last.IsStreaming).To(BeFalse())
			Expect(assistant(last.Messages).Content).To(Equal("ab"))

			var seen []string
			for _, s := range snaps {
				seen = append(seen, assistant(s.Messages).Content)
			}
			Expect(seen).To(ContainElement("a"))

			unsubscribe()
			unsubscribe()
			Expect(c.SendMessage(ctx, "again")).To(Succeed())
			Expect(recorder.Snapshots()).To(HaveLen(len(snaps)))
		})
	})

	Describe("debounce", func() {
		It("limits observable updates and ends with the full content", func() {
			const chunks = 40
			endpoint := newFakeEndpoint(func(_ int, w http.ResponseWriter, r *http.Request) {
				openStream(w)
				out := stream.NewWriter(w)
				for i := 0; i < chunks; i++ {
					Expect(out.WriteEvent(stream.NewDelta("s", "x"))).To(Succeed())
					time.Sleep(5 * time.Millisecond)
				}
				Expect(out.WriteEvent(stream.NewComplete())).To(Succeed())
			})
			cfg := client.DefaultStreamConfig()
			c := client.New(endpoint.URL(), cfg)

			var mu sync.Mutex
			distinct := map[string]bool{}
			c.Subscribe(func(s client.Snapshot) {
				if content := assistant(s.Messages).Content; content != "" {
					mu.Lock()
					distinct[content] = true
					mu.Unlock()
				}
			})

			start := time.Now()
			Expect(c.SendMessage(ctx, "hi")).To(Succeed())
			elapsed := time.Since(start)

			Expect(assistant(c.Messages()).Content).To(HaveLen(chunks))

			mu.Lock()
			defer mu.Unlock()
			limit := int(math.Floor(float64(elapsed)/float64(cfg.Debounce))) + 2
			Expect(len(distinct)).To(BeNumerically("<=", limit))
			Expect(len(distinct)).To(BeNumerically("<", chunks))
		})
	})

	Describe("inactivity timeout", func() {
		var (
			fake  *clockwork.FakeClock
			steps *stepper
			c     *client.Client
			done  chan error
		)

		// awaitTimers blocks until n timers are scheduled on the fake clock.
		awaitTimers := func(n int) {
			scheduled := make(chan struct{})
			go func() {
				fake.BlockUntil(n)
				close(scheduled)
			}()
			Eventually(scheduled).Should(BeClosed())
		}

		BeforeEach(func() {
			fake = clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			steps = newStepper()
			endpoint := newFakeEndpoint(steps.respond)
			cfg := client.StreamConfig{Timeout: 30 * time.Second}
			c = client.New(endpoint.URL(), cfg, client.WithClock(fake))

			done = make(chan error, 1)
			go func() { done <- c.SendMessage(ctx, "hi") }()

			Eventually(c.IsStreaming).Should(BeTrue())
			steps.Send(stream.NewHeartbeat(time.Now()))
			steps.Send(stream.NewDelta("s", "x"))
			Eventually(contentOf(c)).Should(Equal("x"))
			awaitTimers(1)
		})

		It("fires exactly at the timeout and not before", func() {
			fake.Advance(29999 * time.Millisecond)
			Consistently(c.IsStreaming, 50*time.Millisecond).Should(BeTrue())

			fake.Advance(time.Millisecond)
			Eventually(c.IsStreaming).Should(BeFalse())

			reply := assistant(c.Messages())
			Expect(reply.Status).To(Equal(chat.StatusFailed))
			Expect(reply.Content).To(Equal("x"))
			Expect(c.StreamError()).To(MatchError(client.ErrTimeout))

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(client.ErrTimeout))
		})

		It("is reset by every event", func() {
			fake.Advance(20 * time.Second)
			steps.Send(stream.NewDelta("s", "y"))
			Eventually(contentOf(c)).Should(Equal("xy"))

			fake.Advance(20 * time.Second)
			awaitTimers(1)
			Expect(c.IsStreaming()).To(BeTrue())

			fake.Advance(10 * time.Second)
			Eventually(c.IsStreaming).Should(BeFalse())
			Eventually(done).Should(Receive(MatchError(client.ErrTimeout)))
		})
	})
})

package chat_test

import (
	"github.com/killallgit/streamline/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SplitThinking", func() {
	DescribeTable("separates reasoning from the reply",
		func(content, thinking, reply string) {
			gotThinking, gotReply := chat.SplitThinking(content)
			Expect(gotThinking).To(Equal(thinking))
			Expect(gotReply).To(Equal(reply))
		},
		Entry("plain reply", "Hello there", "", "Hello there"),
		Entry("closed block", "<think>\nplan it\n</think>\n\nHello", "plan it", "Hello"),
		Entry("thinking tag variant", "<THINKING>hmm</THINKING>Hi", "hmm", "Hi"),
		Entry("several blocks", "<think>a</think>One <think>b</think>two", "a\n\nb", "One two"),
		Entry("open block mid-stream", "<think>still work", "still work", ""),
		Entry("reply then open block", "Hi <think>more", "more", "Hi "),
		Entry("empty block", "<think></think>Hi", "", "Hi"),
	)

	It("grows the reply as a prefix once thinking closes", func() {
		steps := []string{
			"<think>plan",
			"<think>plan</think>",
			"<think>plan</think>\nHel",
			"<think>plan</think>\nHello",
		}

		var previous string
		for _, content := range steps {
			_, reply := chat.SplitThinking(content)
			Expect(reply).To(HavePrefix(previous))
			previous = reply
		}
		Expect(previous).To(Equal("Hello"))
	})
})

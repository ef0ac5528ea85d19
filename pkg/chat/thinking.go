package chat

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think(?:ing)?>(.*?)</think(?:ing)?>`)
	thinkOpen  = regexp.MustCompile(`(?i)<think(?:ing)?>`)
)

// SplitThinking separates reasoning blocks such as <think>...</think> from
// the reply. A block that is still open, as happens mid-stream, runs to the
// end of content and counts as thinking.
func SplitThinking(content string) (thinking, reply string) {
	var parts []string
	for _, m := range thinkBlock.FindAllStringSubmatch(content, -1) {
		if part := strings.TrimSpace(m[1]); part != "" {
			parts = append(parts, part)
		}
	}
	reply = thinkBlock.ReplaceAllString(content, "")

	if loc := thinkOpen.FindStringIndex(reply); loc != nil {
		if part := strings.TrimSpace(reply[loc[1]:]); part != "" {
			parts = append(parts, part)
		}
		reply = reply[:loc[0]]
	}

	return strings.Join(parts, "\n\n"), strings.TrimLeft(reply, " \t\r\n")
}

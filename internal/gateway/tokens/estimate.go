// Package tokens provides a cheap token-count heuristic. It is an estimate
// for usage accounting, not a tokenizer.
package tokens

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
)

// Estimate counts CJK Unified Ideographs as 1/1.5 token and every other rune
// as 1/4 token, floors the sum and never returns less than 1.
func Estimate(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= '\u4e00' && r <= '\u9fff' {
			cjk++
		} else {
			other++
		}
	}

	n := int(float64(cjk)/cjkCharsPerToken + float64(other)/otherCharsPerToken)
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessages estimates over the concatenated content of all messages.
func EstimateMessages(msgs []openai.ChatCompletionMessage) int {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
	}
	return Estimate(b.String())
}

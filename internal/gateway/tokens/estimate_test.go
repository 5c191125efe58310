package tokens

import (
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestEstimate_MinimumIsOne(t *testing.T) {
	for _, s := range []string{"", "a", "abc", "中"} {
		if got := Estimate(s); got != 1 {
			t.Fatalf("Estimate(%q): expected 1, got %d", s, got)
		}
	}
}

func TestEstimate_ASCII(t *testing.T) {
	if got := Estimate(strings.Repeat("a", 400)); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := Estimate("Hi there!"); got != 2 {
		t.Fatalf("expected 2 for 9 ascii chars, got %d", got)
	}
}

func TestEstimate_CJK(t *testing.T) {
	if got := Estimate(strings.Repeat("中", 30)); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}

func TestEstimate_Mixed(t *testing.T) {
	// 3 CJK runes -> 2.0, 8 other runes -> 2.0
	if got := Estimate("你好吗 hello, "); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}

func TestEstimate_MonotonicInLength(t *testing.T) {
	prev := 0
	text := ""
	for i := 0; i < 200; i++ {
		if i%3 == 0 {
			text += "字"
		} else {
			text += "x"
		}
		got := Estimate(text)
		if got < prev {
			t.Fatalf("estimate decreased at length %d: %d < %d", i+1, got, prev)
		}
		prev = got
	}
}

func TestEstimateMessages_ConcatenatesContent(t *testing.T) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: strings.Repeat("a", 6)},
		{Role: openai.ChatMessageRoleUser, Content: strings.Repeat("b", 6)},
	}
	if got := EstimateMessages(msgs); got != 3 {
		t.Fatalf("expected 3 over 12 chars, got %d", got)
	}
}

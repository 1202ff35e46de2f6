package titlegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeGenerator struct {
	out       string
	err       error
	gotPrompt string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	g.gotPrompt = prompt
	return g.out, g.err
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "full scaffold",
			raw:      "<|im_start|>system\n...<|im_end|>\n<|im_start|>assistant\n标题：旅行计划<|im_end|>",
			expected: "旅行计划",
		},
		{
			name:     "no end marker",
			raw:      "<|im_start|>assistant\n标题：天气",
			expected: "天气",
		},
		{
			name:     "keywords removed",
			raw:      "<|im_start|>assistant\n标题：对话内容总结<|im_end|>",
			expected: "总结",
		},
		{
			name:     "punctuation and latin filtered",
			raw:      "<|im_start|>assistant\n标题：Go语言，入门！abc<|im_end|>",
			expected: "语言入门",
		},
		{
			name:     "truncated to ten runes",
			raw:      "<|im_start|>assistant\n标题：一二三四五六七八九十十一十二<|im_end|>",
			expected: "一二三四五六七八九十",
		},
		{
			name:     "nothing usable",
			raw:      "<|im_start|>assistant\n标题：hello world!<|im_end|>",
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CleanTitle(tc.raw))
		})
	}
}

func TestSummarizeCleansGeneratedOutput(t *testing.T) {
	gen := &fakeGenerator{out: "<|im_start|>assistant\n标题：周末安排<|im_end|>"}
	s := NewSummarizer(gen)

	title := s.Summarize(context.Background(), "用户：周末做什么\n助手：可以去爬山")
	assert.Equal(t, "周末安排", title)

	assert.Contains(t, gen.gotPrompt, "对话内容：用户：周末做什么")
	assert.True(t, strings.HasSuffix(gen.gotPrompt, assistantMarker+labelToken))
}

func TestSummarizeFallbackOnGenerationError(t *testing.T) {
	s := NewSummarizer(&fakeGenerator{err: errors.New("device out of memory")})

	title := s.Summarize(context.Background(), "用户：你好\n助手：你好")
	assert.Equal(t, FallbackTitle, title)
}

func TestSummarizeFallbackOnEmptyOutput(t *testing.T) {
	s := NewSummarizer(&fakeGenerator{out: "<|im_start|>assistant\n标题：???<|im_end|>"})

	title := s.Summarize(context.Background(), "用户：你好\n助手：你好")
	assert.Equal(t, FallbackTitle, title)
}

func TestSummarizeTruncatesLongExchanges(t *testing.T) {
	gen := &fakeGenerator{out: "<|im_start|>assistant\n标题：长对话<|im_end|>"}
	s := NewSummarizer(gen)

	exchange := strings.Repeat("很", 600)
	s.Summarize(context.Background(), exchange)

	assert.Contains(t, gen.gotPrompt, strings.Repeat("很", 500))
	assert.NotContains(t, gen.gotPrompt, strings.Repeat("很", 501))
}

func TestSummarizeNeverExceedsTenRunes(t *testing.T) {
	outputs := []string{
		"<|im_start|>assistant\n标题：一二三四五六七八九十十一<|im_end|>",
		"<|im_start|>assistant\n标题：短<|im_end|>",
		"garbage with no markers at all",
	}
	for _, out := range outputs {
		s := NewSummarizer(&fakeGenerator{out: out})
		title := s.Summarize(context.Background(), "用户：你好\n助手：你好")
		assert.NotEmpty(t, title)
		assert.LessOrEqual(t, len([]rune(title)), 10)
	}
}

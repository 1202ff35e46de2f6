package titlegen

import (
	"context"
	"log/slog"
	"strings"
)

// FallbackTitle is used whenever generation or cleaning cannot produce a
// usable title. It matches the placeholder assigned to new conversations.
const FallbackTitle = "新对话"

const (
	maxTitleRunes    = 10
	maxExchangeRunes = 500
	maxNewTokens     = 4

	labelToken = "标题："
)

// These words are generation artifacts of the prompt scaffold, never part of
// a real title.
var filteredWords = []string{"标题", "内容", "对话"}

type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// Summarizer derives a short conversation title from the first exchange.
type Summarizer struct {
	model Generator
}

func NewSummarizer(model Generator) *Summarizer {
	return &Summarizer{model: model}
}

// Summarize never fails outward: any generation or decoding error degrades to
// FallbackTitle, logged for diagnostics only.
func (s *Summarizer) Summarize(ctx context.Context, exchange string) string {
	prompt := buildPrompt(truncateRunes(exchange, maxExchangeRunes))

	raw, err := s.model.Generate(ctx, prompt, maxNewTokens)
	if err != nil {
		slog.Error("title generation failed, using fallback", "error", err)
		return FallbackTitle
	}

	title := CleanTitle(raw)
	if title == "" {
		slog.Warn("title generation produced no usable text, using fallback", "raw", raw)
		return FallbackTitle
	}
	return title
}

func buildPrompt(exchange string) string {
	return "<|im_start|>system\n" +
		"你是一个对话标题生成器，依据以下对话内容生成一个简洁、准确的标题：\n" +
		"1. 标题控制在10个字以内\n" +
		"2. 准确反映对话主题\n" +
		"3. 表明客观事实，简明扼要\n" +
		"4. 不使用标点符号\n" +
		"5. 避免冗余和无关信息，突出核心内容\n" +
		"对话内容：" + exchange + "<|im_end|>\n" +
		assistantMarker + labelToken
}

// CleanTitle extracts the generated title from a raw decoded sequence: take
// the text after the assistant marker, cut at the end-of-turn marker, drop
// the label token and scaffold keywords, keep only Han script runes, and cap
// the length.
func CleanTitle(raw string) string {
	title := raw
	if i := strings.LastIndex(title, assistantMarker); i >= 0 {
		title = title[i+len(assistantMarker):]
	}
	if i := strings.Index(title, endMarker); i >= 0 {
		title = title[:i]
	}
	title = strings.ReplaceAll(title, labelToken, "")
	title = strings.TrimSpace(title)

	for _, word := range filteredWords {
		title = strings.ReplaceAll(title, word, "")
	}

	var b strings.Builder
	for _, r := range title {
		if r >= 0x4e00 && r <= 0x9fa5 {
			b.WriteRune(r)
		}
	}

	return truncateRunes(b.String(), maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

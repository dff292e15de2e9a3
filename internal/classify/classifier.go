// Package classify routes inbound messages to a domain.
//
// Classification is two-phase: a keyword scan over the configured domain
// keywords resolves the common case without a model call, and only ties
// or keyword misses fall through to a single short LLM call.
package classify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/beyondworks/assistant/internal/ai"
)

// Classifier picks a domain for a free-form user message.
type Classifier struct {
	provider ai.Provider
	keywords map[string][]string
	fallback string
}

// New builds a classifier over the given domain keyword map. The
// fallback domain is returned whenever neither phase produces a
// usable answer.
func New(provider ai.Provider, keywords map[string][]string, fallback string) *Classifier {
	return &Classifier{provider: provider, keywords: keywords, fallback: fallback}
}

// Classify returns the best-matching domain for message.
func (c *Classifier) Classify(ctx context.Context, message string) string {
	if domain, ok := c.byKeywords(message); ok {
		return domain
	}
	return c.byModel(ctx, message)
}

// byKeywords counts keyword hits per domain in the lower-cased message.
// It answers only when exactly one domain holds the nonzero maximum.
func (c *Classifier) byKeywords(message string) (string, bool) {
	lower := strings.ToLower(message)

	best := 0
	var winners []string
	for domain, words := range c.keywords {
		score := 0
		for _, w := range words {
			if w != "" && strings.Contains(lower, strings.ToLower(w)) {
				score++
			}
		}
		switch {
		case score > best:
			best = score
			winners = winners[:0]
			winners = append(winners, domain)
		case score == best && score > 0:
			winners = append(winners, domain)
		}
	}
	if best > 0 && len(winners) == 1 {
		return winners[0], true
	}
	return "", false
}

func (c *Classifier) byModel(ctx context.Context, message string) string {
	names := make([]string, 0, len(c.keywords))
	for name := range c.keywords {
		names = append(names, name)
	}
	sort.Strings(names)

	var desc strings.Builder
	for _, name := range names {
		fmt.Fprintf(&desc, "- %s: %s\n", name, strings.Join(c.keywords[name], ", "))
	}

	prompt := fmt.Sprintf(`사용자 메시지를 분석하여 가장 적절한 도메인 하나를 선택하세요.

도메인 목록:
%s
규칙:
- 반드시 도메인 이름만 출력 (%s)
- 판단이 어려우면 %s 선택

사용자 메시지: %s

도메인:`, desc.String(), strings.Join(names, ", "), c.fallback, message)

	res := c.provider.Chat(ctx, ai.ChatRequest{
		Messages:  []ai.Message{{Role: "user", Content: prompt}},
		MaxTokens: 20,
	})
	if res.IsError() {
		log.Printf("[classify] model call failed: %s", res.Content)
		return c.fallback
	}

	answer := strings.ToLower(strings.TrimSpace(res.Content))
	for _, name := range names {
		if strings.Contains(answer, name) {
			return name
		}
	}
	return c.fallback
}

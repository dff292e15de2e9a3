package ai

import (
	"context"
	"log"
)

// Fallback composes a primary and secondary provider. When the primary
// degrades into a sentinel response the secondary is retried with the
// same request and its result returned unmodified.
type Fallback struct {
	primary   Provider
	secondary Provider
}

func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Chat(ctx context.Context, req ChatRequest) ChatResult {
	result := f.primary.Chat(ctx, req)
	if result.IsError() && f.secondary != nil {
		log.Printf("[ai] primary provider failed, retrying with fallback: %s", result.Content)
		return f.secondary.Chat(ctx, req)
	}
	return result
}

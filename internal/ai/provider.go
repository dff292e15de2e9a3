// Package ai wraps LLM backends behind a uniform chat contract.
//
// Providers never return transport errors to callers: failures degrade
// into a sentinel-prefixed text response so a turn always produces chat
// content (see ErrPrefix and Fallback).
package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/beyondworks/assistant/internal/config"
)

// ErrPrefix marks a degraded provider response. The fallback wrapper and
// callers detect failures by this prefix instead of an error value.
const ErrPrefix = "AI 응답 오류: "

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

const requestTimeout = 90 * time.Second

// Message is one entry of a chat transcript, including the tool-call
// envelope needed to feed execution results back to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ImageURLs  []string   `json:"image_urls,omitempty"`   // user multimodal parts
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant rounds that requested tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // role "tool" result attribution
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Tool is a provider-agnostic function-tool schema.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ChatRequest struct {
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature float32
	// ToolChoice overrides the provider's tool selection mode
	// ("required" forces a call); empty means "auto".
	ToolChoice string
}

type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// IsError reports whether the result is a degraded (sentinel) response.
func (r ChatResult) IsError() bool {
	return strings.HasPrefix(r.Content, ErrPrefix)
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) ChatResult
}

// openAIProvider talks to any OpenAI-compatible chat completion endpoint
// (OpenAI itself, or Gemini's compatibility endpoint).
type openAIProvider struct {
	client *openai.Client
	model  string
}

// Models that take max_completion_tokens instead of max_tokens and
// reject the temperature parameter.
var newParamModelPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

func newOpenAIProvider(apiKey, baseURL, model string) *openAIProvider {
	cc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cc.BaseURL = baseURL
	}
	cc.HTTPClient = &http.Client{Timeout: requestTimeout}
	return &openAIProvider{
		client: openai.NewClientWithConfig(cc),
		model:  model,
	}
}

func (p *openAIProvider) usesNewTokensParam() bool {
	for _, prefix := range newParamModelPrefixes {
		if strings.HasPrefix(p.model, prefix) {
			return true
		}
	}
	return false
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) ChatResult {
	ccr := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if p.usesNewTokensParam() {
		ccr.MaxCompletionTokens = req.MaxTokens
	} else {
		ccr.MaxTokens = req.MaxTokens
		ccr.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		ccr.Tools = toOpenAITools(req.Tools)
		ccr.ToolChoice = "auto"
		if req.ToolChoice != "" {
			ccr.ToolChoice = req.ToolChoice
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return ChatResult{Content: ErrPrefix + err.Error()}
	}
	if len(resp.Choices) == 0 {
		return ChatResult{Content: ErrPrefix + "empty choices"}
	}

	msg := resp.Choices[0].Message
	result := ChatResult{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ImageURLs) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, u := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: u},
				})
			}
			cm.MultiContent = parts
		} else {
			cm.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// New builds the configured provider chain: primary, optionally wrapped
// with a fallback provider that takes over on sentinel responses.
func New(cfg config.AIConfig) Provider {
	primary := newByName(cfg.Provider, cfg.Model, cfg)

	if cfg.FallbackProvider != "" {
		model := cfg.FallbackModel
		if model == "" {
			model = config.DefaultFallbackModel
		}
		return NewFallback(primary, newByName(cfg.FallbackProvider, model, cfg))
	}
	return primary
}

func newByName(name, model string, cfg config.AIConfig) Provider {
	if name == "gemini" {
		return newOpenAIProvider(cfg.GeminiKey, geminiBaseURL, model)
	}
	return newOpenAIProvider(cfg.OpenAIKey, "", model)
}

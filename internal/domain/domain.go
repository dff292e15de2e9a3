// Package domain holds the per-domain system prompts, tool catalogs
// and executors the agent loop drives. Each handler owns its slice of
// the Notion workspace and renders tool output as user-ready Korean
// text; tool failures come back as text too, never as errors.
package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/notion"
)

// unknownTool is the executor's answer for tool names it does not own.
const unknownTool = "알 수 없는 도구"

const plainTextRule = "\n\n## 응답 규칙\n- 반드시 플레인 텍스트로 응답. **bold**, [link](url), # heading, `code` 등 마크다운 절대 금지.\n- 이모지 사용 가능."

// Handler is one functional area with its own prompt, tool catalog and
// executor.
type Handler interface {
	Name() string
	SystemPrompt() string
	Tools() []ai.Tool
	// Execute runs one tool call and returns user-readable output.
	Execute(name string, args map[string]any) string
	// ChatContext returns the live-data block prepended to the user
	// message for chat turns.
	ChatContext() string
	// RunMode handles a non-chat mode (briefing, digest, reminder).
	// ok is false when the handler does not implement the mode.
	RunMode(ctx context.Context, mode string) (string, bool)
}

// ChatShortcut is implemented by handlers that can answer some chat
// messages deterministically, before the tool loop runs. ok is false
// when the message does not match the shortcut.
type ChatShortcut interface {
	TryShortcut(ctx context.Context, message string) (string, bool)
}

// ToolForcer is implemented by handlers whose imperative requests must
// produce a tool call rather than a prose answer.
type ToolForcer interface {
	ForceToolCall(message string) bool
}

// Deps are the collaborators every handler shares.
type Deps struct {
	Notion *notion.Client
	AI     ai.Provider
	Config *config.Config
}

// Registry resolves handlers by domain name.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the full handler set over the shared deps.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	for _, h := range []Handler{
		NewSchedule(deps),
		NewFinance(deps),
		NewContent(deps),
		NewTravel(deps),
		NewTools(deps),
		NewBusiness(deps),
	} {
		r.handlers[h.Name()] = h
	}
	return r
}

// Get returns the handler for a domain, or nil.
func (r *Registry) Get(name string) Handler {
	return r.handlers[name]
}

// Names returns the registered domain names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// queryParsed runs a database query and flattens each page's property
// envelope. A failed query degrades to an empty list.
func queryParsed(client *notion.Client, dbID string, filter any, sorts []map[string]any, pageSize int) []map[string]any {
	if dbID == "" {
		return nil
	}
	qr := client.QueryDatabase(dbID, filter, sorts, pageSize)
	if !qr.Success {
		return nil
	}
	parsed := make([]map[string]any, 0, len(qr.Results))
	for _, page := range qr.Results {
		parsed = append(parsed, notion.ParsePageProperties(page))
	}
	return parsed
}

// won renders an amount as a comma-grouped 원 figure.
func won(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	whole := fmt.Sprintf("%.0f", amount)
	var b strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String() + "원"
	}
	return b.String() + "원"
}

// numField pulls the first numeric value found under the given keys.
func numField(item map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := item[k].(float64); ok {
			return v
		}
	}
	return 0
}

// strField pulls the first string value found under the given keys.
func strField(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := item[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// boolField pulls the first bool value found under the given keys.
func boolField(item map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := item[k].(bool); ok {
			return v
		}
	}
	return false
}

// dateStart extracts the start of a date-range value.
func dateStart(v any) string {
	switch d := v.(type) {
	case map[string]string:
		return d["start"]
	case map[string]any:
		s, _ := d["start"].(string)
		return s
	case string:
		return d
	}
	return ""
}

// dateEnd extracts the end of a date-range value.
func dateEnd(v any) string {
	switch d := v.(type) {
	case map[string]string:
		return d["end"]
	case map[string]any:
		s, _ := d["end"].(string)
		return s
	}
	return ""
}

// tagList coerces a multi-select value into strings.
func tagList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// singleShot runs one tool-free completion for briefing style modes.
func singleShot(ctx context.Context, provider ai.Provider, systemPrompt, content string, maxTokens int, temperature float32) string {
	res := provider.Chat(ctx, ai.ChatRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	return res.Content
}

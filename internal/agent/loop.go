// Package agent drives the multi-round tool-calling loop for one
// conversational turn.
//
// Each round sends the running transcript to the AI provider and
// dispatches the returned tool calls in priority order: rule-learning
// calls are consumed immediately by the loop itself, a deferred-choice
// call terminates the turn with an interactive result, and ordinary
// calls go to the domain executor before the next round. The round cap
// guarantees the loop halts no matter what the model does.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/rules"
	"github.com/beyondworks/assistant/internal/session"
)

// DefaultMaxRounds bounds provider round-trips per turn.
const DefaultMaxRounds = 3

const maxOptions = 5

// roundLimitResponse is returned when every round produced tool calls
// and no content survived to show the user.
const roundLimitResponse = "요청 처리 중 단계가 너무 많아졌어요. 다시 한번 시도해주세요."

// Executor runs one domain tool and returns human-readable output.
// Domain errors come back as failure text, not as an error value.
type Executor func(name string, args map[string]any) string

// Interactive describes a choice prompt the channel should render as
// buttons. PendingAction is persisted by the caller so the eventual
// click can resume the deferred tool.
type Interactive struct {
	Question       string                 `json:"question"`
	Options        []string               `json:"options"`
	ActionIDPrefix string                 `json:"action_id_prefix"`
	PendingAction  *session.PendingAction `json:"pending_action"`
}

// LearningEvent records one learn_rule call processed during a turn.
type LearningEvent struct {
	Rule          string `json:"rule"`
	Category      string `json:"category"`
	Domain        string `json:"domain"`
	CreatedAt     string `json:"created_at"`
	Status        string `json:"status"` // "learned" or "duplicate"
	SourceMessage string `json:"source_message,omitempty"`
	User          string `json:"user,omitempty"`
	Channel       string `json:"channel,omitempty"`
}

// Result is the outcome of one turn.
type Result struct {
	Response       string          `json:"response"`
	Interactive    *Interactive    `json:"interactive,omitempty"`
	LearningEvents []LearningEvent `json:"learning_events,omitempty"`
}

// Request carries everything one turn needs.
type Request struct {
	SystemPrompt string
	History      []ai.Message // prior turns plus the current user message, most-recent-last
	Tools        []ai.Tool
	Execute      Executor
	Domain       string
	ImageURLs    []string
	MaxRounds    int // 0 means DefaultMaxRounds
	// ForceToolCall makes the first round demand a tool call, for
	// imperative requests that must not be answered with prose alone.
	ForceToolCall bool
}

// Loop runs turns against a provider and a rule store.
type Loop struct {
	provider    ai.Provider
	rules       *rules.Store
	maxTokens   int
	temperature float32
}

func New(provider ai.Provider, ruleStore *rules.Store, maxTokens int, temperature float32) *Loop {
	return &Loop{provider: provider, rules: ruleStore, maxTokens: maxTokens, temperature: temperature}
}

// Run executes the turn until a terminal state or the round cap.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	msgs := make([]ai.Message, 0, len(req.History)+1)
	msgs = append(msgs, ai.Message{Role: "system", Content: req.SystemPrompt})
	msgs = append(msgs, req.History...)
	msgs = spliceImages(msgs, req.ImageURLs)

	var events []LearningEvent
	lastContent := ""

	for round := 0; round < maxRounds; round++ {
		toolChoice := ""
		if req.ForceToolCall && round == 0 {
			toolChoice = "required"
		}
		res := l.provider.Chat(ctx, ai.ChatRequest{
			Messages:    msgs,
			Tools:       req.Tools,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
			ToolChoice:  toolChoice,
		})
		if res.Content != "" {
			lastContent = res.Content
		}

		if len(res.ToolCalls) == 0 {
			return Result{Response: strings.TrimSpace(res.Content), LearningEvents: events}
		}

		// Rule-learning calls are consumed first and never cost a round.
		remaining := res.ToolCalls[:0:0]
		learnedThisRound := false
		for _, tc := range res.ToolCalls {
			if tc.Name == ToolLearnRule {
				events = append(events, l.learnRule(req.Domain, tc.Arguments))
				learnedThisRound = true
				continue
			}
			remaining = append(remaining, tc)
		}
		if learnedThisRound && len(remaining) == 0 {
			resp := strings.TrimSpace(res.Content)
			if resp == "" {
				resp = "네, 알려주신 내용을 기억해둘게요!"
			}
			return Result{Response: resp, LearningEvents: events}
		}

		// A deferred-choice call ends the turn; anything else in the
		// same batch is discarded.
		for _, tc := range remaining {
			if tc.Name == ToolRequestUserChoice {
				interactive := buildInteractive(tc.Arguments)
				resp := strings.TrimSpace(res.Content)
				if resp == "" {
					resp = interactive.Question
				}
				return Result{
					Response:       resp,
					Interactive:    interactive,
					LearningEvents: events,
				}
			}
		}

		msgs = append(msgs, ai.Message{Role: "assistant", Content: res.Content, ToolCalls: remaining})
		for _, tc := range remaining {
			out := req.Execute(tc.Name, tc.Arguments)
			msgs = append(msgs, ai.Message{Role: "tool", Content: out, ToolCallID: tc.ID})
		}
	}

	log.Printf("[agent] round limit reached for domain %s", req.Domain)
	if strings.TrimSpace(lastContent) != "" {
		return Result{Response: strings.TrimSpace(lastContent), LearningEvents: events}
	}
	return Result{Response: roundLimitResponse, LearningEvents: events}
}

func (l *Loop) learnRule(domain string, args map[string]any) LearningEvent {
	rule, _ := args["rule"].(string)
	category, _ := args["category"].(string)
	if category == "" {
		category = "general"
	}

	event := LearningEvent{
		Rule:      rule,
		Category:  category,
		Domain:    domain,
		CreatedAt: time.Now().Format(time.RFC3339),
		Status:    "learned",
	}
	added, err := l.rules.AddRule(domain, rule, category)
	if err != nil {
		log.Printf("[agent] learn_rule persist failed: %v", err)
		event.Status = "error"
		return event
	}
	if !added.Success {
		event.Status = added.Reason
	}
	return event
}

func buildInteractive(args map[string]any) *Interactive {
	question, _ := args["question"].(string)
	fieldName, _ := args["field_name"].(string)
	pendingTool, _ := args["pending_tool"].(string)

	var options []string
	if raw, ok := args["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}
	if len(options) > maxOptions {
		options = options[:maxOptions]
	}

	pendingArgs, _ := args["pending_args"].(map[string]any)
	if pendingArgs == nil {
		pendingArgs = map[string]any{}
	}

	return &Interactive{
		Question:       question,
		Options:        options,
		ActionIDPrefix: fmt.Sprintf("choice_%s_%s", pendingTool, fieldName),
		PendingAction: &session.PendingAction{
			Tool:      pendingTool,
			Args:      pendingArgs,
			FieldName: fieldName,
		},
	}
}

// spliceImages attaches image URLs to the most recent user message.
// With no user message in the transcript the images are dropped.
func spliceImages(msgs []ai.Message, imageURLs []string) []ai.Message {
	if len(imageURLs) == 0 {
		return msgs
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			msgs[i].ImageURLs = imageURLs
			return msgs
		}
	}
	return msgs
}

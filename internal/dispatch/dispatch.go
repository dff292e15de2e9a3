// Package dispatch ties the classifier, session store, agent loop and
// pending-action bridge into one request/response cycle.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/beyondworks/assistant/internal/agent"
	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/classify"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/domain"
	"github.com/beyondworks/assistant/internal/rules"
	"github.com/beyondworks/assistant/internal/session"
)

// historyWindow bounds how much prior conversation is replayed into
// the prompt per turn.
const historyWindow = 16

const noPendingResponse = "처리할 대기 작업이 없습니다."

// Request is one inbound turn. Domain may be a concrete domain name,
// "router" for classification, or "resolve_action" for a deferred
// choice coming back.
type Request struct {
	Domain       string   `json:"domain"`
	Message      string   `json:"message"`
	Mode         string   `json:"mode"`
	UserID       string   `json:"user_id"`
	ChannelID    string   `json:"channel_id"`
	Images       []string `json:"images,omitempty"`
	SessionTTL   int      `json:"session_ttl,omitempty"`
	SessionScope string   `json:"session_scope,omitempty"`
}

// Response is the turn outcome sent back to the channel.
type Response struct {
	Response       string                `json:"response,omitempty"`
	Domain         string                `json:"domain,omitempty"`
	Error          string                `json:"error,omitempty"`
	Interactive    *agent.Interactive    `json:"interactive,omitempty"`
	LearningEvents []agent.LearningEvent `json:"learning_events,omitempty"`
	HasReminder    *bool                 `json:"has_reminder,omitempty"`
}

// Dispatcher owns one full turn pipeline.
type Dispatcher struct {
	cfg        *config.Config
	classifier *classify.Classifier
	sessions   *session.Store
	rules      *rules.Store
	registry   *domain.Registry
	loop       *agent.Loop
}

func New(cfg *config.Config, classifier *classify.Classifier, sessions *session.Store, ruleStore *rules.Store, registry *domain.Registry, loop *agent.Loop) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		classifier: classifier,
		sessions:   sessions,
		rules:      ruleStore,
		registry:   registry,
		loop:       loop,
	}
}

// HandleTurn runs one inbound turn end to end.
func (d *Dispatcher) HandleTurn(ctx context.Context, req Request) Response {
	domainName := req.Domain
	if domainName == "" {
		domainName = "router"
	}
	mode := req.Mode
	if mode == "" {
		mode = "chat"
	}
	userID := req.UserID
	if userID == "" {
		userID = "default"
	}
	channelID := req.ChannelID
	if channelID == "" {
		channelID = "default"
	}
	ttl := req.SessionTTL
	if ttl <= 0 {
		ttl = d.cfg.Session.TTLMinutes
	}
	scope := req.SessionScope

	message := decodeB64(req.Message)

	if domainName == "resolve_action" {
		return d.ResolveAction(ctx, message, userID, channelID, ttl, scope)
	}

	if domainName == "router" {
		if message == "" {
			return Response{Error: "router 모드에는 메시지가 필요합니다"}
		}
		domainName = d.route(ctx, message, userID, channelID, ttl, scope)
	}

	var sess *session.Session
	if mode == "chat" && userID != "default" {
		sess = d.sessions.Get(userID, channelID, ttl, scope)
	}

	handler := d.registry.Get(domainName)
	if handler == nil {
		return Response{Error: fmt.Sprintf("Unknown domain: %s", domainName)}
	}

	var resp Response
	if mode == "chat" {
		if message == "" {
			return Response{Error: "메시지가 필요합니다", Domain: domainName}
		}
		resp = d.chatTurn(ctx, handler, sess, message, req.Images)
	} else {
		out, ok := handler.RunMode(ctx, mode)
		if !ok {
			return Response{Error: fmt.Sprintf("Unknown mode: %s", mode), Domain: domainName}
		}
		resp = Response{Response: out, Domain: domainName}
		if mode == "reminder" {
			has := out != ""
			resp.HasReminder = &has
		}
	}
	resp.Domain = domainName

	// A newly created pending action outlives the turn; stash it in the
	// session so the button click can resume it.
	if resp.Interactive != nil && resp.Interactive.PendingAction != nil && userID != "default" {
		if err := d.sessions.SetPendingAction(userID, channelID, resp.Interactive.PendingAction, ttl, scope); err != nil {
			log.Printf("[dispatch] pending action save failed: %v", err)
		}
	}

	if sess != nil && mode == "chat" && message != "" {
		if err := d.sessions.Update(userID, channelID, domainName, message, resp.Response, ttl, scope); err != nil {
			log.Printf("[dispatch] session update failed: %v", err)
		}
	}

	for i := range resp.LearningEvents {
		ev := &resp.LearningEvents[i]
		if ev.SourceMessage == "" {
			ev.SourceMessage = message
		}
		if ev.User == "" {
			ev.User = userID
		}
		if ev.Channel == "" {
			ev.Channel = channelID
		}
	}
	return resp
}

// route picks the domain for a router turn: schedule-named channels
// stick to schedule, a pending action sticks to its session's domain,
// anything else goes through the classifier.
func (d *Dispatcher) route(ctx context.Context, message, userID, channelID string, ttl int, scope string) string {
	if strings.Contains(strings.ToLower(channelID), "schedule") {
		return "schedule"
	}
	sess := d.sessions.Get(userID, channelID, ttl, scope)
	if sess.PendingAction != nil && sess.Domain != "" {
		return sess.Domain
	}
	return d.classifier.Classify(ctx, message)
}

func (d *Dispatcher) chatTurn(ctx context.Context, handler domain.Handler, sess *session.Session, message string, images []string) Response {
	// Deterministic shortcuts (monthly content briefings) answer
	// without entering the tool loop.
	if sc, ok := handler.(domain.ChatShortcut); ok {
		if out, ok := sc.TryShortcut(ctx, message); ok {
			return Response{Response: out}
		}
	}

	var history []ai.Message
	if sess != nil {
		msgs := sess.Messages
		if len(msgs) > historyWindow {
			msgs = msgs[len(msgs)-historyWindow:]
		}
		for _, m := range msgs {
			history = append(history, ai.Message{Role: m.Role, Content: m.Content})
		}
	}
	history = append(history, ai.Message{
		Role:    "user",
		Content: handler.ChatContext() + "\n\n## 사용자 요청\n" + message,
	})

	systemPrompt := handler.SystemPrompt()
	if learned, err := d.rules.RulesAsPrompt(handler.Name()); err != nil {
		log.Printf("[dispatch] rules prompt failed: %v", err)
	} else {
		systemPrompt += learned
	}

	force := false
	if tf, ok := handler.(domain.ToolForcer); ok {
		force = tf.ForceToolCall(message)
	}

	tools := append(handler.Tools(), agent.RequestUserChoiceTool, agent.LearnRuleTool)
	result := d.loop.Run(ctx, agent.Request{
		SystemPrompt:  systemPrompt,
		History:       history,
		Tools:         tools,
		Execute:       handler.Execute,
		Domain:        handler.Name(),
		ImageURLs:     images,
		MaxRounds:     d.cfg.AI.MaxToolRounds,
		ForceToolCall: force,
	})
	return Response{
		Response:       result.Response,
		Interactive:    result.Interactive,
		LearningEvents: result.LearningEvents,
	}
}

// ResolveAction completes a deferred choice: it pops the session's
// pending action, fills in the chosen value and runs the tool directly.
// No model call happens here.
func (d *Dispatcher) ResolveAction(ctx context.Context, chosenValue, userID, channelID string, ttl int, scope string) Response {
	pending, err := d.sessions.GetAndClearPendingAction(userID, channelID, ttl, scope)
	if err != nil {
		log.Printf("[dispatch] pending action read failed: %v", err)
	}
	if pending == nil {
		return Response{Response: noPendingResponse, Domain: "unknown"}
	}

	sess := d.sessions.Get(userID, channelID, ttl, scope)
	domainName := sess.Domain
	handler := d.registry.Get(domainName)
	if handler == nil {
		return Response{Response: fmt.Sprintf("알 수 없는 도메인 도구입니다: %s", domainName), Domain: domainName}
	}

	args := pending.Args
	if args == nil {
		args = map[string]any{}
	}
	args[pending.FieldName] = chosenValue

	out := handler.Execute(pending.Tool, args)
	if err := d.sessions.Update(userID, channelID, domainName, chosenValue, out, ttl, scope); err != nil {
		log.Printf("[dispatch] session update failed: %v", err)
	}
	return Response{Response: out, Domain: domainName}
}

func decodeB64(message string) string {
	if !strings.HasPrefix(message, "b64:") {
		return message
	}
	decoded, err := base64.StdEncoding.DecodeString(message[4:])
	if err != nil {
		return message
	}
	return string(decoded)
}

package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beyondworks/assistant/internal/agent"
	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/classify"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/domain"
	"github.com/beyondworks/assistant/internal/notion"
	"github.com/beyondworks/assistant/internal/rules"
	"github.com/beyondworks/assistant/internal/session"
)

type scriptedProvider struct {
	results []ai.ChatResult
	calls   int
	reqs    []ai.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req ai.ChatRequest) ai.ChatResult {
	p.reqs = append(p.reqs, req)
	idx := p.calls
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	p.calls++
	return p.results[idx]
}

func emptyNotion(t *testing.T) *notion.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/query") {
			fmt.Fprint(w, `{"results":[],"has_more":false}`)
			return
		}
		fmt.Fprint(w, `{"id":"page-1"}`)
	}))
	t.Cleanup(srv.Close)
	c := notion.NewClient("test-key")
	c.SetBaseURL(srv.URL)
	return c
}

func newDispatcher(t *testing.T, provider ai.Provider) (*Dispatcher, *session.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()

	sessRepo, err := session.NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewStore(sessRepo)

	ruleRepo, err := rules.NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	ruleStore := rules.NewStore(ruleRepo)

	registry := domain.NewRegistry(domain.Deps{
		Notion: emptyNotion(t),
		AI:     provider,
		Config: cfg,
	})
	classifier := classify.New(provider, cfg.DomainKeywords(), config.DefaultFallbackDomain)
	loop := agent.New(provider, ruleStore, cfg.AI.MaxTokens, float32(cfg.AI.Temperature))

	return New(cfg, classifier, sessions, ruleStore, registry, loop), sessions
}

func TestHandleTurn_SimpleChat(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "안녕하세요!"}}}
	d, sessions := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{
		Domain:    "schedule",
		Message:   "안녕",
		UserID:    "U1",
		ChannelID: "C1",
	})

	if resp.Error != "" {
		t.Fatalf("error = %q", resp.Error)
	}
	if resp.Response != "안녕하세요!" {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Domain != "schedule" {
		t.Errorf("domain = %q", resp.Domain)
	}

	sess := sessions.Get("U1", "C1", 30, "")
	if len(sess.Messages) != 2 {
		t.Fatalf("session messages = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Content != "안녕" || sess.Messages[1].Content != "안녕하세요!" {
		t.Errorf("session pair = %+v", sess.Messages)
	}
	if sess.Domain != "schedule" {
		t.Errorf("session domain = %q", sess.Domain)
	}
}

func TestHandleTurn_ContentBriefingShortcut(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "unused"}}}
	d, sessions := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{
		Domain:    "content",
		Message:   "이번 달 ai 탭 브리핑해줘",
		UserID:    "U1",
		ChannelID: "C1",
	})

	// No database configured for the AI tab, so the deterministic path
	// answers by itself and the tool loop never runs.
	if resp.Response != "AI 탭 데이터베이스 설정을 찾을 수 없습니다." {
		t.Errorf("response = %q", resp.Response)
	}
	if p.calls != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls)
	}
	sess := sessions.Get("U1", "C1", 30, "")
	if len(sess.Messages) != 2 {
		t.Errorf("session messages = %d, want 2", len(sess.Messages))
	}
}

func TestHandleTurn_ImperativeForcesToolChoice(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "네"}}}
	d, _ := newDispatcher(t, p)

	d.HandleTurn(context.Background(), Request{
		Domain:  "schedule",
		Message: "내일 2시에 회의 잡아줘",
	})
	if len(p.reqs) == 0 || p.reqs[0].ToolChoice != "required" {
		t.Fatalf("first round tool choice = %q, want required", p.reqs[0].ToolChoice)
	}

	p2 := &scriptedProvider{results: []ai.ChatResult{{Content: "네"}}}
	d2, _ := newDispatcher(t, p2)
	d2.HandleTurn(context.Background(), Request{
		Domain:  "schedule",
		Message: "다음 주에 뭐 있지?",
	})
	if p2.reqs[0].ToolChoice != "" {
		t.Errorf("question tool choice = %q, want empty", p2.reqs[0].ToolChoice)
	}
}

func TestHandleTurn_UnknownDomain(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "x"}}}
	d, _ := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{Domain: "weather", Message: "hi"})
	if resp.Error != "Unknown domain: weather" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestHandleTurn_RouterNeedsMessage(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "x"}}}
	d, _ := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{Domain: "router"})
	if resp.Error != "router 모드에는 메시지가 필요합니다" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestHandleTurn_ScheduleChannelOverride(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "ok"}}}
	d, _ := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{
		Domain:    "router",
		Message:   "블로그 글감 찾아줘", // would classify as content
		UserID:    "U1",
		ChannelID: "team-schedule",
	})
	if resp.Domain != "schedule" {
		t.Errorf("domain = %q, want schedule (channel override)", resp.Domain)
	}
}

func TestHandleTurn_PendingActionSticksToDomain(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "ok"}}}
	d, sessions := newDispatcher(t, p)

	if err := sessions.Update("U1", "C1", "finance", "지출 기록", "어느 계좌인가요?", 30, ""); err != nil {
		t.Fatal(err)
	}
	if err := sessions.SetPendingAction("U1", "C1", &session.PendingAction{
		Tool: "add_transaction", Args: map[string]any{"entry": "커피", "amount": 4500.0}, FieldName: "category",
	}, 30, ""); err != nil {
		t.Fatal(err)
	}

	resp := d.HandleTurn(context.Background(), Request{
		Domain:    "router",
		Message:   "일정 잡아줘", // keywords point at schedule, pending action wins
		UserID:    "U1",
		ChannelID: "C1",
	})
	if resp.Domain != "finance" {
		t.Errorf("domain = %q, want finance", resp.Domain)
	}
}

func TestHandleTurn_Base64Message(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "ok"}}}
	d, sessions := newDispatcher(t, p)

	encoded := "b64:" + base64.StdEncoding.EncodeToString([]byte("내일 일정 알려줘"))
	resp := d.HandleTurn(context.Background(), Request{
		Domain: "schedule", Message: encoded, UserID: "U1", ChannelID: "C1",
	})
	if resp.Error != "" {
		t.Fatalf("error = %q", resp.Error)
	}
	sess := sessions.Get("U1", "C1", 30, "")
	if sess.Messages[0].Content != "내일 일정 알려줘" {
		t.Errorf("stored message = %q, want decoded text", sess.Messages[0].Content)
	}
}

func TestHandleTurn_DeferredChoicePersistsPendingAction(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{
		ToolCalls: []ai.ToolCall{{
			ID:   "tc1",
			Name: agent.ToolRequestUserChoice,
			Arguments: map[string]any{
				"question":     "언제로 할까요?",
				"options":      []any{"오늘", "내일"},
				"field_name":   "date",
				"pending_tool": "add_schedule",
				"pending_args": map[string]any{"title": "회의"},
			},
		}},
	}}}
	d, sessions := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{
		Domain: "schedule", Message: "회의 추가해줘", UserID: "U1", ChannelID: "C1",
	})
	if resp.Interactive == nil {
		t.Fatal("expected interactive result")
	}

	sess := sessions.Get("U1", "C1", 30, "")
	if sess.PendingAction == nil {
		t.Fatal("pending action not persisted")
	}
	if sess.PendingAction.Tool != "add_schedule" || sess.PendingAction.FieldName != "date" {
		t.Errorf("pending action = %+v", sess.PendingAction)
	}
}

func TestResolveAction_NoPending(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "x"}}}
	d, sessions := newDispatcher(t, p)

	before, _ := json.Marshal(sessions.Get("U1", "C1", 30, ""))
	resp := d.HandleTurn(context.Background(), Request{
		Domain: "resolve_action", Message: "내일", UserID: "U1", ChannelID: "C1",
	})
	if resp.Response != "처리할 대기 작업이 없습니다." {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Domain != "unknown" {
		t.Errorf("domain = %q", resp.Domain)
	}
	after, _ := json.Marshal(sessions.Get("U1", "C1", 30, ""))
	if string(before) != string(after) {
		t.Error("session mutated by a no-op resolve")
	}
	if p.calls != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls)
	}
}

func TestResolveAction_ExecutesToolDirectly(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "never"}}}
	d, sessions := newDispatcher(t, p)

	if err := sessions.Update("U1", "C1", "schedule", "회의 추가해줘", "언제로 할까요?", 30, ""); err != nil {
		t.Fatal(err)
	}
	if err := sessions.SetPendingAction("U1", "C1", &session.PendingAction{
		Tool: "add_schedule", Args: map[string]any{"title": "회의"}, FieldName: "date",
	}, 30, ""); err != nil {
		t.Fatal(err)
	}

	resp := d.HandleTurn(context.Background(), Request{
		Domain: "resolve_action", Message: "2026-09-03", UserID: "U1", ChannelID: "C1",
	})
	if resp.Domain != "schedule" {
		t.Errorf("domain = %q", resp.Domain)
	}
	if !strings.Contains(resp.Response, "✅ 일정 추가 완료!") {
		t.Errorf("response = %q", resp.Response)
	}
	if p.calls != 0 {
		t.Error("resolve must not invoke the model")
	}

	// Pending slot consumed; exchange appended.
	pending, _ := sessions.GetAndClearPendingAction("U1", "C1", 30, "")
	if pending != nil {
		t.Error("pending action should be consumed")
	}
	sess := sessions.Get("U1", "C1", 30, "")
	if len(sess.Messages) != 4 {
		t.Errorf("session messages = %d, want 4", len(sess.Messages))
	}
}

func TestHandleTurn_LearningEventsAnnotated(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{
		ToolCalls: []ai.ToolCall{{
			ID: "tc1", Name: agent.ToolLearnRule,
			Arguments: map[string]any{"rule": "회의는 오후에", "category": "preference"},
		}},
	}}}
	d, _ := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{
		Domain: "schedule", Message: "앞으로 회의는 오후에 잡아줘", UserID: "U1", ChannelID: "C1",
	})
	if len(resp.LearningEvents) != 1 {
		t.Fatalf("events = %d", len(resp.LearningEvents))
	}
	ev := resp.LearningEvents[0]
	if ev.SourceMessage != "앞으로 회의는 오후에 잡아줘" || ev.User != "U1" || ev.Channel != "C1" {
		t.Errorf("event annotation = %+v", ev)
	}
}

func TestHandleTurn_ReminderMode(t *testing.T) {
	p := &scriptedProvider{results: []ai.ChatResult{{Content: "x"}}}
	d, _ := newDispatcher(t, p)

	resp := d.HandleTurn(context.Background(), Request{Domain: "schedule", Mode: "reminder"})
	if resp.Error != "" {
		t.Fatalf("error = %q", resp.Error)
	}
	if resp.HasReminder == nil || *resp.HasReminder {
		t.Errorf("has_reminder = %v, want false with no events", resp.HasReminder)
	}
}

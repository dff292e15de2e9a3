package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/notion"
)

// fakeNotion serves canned query results per database ID and records
// page writes.
type fakeNotion struct {
	srv     *httptest.Server
	queries map[string][]map[string]any // dbID -> pages
	created []map[string]any
	updated []map[string]any
}

func newFakeNotion(t *testing.T) *fakeNotion {
	t.Helper()
	f := &fakeNotion{queries: map[string][]map[string]any{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/databases/") && strings.HasSuffix(r.URL.Path, "/query"):
			dbID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/databases/"), "/query")
			pages := f.queries[dbID]
			if pages == nil {
				pages = []map[string]any{}
			}
			json.NewEncoder(w).Encode(map[string]any{"results": pages, "has_more": false})
		case r.URL.Path == "/pages" && r.Method == http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.created = append(f.created, body)
			fmt.Fprint(w, `{"id":"new-page"}`)
		case strings.HasPrefix(r.URL.Path, "/pages/") && r.Method == http.MethodPatch:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			body["_page_id"] = strings.TrimPrefix(r.URL.Path, "/pages/")
			f.updated = append(f.updated, body)
			fmt.Fprint(w, `{"id":"updated"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"not found"}`)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNotion) client() *notion.Client {
	c := notion.NewClient("test-key")
	c.SetBaseURL(f.srv.URL)
	return c
}

// page builds a Notion page envelope with a title and date property.
func page(title, dateStart string, completed bool) map[string]any {
	return map[string]any{
		"id": "page-" + title,
		"properties": map[string]any{
			"Entry name": map[string]any{
				"type":  "title",
				"title": []any{map[string]any{"plain_text": title}},
			},
			"Date": map[string]any{
				"type": "date",
				"date": map[string]any{"start": dateStart},
			},
			"Completed": map[string]any{"type": "checkbox", "checkbox": completed},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Domains["schedule"] = config.DomainConfig{
		Databases:  map[string]string{"tasks": "db-tasks"},
		RelationID: "rel-schedule",
	}
	cfg.Domains["finance"] = config.DomainConfig{
		Databases: map[string]string{
			"accounts": "db-accounts", "timeline": "db-timeline", "categories": "db-categories",
		},
	}
	cfg.Domains["tools"] = config.DomainConfig{
		Databases: map[string]string{"subscribe": "db-subscribe", "work_tool": "db-worktool"},
	}
	cfg.Domains["travel"] = config.DomainConfig{
		Databases: map[string]string{"trips": "db-trips", "packing": "db-packing"},
	}
	return cfg
}

type noopProvider struct{}

func (noopProvider) Chat(ctx context.Context, req ai.ChatRequest) ai.ChatResult {
	return ai.ChatResult{Content: "브리핑입니다"}
}

func TestRegistry(t *testing.T) {
	fake := newFakeNotion(t)
	reg := NewRegistry(Deps{Notion: fake.client(), AI: noopProvider{}, Config: testConfig()})

	for _, name := range []string{"schedule", "finance", "content", "travel", "tools", "business"} {
		h := reg.Get(name)
		if h == nil {
			t.Fatalf("no handler for %q", name)
		}
		if h.Name() != name {
			t.Errorf("handler name = %q, want %q", h.Name(), name)
		}
		if h.SystemPrompt() == "" {
			t.Errorf("%s has empty system prompt", name)
		}
	}
	if reg.Get("nope") != nil {
		t.Error("unknown domain must resolve to nil")
	}
}

func TestScheduleAdd(t *testing.T) {
	fake := newFakeNotion(t)
	s := NewSchedule(Deps{Notion: fake.client(), Config: testConfig()})

	out := s.Execute("add_schedule", map[string]any{
		"title":    "팀 회의",
		"date":     "2026-09-02",
		"time":     "14:00",
		"location": "본사",
	})
	if !strings.Contains(out, "✅ 일정 추가 완료!") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "장소: 본사") {
		t.Errorf("output missing location: %q", out)
	}
	if len(fake.created) != 1 {
		t.Fatalf("created pages = %d", len(fake.created))
	}
	props := fake.created[0]["properties"].(map[string]any)
	date := props["Date"].(map[string]any)["date"].(map[string]any)
	if date["start"] != "2026-09-02T14:00:00+09:00" {
		t.Errorf("date start = %v, want KST timestamp", date["start"])
	}
	rel := props["Relation"].(map[string]any)["relation"].([]any)
	if rel[0].(map[string]any)["id"] != "rel-schedule" {
		t.Errorf("relation = %v", rel)
	}
}

func TestScheduleUnknownTool(t *testing.T) {
	fake := newFakeNotion(t)
	s := NewSchedule(Deps{Notion: fake.client(), Config: testConfig()})
	if out := s.Execute("no_such_tool", nil); out != "알 수 없는 도구" {
		t.Errorf("output = %q", out)
	}
}

func TestScheduleForceToolCall(t *testing.T) {
	s := NewSchedule(Deps{Config: testConfig()})
	cases := []struct {
		in   string
		want bool
	}{
		{"내일 2시에 회의 잡아줘", true},
		{"이거 일정에 추가해", true},
		{"금요일 약속 지워줘", true},
		{"다음 주에 뭐 있어?", false},
		{"고마워", false},
	}
	for _, tc := range cases {
		if got := s.ForceToolCall(tc.in); got != tc.want {
			t.Errorf("ForceToolCall(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestScheduleReminderWindows(t *testing.T) {
	fake := newFakeNotion(t)
	now := time.Date(2026, 9, 2, 13, 0, 0, 0, kst)
	fake.queries["db-tasks"] = []map[string]any{
		page("한시간 뒤 회의", "2026-09-02T14:00:00+09:00", false),
		page("삼십분 뒤 콜", "2026-09-02T13:30:00+09:00", false),
		page("먼 회의", "2026-09-02T18:00:00+09:00", false),
		page("끝난 회의", "2026-09-02T14:00:00+09:00", true),
		page("시간 없는 일정", "2026-09-02", false),
	}

	s := NewSchedule(Deps{Notion: fake.client(), Config: testConfig()})
	s.now = func() time.Time { return now }

	out, ok := s.RunMode(context.Background(), "reminder")
	if !ok {
		t.Fatal("reminder mode not handled")
	}
	if !strings.Contains(out, "1시간 전: 한시간 뒤 회의 (14:00)") {
		t.Errorf("missing 1-hour reminder: %q", out)
	}
	if !strings.Contains(out, "30분 전: 삼십분 뒤 콜 (13:30)") {
		t.Errorf("missing 30-minute reminder: %q", out)
	}
	if strings.Contains(out, "먼 회의") || strings.Contains(out, "끝난 회의") {
		t.Errorf("unexpected reminder entries: %q", out)
	}
}

func TestFinanceWeeklyExpense(t *testing.T) {
	fake := newFakeNotion(t)
	fake.queries["db-timeline"] = []map[string]any{
		{"id": "t1", "properties": map[string]any{
			"Entry":  map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": "점심"}}},
			"Amount": map[string]any{"type": "number", "number": 12000.0},
		}},
		{"id": "t2", "properties": map[string]any{
			"Entry":  map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": "택시"}}},
			"Amount": map[string]any{"type": "number", "number": 8500.0},
		}},
	}

	f := NewFinance(Deps{Notion: fake.client(), Config: testConfig()})
	out, ok := f.RunMode(context.Background(), "weekly_expense")
	if !ok {
		t.Fatal("weekly_expense not handled")
	}
	if out != "📊 이번 주 지출: 20,500원 (2건)" {
		t.Errorf("output = %q", out)
	}
}

func TestFinanceAddTransaction(t *testing.T) {
	fake := newFakeNotion(t)
	f := NewFinance(Deps{Notion: fake.client(), Config: testConfig()})

	out := f.Execute("add_transaction", map[string]any{
		"entry": "커피", "amount": 4500.0, "category": "식비",
	})
	if out != "✅ 거래 기록 완료! 커피 4,500원" {
		t.Errorf("output = %q", out)
	}
	props := fake.created[0]["properties"].(map[string]any)
	if _, ok := props["\x08Date"]; !ok {
		t.Error("timeline date property name must be sent verbatim")
	}
	if props["Category"].(map[string]any)["select"].(map[string]any)["name"] != "식비" {
		t.Error("category select missing")
	}
}

func TestToolsSubscriptionCost(t *testing.T) {
	fake := newFakeNotion(t)
	sub := func(name string, fee float64, status string) map[string]any {
		return map[string]any{"id": "s-" + name, "properties": map[string]any{
			"Entry name":  map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": name}}},
			"Monthly Fee": map[string]any{"type": "number", "number": fee},
			"Status":      map[string]any{"type": "select", "select": map[string]any{"name": status}},
		}}
	}
	fake.queries["db-subscribe"] = []map[string]any{
		sub("Figma", 18000, "active"),
		sub("Old SaaS", 9900, "cancelled"),
		sub("Notion", 12000, "active"),
	}

	h := NewTools(Deps{Notion: fake.client(), Config: testConfig()})
	out := h.Execute("get_subscription_cost", map[string]any{})
	if !strings.Contains(out, "활성 구독: 2개") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "월간 합계: 30,000원") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "연간 추정: 360,000원") {
		t.Errorf("output = %q", out)
	}
}

func TestTravelDday(t *testing.T) {
	fake := newFakeNotion(t)
	tr := NewTravel(Deps{Notion: fake.client(), Config: testConfig()})
	tr.now = func() time.Time { return time.Date(2026, 9, 1, 9, 0, 0, 0, kst) }

	if got := tr.dday("2026-09-08"); got != "D-7" {
		t.Errorf("dday = %q, want D-7", got)
	}
	if got := tr.dday("2026-09-01"); got != "D-Day!" {
		t.Errorf("dday = %q, want D-Day!", got)
	}
	if got := tr.dday("2026-08-29"); got != "D+3" {
		t.Errorf("dday = %q, want D+3", got)
	}
}

func TestWon(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0원"},
		{950, "950원"},
		{12000, "12,000원"},
		{1234567, "1,234,567원"},
		{-8500, "-8,500원"},
	}
	for _, tc := range cases {
		if got := won(tc.in); got != tc.want {
			t.Errorf("won(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

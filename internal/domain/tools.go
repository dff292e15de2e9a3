package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
)

const toolsSystemPrompt = `당신은 도구/리소스 관리 비서입니다. 업무 도구, 구독 서비스, API 키를 관리합니다.

## 역할
- 도구 검색 (카테고리별: AI, Design, Build, Marketing, Source)
- 구독 서비스 현황 및 비용 조회
- API 키/계정 정보 조회
- 결제일 알림

## 응답 스타일
- 한국어, 간결하게` + plainTextRule

var toolCategoryDBs = map[string]string{
	"ai": "tool_ai", "design": "tool_design", "build": "tool_build",
	"marketing": "tool_marketing", "source": "tool_source",
	"account": "tool_account", "work": "work_tool",
}

// Tools manages the work-tool, subscription and API archive databases.
type Tools struct {
	deps Deps
	now  func() time.Time
}

func NewTools(deps Deps) *Tools {
	return &Tools{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (h *Tools) Name() string         { return "tools" }
func (h *Tools) SystemPrompt() string { return toolsSystemPrompt }

func (h *Tools) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "search_tools",
			Description: "카테고리/키워드로 도구 검색",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "ai, design, build, marketing, source, work 중 택1"},
					"keyword":  map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "get_subscriptions",
			Description: "구독 서비스 목록 및 결제일 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string", "description": "서비스명 키워드"},
				},
			},
		},
		{
			Name:        "get_subscription_cost",
			Description: "월간/연간 구독 비용 합계",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "get_api_keys",
			Description: "API 키/계정 정보 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string", "description": "서비스명 키워드"},
				},
			},
		},
	}
}

func (h *Tools) db(key string) string {
	return h.deps.Config.Domain("tools").Databases[key]
}

func (h *Tools) queryByEntry(dbKey, keyword string, sorts []map[string]any, pageSize int) []map[string]any {
	var filter any
	if keyword != "" {
		filter = map[string]any{"property": "Entry name", "title": map[string]any{"contains": keyword}}
	}
	return queryParsed(h.deps.Notion, h.db(dbKey), filter, sorts, pageSize)
}

func (h *Tools) querySubscriptions(keyword string) []map[string]any {
	return h.queryByEntry("subscribe", keyword,
		[]map[string]any{{"property": "Entry name", "direction": "ascending"}}, 50)
}

func (h *Tools) ChatContext() string {
	return fmt.Sprintf("## 주요 업무 도구\n%s\n## 구독 현황\n%s",
		jsonBlock(h.queryByEntry("work_tool", "", nil, 5), 5),
		jsonBlock(h.querySubscriptions(""), 10))
}

func (h *Tools) Execute(name string, args map[string]any) string {
	switch name {
	case "search_tools":
		category := strings.ToLower(strField(args, "category"))
		keyword := strField(args, "keyword")
		var results []map[string]any
		if dbKey, ok := toolCategoryDBs[category]; ok {
			results = h.queryByEntry(dbKey, keyword, nil, 15)
		} else if keyword != "" {
			for _, dbKey := range []string{"work_tool", "tool_ai", "tool_design", "tool_build", "tool_marketing"} {
				results = append(results, h.queryByEntry(dbKey, keyword, nil, 5)...)
			}
		} else {
			results = h.queryByEntry("work_tool", "", nil, 10)
		}
		if len(results) == 0 {
			return "도구를 찾을 수 없습니다."
		}
		lines := []string{fmt.Sprintf("도구 검색 결과 (%d건):", len(results))}
		for _, t := range limit(results, 15) {
			line := "- " + strField(t, "Entry name", "Name", "이름")
			if desc := strField(t, "Description", "설명"); desc != "" {
				line += ": " + truncateRunes(desc, 50)
			}
			for i, tag := range tagList(t["Tags"]) {
				if i == 3 {
					break
				}
				line += " #" + tag
			}
			if url := strField(t, "URL"); url != "" {
				line += " (" + url + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "get_subscriptions":
		subs := h.querySubscriptions(strField(args, "keyword"))
		if len(subs) == 0 {
			return "구독 서비스 정보가 없습니다."
		}
		lines := []string{fmt.Sprintf("구독 서비스 (%d건):", len(subs))}
		for _, s := range subs {
			line := "- " + strField(s, "Entry name", "Name")
			if plan := strField(s, "Plan", "플랜"); plan != "" {
				line += " [" + plan + "]"
			}
			if cost := numField(s, "Monthly Fee", "Cost", "비용"); cost != 0 {
				line += " " + won(cost) + "/월"
			}
			if pay := paymentDate(s); pay != "" {
				line += " (결제일: " + pay + ")"
			}
			if status := strField(s, "Status", "상태"); status != "" {
				line += " (" + status + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "get_subscription_cost":
		subs := h.querySubscriptions("")
		if len(subs) == 0 {
			return "구독 정보가 없습니다."
		}
		var monthlyTotal float64
		activeCount := 0
		for _, s := range subs {
			status := strings.ToLower(strField(s, "Status", "상태"))
			if status == "cancelled" || status == "해지" || status == "중지" {
				continue
			}
			monthlyTotal += numField(s, "Monthly Fee", "Cost", "비용")
			activeCount++
		}
		return strings.Join([]string{
			"구독 비용 현황:",
			fmt.Sprintf("- 활성 구독: %d개", activeCount),
			"- 월간 합계: " + won(monthlyTotal),
			"- 연간 추정: " + won(monthlyTotal*12),
		}, "\n")

	case "get_api_keys":
		apis := h.queryByEntry("api_archive", strField(args, "keyword"), nil, 20)
		if len(apis) == 0 {
			return "API 정보가 없습니다."
		}
		lines := []string{fmt.Sprintf("API/계정 정보 (%d건):", len(apis))}
		for _, a := range apis {
			line := "- " + strField(a, "Entry name", "Name")
			if key := strField(a, "API Key", "Key"); key != "" {
				masked := key
				if len(key) > 8 {
					masked = key[:8] + "..."
				}
				line += " (Key: " + masked + ")"
			}
			if status := strField(a, "Status"); status != "" {
				line += " [" + status + "]"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
	return unknownTool
}

// RunMode serves the subscription payment reminder sweep. Empty output
// means nothing is due.
func (h *Tools) RunMode(ctx context.Context, mode string) (string, bool) {
	if mode != "payment_reminder" {
		return "", false
	}
	today := h.now()
	var reminders []string
	for _, s := range h.querySubscriptions("") {
		name := strField(s, "Entry name", "Name")
		cost := numField(s, "Monthly Fee", "Cost", "비용")
		switch pay := s["Payment Date"].(type) {
		case string:
			if len(pay) < 10 {
				continue
			}
			payDate, err := time.ParseInLocation("2006-01-02", pay[:10], kst)
			if err != nil {
				continue
			}
			diff := calendarDays(today, payDate)
			if diff >= 0 && diff <= 3 {
				reminders = append(reminders, fmt.Sprintf("%s 결제일 D-%d (%s) %s", name, diff, pay, won(cost)))
			}
		case float64:
			day := int(pay)
			if today.Day() <= day && day <= today.Day()+3 {
				reminders = append(reminders, fmt.Sprintf("%s 매월 %d일 결제 %s", name, day, won(cost)))
			}
		}
	}
	if len(reminders) == 0 {
		return "", true
	}
	return "결제일 알림:\n" + strings.Join(reminders, "\n"), true
}

func paymentDate(item map[string]any) string {
	switch pay := item["Payment Date"].(type) {
	case string:
		return pay
	case float64:
		return fmt.Sprintf("%.0f", pay)
	}
	return strField(item, "결제일")
}

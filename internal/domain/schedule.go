package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/notion"
)

// kst is the timezone every schedule date/time is interpreted in.
var kst = time.FixedZone("KST", 9*60*60)

var weekdaysKo = []string{"일", "월", "화", "수", "목", "금", "토"}

const scheduleSystemPrompt = `당신은 일정 관리 비서입니다. 일정 추가/수정/삭제/조회를 처리합니다.

## 🚨 규칙 1: 명령형 요청은 반드시 도구 호출
- "추가해줘", "잡아줘", "등록해줘", "수정해", "삭제해", "지워줘" → 반드시 해당 도구 호출
- 도구 호출 없이 "추가했습니다"라고 응답하는 것은 금지

**올바른 흐름**:
1. 명령형 요청 감지
2. 필수 정보 확인 (날짜, 시간 등)
3. 정보 부족하면 request_user_choice로 선택지 제시
4. 정보 충분하면 즉시 add_schedule/update_schedule/delete_schedule 호출
5. 도구 결과 확인 후 응답

## 🚨 규칙 2: 응답 전 도구 실행 결과 확인
- 도구 결과에 "✅"가 있을 때만 "완료했습니다"라고 응답
- 도구 결과에 "❌"가 있으면 "실패했습니다"라고 솔직히 응답
- 도구를 호출하지 않았다면 "~했습니다" 표현 절대 금지

## 🚨 규칙 3: 할루시네이션 절대 금지
- 이전 대화 내용을 실제 실행한 것처럼 말하지 마세요
- "이미 ~했습니다"는 search_schedule 도구로 DB에서 확인한 경우에만 사용

## 질문 vs 요청 구분
- "~가능해?", "~있어?", "~알려줘" → search_schedule, query_schedule_by_range로 조회만
- "~해줘", "~추가해", "~잡아줘", "~만들어줘" → 반드시 add_schedule, update_schedule 등 실행 도구 호출

## 중요: 시간대 (Timezone)
- 모든 시간은 한국 시간(KST, UTC+9) 기준입니다.
- 컨텍스트에 표시된 current_time은 KST입니다.
- 절대로 UTC 변환하지 마세요. 사용자가 말한 시간을 그대로 HH:MM으로 전달하세요.
- 예: "오전 10시" → time: "10:00", "오후 3시" → time: "15:00"

## 누락 정보 처리
- 일정 추가 시 날짜나 시간이 누락되면, request_user_choice 도구를 사용하여 선택지를 제시하세요.

## 응답 스타일
- 한국어, 친근하게` + plainTextRule

// Schedule manages the tasks database.
type Schedule struct {
	deps Deps
	now  func() time.Time
}

func NewSchedule(deps Deps) *Schedule {
	return &Schedule{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (s *Schedule) Name() string         { return "schedule" }
func (s *Schedule) SystemPrompt() string { return scheduleSystemPrompt }

// commandWords mark imperative requests that must end in a tool call.
var commandWords = []string{"해줘", "추가해", "만들어줘", "기입해줘", "잡아줘", "등록해줘", "수정해", "삭제해", "지워줘"}

func (s *Schedule) ForceToolCall(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range commandWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (s *Schedule) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "add_schedule",
			Description: "새 일정 추가 (명령형일 때만)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"date":     map[string]any{"type": "string", "description": "YYYY-MM-DD"},
					"time":     map[string]any{"type": "string", "description": "HH:MM"},
					"location": map[string]any{"type": "string"},
					"members":  map[string]any{"type": "string"},
					"notes":    map[string]any{"type": "string"},
				},
				"required": []string{"title", "date"},
			},
		},
		{
			Name:        "update_schedule",
			Description: "일정 수정",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page_id":  map[string]any{"type": "string"},
					"title":    map[string]any{"type": "string"},
					"date":     map[string]any{"type": "string"},
					"time":     map[string]any{"type": "string"},
					"done":     map[string]any{"type": "boolean"},
					"notes":    map[string]any{"type": "string"},
					"location": map[string]any{"type": "string"},
				},
				"required": []string{"page_id"},
			},
		},
		{
			Name:        "delete_schedule",
			Description: "일정 삭제",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page_id": map[string]any{"type": "string"},
				},
				"required": []string{"page_id"},
			},
		},
		{
			Name:        "search_schedule",
			Description: "키워드로 일정 검색",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string"},
				},
				"required": []string{"keyword"},
			},
		},
		{
			Name:        "query_schedule_by_range",
			Description: "특정 날짜 범위의 일정 조회. '지난 3일', '2월 3일~5일', '저번주' 등 과거/미래 일정을 조회할 때 사용.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_date": map[string]any{"type": "string", "description": "시작일 YYYY-MM-DD"},
					"end_date":   map[string]any{"type": "string", "description": "종료일 YYYY-MM-DD"},
				},
				"required": []string{"start_date", "end_date"},
			},
		},
	}
}

func (s *Schedule) db() string {
	return s.deps.Config.Domain("schedule").Databases["tasks"]
}

func (s *Schedule) queryByDate(date string) []map[string]any {
	return queryParsed(s.deps.Notion, s.db(),
		map[string]any{"property": "Date", "date": map[string]any{"equals": date}},
		[]map[string]any{{"property": "Date", "direction": "ascending"}}, 100)
}

func (s *Schedule) queryByRange(start, end string) []map[string]any {
	return queryParsed(s.deps.Notion, s.db(),
		map[string]any{"and": []any{
			map[string]any{"property": "Date", "date": map[string]any{"on_or_after": start}},
			map[string]any{"property": "Date", "date": map[string]any{"on_or_before": end}},
		}},
		[]map[string]any{{"property": "Date", "direction": "ascending"}}, 100)
}

func (s *Schedule) queryIncomplete() []map[string]any {
	return queryParsed(s.deps.Notion, s.db(),
		map[string]any{"property": "Completed", "checkbox": map[string]any{"equals": false}},
		[]map[string]any{{"property": "Date", "direction": "ascending"}}, 100)
}

func (s *Schedule) search(keyword string) []map[string]any {
	return queryParsed(s.deps.Notion, s.db(),
		map[string]any{"property": "Entry name", "title": map[string]any{"contains": keyword}},
		[]map[string]any{{"property": "Date", "direction": "descending"}}, 100)
}

func (s *Schedule) ChatContext() string {
	now := s.now()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	weekEnd := now.AddDate(0, 0, daysToSunday(now)).Format("2006-01-02")

	return fmt.Sprintf(`## 현재 %s KST (%s요일) — 모든 시간은 한국 시간(KST) 기준
## 날짜: 어제=%s 오늘=%s 내일=%s
## 오늘 일정
%s
## 내일 일정
%s
## 이번 주 남은 일정
%s
## 미완료
%s`,
		now.Format("2006-01-02 15:04"), weekdaysKo[now.Weekday()],
		yesterday, today, tomorrow,
		jsonBlock(s.queryByDate(today), 10),
		jsonBlock(s.queryByDate(tomorrow), 10),
		jsonBlock(s.queryByRange(today, weekEnd), 15),
		jsonBlock(s.queryIncomplete(), 10))
}

func (s *Schedule) Execute(name string, args map[string]any) string {
	switch name {
	case "add_schedule":
		return s.addSchedule(args)
	case "update_schedule":
		return s.updateSchedule(args)
	case "delete_schedule":
		pageID, _ := args["page_id"].(string)
		r := s.deps.Notion.ArchivePage(pageID)
		if r.Success {
			return "✅ 삭제 완료!"
		}
		return "❌ 삭제 실패: " + orDefault(r.Error, "알 수 없는 오류")
	case "search_schedule":
		return s.searchTool(args)
	case "query_schedule_by_range":
		return s.rangeTool(args)
	}
	return unknownTool
}

func (s *Schedule) addSchedule(args map[string]any) string {
	title, _ := args["title"].(string)
	date, _ := args["date"].(string)
	timeStr, _ := args["time"].(string)

	props := map[string]any{
		"Entry name": notion.TitleProp(title),
		"Date":       notion.DateProp(kstDateValue(date, timeStr)),
		"Completed":  notion.CheckboxProp(false),
	}
	if relID := s.deps.Config.Domain("schedule").RelationID; relID != "" {
		props["Relation"] = notion.RelationProp(relID)
	}
	if notes, _ := args["notes"].(string); notes != "" {
		props["Notes"] = notion.RichTextProp(notes)
	}
	if loc, _ := args["location"].(string); loc != "" {
		props["Location (Entry)"] = notion.RichTextProp(loc)
	}
	if members, _ := args["members"].(string); members != "" {
		props["Members"] = notion.RichTextProp(members)
	}

	r := s.deps.Notion.CreatePage(s.db(), props)
	if !r.Success {
		return "❌ 추가 실패: " + orDefault(r.Error, "알 수 없는 오류")
	}
	parts := []string{"✅ 일정 추가 완료! " + date}
	if timeStr != "" {
		parts = append(parts, timeStr)
	}
	parts = append(parts, title)
	if loc, _ := args["location"].(string); loc != "" {
		parts = append(parts, "장소: "+loc)
	}
	return strings.Join(parts, "\n")
}

func (s *Schedule) updateSchedule(args map[string]any) string {
	pageID, _ := args["page_id"].(string)
	props := map[string]any{}
	if title, ok := args["title"].(string); ok {
		props["Entry name"] = notion.TitleProp(title)
	}
	if date, ok := args["date"].(string); ok {
		timeStr, _ := args["time"].(string)
		props["Date"] = notion.DateProp(kstDateValue(date, timeStr))
	}
	if done, ok := args["done"].(bool); ok {
		props["Completed"] = notion.CheckboxProp(done)
	}
	if notes, ok := args["notes"].(string); ok {
		props["Notes"] = notion.RichTextProp(notes)
	}
	if loc, ok := args["location"].(string); ok {
		props["Location (Entry)"] = notion.RichTextProp(loc)
	}
	r := s.deps.Notion.UpdatePage(pageID, props)
	if r.Success {
		return "✅ 수정 완료!"
	}
	return "❌ 수정 실패: " + orDefault(r.Error, "알 수 없는 오류")
}

func (s *Schedule) searchTool(args map[string]any) string {
	keyword, _ := args["keyword"].(string)
	results := s.search(keyword)
	if len(results) == 0 {
		return fmt.Sprintf("'%s' 관련 일정을 찾지 못했어요.", keyword)
	}
	lines := []string{fmt.Sprintf("'%s' 검색 결과:", keyword)}
	for _, item := range limit(results, 10) {
		lines = append(lines, fmt.Sprintf("- %s (%s)", strField(item, "Entry name"), dateStart(item["Date"])))
	}
	return strings.Join(lines, "\n")
}

func (s *Schedule) rangeTool(args map[string]any) string {
	start, _ := args["start_date"].(string)
	end, _ := args["end_date"].(string)
	results := s.queryByRange(start, end)
	if len(results) == 0 {
		return fmt.Sprintf("%s ~ %s 기간에 일정이 없습니다.", start, end)
	}
	lines := []string{fmt.Sprintf("%s ~ %s 일정:", start, end)}
	for _, item := range limit(results, 20) {
		line := fmt.Sprintf("- [%s] %s", dateStart(item["Date"]), strField(item, "Entry name"))
		if boolField(item, "Completed") {
			line += " (완료)"
		}
		if notes := strField(item, "Notes"); notes != "" {
			line += " | 메모: " + truncateRunes(notes, 50)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// RunMode serves the scheduled daily/weekly briefings and the
// meeting-time reminder sweep.
func (s *Schedule) RunMode(ctx context.Context, mode string) (string, bool) {
	switch mode {
	case "daily_briefing":
		now := s.now()
		today := now.Format("2006-01-02")
		yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
		content := fmt.Sprintf("오늘: %s\n어제 일정: %s\n오늘 일정: %s\n미완료: %s",
			today, jsonBlock(s.queryByDate(yesterday), 0),
			jsonBlock(s.queryByDate(today), 0),
			jsonBlock(s.queryIncomplete(), 5))
		return singleShot(ctx, s.deps.AI,
			"매일 아침 브리핑: 어제 완료, 오늘 할 일, 미완료 항목 정리. 이모지 사용. 한국어.",
			content, 800, 0.5), true
	case "weekly_briefing":
		now := s.now()
		today := now.Format("2006-01-02")
		weekEnd := now.AddDate(0, 0, daysToSunday(now))
		nextWeekStart := weekEnd.AddDate(0, 0, 1)
		nextWeekEnd := nextWeekStart.AddDate(0, 0, 6)
		content := fmt.Sprintf("이번 주: %s\n다음 주: %s\n미완료: %s",
			jsonBlock(s.queryByRange(today, weekEnd.Format("2006-01-02")), 0),
			jsonBlock(s.queryByRange(nextWeekStart.Format("2006-01-02"), nextWeekEnd.Format("2006-01-02")), 0),
			jsonBlock(s.queryIncomplete(), 10))
		return singleShot(ctx, s.deps.AI,
			"주간 브리핑: 이번 주 일정 요약, 미완료 항목, 주의사항. 이모지 사용. 한국어.",
			content, 800, 0.5), true
	case "reminder":
		return s.reminder(), true
	}
	return "", false
}

// reminder flags today's incomplete timed entries that start in about
// one hour, 30 minutes or 10 minutes.
func (s *Schedule) reminder() string {
	now := s.now()
	var lines []string
	for _, item := range s.queryByDate(now.Format("2006-01-02")) {
		if boolField(item, "Completed") {
			continue
		}
		start := dateStart(item["Date"])
		tIdx := strings.Index(start, "T")
		if tIdx < 0 || len(start) < tIdx+6 {
			continue
		}
		hhmm := start[tIdx+1 : tIdx+6]
		h, errH := strconv.Atoi(hhmm[:2])
		m, errM := strconv.Atoi(hhmm[3:])
		if errH != nil || errM != nil {
			continue
		}
		eventTime := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, kst)
		diff := eventTime.Sub(now).Minutes()

		var window string
		switch {
		case diff >= 55 && diff <= 65:
			window = "1시간"
		case diff >= 25 && diff <= 35:
			window = "30분"
		case diff >= 5 && diff <= 15:
			window = "10분"
		default:
			continue
		}
		lines = append(lines, fmt.Sprintf("%s 전: %s (%s)", window, strField(item, "Entry name"), hhmm))
	}
	return strings.Join(lines, "\n")
}

// kstDateValue builds the date start value, appending time and KST
// offset the way the workspace expects.
func kstDateValue(date, timeStr string) string {
	if timeStr != "" {
		return fmt.Sprintf("%sT%s:00+09:00", date, timeStr)
	}
	if idx := strings.Index(date, "T"); idx >= 0 && !strings.Contains(date[idx:], "+") {
		return date + "+09:00"
	}
	return date
}

// daysToSunday returns the day count until the end of the current week.
func daysToSunday(now time.Time) int {
	wd := int(now.Weekday()) // Sunday=0
	if wd == 0 {
		return 0
	}
	return 7 - wd
}

func jsonBlock(items []map[string]any, max int) string {
	if max > 0 {
		items = limit(items, max)
	}
	if items == nil {
		items = []map[string]any{}
	}
	b, err := json.MarshalIndent(items, "", " ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func limit(items []map[string]any, n int) []map[string]any {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/notion"
)

const travelSystemPrompt = `당신은 여행 관리 비서입니다. 여행 계획, 일정, 예약, 준비물을 관리합니다.

## 역할
- 여행 목록 및 D-day 조회
- 세부 일정 조회/추가
- 예약 현황 확인
- 준비물 체크리스트 관리

## 응답 스타일
- 한국어, 간결하게` + plainTextRule

// Travel manages trips, itineraries, reservations and packing lists.
type Travel struct {
	deps Deps
	now  func() time.Time
}

func NewTravel(deps Deps) *Travel {
	return &Travel{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (t *Travel) Name() string         { return "travel" }
func (t *Travel) SystemPrompt() string { return travelSystemPrompt }

func (t *Travel) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "get_trips",
			Description: "여행 목록 및 D-day 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{"type": "string", "description": "upcoming, ongoing, past 중 택1"},
				},
			},
		},
		{
			Name:        "get_trip_detail",
			Description: "특정 여행의 세부 일정 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"trip_name": map[string]any{"type": "string", "description": "여행 이름 (키워드 검색)"},
				},
				"required": []string{"trip_name"},
			},
		},
		{
			Name:        "get_reservations",
			Description: "예약 현황 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"trip_name": map[string]any{"type": "string", "description": "여행 이름 (선택)"},
				},
			},
		},
		{
			Name:        "get_packing_list",
			Description: "준비물 체크리스트 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"trip_name": map[string]any{"type": "string", "description": "여행 이름 (선택)"},
				},
			},
		},
		{
			Name:        "check_packing_item",
			Description: "준비물 체크/해제",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item_name": map[string]any{"type": "string", "description": "준비물 항목명"},
					"checked":   map[string]any{"type": "boolean", "description": "체크 여부"},
				},
				"required": []string{"item_name"},
			},
		},
	}
}

func (t *Travel) db(key string) string {
	return t.deps.Config.Domain("travel").Databases[key]
}

func (t *Travel) queryTrips(status string) []map[string]any {
	today := t.now().Format("2006-01-02")
	var filter any
	switch status {
	case "upcoming":
		filter = map[string]any{"property": "Date", "date": map[string]any{"after": today}}
	case "past":
		filter = map[string]any{"property": "Date", "date": map[string]any{"before": today}}
	}
	return queryParsed(t.deps.Notion, t.db("trips"), filter,
		[]map[string]any{{"property": "Date", "direction": "ascending"}}, 20)
}

func (t *Travel) queryByName(dbKey, keyword string, pageSize int, sorted bool) []map[string]any {
	var filter any
	if keyword != "" {
		filter = map[string]any{"property": "Name", "title": map[string]any{"contains": keyword}}
	}
	var sorts []map[string]any
	if sorted {
		sorts = []map[string]any{{"property": "Date", "direction": "ascending"}}
	}
	return queryParsed(t.deps.Notion, t.db(dbKey), filter, sorts, pageSize)
}

func (t *Travel) dday(dateStr string) string {
	if len(dateStr) < 10 {
		return ""
	}
	target, err := time.ParseInLocation("2006-01-02", dateStr[:10], kst)
	if err != nil {
		return ""
	}
	diff := calendarDays(t.now(), target)
	switch {
	case diff > 0:
		return fmt.Sprintf("D-%d", diff)
	case diff == 0:
		return "D-Day!"
	default:
		return fmt.Sprintf("D+%d", -diff)
	}
}

func (t *Travel) ChatContext() string {
	return fmt.Sprintf("## 여행 현황\n%s\n오늘 날짜: %s",
		jsonBlock(t.queryTrips(""), 5), t.now().Format("2006-01-02"))
}

func (t *Travel) Execute(name string, args map[string]any) string {
	switch name {
	case "get_trips":
		status, _ := args["status"].(string)
		trips := t.queryTrips(status)
		if len(trips) == 0 {
			return "여행 정보가 없습니다."
		}
		lines := []string{"여행 목록:"}
		for _, trip := range trips {
			start := dateStart(trip["Date"])
			end := dateEnd(trip["Date"])
			dateStr := start
			if end != "" {
				dateStr += " ~ " + end
			}
			lines = append(lines, fmt.Sprintf("- %s (%s) %s", strField(trip, "Name", "이름"), dateStr, t.dday(start)))
		}
		return strings.Join(lines, "\n")

	case "get_trip_detail":
		keyword, _ := args["trip_name"].(string)
		items := t.queryByName("itinerary", keyword, 30, true)
		if len(items) == 0 {
			return fmt.Sprintf("'%s' 관련 일정이 없습니다.", keyword)
		}
		lines := []string{fmt.Sprintf("'%s' 세부 일정 (%d건):", keyword, len(items))}
		for _, it := range limit(items, 20) {
			line := fmt.Sprintf("- %s %s %s", dateStart(it["Date"]), strField(it, "Time", "시간"), strField(it, "Name"))
			if place := strField(it, "Place", "장소"); place != "" {
				line += " @ " + place
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "get_reservations":
		keyword, _ := args["trip_name"].(string)
		reservations := t.queryByName("reservations", keyword, 20, true)
		if len(reservations) == 0 {
			return "예약 정보가 없습니다."
		}
		lines := []string{fmt.Sprintf("예약 현황 (%d건):", len(reservations))}
		for _, r := range reservations {
			line := fmt.Sprintf("- %s (%s)", strField(r, "Name"), dateStart(r["Date"]))
			if status := strField(r, "Status", "상태"); status != "" {
				line += " [" + status + "]"
			}
			if cost := numField(r, "Cost", "비용"); cost != 0 {
				line += " " + won(cost)
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "get_packing_list":
		keyword, _ := args["trip_name"].(string)
		items := t.queryByName("packing", keyword, 50, false)
		if len(items) == 0 {
			return "준비물 목록이 없습니다."
		}
		var checked, unchecked []map[string]any
		for _, it := range items {
			if boolField(it, "Checked", "체크") {
				checked = append(checked, it)
			} else {
				unchecked = append(unchecked, it)
			}
		}
		lines := []string{fmt.Sprintf("준비물 (%d/%d 완료):", len(checked), len(items))}
		for _, it := range unchecked {
			lines = append(lines, "  [ ] "+strField(it, "Name"))
		}
		for _, it := range checked {
			lines = append(lines, "  [v] "+strField(it, "Name"))
		}
		return strings.Join(lines, "\n")

	case "check_packing_item":
		itemName, _ := args["item_name"].(string)
		checked := true
		if v, ok := args["checked"].(bool); ok {
			checked = v
		}
		items := t.queryByName("packing", itemName, 50, false)
		if len(items) == 0 {
			return fmt.Sprintf("'%s' 항목을 찾을 수 없습니다.", itemName)
		}
		pageID := strField(items[0], "id")
		if pageID == "" {
			return fmt.Sprintf("'%s' 항목을 찾을 수 없습니다.", itemName)
		}
		r := t.deps.Notion.UpdatePage(pageID, map[string]any{"Checked": notion.CheckboxProp(checked)})
		if !r.Success {
			return "업데이트 실패: " + r.Error
		}
		if checked {
			return fmt.Sprintf("'%s' 체크 완료!", itemName)
		}
		return fmt.Sprintf("'%s' 체크 해제!", itemName)
	}
	return unknownTool
}

// calendarDays counts whole calendar days from now's date to target's
// date, ignoring time of day.
func calendarDays(now, target time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, kst)
	return int(target.Sub(today).Hours() / 24)
}

// RunMode serves the trip D-day reminder sweep. Milestone days only.
func (t *Travel) RunMode(ctx context.Context, mode string) (string, bool) {
	if mode != "dday_reminder" {
		return "", false
	}
	milestones := map[int]bool{30: true, 14: true, 7: true, 3: true, 1: true, 0: true}
	var reminders []string
	for _, trip := range t.queryTrips("upcoming") {
		start := dateStart(trip["Date"])
		if len(start) < 10 {
			continue
		}
		target, err := time.ParseInLocation("2006-01-02", start[:10], kst)
		if err != nil {
			continue
		}
		diff := calendarDays(t.now(), target)
		if milestones[diff] {
			reminders = append(reminders, fmt.Sprintf("%s %s (%s)", strField(trip, "Name"), t.dday(start), start))
		}
	}
	if len(reminders) == 0 {
		return "", true
	}
	return "여행 D-day 알림:\n" + strings.Join(reminders, "\n"), true
}

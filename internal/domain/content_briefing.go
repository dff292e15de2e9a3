package domain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/notion"
)

// Monthly content briefings are answered deterministically: the request
// names a tab and a month, so the handler queries Notion directly and
// summarizes the rows instead of entering the tool loop.

const (
	briefingLineLimit = 30
	briefingMaxItems  = 60
)

var briefingTabLabels = map[string]string{
	"AI":        "AI",
	"Design":    "디자인",
	"Branding":  "브랜딩",
	"Build":     "빌드",
	"Marketing": "마케팅",
	"insights":  "인사이트",
	"news":      "뉴스/팁",
	"scrap":     "스크랩",
}

// Specific tabs win over catch-all ones when several aliases match.
var briefingTabPriority = map[string]int{
	"AI":        0,
	"Design":    1,
	"Branding":  2,
	"Build":     3,
	"Marketing": 4,
	"insights":  5,
	"news":      6,
	"scrap":     7,
}

var (
	reYearMonthKo  = regexp.MustCompile(`(20\d{2})\s*년\s*(\d{1,2})\s*월`)
	reYearMonthNum = regexp.MustCompile(`(20\d{2})\s*[-/.]\s*(\d{1,2})`)
	reLastMonth    = regexp.MustCompile(`(지난|저번)\s*달`)
	reThisMonth    = regexp.MustCompile(`이번\s*달`)
	reBareMonth    = regexp.MustCompile(`(\d{1,2})\s*월`)
)

// normalizeBriefingText lowercases and strips all whitespace so trigger
// words match regardless of spacing.
func normalizeBriefingText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, strings.ToLower(s))
}

func looksLikeBriefingRequest(norm string) bool {
	if strings.Contains(norm, "브리핑") {
		return true
	}
	if !strings.Contains(norm, "요약") && !strings.Contains(norm, "정리") {
		return false
	}
	for _, w := range []string{"탭", "페이지", "콘텐츠", "인사이트", "저장"} {
		if strings.Contains(norm, w) {
			return true
		}
	}
	return false
}

// resolveBriefingTab maps a tab alias in the message to a database key.
// Ties go to the higher-priority tab, then the longer alias.
func (c *Content) resolveBriefingTab(norm string) string {
	type hit struct {
		key   string
		alias string
	}
	var hits []hit
	for alias, key := range c.deps.Config.Domain("content").Aliases {
		a := normalizeBriefingText(alias)
		if a != "" && strings.Contains(norm, a) {
			hits = append(hits, hit{key: key, alias: a})
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.Slice(hits, func(i, j int) bool {
		pi, pj := briefingTabPriority[hits[i].key], briefingTabPriority[hits[j].key]
		if pi != pj {
			return pi < pj
		}
		return len(hits[i].alias) > len(hits[j].alias)
	})
	return hits[0].key
}

// parseBriefingMonth reads a year and month out of the message. A bare
// "N월" means the most recent occurrence of that month, so months later
// than the current one roll back a year.
func parseBriefingMonth(message string, now time.Time) (int, int, bool) {
	if m := reYearMonthKo.FindStringSubmatch(message); m != nil {
		return atoiSafe(m[1]), atoiSafe(m[2]), true
	}
	if m := reYearMonthNum.FindStringSubmatch(message); m != nil {
		return atoiSafe(m[1]), atoiSafe(m[2]), true
	}
	if reLastMonth.MatchString(message) {
		y, mo := now.Year(), int(now.Month())-1
		if mo < 1 {
			y, mo = y-1, 12
		}
		return y, mo, true
	}
	if reThisMonth.MatchString(message) {
		return now.Year(), int(now.Month()), true
	}
	if m := reBareMonth.FindStringSubmatch(message); m != nil {
		mo := atoiSafe(m[1])
		if mo < 1 || mo > 12 {
			return 0, 0, false
		}
		y := now.Year()
		if mo > int(now.Month()) {
			y--
		}
		return y, mo, true
	}
	return 0, 0, false
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func monthRangeISO(year, month int) (string, string) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01-02"), start.AddDate(0, 1, 0).Format("2006-01-02")
}

// briefingDateFilter builds the month-window filter. The insights
// database keys entries by created time, the rest carry a Date property.
func briefingDateFilter(dbKey, start, end string) map[string]any {
	if dbKey == "insights" {
		return map[string]any{
			"and": []map[string]any{
				{"timestamp": "created_time", "created_time": map[string]any{"on_or_after": start}},
				{"timestamp": "created_time", "created_time": map[string]any{"before": end}},
			},
		}
	}
	return map[string]any{
		"and": []map[string]any{
			{"property": "Date", "date": map[string]any{"on_or_after": start}},
			{"property": "Date", "date": map[string]any{"before": end}},
		},
	}
}

type briefingItem struct {
	Title     string   `json:"title"`
	Date      string   `json:"date,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	SourceURL string   `json:"source_url,omitempty"`
	NotionURL string   `json:"notion_url,omitempty"`
}

func extractBriefingItems(rows []map[string]any) []briefingItem {
	items := make([]briefingItem, 0, len(rows))
	for _, r := range rows {
		it := briefingItem{
			Title:     orDefault(strField(r, "Entry name", "Title", "Name"), "제목 없음"),
			Date:      dateStart(r["Date"]),
			Summary:   truncateRunes(strField(r, "Summary"), 600),
			Tags:      tagList(r["Tags"]),
			SourceURL: strField(r, "URL"),
			NotionURL: strField(r, "url"),
		}
		items = append(items, it)
	}
	return items
}

func briefingTabLabel(dbKey string) string {
	if l, ok := briefingTabLabels[dbKey]; ok {
		return l
	}
	return dbKey
}

const briefingSummarizePrompt = `당신은 월간 콘텐츠 브리핑을 작성하는 시니어 에디터입니다.
전달받은 항목들을 주제별로 묶어 핵심 흐름을 짚어 주세요.
형식 규칙:
- 각 주제는 "■ <이슈명>" 으로 시작합니다.
- 주제 아래에 2~3개의 짧은 요점을 적습니다.
- 전체 %d줄을 넘기지 마세요.
- 근거가 되는 링크가 있으면 요점 끝에 붙입니다.
- 한국어로만 작성합니다.`

const briefingCompressPrompt = `아래 브리핑을 내용 손실 없이 %d줄 이내로 압축해 주세요. "■" 구조는 유지합니다.`

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func truncateLines(s string, limit int) string {
	var kept []string
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
			if n > limit {
				break
			}
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

// ensureBriefingLinks appends a source-link footer when the model left
// every URL out of the summary.
func ensureBriefingLinks(text string, items []briefingItem) string {
	if strings.Contains(text, "http") {
		return text
	}
	var urls []string
	seen := map[string]bool{}
	for _, it := range items {
		u := it.SourceURL
		if u == "" {
			u = it.NotionURL
		}
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) == 6 {
			break
		}
	}
	if len(urls) == 0 {
		return text
	}
	return text + "\n\n참고 링크: " + strings.Join(urls, " ")
}

func (c *Content) summarizeBriefing(ctx context.Context, label string, year, month int, items []briefingItem) string {
	payload := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m := map[string]any{"title": it.Title}
		if it.Date != "" {
			m["date"] = it.Date
		}
		if it.Summary != "" {
			m["summary"] = it.Summary
		}
		if len(it.Tags) > 0 {
			m["tags"] = it.Tags
		}
		if it.SourceURL != "" {
			m["source_url"] = it.SourceURL
		}
		if it.NotionURL != "" {
			m["notion_url"] = it.NotionURL
		}
		payload = append(payload, m)
	}
	user := fmt.Sprintf("%d년 %d월 %s 탭 콘텐츠 %d건:\n%s",
		year, month, label, len(items), jsonBlock(payload, 0))
	out := singleShot(ctx, c.deps.AI,
		fmt.Sprintf(briefingSummarizePrompt, briefingLineLimit), user, 1100, 0.2)
	out = strings.TrimSpace(out)
	if out == "" {
		return fmt.Sprintf("%d년 %d월 %s 탭에 %d건이 저장되어 있습니다.", year, month, label, len(items))
	}
	if countLines(out) > briefingLineLimit {
		compressed := strings.TrimSpace(singleShot(ctx, c.deps.AI,
			fmt.Sprintf(briefingCompressPrompt, briefingLineLimit), out, 900, 0.2))
		if compressed != "" {
			out = compressed
		}
		if countLines(out) > briefingLineLimit {
			out = truncateLines(out, briefingLineLimit)
		}
	}
	return ensureBriefingLinks(out, items)
}

// TryShortcut answers monthly briefing requests ("6월 AI 탭 브리핑해줘")
// without the tool loop. Returns false when the message is not a
// briefing request or names no known tab.
func (c *Content) TryShortcut(ctx context.Context, message string) (string, bool) {
	norm := normalizeBriefingText(message)
	if !looksLikeBriefingRequest(norm) {
		return "", false
	}
	dbKey := c.resolveBriefingTab(norm)
	if dbKey == "" {
		return "", false
	}
	label := briefingTabLabel(dbKey)
	dbID := c.db(dbKey)
	if dbID == "" {
		return fmt.Sprintf("%s 탭 데이터베이스 설정을 찾을 수 없습니다.", label), true
	}
	now := c.now()
	year, month, ok := parseBriefingMonth(message, now)
	if !ok {
		year, month = now.Year(), int(now.Month())
	}
	start, end := monthRangeISO(year, month)
	qr := c.deps.Notion.QueryDatabase(dbID, briefingDateFilter(dbKey, start, end), nil, 100)
	if !qr.Success {
		return "Notion 조회 실패: " + qr.Error, true
	}
	rows := make([]map[string]any, 0, len(qr.Results))
	for _, page := range qr.Results {
		rows = append(rows, notion.ParsePageProperties(page))
		if len(rows) == briefingMaxItems {
			break
		}
	}
	if len(rows) == 0 {
		return fmt.Sprintf("%d년 %d월 %s 탭에 저장된 콘텐츠가 없습니다.", year, month, label), true
	}
	return c.summarizeBriefing(ctx, label, year, month, extractBriefingItems(rows)), true
}

package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/notion"
)

const businessSystemPrompt = `당신은 비즈니스 관리 비서입니다. 메모, 역량 평가, 템플릿, 크로스 도메인 검색을 관리합니다.

## 역할
- 메모 작성/검색
- 핵심 역량 평가 조회
- 워크스페이스 전체 검색
- 템플릿 조회

## 응답 스타일
- 한국어, 간결하게, 핵심 위주` + plainTextRule

var domainLabelsKo = map[string]string{
	"schedule": "일정", "content": "콘텐츠", "finance": "재무",
	"travel": "여행", "tools": "도구", "business": "비즈니스",
}

// Business manages the memo archive, competency board and templates,
// plus cross-domain workspace search.
type Business struct {
	deps Deps
	now  func() time.Time
}

func NewBusiness(deps Deps) *Business {
	return &Business{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (b *Business) Name() string         { return "business" }
func (b *Business) SystemPrompt() string { return businessSystemPrompt }

func (b *Business) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "search_workspace",
			Description: "워크스페이스 전체 검색 (크로스 도메인)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string", "description": "검색 키워드"},
				},
				"required": []string{"keyword"},
			},
		},
		{
			Name:        "get_memos",
			Description: "메모 아카이브 검색/조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string"},
					"count":   map[string]any{"type": "integer", "description": "조회 개수 (기본 10)"},
				},
			},
		},
		{
			Name:        "add_memo",
			Description: "메모 작성",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string", "description": "메모 제목"},
					"content": map[string]any{"type": "string", "description": "메모 내용"},
					"tags": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "태그 목록",
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "get_competency",
			Description: "핵심 역량 평가 조회",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "get_templates",
			Description: "템플릿 목록 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword": map[string]any{"type": "string"},
				},
			},
		},
	}
}

func (b *Business) db(key string) string {
	return b.deps.Config.Domain("business").Databases[key]
}

func (b *Business) queryMemos(keyword string, count int) []map[string]any {
	var filter any
	if keyword != "" {
		filter = map[string]any{"property": "Name", "title": map[string]any{"contains": keyword}}
	}
	return queryParsed(b.deps.Notion, b.db("memo_archive"), filter,
		[]map[string]any{{"property": "Created", "direction": "descending"}}, count)
}

// searchAcrossDomains queries every configured database in every
// domain for a title match, tagging each hit with its origin.
func (b *Business) searchAcrossDomains(keyword string, perDB int) []map[string]any {
	var all []map[string]any
	for _, domainName := range b.deps.Config.DomainNames() {
		for dbKey, dbID := range b.deps.Config.Domain(domainName).Databases {
			if dbID == "" {
				continue
			}
			filter := map[string]any{"property": "Name", "title": map[string]any{"contains": keyword}}
			for _, parsed := range queryParsed(b.deps.Notion, dbID, filter, nil, perDB) {
				parsed["_domain"] = domainName
				parsed["_db"] = dbKey
				all = append(all, parsed)
			}
		}
	}
	return all
}

func (b *Business) ChatContext() string {
	return "## 최근 메모\n" + jsonBlock(b.queryMemos("", 5), 5)
}

func (b *Business) Execute(name string, args map[string]any) string {
	switch name {
	case "search_workspace":
		keyword, _ := args["keyword"].(string)
		results := b.searchAcrossDomains(keyword, 3)
		if len(results) == 0 {
			return fmt.Sprintf("'%s'에 대한 검색 결과가 없습니다.", keyword)
		}
		lines := []string{fmt.Sprintf("'%s' 전체 검색 (%d건):", keyword, len(results))}
		grouped := map[string][]map[string]any{}
		var order []string
		for _, r := range results {
			d := strField(r, "_domain")
			if _, seen := grouped[d]; !seen {
				order = append(order, d)
			}
			grouped[d] = append(grouped[d], r)
		}
		for _, d := range order {
			label := domainLabelsKo[d]
			if label == "" {
				label = d
			}
			lines = append(lines, "\n["+label+"]")
			for _, item := range limit(grouped[d], 5) {
				line := "  - " + strField(item, "Name", "Entry name", "Entry")
				if dbName := strField(item, "_db"); dbName != "" {
					line += " [" + dbName + "]"
				}
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\n")

	case "get_memos":
		keyword, _ := args["keyword"].(string)
		count := 10
		if n, ok := args["count"].(float64); ok && n > 0 {
			count = int(n)
		}
		memos := b.queryMemos(keyword, count)
		if len(memos) == 0 {
			return "메모가 없습니다."
		}
		lines := []string{fmt.Sprintf("메모 (%d건):", len(memos))}
		for _, m := range memos {
			line := "- " + strField(m, "Name")
			if created := strField(m, "Created", "created_time"); created != "" {
				if len(created) > 10 {
					created = created[:10]
				}
				line += " (" + created + ")"
			}
			for i, tag := range tagList(m["Tags"]) {
				if i == 3 {
					break
				}
				line += " #" + tag
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "add_memo":
		title, _ := args["title"].(string)
		props := map[string]any{
			"Name":    notion.TitleProp(title),
			"Created": notion.DateProp(b.now().Format("2006-01-02")),
		}
		if content, _ := args["content"].(string); content != "" {
			props["Content"] = notion.RichTextProp(truncateRunes(content, 2000))
		}
		if tags := tagList(args["tags"]); len(tags) > 0 {
			if len(tags) > 5 {
				tags = tags[:5]
			}
			sel := make([]any, 0, len(tags))
			for _, t := range tags {
				sel = append(sel, map[string]any{"name": t})
			}
			props["Tags"] = map[string]any{"multi_select": sel}
		}
		r := b.deps.Notion.CreatePage(b.db("memo_archive"), props)
		if r.Success {
			return fmt.Sprintf("메모 저장 완료! '%s'", title)
		}
		return "실패: " + r.Error

	case "get_competency":
		items := queryParsed(b.deps.Notion, b.db("competency"), nil, nil, 20)
		if len(items) == 0 {
			return "역량 평가 정보가 없습니다."
		}
		lines := []string{"핵심 역량 평가:"}
		for _, c := range items {
			line := "- " + strField(c, "Name", "이름")
			if score := anyField(c, "Score", "점수", "Level"); score != "" {
				line += ": " + score
			}
			if status := strField(c, "Status", "상태"); status != "" {
				line += " [" + status + "]"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "get_templates":
		keyword, _ := args["keyword"].(string)
		var filter any
		if keyword != "" {
			filter = map[string]any{"property": "Name", "title": map[string]any{"contains": keyword}}
		}
		templates := queryParsed(b.deps.Notion, b.db("templates"), filter, nil, 20)
		if len(templates) == 0 {
			return "템플릿이 없습니다."
		}
		lines := []string{fmt.Sprintf("템플릿 (%d건):", len(templates))}
		for _, t := range templates {
			line := "- " + strField(t, "Name")
			if cat := strField(t, "Category", "카테고리"); cat != "" {
				line += " [" + cat + "]"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
	return unknownTool
}

// RunMode: business has no scheduled modes.
func (b *Business) RunMode(ctx context.Context, mode string) (string, bool) {
	return "", false
}

// anyField renders the first present value under the given keys as
// text, covering both numeric scores and select labels.
func anyField(item map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := item[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%g", v)
		}
	}
	return ""
}

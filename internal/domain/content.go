package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/notion"
)

const contentSystemPrompt = `당신은 콘텐츠/지식 관리 비서입니다. 8개 DB(AI, Design, Branding, Build, Marketing, 인사이트, News & Tips, Scrap)를 관리합니다.

## 역할
- 카테고리별/키워드별 콘텐츠 검색
- 인사이트 요약, 콘텐츠 추천
- URL 스크랩 추가

## 누락 정보 처리
- 스크랩 저장 시 카테고리가 누락되면, request_user_choice 도구를 사용하여 선택지를 제시하세요.

## 응답 스타일
- 한국어, 간결하게, 핵심 위주

## 응답 규칙
- 반드시 플레인 텍스트로 응답. **bold**, [link](url), # heading, ` + "`code`" + ` 등 마크다운 절대 금지.
- 이모지/이모티콘 사용 금지.`

// Content manages the knowledge databases and the scrap inbox.
type Content struct {
	deps Deps
	now  func() time.Time
}

func NewContent(deps Deps) *Content {
	return &Content{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (c *Content) Name() string         { return "content" }
func (c *Content) SystemPrompt() string { return contentSystemPrompt }

func (c *Content) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "search_content",
			Description: "카테고리/키워드로 콘텐츠 검색",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "AI, Design, Branding, Build, Marketing, news, scrap 중 택1"},
					"keyword":  map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "add_scrap",
			Description: "URL을 스크랩 DB에 저장",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":      map[string]any{"type": "string"},
					"title":    map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "get_recent_entries",
			Description: "특정 카테고리의 최근 콘텐츠 조회",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "AI, Design, Branding, Build, Marketing"},
					"count":    map[string]any{"type": "integer", "description": "조회 개수 (기본 5)"},
				},
				"required": []string{"category"},
			},
		},
	}
}

func (c *Content) db(key string) string {
	return c.deps.Config.Domain("content").Databases[key]
}

func (c *Content) queryCategory(category, keyword string, pageSize int) []map[string]any {
	dbID := c.db(category)
	if dbID == "" {
		return nil
	}
	var filter any
	if keyword != "" {
		titleProp := "Entry name"
		if category == "scrap" {
			titleProp = "Title"
		}
		filter = map[string]any{"property": titleProp, "title": map[string]any{"contains": keyword}}
	}
	return queryParsed(c.deps.Notion, dbID, filter,
		[]map[string]any{{"property": "Date", "direction": "descending"}}, pageSize)
}

func (c *Content) ChatContext() string {
	var recent []map[string]any
	for _, cat := range []string{"AI", "Design", "Build"} {
		recent = append(recent, c.queryCategory(cat, "", 3)...)
	}
	return "## 최근 콘텐츠 (샘플)\n" + jsonBlock(recent, 10)
}

func (c *Content) Execute(name string, args map[string]any) string {
	switch name {
	case "search_content":
		category, _ := args["category"].(string)
		keyword, _ := args["keyword"].(string)
		var results []map[string]any
		if category != "" {
			results = c.queryCategory(category, keyword, 10)
		} else {
			for _, cat := range []string{"AI", "Design", "Build", "Marketing", "news"} {
				results = append(results, c.queryCategory(cat, keyword, 3)...)
			}
		}
		if len(results) == 0 {
			return "검색 결과가 없습니다."
		}
		lines := []string{fmt.Sprintf("검색 결과 (%d건):", len(results))}
		for _, r := range limit(results, 15) {
			line := "- " + strField(r, "Entry name", "Title")
			if url := strField(r, "URL"); url != "" {
				line += " (" + url + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case "add_scrap":
		url, _ := args["url"].(string)
		title, _ := args["title"].(string)
		if title == "" {
			title = url
		}
		props := map[string]any{
			"Title":  notion.TitleProp(title),
			"URL":    map[string]any{"url": url},
			"Date":   notion.DateProp(c.now().Format("2006-01-02")),
			"Status": notion.SelectProp("New"),
		}
		if cat, _ := args["category"].(string); cat != "" {
			props["Categories"] = map[string]any{"multi_select": []any{map[string]any{"name": cat}}}
		}
		r := c.deps.Notion.CreatePage(c.db("scrap"), props)
		if r.Success {
			return "스크랩 저장 완료!"
		}
		return "실패: " + r.Error

	case "get_recent_entries":
		category, _ := args["category"].(string)
		if category == "" {
			category = "AI"
		}
		count := 5
		if n, ok := args["count"].(float64); ok && n > 0 {
			count = int(n)
		}
		results := c.queryCategory(category, "", count)
		if len(results) == 0 {
			return fmt.Sprintf("%s 카테고리에 콘텐츠가 없습니다.", category)
		}
		lines := []string{fmt.Sprintf("%s 최근 %d건:", category, len(results))}
		for _, r := range results {
			line := "- " + strField(r, "Entry name")
			if tags := tagList(r["Tags"]); len(tags) > 0 {
				for i, t := range tags {
					if i == 3 {
						break
					}
					line += " #" + t
				}
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
	return unknownTool
}

// RunMode serves the weekly content digest without a model call.
func (c *Content) RunMode(ctx context.Context, mode string) (string, bool) {
	if mode != "weekly_digest" {
		return "", false
	}
	lines := []string{"주간 콘텐츠 다이제스트\n"}
	for _, cat := range []string{"AI", "Design", "Build", "Marketing"} {
		results := c.queryCategory(cat, "", 3)
		if len(results) == 0 {
			continue
		}
		lines = append(lines, cat+":")
		for _, r := range results {
			lines = append(lines, "  - "+strField(r, "Entry name"))
		}
	}
	return strings.Join(lines, "\n"), true
}

package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/notion"
)

const financeSystemPrompt = `당신은 재무 관리 비서입니다. 계좌, 지출, 예산을 관리합니다.

## 역할
- 잔액/지출/수입 조회
- 거래 기록 추가
- 카테고리별 분석, 월간 리포트
- 예산 대비 현황

## 응답 스타일
- 한국어, 금액은 원 단위로, 간결하게` + plainTextRule

// The timeline database's date property name carries a stray control
// byte from its Notion import; it must be sent verbatim.
const timelineDateProp = "\x08Date"

// Finance manages accounts, the transaction timeline and category
// budgets.
type Finance struct {
	deps Deps
	now  func() time.Time
}

func NewFinance(deps Deps) *Finance {
	return &Finance{deps: deps, now: func() time.Time { return time.Now().In(kst) }}
}

func (f *Finance) Name() string         { return "finance" }
func (f *Finance) SystemPrompt() string { return financeSystemPrompt }

func (f *Finance) Tools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "get_accounts",
			Description: "계좌 목록 및 잔액 조회",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "add_transaction",
			Description: "지출/수입 거래 기록 추가",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entry":    map[string]any{"type": "string", "description": "거래 내용"},
					"amount":   map[string]any{"type": "number", "description": "금액"},
					"category": map[string]any{"type": "string", "description": "카테고리 (식비, 교통, 쇼핑 등)"},
					"type":     map[string]any{"type": "string", "description": "수입 또는 지출"},
					"memo":     map[string]any{"type": "string"},
				},
				"required": []string{"entry", "amount"},
			},
		},
		{
			Name:        "get_transactions",
			Description: "거래 내역 조회 (기간/키워드)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword":    map[string]any{"type": "string"},
					"start_date": map[string]any{"type": "string", "description": "YYYY-MM-DD"},
					"end_date":   map[string]any{"type": "string", "description": "YYYY-MM-DD"},
				},
			},
		},
		{
			Name:        "get_categories",
			Description: "카테고리별 예산/지출 현황",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func (f *Finance) db(key string) string {
	return f.deps.Config.Domain("finance").Databases[key]
}

func (f *Finance) queryAccounts() []map[string]any {
	return queryParsed(f.deps.Notion, f.db("accounts"), nil, nil, 100)
}

func (f *Finance) queryTransactions(keyword, start, end string, pageSize int) []map[string]any {
	var filters []any
	if keyword != "" {
		filters = append(filters, map[string]any{"property": "Entry", "title": map[string]any{"contains": keyword}})
	}
	if start != "" {
		filters = append(filters, map[string]any{"property": timelineDateProp, "date": map[string]any{"on_or_after": start}})
	}
	if end != "" {
		filters = append(filters, map[string]any{"property": timelineDateProp, "date": map[string]any{"on_or_before": end}})
	}
	var filter any
	switch len(filters) {
	case 0:
	case 1:
		filter = filters[0]
	default:
		filter = map[string]any{"and": filters}
	}
	return queryParsed(f.deps.Notion, f.db("timeline"), filter,
		[]map[string]any{{"property": timelineDateProp, "direction": "descending"}}, pageSize)
}

func (f *Finance) queryCategories() []map[string]any {
	return queryParsed(f.deps.Notion, f.db("categories"), nil, nil, 100)
}

func (f *Finance) ChatContext() string {
	weekAgo := f.now().AddDate(0, 0, -7).Format("2006-01-02")
	return fmt.Sprintf("## 계좌 현황\n%s\n## 최근 7일 거래\n%s",
		jsonBlock(f.queryAccounts(), 5),
		jsonBlock(f.queryTransactions("", weekAgo, "", 10), 10))
}

func (f *Finance) Execute(name string, args map[string]any) string {
	switch name {
	case "get_accounts":
		accounts := f.queryAccounts()
		if len(accounts) == 0 {
			return "계좌 정보가 없습니다."
		}
		lines := []string{"💰 계좌 현황:"}
		for _, a := range accounts {
			bank := strField(a, "Bank", "이름")
			bal := numField(a, "잔액", "Current Balance")
			if bal != 0 {
				lines = append(lines, fmt.Sprintf("- %s: %s", bank, won(bal)))
			} else {
				lines = append(lines, "- "+bank)
			}
		}
		return strings.Join(lines, "\n")

	case "add_transaction":
		entry, _ := args["entry"].(string)
		amount, _ := args["amount"].(float64)
		props := map[string]any{
			"Entry":          notion.TitleProp(entry),
			"Amount":         notion.NumberProp(amount),
			timelineDateProp: notion.DateProp(f.now().Format("2006-01-02")),
		}
		if cat, _ := args["category"].(string); cat != "" {
			props["Category"] = notion.SelectProp(cat)
		}
		if typ, _ := args["type"].(string); typ != "" {
			props["Type"] = notion.SelectProp(typ)
		}
		if memo, _ := args["memo"].(string); memo != "" {
			props["Memo"] = notion.RichTextProp(memo)
		}
		r := f.deps.Notion.CreatePage(f.db("timeline"), props)
		if r.Success {
			return fmt.Sprintf("✅ 거래 기록 완료! %s %s", entry, won(amount))
		}
		return "❌ 실패: " + r.Error

	case "get_transactions":
		keyword, _ := args["keyword"].(string)
		start, _ := args["start_date"].(string)
		end, _ := args["end_date"].(string)
		txns := f.queryTransactions(keyword, start, end, 20)
		if len(txns) == 0 {
			return "거래 내역이 없습니다."
		}
		lines := []string{fmt.Sprintf("📋 거래 내역 (%d건):", len(txns))}
		var total float64
		for _, t := range limit(txns, 15) {
			amt := numField(t, "Amount")
			total += amt
			lines = append(lines, fmt.Sprintf("- %s: %s [%s]", strField(t, "Entry"), won(amt), strField(t, "Category")))
		}
		lines = append(lines, "\n합계: "+won(total))
		return strings.Join(lines, "\n")

	case "get_categories":
		cats := f.queryCategories()
		if len(cats) == 0 {
			return "카테고리 정보가 없습니다."
		}
		lines := []string{"📊 카테고리별 현황:"}
		for _, c := range cats {
			lines = append(lines, fmt.Sprintf("- %s: 지출 %s / 예산 %s",
				strField(c, "항목"), won(numField(c, "이번 달 지출")), won(numField(c, "한 달 예산"))))
		}
		return strings.Join(lines, "\n")
	}
	return unknownTool
}

// RunMode serves the scheduled weekly expense ping and the monthly
// report.
func (f *Finance) RunMode(ctx context.Context, mode string) (string, bool) {
	switch mode {
	case "weekly_expense":
		now := f.now()
		weekStart := now.AddDate(0, 0, -int((int(now.Weekday())+6)%7)).Format("2006-01-02")
		txns := f.queryTransactions("", weekStart, now.Format("2006-01-02"), 100)
		var total float64
		for _, t := range txns {
			total += numField(t, "Amount")
		}
		return fmt.Sprintf("📊 이번 주 지출: %s (%d건)", won(total), len(txns)), true
	case "monthly_report":
		now := f.now()
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, kst).Format("2006-01-02")
		content := fmt.Sprintf("계좌: %s\n카테고리: %s\n이번 달 거래: %s",
			jsonBlock(f.queryAccounts(), 5),
			jsonBlock(f.queryCategories(), 10),
			jsonBlock(f.queryTransactions("", first, now.Format("2006-01-02"), 100), 20))
		return singleShot(ctx, f.deps.AI,
			"월간 재무 리포트 생성. 계좌 잔액, 카테고리별 지출, 총 지출/수입 요약. 이모지 사용. 한국어.",
			content, 800, 0.4), true
	}
	return "", false
}

package agent

import "github.com/beyondworks/assistant/internal/ai"

// Tool names the loop treats specially. Everything else goes to the
// domain executor.
const (
	ToolRequestUserChoice = "request_user_choice"
	ToolLearnRule         = "learn_rule"
)

// RequestUserChoiceTool asks the user to pick one value for a missing
// tool argument. The loop turns this into an interactive result and a
// pending action; it never reaches the domain executor.
var RequestUserChoiceTool = ai.Tool{
	Name:        ToolRequestUserChoice,
	Description: "필수 정보가 누락되었을 때 사용자에게 선택지를 제시. 사용자가 버튼으로 답하면 pending_tool이 자동 실행됨.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "사용자에게 보여줄 질문",
			},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "선택지 목록 (최대 5개)",
			},
			"field_name": map[string]any{
				"type":        "string",
				"description": "선택값이 채워질 인자 이름",
			},
			"pending_tool": map[string]any{
				"type":        "string",
				"description": "선택 후 실행할 도구 이름",
			},
			"pending_args": map[string]any{
				"type":        "object",
				"description": "이미 확보된 도구 인자",
			},
		},
		"required": []string{"question", "options", "field_name", "pending_tool"},
	},
}

// LearnRuleTool records a user-taught rule into rule memory. Executed
// by the loop itself as a side effect, never by the domain executor.
var LearnRuleTool = ai.Tool{
	Name:        ToolLearnRule,
	Description: "사용자가 가르쳐준 규칙/선호/매핑을 기억. '앞으로는 ~로 해줘', '~는 ~야' 같은 교정이 있을 때 호출.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rule": map[string]any{
				"type":        "string",
				"description": "기억할 규칙 (간결한 한 문장)",
			},
			"category": map[string]any{
				"type":        "string",
				"enum":        []string{"general", "mapping", "preference", "correction"},
				"description": "규칙 분류",
			},
		},
		"required": []string{"rule"},
	},
}

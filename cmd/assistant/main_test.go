package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/gateway"
)

type stubProvider struct {
	content string
}

func (p *stubProvider) Chat(ctx context.Context, req ai.ChatRequest) ai.ChatResult {
	return ai.ChatResult{Content: p.content}
}

func testGateway(t *testing.T, content string) *gateway.Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Provider: &stubProvider{content: content}})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { gw.Shutdown() })
	return gw
}

func TestRunChat_SingleMessage(t *testing.T) {
	gw := testGateway(t, "내일은 일정이 없어요.")

	messageFlag = "내일 일정 알려줘"
	domainFlag = ""
	userFlag = "cli"
	defer func() { messageFlag = "" }()

	var stdout, stderr bytes.Buffer
	err := runChatWithOptions(ChatOptions{
		Gateway: gw,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}

	if got := strings.TrimSpace(stdout.String()); got != "내일은 일정이 없어요." {
		t.Errorf("stdout = %q", got)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunChat_REPLExit(t *testing.T) {
	gw := testGateway(t, "안녕하세요!")

	messageFlag = ""
	domainFlag = ""
	userFlag = "cli"

	stdin := strings.NewReader("exit\n")
	var stdout bytes.Buffer
	err := runChatWithOptions(ChatOptions{
		Gateway: gw,
		Stdin:   stdin,
		Stdout:  &stdout,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if !strings.Contains(stdout.String(), "assistant chat") {
		t.Errorf("missing REPL banner in %q", stdout.String())
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"sk-abcdefghijklmnop", "sk-a...mnop"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "openai (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("gemini"); got != "gemini" {
		t.Errorf("providerDisplay(gemini) = %q", got)
	}
}

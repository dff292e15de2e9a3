package channel

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/beyondworks/assistant/internal/bus"
	"github.com/beyondworks/assistant/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(10)

	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}

	filtered := NewBaseChannel("test", b, []string{"user1", "user2"})
	if !filtered.IsAllowed("user1") {
		t.Error("should allow user1")
	}
	if filtered.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewTelegramChannel(config.TelegramConfig{}, b)
	if err == nil {
		t.Error("expected error for empty token")
	}
}

func TestNewTelegramChannel_Valid(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
}

func TestTelegramChannel_Send_NilBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"})
	if err == nil {
		t.Error("expected error when bot is nil")
	}
}

func TestTelegramChannel_Send_InvalidChatID(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"})
	if err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: "내일 일정 알려줘",
		Date: int(time.Now().Unix()),
	})

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "telegram" {
			t.Errorf("channel = %q, want telegram", msg.Channel)
		}
		if msg.SenderID != "42" {
			t.Errorf("sender = %q, want 42", msg.SenderID)
		}
		if msg.ChatID != "100" {
			t.Errorf("chat = %q, want 100", msg.ChatID)
		}
		if msg.Content != "내일 일정 알려줘" {
			t.Errorf("content = %q", msg.Content)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Rejected(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{
		Token:     "fake-token",
		AllowFrom: []string{"1"},
	}, b)

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: "hi",
	})

	select {
	case msg := <-b.Inbound:
		t.Fatalf("unexpected inbound message from %s", msg.SenderID)
	default:
	}
}

func TestTelegramChannel_SendChoice(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	mockBot := newMockBot()
	ch.SetBot(mockBot)

	err := ch.Send(bus.OutboundMessage{
		ChatID:  "100",
		Content: "어느 날로 할까요?",
		Choice: &bus.Choice{
			Question:       "어느 날로 할까요?",
			Options:        []string{"내일", "모레"},
			ActionIDPrefix: "choice_add_schedule_date",
		},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(mockBot.sentMsgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mockBot.sentMsgs))
	}
	tgMsg, ok := mockBot.sentMsgs[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent message type %T", mockBot.sentMsgs[0])
	}
	markup, ok := tgMsg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup type %T", tgMsg.ReplyMarkup)
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("keyboard rows = %d, want 2", len(markup.InlineKeyboard))
	}
	btn := markup.InlineKeyboard[0][0]
	if btn.Text != "내일" {
		t.Errorf("button text = %q, want 내일", btn.Text)
	}
	if btn.CallbackData == nil || *btn.CallbackData != "choice_add_schedule_date__0" {
		t.Errorf("callback data = %v, want choice_add_schedule_date__0", btn.CallbackData)
	}
}

func TestTelegramChannel_HandleCallback(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	ch.choices[100] = []string{"내일", "모레"}

	ch.handleCallback(&tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    "choice_add_schedule_date__1",
	})

	select {
	case msg := <-b.Inbound:
		if msg.Content != "모레" {
			t.Errorf("content = %q, want 모레", msg.Content)
		}
		if got := msg.Metadata["mode"]; got != "resolve_action" {
			t.Errorf("mode = %v, want resolve_action", got)
		}
	default:
		t.Fatal("expected inbound resolve message")
	}

	if _, ok := ch.choices[100]; ok {
		t.Error("stored options should be cleared after callback")
	}
}

func TestTelegramChannel_HandleCallback_BadIndex(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	ch.choices[100] = []string{"내일"}

	ch.handleCallback(&tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    "choice_add_schedule_date__9",
	})

	select {
	case msg := <-b.Inbound:
		t.Fatalf("unexpected inbound message %q", msg.Content)
	default:
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
	}

	for _, tt := range tests {
		got := toTelegramHTML(tt.input)
		if got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

// mockChannel implements Channel interface for testing
type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	sentMsgs []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return nil
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.sentMsgs = append(m.sentMsgs, msg)
	return nil
}

func TestChannelManager_WithMockChannel(t *testing.T) {
	b := bus.NewMessageBus(10)

	mock := &mockChannel{name: "mock"}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}
	m.register(mock)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestChannelManager_StartAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)

	mock := &mockChannel{name: "mock", startErr: fmt.Errorf("boom")}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}
	m.register(mock)

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected start error to propagate")
	}
}

// mockTelegramBot implements TelegramBot interface for testing
type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
	sendErr     error
	files       map[string]tgbotapi.File
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		files:       make(map[string]tgbotapi.File),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sentMsgs = append(m.sentMsgs, c)
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func (m *mockTelegramBot) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	file, ok := m.files[config.FileID]
	if !ok {
		return tgbotapi.File{}, fmt.Errorf("file %q not found", config.FileID)
	}
	return file, nil
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()

	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return mockBot, nil
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)
	if err := ch.initBot(); err != nil {
		t.Fatalf("initBot error: %v", err)
	}
	if ch.bot == nil {
		t.Error("bot should be set after initBot")
	}
}

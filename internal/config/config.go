package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultFallbackModel  = "gpt-4o-mini"
	DefaultMaxTokens      = 1500
	DefaultTemperature    = 0.4
	DefaultMaxToolRounds  = 3
	DefaultSessionTTLMin  = 30
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8080
	DefaultBufSize        = 100
	DefaultFallbackDomain = "schedule"
)

type Config struct {
	AI       AIConfig                `json:"ai"`
	Notion   NotionConfig            `json:"notion"`
	Domains  map[string]DomainConfig `json:"domains"`
	Session  SessionConfig           `json:"session"`
	Storage  StorageConfig           `json:"storage"`
	Channels ChannelsConfig          `json:"channels"`
	Server   ServerConfig            `json:"server"`
	Jobs     []JobConfig             `json:"jobs,omitempty"`
}

type AIConfig struct {
	Provider         string  `json:"provider,omitempty"` // "openai" (default) or "gemini"
	Model            string  `json:"model,omitempty"`
	OpenAIKey        string  `json:"openaiKey,omitempty"`
	GeminiKey        string  `json:"geminiKey,omitempty"`
	MaxTokens        int     `json:"maxTokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxToolRounds    int     `json:"maxToolRounds,omitempty"`
	FallbackProvider string  `json:"fallbackProvider,omitempty"`
	FallbackModel    string  `json:"fallbackModel,omitempty"`
}

type NotionConfig struct {
	APIKey string `json:"apiKey,omitempty"`
}

// DomainConfig describes one assistant domain: the keywords the router
// scores and the Notion databases its tools operate on.
type DomainConfig struct {
	Keywords   []string          `json:"keywords,omitempty"`
	Databases  map[string]string `json:"databases,omitempty"`
	RelationID string            `json:"relationId,omitempty"`
	// Aliases maps user-facing tab names to database keys, for
	// deterministic requests like monthly briefings.
	Aliases map[string]string `json:"aliases,omitempty"`
}

type SessionConfig struct {
	TTLMinutes int `json:"ttlMinutes,omitempty"`
}

type StorageConfig struct {
	// Backend selects the repository implementation: "file" (default)
	// keeps one JSON document per session plus a shared memory.json,
	// "sqlite" keeps everything in a single database file.
	Backend string `json:"backend,omitempty"`
	DataDir string `json:"dataDir,omitempty"`
	DBPath  string `json:"dbPath,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JobConfig is a declarative scheduled job: run a domain mode on a cron
// expression and deliver the result to a chat.
type JobConfig struct {
	Name    string `json:"name"`
	Cron    string `json:"cron"`
	Domain  string `json:"domain"`
	Mode    string `json:"mode"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider:      "openai",
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			Temperature:   DefaultTemperature,
			MaxToolRounds: DefaultMaxToolRounds,
		},
		Domains: map[string]DomainConfig{
			"schedule": {Keywords: []string{"일정", "미팅", "회의", "약속", "스케줄", "할일", "내일", "오늘"}},
			"finance":  {Keywords: []string{"지출", "수입", "잔액", "계좌", "예산", "거래", "돈"}},
			"content": {
				Keywords: []string{"콘텐츠", "블로그", "영상", "유튜브", "글"},
				Aliases: map[string]string{
					"ai":   "AI",
					"디자인":  "Design",
					"브랜딩":  "Branding",
					"빌드":   "Build",
					"마케팅":  "Marketing",
					"인사이트": "insights",
					"뉴스":   "news",
					"뉴스/팁": "news",
					"스크랩":  "scrap",
				},
			},
			"travel":   {Keywords: []string{"여행", "항공", "숙소", "호텔", "비행기"}},
			"tools":    {Keywords: []string{"도구", "링크", "북마크", "메모"}},
			"business": {Keywords: []string{"사업", "계약", "미수금", "세금", "거래처"}},
		},
		Session: SessionConfig{TTLMinutes: DefaultSessionTTLMin},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: filepath.Join(ConfigDir(), "data"),
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".assistant")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultModel
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = DefaultMaxTokens
	}
	if cfg.AI.Temperature <= 0 {
		cfg.AI.Temperature = DefaultTemperature
	}
	if cfg.AI.MaxToolRounds <= 0 {
		cfg.AI.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = DefaultSessionTTLMin
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultConfig().Storage.DataDir
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(cfg.Storage.DataDir, "assistant.db")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.AI.OpenAIKey == "" {
		cfg.AI.OpenAIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.AI.GeminiKey == "" {
		cfg.AI.GeminiKey = key
	}
	if p := os.Getenv("AI_PROVIDER"); p != "" {
		cfg.AI.Provider = p
	}
	if m := os.Getenv("AI_MODEL"); m != "" {
		cfg.AI.Model = m
	}
	if p := os.Getenv("AI_FALLBACK_PROVIDER"); p != "" {
		cfg.AI.FallbackProvider = p
	}
	if m := os.Getenv("AI_FALLBACK_MODEL"); m != "" {
		cfg.AI.FallbackModel = m
	}
	if key := os.Getenv("NOTION_API_KEY"); key != "" && cfg.Notion.APIKey == "" {
		cfg.Notion.APIKey = key
	}
	if token := os.Getenv("ASSISTANT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if backend := os.Getenv("ASSISTANT_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dir := os.Getenv("ASSISTANT_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
		cfg.Storage.DBPath = ""
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// DomainNames returns the configured domain names.
func (c *Config) DomainNames() []string {
	names := make([]string, 0, len(c.Domains))
	for name := range c.Domains {
		names = append(names, name)
	}
	return names
}

// DomainKeywords builds the domain -> keywords map the router scores.
func (c *Config) DomainKeywords() map[string][]string {
	m := make(map[string][]string, len(c.Domains))
	for name, d := range c.Domains {
		m[name] = d.Keywords
	}
	return m
}

// Domain returns the configuration for one domain, zero value if absent.
func (c *Config) Domain(name string) DomainConfig {
	return c.Domains[name]
}

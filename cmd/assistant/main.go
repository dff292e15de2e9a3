package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/dispatch"
	"github.com/beyondworks/assistant/internal/gateway"
	"github.com/beyondworks/assistant/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "assistant - multi-domain personal AI assistant",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a single message or start a REPL",
	RunE:  runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server only",
	RunE:  runServe,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (HTTP server + channels + scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize the config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show assistant status",
	RunE:  runStatus,
}

var (
	messageFlag string
	domainFlag  string
	userFlag    string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVarP(&domainFlag, "domain", "d", "", "Domain to use (default: auto-routed)")
	chatCmd.Flags().StringVarP(&userFlag, "user", "u", "cli", "User id for the session")
	rootCmd.AddCommand(chatCmd, serveCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ChatOptions for running chat with custom dependencies
type ChatOptions struct {
	Gateway *gateway.Gateway
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs chat with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	gw := opts.Gateway
	if gw == nil {
		cfg, err := loadConfigChecked()
		if err != nil {
			return err
		}
		gw, err = gateway.New(cfg)
		if err != nil {
			return fmt.Errorf("create gateway: %w", err)
		}
		defer gw.Shutdown()
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	dispatcher := gw.Dispatcher()

	turn := func(message string) {
		resp := dispatcher.HandleTurn(ctx, dispatch.Request{
			Domain:  domainFlag,
			Message: message,
			UserID:  userFlag,
		})
		if resp.Error != "" {
			fmt.Fprintf(stderr, "Error: %s\n", resp.Error)
			return
		}
		fmt.Fprintln(stdout, resp.Response)
		if resp.Interactive != nil {
			for i, option := range resp.Interactive.Options {
				fmt.Fprintf(stdout, "  %d. %s\n", i+1, option)
			}
		}
	}

	// Single message mode
	if messageFlag != "" {
		turn(messageFlag)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "assistant chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		turn(input)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigChecked()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	srv := server.New(gw.Dispatcher(), cfg.Server.Host, cfg.Server.Port)
	return srv.Run(context.Background())
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigChecked()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func loadConfigChecked() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" {
		return nil, fmt.Errorf("AI API key not set. Run 'assistant onboard' or set ASSISTANT_OPENAI_KEY")
	}
	return cfg, nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your OpenAI and Notion API keys\n", cfgPath)
	fmt.Println("  2. Or set ASSISTANT_OPENAI_KEY / ASSISTANT_NOTION_KEY environment variables")
	fmt.Println("  3. Run 'assistant chat -m \"내일 일정 알려줘\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.AI.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.AI.Provider))
	fmt.Printf("OpenAI key: %s\n", maskKey(cfg.AI.OpenAIKey))
	fmt.Printf("Notion key: %s\n", maskKey(cfg.Notion.APIKey))
	fmt.Printf("Storage: %s\n", cfg.Storage.Backend)
	fmt.Printf("Domains: %s\n", strings.Join(cfg.DomainNames(), ", "))
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Jobs: %d\n", len(cfg.Jobs))

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "openai (default)"
	}
	return t
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}

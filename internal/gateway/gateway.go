package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/beyondworks/assistant/internal/agent"
	"github.com/beyondworks/assistant/internal/ai"
	"github.com/beyondworks/assistant/internal/bus"
	"github.com/beyondworks/assistant/internal/channel"
	"github.com/beyondworks/assistant/internal/classify"
	"github.com/beyondworks/assistant/internal/config"
	"github.com/beyondworks/assistant/internal/dispatch"
	"github.com/beyondworks/assistant/internal/domain"
	"github.com/beyondworks/assistant/internal/notion"
	"github.com/beyondworks/assistant/internal/rules"
	"github.com/beyondworks/assistant/internal/sched"
	"github.com/beyondworks/assistant/internal/server"
	"github.com/beyondworks/assistant/internal/session"
	"github.com/beyondworks/assistant/internal/storage"
)

const errorResponse = "죄송해요, 메시지를 처리하는 중 오류가 발생했어요."

// Options carries test hooks for building a Gateway.
type Options struct {
	Provider   ai.Provider    // overrides the configured AI provider
	SignalChan chan os.Signal // overrides SIGINT/SIGTERM handling
}

// Gateway wires the whole assistant together: storage, AI provider,
// domain registry, dispatcher, HTTP server, channels, and scheduler.
type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	channels   *channel.ChannelManager
	sched      *sched.Service
	db         *sql.DB
	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}
	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.signalChan = opts.SignalChan

	sessions, ruleStore, err := g.openStores()
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		provider = ai.New(cfg.AI)
	}

	notionClient := notion.NewClient(cfg.Notion.APIKey)
	registry := domain.NewRegistry(domain.Deps{
		Notion: notionClient,
		AI:     provider,
		Config: cfg,
	})
	classifier := classify.New(provider, cfg.DomainKeywords(), config.DefaultFallbackDomain)
	loop := agent.New(provider, ruleStore, cfg.AI.MaxTokens, float32(cfg.AI.Temperature))

	g.dispatcher = dispatch.New(cfg, classifier, sessions, ruleStore, registry, loop)
	g.server = server.New(g.dispatcher, cfg.Server.Host, cfg.Server.Port)

	g.channels, err = channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeDB()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}

	g.sched = sched.New(cfg.Jobs, g.runJob, g.bus)

	return g, nil
}

// openStores picks the session and rule repositories from the storage
// backend config: "sqlite" shares one database file, anything else
// keeps JSON documents under the data directory.
func (g *Gateway) openStores() (*session.Store, *rules.Store, error) {
	if g.cfg.Storage.Backend == "sqlite" {
		dbPath := g.cfg.Storage.DBPath
		if dbPath == "" {
			dbPath = filepath.Join(config.ConfigDir(), "data", "assistant.db")
		}
		db, err := storage.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		g.db = db

		sessRepo, err := session.NewSQLiteRepository(db)
		if err != nil {
			g.closeDB()
			return nil, nil, fmt.Errorf("init session repository: %w", err)
		}
		ruleRepo, err := rules.NewSQLiteRepository(db)
		if err != nil {
			g.closeDB()
			return nil, nil, fmt.Errorf("init rule repository: %w", err)
		}
		return session.NewStore(sessRepo), rules.NewStore(ruleRepo), nil
	}

	dataDir := g.cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(config.ConfigDir(), "data")
	}
	sessRepo, err := session.NewFileRepository(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init session repository: %w", err)
	}
	ruleRepo, err := rules.NewFileRepository(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init rule repository: %w", err)
	}
	return session.NewStore(sessRepo), rules.NewStore(ruleRepo), nil
}

func (g *Gateway) closeDB() {
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			log.Printf("[gateway] close db warning: %v", err)
		}
		g.db = nil
	}
}

// Dispatcher exposes the dispatcher for one-shot CLI turns.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

func (g *Gateway) runJob(ctx context.Context, domainName, mode string) (string, error) {
	resp := g.dispatcher.HandleTurn(ctx, dispatch.Request{
		Domain: domainName,
		Mode:   mode,
	})
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.Response, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.sched.Start(ctx); err != nil {
		log.Printf("[gateway] scheduler start warning: %v", err)
	}

	go func() {
		if err := g.server.Run(ctx); err != nil {
			log.Printf("[gateway] server error: %v", err)
		}
	}()

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Server.Host, g.cfg.Server.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	// A pressed choice button arrives as a resolve_action message; the
	// dispatcher keys that off the domain field.
	domainName := ""
	if m, ok := msg.Metadata["mode"].(string); ok && m == "resolve_action" {
		domainName = "resolve_action"
	}

	resp := g.dispatcher.HandleTurn(ctx, dispatch.Request{
		Domain:    domainName,
		Message:   msg.Content,
		UserID:    msg.SenderID,
		ChannelID: msg.SessionKey(),
		Images:    msg.Media,
	})

	content := resp.Response
	if resp.Error != "" {
		log.Printf("[gateway] dispatch error: %s", resp.Error)
		content = errorResponse
	}
	if content == "" && resp.Interactive == nil {
		return
	}

	var choice *bus.Choice
	if resp.Interactive != nil {
		choice = &bus.Choice{
			Question:       resp.Interactive.Question,
			Options:        resp.Interactive.Options,
			ActionIDPrefix: resp.Interactive.ActionIDPrefix,
		}
	}

	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Choice:  choice,
	}
}

func (g *Gateway) Shutdown() error {
	g.sched.Stop()
	_ = g.channels.StopAll()
	g.closeDB()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

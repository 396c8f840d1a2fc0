package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/api/handlers"
	"github.com/orgai/backend/internal/cache/redis"
	"github.com/orgai/backend/internal/corpus/docs"
	"github.com/orgai/backend/internal/corpus/policy"
	"github.com/orgai/backend/internal/corpus/schema"
	"github.com/orgai/backend/internal/history"
	"github.com/orgai/backend/internal/ingestion"
	"github.com/orgai/backend/internal/llm"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/middleware/ratelimit"
	"github.com/orgai/backend/internal/middleware/security"
	"github.com/orgai/backend/internal/middleware/validation"
	"github.com/orgai/backend/internal/query"
	"github.com/orgai/backend/internal/sqlgate"
	"github.com/orgai/backend/internal/storage/sqlite"
	"github.com/orgai/backend/pkg/config"
	appLogger "github.com/orgai/backend/pkg/logger"
)

// policyRefreshCheck is how often the policy corpus checks whether its
// refresh interval has elapsed.
const policyRefreshCheck = time.Hour

func main() {
	configPath := flag.String("config", "", "path to config file (default: search for config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting OrgAI API Server", zap.String("organization", cfg.Organization.Name))
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	store, closeStore := buildHistoryStore(ctx, cfg)
	defer closeStore()
	hist := history.New(store, history.Config{
		RecentEntries: cfg.History.RecentEntries,
		SummaryChars:  cfg.History.SummaryChars,
	})

	var sources query.Sources

	if policyCorpus := buildPolicyCorpus(ctx, cfg); policyCorpus != nil {
		sources.Policies = policyCorpus
		go refreshPolicies(ctx, policyCorpus)
	}

	var executor sqlgate.Executor
	dialect := ""
	schemaCorpus := buildSchemaCorpus(ctx, cfg)
	if schemaCorpus != nil {
		defer schemaCorpus.Close()
		sources.Schemas = schemaCorpus
		if backend, ok := schemaCorpus.Backend(""); ok {
			executor = backend
			dialect = backend.Dialect()
		}
	}

	if docsCorpus := buildDocsCorpus(ctx, cfg); docsCorpus != nil {
		sources.Docs = docsCorpus
	}

	gate := sqlgate.New(sqlgate.Config{
		Enabled:          cfg.SQLGate.Enabled,
		DatabaseEnabled:  cfg.Database.Enabled,
		MaxRows:          cfg.SQLGate.MaxRows,
		Timeout:          cfg.SQLGate.Timeout(),
		RestrictedTables: cfg.SQLGate.RestrictedTables,
		AllowedTables:    cfg.SQLGate.AllowedTables,
		Dialect:          dialect,
	})

	llmClient := llm.NewClient(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		TopP:              cfg.LLM.TopP,
		MaxTokens:         cfg.LLM.MaxTokens,
		Timeout:           cfg.LLM.Timeout(),
		MinResponseLength: cfg.LLM.MinResponseLength,
	})

	org := query.Organization{
		Name:        cfg.Organization.Name,
		Description: cfg.Organization.Description,
		Website:     cfg.Organization.Website,
	}
	engine := query.NewEngine(query.Options{
		Assembler:    query.NewAssembler(org, sources, gate, dialect, hist),
		LLM:          llmClient,
		Gate:         gate,
		Executor:     executor,
		History:      hist,
		Recorder:     sqliteClient,
		Organization: org,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))

	chatHandler := handlers.NewChatHandler(engine, cfg.Server.CompressionThreshold, cfg.Server.MaxPromptLength)
	wsHandler := handlers.NewWebSocketHandler(chatHandler, limiter)

	validate := validation.Middleware(validation.Config{
		MaxPromptLength: cfg.Server.MaxPromptLength,
		Logger:          appLogger.Named("validation"),
	})

	app.Post("/chat", limiter.Middleware(), validate, chatHandler.HandleChat)
	app.Post("/chat/clear", validate, chatHandler.HandleClear)
	app.Get("/modes", handlers.HandleModes)
	app.Get("/health", handlers.HandleHealth)
	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := app.Shutdown(); err != nil {
		appLogger.Warn("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// buildHistoryStore picks the session store. An unreachable Redis degrades
// to the in-memory store.
func buildHistoryStore(ctx context.Context, cfg *config.Config) (history.Store, func()) {
	ttl := time.Duration(cfg.History.TTLHours) * time.Hour
	if cfg.History.Backend == "redis" {
		client, err := redis.NewClient(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			return client.SessionStore(cfg.History.MaxEntries, ttl), func() { client.Close() }
		}
		appLogger.Warn("Redis unavailable, keeping conversation history in memory", zap.Error(err))
	}
	store := history.NewMemoryStore(cfg.History.MaxEntries, ttl)
	return store, store.Stop
}

func buildPolicyCorpus(ctx context.Context, cfg *config.Config) *policy.Corpus {
	if !cfg.Policy.Enabled {
		return nil
	}
	c := policy.New(policy.NewLoader(policy.LoaderConfig{
		Source:          cfg.Policy.Source,
		CacheFile:       cfg.Policy.CacheFile,
		RefreshInterval: cfg.Policy.RefreshInterval(),
	}))
	if err := c.Load(ctx); err != nil {
		appLogger.Error("Policy corpus disabled", zap.Error(err))
		return nil
	}
	appLogger.Info("Policy corpus loaded", zap.Int("records", c.Len()))
	return c
}

func refreshPolicies(ctx context.Context, c *policy.Corpus) {
	ticker := time.NewTicker(policyRefreshCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// buildSchemaCorpus opens every configured database. A database that cannot
// be reached is served by the mock backend.
func buildSchemaCorpus(ctx context.Context, cfg *config.Config) *schema.Corpus {
	if !cfg.Database.Enabled {
		return nil
	}
	targets := make([]schema.Target, 0, len(cfg.Database.Databases))
	for _, db := range cfg.Database.Databases {
		live, err := schema.OpenLive(ctx, schema.LiveConfig{
			Dialect:         dialectFor(cfg.Database.Driver),
			DSN:             cfg.Database.DSN(db),
			ExcludedSchemas: cfg.Database.ExcludedSchemas,
			ConnectTimeout:  time.Duration(cfg.Database.ConnectTimeout) * time.Second,
		})
		if err != nil {
			appLogger.Warn("Database unreachable, using mock schema",
				zap.String("database", db.Name),
				zap.Error(err),
			)
			targets = append(targets, schema.Target{Name: db.Name, Backend: schema.NewMock()})
			continue
		}
		targets = append(targets, schema.Target{Name: db.Name, Backend: live})
	}
	return schema.New(targets, cfg.Database.SchemaTTL())
}

func dialectFor(driver string) string {
	switch driver {
	case "postgres":
		return schema.DialectPostgres
	case "sqlite3":
		return schema.DialectSQLite
	default:
		return schema.DialectSQLServer
	}
}

func buildDocsCorpus(ctx context.Context, cfg *config.Config) *docs.Corpus {
	if !cfg.Documentation.Enabled {
		return nil
	}
	c, err := docs.Load(ctx, ingestion.NewLoader(ingestion.Config{
		Dir:          cfg.Documentation.Dir,
		FileTypes:    cfg.Documentation.FileTypes,
		ExcludedDirs: cfg.Documentation.ExcludedDirs,
	}))
	if err != nil {
		appLogger.Error("Documentation corpus disabled", zap.Error(err))
		return nil
	}
	appLogger.Info("Documentation corpus loaded", zap.Int("documents", c.Len()))
	return c
}

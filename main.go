package main

import (
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/auth"
	"github.com/fieldline-inc/fieldline-engine/pkg/config"
	"github.com/fieldline-inc/fieldline-engine/pkg/dataverse"
	"github.com/fieldline-inc/fieldline-engine/pkg/handlers"
	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
	fieldmcp "github.com/fieldline-inc/fieldline-engine/pkg/mcp"
	"github.com/fieldline-inc/fieldline-engine/pkg/mcp/tools"
	"github.com/fieldline-inc/fieldline-engine/pkg/scheduling"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("dataverse_base_url", cfg.Dataverse.BaseURL),
		zap.String("api_version", cfg.Dataverse.APIVersion),
		zap.Bool("writes_enabled", cfg.Dataverse.AllowWrites),
		zap.String("timezone", cfg.Scheduling.Timezone),
	)

	tokens := auth.NewClientCredentials(
		cfg.Dataverse.TenantID,
		cfg.Dataverse.ClientID,
		cfg.Dataverse.ClientSecret,
		cfg.Dataverse.BaseURL,
	)
	client := dataverse.NewClient(cfg.Dataverse.BaseURL, cfg.Dataverse.APIVersion, tokens, logger)

	store, err := scheduling.NewFileStore(cfg.Scheduling.IdempotencyFile)
	if err != nil {
		log.Fatalf("Failed to open idempotency store: %v", err)
	}

	service, err := scheduling.NewService(client, store, cfg.Scheduling, cfg.Dataverse.AllowWrites, logger)
	if err != nil {
		log.Fatalf("Failed to build scheduling service: %v", err)
	}

	mcpServer := fieldmcp.NewServer("fieldline-engine", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, cfg.Dataverse.AllowWrites, cfg.Scheduling.Timezone)
	tools.RegisterRecordTools(mcpServer.MCP(), &tools.RecordToolDeps{
		Client:      client,
		AllowWrites: cfg.Dataverse.AllowWrites,
		Logger:      logger,
	})
	tools.RegisterConversationTools(mcpServer.MCP(), &tools.ConversationToolDeps{
		Client: client,
		Logger: logger,
	})
	tools.RegisterSchedulingTools(mcpServer.MCP(), &tools.SchedulingToolDeps{
		Service: service,
		Logger:  logger,
	})

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	mux.Handle("/mcp", mcpServer.HTTPHandler(cfg.MCPBearerToken))

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting fieldline-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
	)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

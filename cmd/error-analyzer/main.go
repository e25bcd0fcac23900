// The error-analyzer serves the IDP diagnostic tools to an LLM agent
// over MCP, on stdio by default or streamable HTTP with MCP_TRANSPORT=http.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/agent"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/awsclients"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/config"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/diagnostics"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/logging"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := awsclients.New(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Fatal("Failed to initialize AWS clients", zap.Error(err))
	}

	tableName, err := tracking.DiscoverTableName(ctx, clients.CloudFormation, cfg.TrackingTable, cfg.StackName)
	if err != nil {
		logger.Warn("Tracking table not resolved; tracking-backed tools will report it missing", zap.Error(err))
	}
	store := tracking.NewStore(clients.DynamoDB, tableName, logger)
	analyzer := diagnostics.New(
		clients.Logs,
		clients.StepFunctions,
		clients.XRay,
		clients.CloudFormation,
		store,
		cfg.Analyzer,
		logger,
	)
	server := agent.New(analyzer, store, cfg.StackName, observability.New(), logger)

	transport := strings.ToLower(os.Getenv("MCP_TRANSPORT"))
	if transport == "http" {
		err = server.ServeHTTP(ctx, cfg.HTTPAddr)
	} else {
		err = server.ServeStdio(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("MCP server stopped: %v", err)
	}
}

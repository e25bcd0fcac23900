// The workforce-url Lambda backs a CloudFormation custom resource that
// resolves the SageMaker workforce portal URL for a workteam created in
// the same stack.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/awsclients"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/config"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/logging"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/workforce"
)

type handler struct {
	resolver *workforce.Resolver
	logger   *zap.Logger
}

func (h *handler) handle(ctx context.Context, event cfn.Event) (physicalResourceID string, data map[string]interface{}, err error) {
	physicalResourceID = fmt.Sprintf("WorkforceURL-%s", event.LogicalResourceID)

	if event.RequestType == cfn.RequestDelete {
		return physicalResourceID, nil, nil
	}

	workteamName, _ := event.ResourceProperties["WorkteamName"].(string)
	info, err := h.resolver.PortalInfo(ctx, workteamName)
	if err != nil {
		h.logger.Error("Failed to resolve workforce portal URL",
			zap.String("workteam", workteamName), zap.Error(err))
		return physicalResourceID, nil, err
	}

	return physicalResourceID, map[string]interface{}{
		"PortalURL":  info.PortalURL,
		"ConsoleURL": info.ConsoleURL,
	}, nil
}

func main() {
	ctx := context.Background()

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

	h := &handler{
		resolver: workforce.NewResolver(clients.SageMaker, clients.Region(), logger),
		logger:   logger,
	}
	lambda.Start(cfn.LambdaWrap(h.handle))
}

// The dataset-deployer Lambda backs a CloudFormation custom resource
// that installs the bundled evaluation test set into the test bucket.
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
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/dataset"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/logging"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
)

type handler struct {
	deployer *dataset.Deployer
	logger   *zap.Logger
}

func (h *handler) handle(ctx context.Context, event cfn.Event) (physicalResourceID string, data map[string]interface{}, err error) {
	testSetID, _ := event.ResourceProperties["TestSetId"].(string)
	if testSetID == "" {
		testSetID = "default"
	}
	physicalResourceID = fmt.Sprintf("TestDataset-%s", testSetID)

	// The dataset is kept on delete: test buckets are emptied by the
	// uninstall path, not by stack updates.
	if event.RequestType == cfn.RequestDelete {
		return physicalResourceID, nil, nil
	}

	targetBucket, _ := event.ResourceProperties["TargetBucket"].(string)
	targetPrefix, _ := event.ResourceProperties["TargetPrefix"].(string)
	if targetBucket == "" {
		return physicalResourceID, nil, fmt.Errorf("TargetBucket property is required")
	}

	result, err := h.deployer.Deploy(ctx, dataset.DeployParams{
		TestSetID:    testSetID,
		TargetBucket: targetBucket,
		TargetPrefix: targetPrefix,
	})
	if err != nil {
		h.logger.Error("Test set deployment failed",
			zap.String("test_set_id", testSetID), zap.Error(err))
		return physicalResourceID, nil, err
	}

	return physicalResourceID, map[string]interface{}{
		"FileCount": fmt.Sprintf("%d", result.FileCount),
		"Version":   result.Version,
		"Skipped":   fmt.Sprintf("%t", result.Skipped),
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

	store := tracking.NewStore(clients.DynamoDB, cfg.TrackingTable, logger)
	h := &handler{
		deployer: dataset.NewDeployer(clients.S3, store, cfg.SourceBucket, cfg.SourcePrefix, logger),
		logger:   logger,
	}
	lambda.Start(cfn.LambdaWrap(h.handle))
}

// The test-file-copier Lambda stages test run files: SQS messages name
// a test run and a file pattern; the handler copies baselines and
// re-copies the input documents under the test run's prefix.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/awsclients"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/config"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/copier"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/logging"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
)

// jobRunner is the copier surface the handler drives.
type jobRunner interface {
	ParseJob(body string) (*copier.CopyJob, error)
	Run(ctx context.Context, job *copier.CopyJob) (*copier.Result, error)
}

type handler struct {
	copier jobRunner
	logger *zap.Logger
}

// handle processes each SQS record independently; failed records are
// reported back so SQS retries them and eventually parks them on the
// dead-letter queue. Malformed messages take the same path: they must
// surface on the DLQ, not vanish.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var response events.SQSEventResponse
	for _, record := range event.Records {
		job, err := h.copier.ParseJob(record.Body)
		if err != nil {
			h.logger.Error("Invalid copy job message",
				zap.String("message_id", record.MessageId), zap.Error(err))
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		if _, err := h.copier.Run(ctx, job); err != nil {
			h.logger.Error("Copy job failed",
				zap.String("test_run_id", job.TestRunID), zap.Error(err))
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return response, nil
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
		copier: copier.New(clients.S3, clients.EventBridge, store, cfg.EventBusName, logger),
		logger: logger,
	}
	lambda.Start(h.handle)
}

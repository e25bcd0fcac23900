// Package diagnostics implements the error-analysis tools for the IDP
// platform: CloudWatch Logs correlation, Step Functions execution
// timelines, X-Ray trace summaries and the composite document and
// system-wide analyses consumed by the error-analyzer agent.
package diagnostics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/config"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
)

// LogsAPI is the subset of the CloudWatch Logs client the analyzer uses.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// StepFunctionsAPI is the subset of the Step Functions client the analyzer uses.
type StepFunctionsAPI interface {
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	GetExecutionHistory(ctx context.Context, params *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
}

// XRayAPI is the subset of the X-Ray client the analyzer uses.
type XRayAPI interface {
	BatchGetTraces(ctx context.Context, params *xray.BatchGetTracesInput, optFns ...func(*xray.Options)) (*xray.BatchGetTracesOutput, error)
	GetTraceSummaries(ctx context.Context, params *xray.GetTraceSummariesInput, optFns ...func(*xray.Options)) (*xray.GetTraceSummariesOutput, error)
	GetServiceGraph(ctx context.Context, params *xray.GetServiceGraphInput, optFns ...func(*xray.Options)) (*xray.GetServiceGraphOutput, error)
}

// CloudFormationAPI is the subset of the CloudFormation client the analyzer uses.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// DocumentStore is the tracking-table lookup surface the analyzer needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, objectKey string) (*tracking.DocumentRecord, bool, error)
	QueryRecentDocuments(ctx context.Context, hoursBack int, limit int) ([]tracking.DocumentRecord, error)
	TableName() string
}

// Analyzer runs the diagnostic queries. A single circuit breaker guards
// the CloudWatch filter calls: the prioritized search fans out over many
// log groups, and a throttled Logs API must not turn one analysis into a
// retry storm.
type Analyzer struct {
	logs      LogsAPI
	sfnClient StepFunctionsAPI
	xrayAPI   XRayAPI
	cfn       CloudFormationAPI
	store     DocumentStore
	limits    config.AnalyzerLimits
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
	now       func() time.Time
}

// New creates an Analyzer.
func New(logs LogsAPI, sfnClient StepFunctionsAPI, xrayAPI XRayAPI, cfn CloudFormationAPI, store DocumentStore, limits config.AnalyzerLimits, logger *zap.Logger) *Analyzer {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cloudwatch-logs",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Analyzer{
		logs:      logs,
		sfnClient: sfnClient,
		xrayAPI:   xrayAPI,
		cfn:       cfn,
		store:     store,
		limits:    limits,
		logger:    logger,
		breaker:   breaker,
		now:       time.Now,
	}
}

// filterLogEvents routes FilterLogEvents calls through the breaker.
func (a *Analyzer) filterLogEvents(ctx context.Context, input *cloudwatchlogs.FilterLogEventsInput) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.logs.FilterLogEvents(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.(*cloudwatchlogs.FilterLogEventsOutput), nil
}

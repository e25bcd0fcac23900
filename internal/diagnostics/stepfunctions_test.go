package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSFNAPI struct {
	describeOut *sfn.DescribeExecutionOutput
	describeErr error
	historyOut  *sfn.GetExecutionHistoryOutput
	historyErr  error
}

func (f *fakeSFNAPI) DescribeExecution(_ context.Context, _ *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
	return f.describeOut, f.describeErr
}

func (f *fakeSFNAPI) GetExecutionHistory(_ context.Context, _ *sfn.GetExecutionHistoryInput, _ ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error) {
	return f.historyOut, f.historyErr
}

func eventTime(second int) *time.Time {
	t := time.Date(2026, 1, 15, 12, 0, second, 0, time.UTC)
	return &t
}

func TestAnalyzeHistoryFailureAttribution(t *testing.T) {
	events := []sfntypes.HistoryEvent{
		{
			Type:      sfntypes.HistoryEventTypeTaskStateEntered,
			Timestamp: eventTime(0),
			StateEnteredEventDetails: &sfntypes.StateEnteredEventDetails{
				Name: aws.String("OCRStep"),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeLambdaFunctionScheduled,
			Timestamp: eventTime(1),
			LambdaFunctionScheduledEventDetails: &sfntypes.LambdaFunctionScheduledEventDetails{
				Resource: aws.String("arn:aws:lambda:us-east-1:123456789012:function:OCRFunction:$LATEST"),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeLambdaFunctionSucceeded,
			Timestamp: eventTime(2),
			LambdaFunctionSucceededEventDetails: &sfntypes.LambdaFunctionSucceededEventDetails{
				Output: aws.String(`{"requestId":"1386c0d2-a9d1-4169-940a-8d35c8899e27"}`),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeLambdaFunctionScheduled,
			Timestamp: eventTime(3),
			LambdaFunctionScheduledEventDetails: &sfntypes.LambdaFunctionScheduledEventDetails{
				Resource: aws.String("arn:aws:lambda:us-east-1:123456789012:function:ClassifyFunction"),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeLambdaFunctionFailed,
			Timestamp: eventTime(4),
			LambdaFunctionFailedEventDetails: &sfntypes.LambdaFunctionFailedEventDetails{
				Error: aws.String("ValidationException"),
				Cause: aws.String(`{"errorMessage":"unknown class","requestId":"abcdef12-a9d1-4169-940a-8d35c8899e27"}`),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeExecutionFailed,
			Timestamp: eventTime(5),
			ExecutionFailedEventDetails: &sfntypes.ExecutionFailedEventDetails{
				Error: aws.String("States.TaskFailed"),
			},
		},
	}

	analysis := analyzeHistory(events)

	assert.Equal(t, []string{"ClassifyFunction"}, analysis.FailedFunctions)
	assert.Equal(t, "ClassifyFunction", analysis.PrimaryFailedFunction)

	require.NotNil(t, analysis.TimelineAnalysis.FailurePoint)
	assert.Equal(t, "ValidationException", analysis.TimelineAnalysis.FailurePoint.Details.Error)
	assert.Equal(t, "ClassifyFunction", analysis.TimelineAnalysis.FailurePoint.Name)

	assert.Equal(t, "1386c0d2-a9d1-4169-940a-8d35c8899e27", analysis.FunctionRequestMap["OCRFunction"])
	assert.Equal(t, "abcdef12-a9d1-4169-940a-8d35c8899e27", analysis.FunctionRequestMap["ClassifyFunction"])
	assert.Len(t, analysis.RequestIDs, 2)
	assert.Equal(t, 6, analysis.EventsCount)
}

func TestAnalyzeHistoryNoFailures(t *testing.T) {
	events := []sfntypes.HistoryEvent{
		{
			Type:      sfntypes.HistoryEventTypeTaskStateEntered,
			Timestamp: eventTime(0),
			StateEnteredEventDetails: &sfntypes.StateEnteredEventDetails{
				Name: aws.String("OCRStep"),
			},
		},
		{
			Type:      sfntypes.HistoryEventTypeTaskStateExited,
			Timestamp: eventTime(1),
			StateExitedEventDetails: &sfntypes.StateExitedEventDetails{
				Name: aws.String("OCRStep"),
			},
		},
	}

	analysis := analyzeHistory(events)

	assert.Empty(t, analysis.FailedFunctions)
	assert.Nil(t, analysis.TimelineAnalysis.FailurePoint)
	assert.Len(t, analysis.TimelineAnalysis.Timeline, 2)
}

func TestExecutionDetails(t *testing.T) {
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	stop := start.Add(90 * time.Second)
	sfnClient := &fakeSFNAPI{
		describeOut: &sfn.DescribeExecutionOutput{
			Status:      sfntypes.ExecutionStatusFailed,
			StartDate:   &start,
			StopDate:    &stop,
			TraceHeader: aws.String("Root=1-5759e988-bd862e3fe1be46a994272793;Sampled=1"),
		},
		historyOut: &sfn.GetExecutionHistoryOutput{},
	}
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, sfnClient, nil, nil, nil)

	analysis, err := analyzer.ExecutionDetails(context.Background(),
		"arn:aws:states:us-east-1:123456789012:execution:IDP:run-1")
	require.NoError(t, err)

	assert.Equal(t, "FAILED", analysis.ExecutionStatus)
	assert.InDelta(t, 90.0, analysis.DurationSeconds, 0.001)
	assert.Equal(t, "1-5759e988-bd862e3fe1be46a994272793", analysis.TraceID)
	assert.Contains(t, analysis.AnalysisSummary, "FAILED")
}

func TestFunctionNameFromResource(t *testing.T) {
	assert.Equal(t, "OCRFunction",
		functionNameFromResource("arn:aws:lambda:us-east-1:123456789012:function:OCRFunction"))
	assert.Equal(t, "OCRFunction",
		functionNameFromResource("arn:aws:lambda:us-east-1:123456789012:function:OCRFunction:$LATEST"))
	assert.Equal(t, "startExecution.sync",
		functionNameFromResource("arn:aws:states:::states:startExecution.sync"))
	assert.Equal(t, "", functionNameFromResource(""))
}

func TestTraceIDFromHeader(t *testing.T) {
	assert.Equal(t, "1-5759e988-bd862e3fe1be46a994272793",
		traceIDFromHeader("Root=1-5759e988-bd862e3fe1be46a994272793;Sampled=1"))
	assert.Equal(t, "", traceIDFromHeader("Sampled=1"))
	assert.Equal(t, "", traceIDFromHeader(""))
}

package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

func TestErrorSignatureFoldsVaryingParts(t *testing.T) {
	first := "[ERROR] 2025-10-22T18:35:40.357Z RequestId: 1386c0d2-a9d1-4169-940a-8d35c8899e27 boom"
	second := "[ERROR] 2025-10-23T09:12:01.001Z RequestId: abcdef12-a9d1-4169-940a-8d35c8899e27 boom"

	assert.Equal(t, errorSignature(first), errorSignature(second))
	assert.NotEqual(t, errorSignature(first), errorSignature("[ERROR] different failure"))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"ValidationException: bad document class", "validation"},
		{"Task timed out after 30.00 seconds", "timeout"},
		{"AccessDenied when calling GetObject", "access"},
		{"User is unauthorized to perform dynamodb:Query", "access"},
		{"ThrottlingException: rate exceeded", "throttling"},
		{"NullPointerException in handler", "processing"},
		{"disk full", "system"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.message), tt.message)
	}
}

func TestAnalyzeSystemHealthy(t *testing.T) {
	cfn := &fakeCFNAPI{out: stackWithOutputs(nil)}
	logs := &fakeLogsAPI{
		describeOut: &cloudwatchlogs.DescribeLogGroupsOutput{
			LogGroups: []cwtypes.LogGroup{
				{LogGroupName: aws.String("/aws/lambda/IDP-PATTERN2-OCRFunction"), CreationTime: aws.Int64(1)},
			},
		},
	}
	xrayAPI := &fakeXRayAPI{
		summariesOut: &xray.GetTraceSummariesOutput{},
		graphOut:     &xray.GetServiceGraphOutput{},
	}
	store := &fakeDocumentStore{}
	analyzer := newTestAnalyzer(logs, nil, xrayAPI, cfn, store)

	analysis, err := analyzer.AnalyzeSystem(context.Background(), "IDP-PATTERN2", 24)
	require.NoError(t, err)

	assert.Empty(t, analysis.ErrorGroups)
	assert.Empty(t, analysis.FailedDocuments)
	assert.Equal(t, 0, analysis.ErrorsEstimate)
	assert.Contains(t, analysis.AnalysisSummary, "No errors found")
	require.Len(t, analysis.Recommendations, 1)
	assert.Contains(t, analysis.Recommendations[0], "healthy")
}

func TestAnalyzeSystemRequiresTrackingTable(t *testing.T) {
	store := &fakeDocumentStore{noTable: true}
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, nil, &fakeXRayAPI{}, &fakeCFNAPI{out: stackWithOutputs(nil)}, store)

	_, err := analyzer.AnalyzeSystem(context.Background(), "IDP-PATTERN2", 24)
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "TrackingTable not found")
}

func TestAnalyzeSystemSurfacesTrackingQueryFailure(t *testing.T) {
	cfn := &fakeCFNAPI{out: stackWithOutputs(nil)}
	logs := &fakeLogsAPI{
		describeOut: &cloudwatchlogs.DescribeLogGroupsOutput{
			LogGroups: []cwtypes.LogGroup{
				{LogGroupName: aws.String("/aws/lambda/IDP-PATTERN2-OCRFunction"), CreationTime: aws.Int64(1)},
			},
		},
	}
	store := &fakeDocumentStore{recentErr: errors.New("provisioned throughput exceeded")}
	analyzer := newTestAnalyzer(logs, nil, &fakeXRayAPI{}, cfn, store)

	_, err := analyzer.AnalyzeSystem(context.Background(), "IDP-PATTERN2", 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking table")
}

func TestAnalyzeSystemGroupsAndCategorizes(t *testing.T) {
	cfn := &fakeCFNAPI{out: stackWithOutputs(nil)}
	logGroup := "/aws/lambda/IDP-PATTERN2-OCRFunction"
	logs := &fakeLogsAPI{
		describeOut: &cloudwatchlogs.DescribeLogGroupsOutput{
			LogGroups: []cwtypes.LogGroup{
				{LogGroupName: aws.String(logGroup), CreationTime: aws.Int64(1)},
			},
		},
		filterOutputs: map[string]*cloudwatchlogs.FilterLogEventsOutput{
			logGroup: {Events: []cwtypes.FilteredLogEvent{
				{Message: aws.String("[ERROR] 2025-10-22T18:35:40.357Z RequestId: 1386c0d2-a9d1-4169-940a-8d35c8899e27 Task timed out"), Timestamp: aws.Int64(1)},
				{Message: aws.String("[ERROR] 2025-10-23T09:12:01.001Z RequestId: abcdef12-a9d1-4169-940a-8d35c8899e27 Task timed out"), Timestamp: aws.Int64(2)},
			}},
		},
	}
	xrayAPI := &fakeXRayAPI{
		summariesOut: &xray.GetTraceSummariesOutput{},
		graphOut:     &xray.GetServiceGraphOutput{},
	}
	store := &fakeDocumentStore{
		recent: []tracking.DocumentRecord{
			{ObjectKey: "invoice.pdf", ObjectStatus: "FAILED", ErrorMessage: "boom"},
			{ObjectKey: "receipt.pdf", ObjectStatus: "COMPLETED"},
		},
	}
	analyzer := newTestAnalyzer(logs, nil, xrayAPI, cfn, store)

	analysis, err := analyzer.AnalyzeSystem(context.Background(), "IDP-PATTERN2", 24)
	require.NoError(t, err)

	// the timestamp/request-ID variants fold into one signature across
	// every pattern search
	require.Len(t, analysis.ErrorGroups, 1)
	assert.Equal(t, "timeout", analysis.ErrorGroups[0].Category)
	assert.GreaterOrEqual(t, analysis.ErrorGroups[0].Count, 2)

	// quick "ERROR" pre-scan sizes the problem before collection
	assert.Equal(t, 2, analysis.ErrorsEstimate)

	require.Len(t, analysis.FailedDocuments, 1)
	assert.Equal(t, "invoice.pdf", analysis.FailedDocuments[0].ObjectKey)
	assert.Equal(t, 50, store.recentLimit)

	assert.NotEmpty(t, analysis.Recommendations)
}

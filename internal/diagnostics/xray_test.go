package diagnostics

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	xraytypes "github.com/aws/aws-sdk-go-v2/service/xray/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeXRayAPI struct {
	batchOut     *xray.BatchGetTracesOutput
	summariesOut *xray.GetTraceSummariesOutput
	graphOut     *xray.GetServiceGraphOutput
}

func (f *fakeXRayAPI) BatchGetTraces(_ context.Context, _ *xray.BatchGetTracesInput, _ ...func(*xray.Options)) (*xray.BatchGetTracesOutput, error) {
	return f.batchOut, nil
}

func (f *fakeXRayAPI) GetTraceSummaries(_ context.Context, _ *xray.GetTraceSummariesInput, _ ...func(*xray.Options)) (*xray.GetTraceSummariesOutput, error) {
	return f.summariesOut, nil
}

func (f *fakeXRayAPI) GetServiceGraph(_ context.Context, _ *xray.GetServiceGraphInput, _ ...func(*xray.Options)) (*xray.GetServiceGraphOutput, error) {
	return f.graphOut, nil
}

func TestParseSegmentDocument(t *testing.T) {
	doc := `{"name":"OCRFunction","origin":"AWS::Lambda","start_time":1700000000.0,"end_time":1700000012.5,"error":false,"fault":true}`

	entry := parseSegmentDocument(doc)

	assert.Equal(t, "OCRFunction", entry.Name)
	assert.Equal(t, "AWS::Lambda", entry.Origin)
	assert.InDelta(t, 12500.0, entry.DurationMS, 0.001)
	assert.False(t, entry.HasError)
	assert.True(t, entry.HasFault)
	assert.Contains(t, entry.StartTime, "2023-11-14T")
}

func TestDocumentTrace(t *testing.T) {
	xrayAPI := &fakeXRayAPI{
		batchOut: &xray.BatchGetTracesOutput{
			Traces: []xraytypes.Trace{{
				Segments: []xraytypes.Segment{
					{Document: aws.String(`{"name":"OCRFunction","start_time":1700000000.0,"end_time":1700000015.0,"error":true}`)},
					{Document: aws.String(`{"name":"ClassifyFunction","start_time":1700000015.0,"end_time":1700000016.0,"fault":true}`)},
					{Document: aws.String(`{}`)},
				},
			}},
		},
	}
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, nil, xrayAPI, nil, nil)

	analysis, err := analyzer.DocumentTrace(context.Background(), "1-5759e988-bd862e3fe1be46a994272793")
	require.NoError(t, err)

	assert.True(t, analysis.TraceFound)
	assert.Equal(t, 2, analysis.TotalServices)
	assert.Equal(t, 1, analysis.TotalErrors)
	assert.Equal(t, 1, analysis.TotalFaults)
	// 15s segment exceeds the slow-segment threshold
	assert.True(t, analysis.HasPerformanceIssues)
	// timeline ordered by start time
	assert.Equal(t, "OCRFunction", analysis.ServiceTimeline[0].Name)
}

func TestDocumentTraceEmptyID(t *testing.T) {
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, nil, &fakeXRayAPI{}, nil, nil)

	analysis, err := analyzer.DocumentTrace(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, analysis.TraceFound)
}

func TestStackTracesFiltersByStack(t *testing.T) {
	xrayAPI := &fakeXRayAPI{
		summariesOut: &xray.GetTraceSummariesOutput{
			TraceSummaries: []xraytypes.TraceSummary{
				{
					HasError:   aws.Bool(true),
					ServiceIds: []xraytypes.ServiceId{{Name: aws.String("IDP-PATTERN2-OCRFunction")}},
				},
				{
					HasFault:   aws.Bool(true),
					ServiceIds: []xraytypes.ServiceId{{Name: aws.String("OtherStack-Function")}},
				},
				{
					HasThrottle: aws.Bool(true),
					ServiceIds:  []xraytypes.ServiceId{{Name: aws.String("IDP-PATTERN2-ClassifyFunction")}},
				},
			},
		},
	}
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, nil, xrayAPI, nil, nil)

	summary, err := analyzer.StackTraces(context.Background(), "IDP-PATTERN2", 24)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TracesFound)
	assert.Equal(t, 1, summary.TotalErrors)
	assert.Equal(t, 0, summary.TotalFaults)
	assert.Equal(t, 1, summary.TotalThrottles)
	assert.InDelta(t, 0.5, summary.ErrorRate, 0.001)
	assert.Len(t, summary.ServicesInvolved, 2)
}

func TestServiceMapFlagsUnhealthyServices(t *testing.T) {
	xrayAPI := &fakeXRayAPI{
		graphOut: &xray.GetServiceGraphOutput{
			Services: []xraytypes.Service{
				{
					Name: aws.String("healthy-service"),
					SummaryStatistics: &xraytypes.ServiceStatistics{
						TotalCount:        aws.Int64(100),
						TotalResponseTime: aws.Float64(10), // 100ms avg
						ErrorStatistics:   &xraytypes.ErrorStatistics{TotalCount: aws.Int64(1)},
					},
				},
				{
					Name: aws.String("failing-service"),
					SummaryStatistics: &xraytypes.ServiceStatistics{
						TotalCount:      aws.Int64(100),
						FaultStatistics: &xraytypes.FaultStatistics{TotalCount: aws.Int64(10)},
					},
				},
				{
					Name: aws.String("slow-service"),
					SummaryStatistics: &xraytypes.ServiceStatistics{
						TotalCount:        aws.Int64(10),
						TotalResponseTime: aws.Float64(20), // 2s avg
					},
				},
			},
		},
	}
	analyzer := newTestAnalyzer(&fakeLogsAPI{}, nil, xrayAPI, nil, nil)

	summary, err := analyzer.ServiceMap(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ServicesFound)
	assert.Equal(t, []string{"failing-service"}, summary.HighErrorServices)
	assert.Equal(t, []string{"slow-service"}, summary.SlowServices)
}

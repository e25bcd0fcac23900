package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// TimelineEvent is one step in the execution timeline.
type TimelineEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
}

// FailureDetails carries the error and cause of a failed event.
type FailureDetails struct {
	Error string `json:"error,omitempty"`
	Cause string `json:"cause,omitempty"`
}

// FailurePoint is the first failing event of an execution.
type FailurePoint struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Details   FailureDetails `json:"details"`
}

// TimelineAnalysis summarizes the execution history.
type TimelineAnalysis struct {
	Timeline     []TimelineEvent `json:"timeline"`
	FailurePoint *FailurePoint   `json:"failure_point,omitempty"`
}

// ExecutionAnalysis is the full Step Functions execution report.
type ExecutionAnalysis struct {
	ExecutionARN          string            `json:"execution_arn"`
	ExecutionStatus       string            `json:"execution_status"`
	StartTime             string            `json:"start_time,omitempty"`
	StopTime              string            `json:"stop_time,omitempty"`
	DurationSeconds       float64           `json:"duration_seconds"`
	TimelineAnalysis      TimelineAnalysis  `json:"timeline_analysis"`
	FailedFunctions       []string          `json:"failed_functions"`
	PrimaryFailedFunction string            `json:"primary_failed_function,omitempty"`
	RequestIDs            []string          `json:"lambda_request_ids"`
	FunctionRequestMap    map[string]string `json:"function_request_map"`
	EventsCount           int               `json:"execution_events_count"`
	AnalysisSummary       string            `json:"analysis_summary"`
	TraceID               string            `json:"trace_id,omitempty"`
}

// ExecutionDetails describes an execution and analyzes its history.
func (a *Analyzer) ExecutionDetails(ctx context.Context, executionARN string) (*ExecutionAnalysis, error) {
	desc, err := a.sfnClient.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionARN),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to describe execution %q", executionARN))
	}

	history, err := a.sfnClient.GetExecutionHistory(ctx, &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(executionARN),
		MaxResults:   500,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to get execution history for %q", executionARN))
	}

	analysis := analyzeHistory(history.Events)
	analysis.ExecutionARN = executionARN
	analysis.ExecutionStatus = string(desc.Status)
	if desc.StartDate != nil {
		analysis.StartTime = desc.StartDate.UTC().Format(time.RFC3339)
	}
	if desc.StopDate != nil {
		analysis.StopTime = desc.StopDate.UTC().Format(time.RFC3339)
		if desc.StartDate != nil {
			analysis.DurationSeconds = desc.StopDate.Sub(*desc.StartDate).Seconds()
		}
	}
	analysis.TraceID = traceIDFromHeader(aws.ToString(desc.TraceHeader))
	analysis.AnalysisSummary = summarizeExecution(analysis)
	return analysis, nil
}

// analyzeHistory walks the history events and produces the timeline,
// the failure point, the failed Lambda functions and any request IDs
// recoverable from event payloads.
func analyzeHistory(events []sfntypes.HistoryEvent) *ExecutionAnalysis {
	analysis := &ExecutionAnalysis{
		FailedFunctions:    []string{},
		RequestIDs:         []string{},
		FunctionRequestMap: map[string]string{},
		EventsCount:        len(events),
	}

	// The most recently scheduled resource names the function any
	// following failed/succeeded event belongs to.
	currentFunction := ""
	seenIDs := map[string]bool{}
	recordRequestID := func(payload string) {
		id := extractRequestIDFromMessage(payload)
		if id == "" || seenIDs[id] {
			return
		}
		seenIDs[id] = true
		analysis.RequestIDs = append(analysis.RequestIDs, id)
		if currentFunction != "" {
			if _, ok := analysis.FunctionRequestMap[currentFunction]; !ok {
				analysis.FunctionRequestMap[currentFunction] = id
			}
		}
	}
	recordFailure := func(ev sfntypes.HistoryEvent, errStr, cause string) {
		if currentFunction != "" && !contains(analysis.FailedFunctions, currentFunction) {
			analysis.FailedFunctions = append(analysis.FailedFunctions, currentFunction)
		}
		if analysis.TimelineAnalysis.FailurePoint == nil {
			analysis.TimelineAnalysis.FailurePoint = &FailurePoint{
				Timestamp: formatEventTime(ev.Timestamp),
				Type:      string(ev.Type),
				Name:      currentFunction,
				Details:   FailureDetails{Error: errStr, Cause: cause},
			}
		}
	}

	for _, ev := range events {
		switch {
		case ev.StateEnteredEventDetails != nil:
			analysis.TimelineAnalysis.Timeline = append(analysis.TimelineAnalysis.Timeline, TimelineEvent{
				Timestamp: formatEventTime(ev.Timestamp),
				Type:      string(ev.Type),
				Name:      aws.ToString(ev.StateEnteredEventDetails.Name),
			})

		case ev.StateExitedEventDetails != nil:
			analysis.TimelineAnalysis.Timeline = append(analysis.TimelineAnalysis.Timeline, TimelineEvent{
				Timestamp: formatEventTime(ev.Timestamp),
				Type:      string(ev.Type),
				Name:      aws.ToString(ev.StateExitedEventDetails.Name),
			})

		case ev.LambdaFunctionScheduledEventDetails != nil:
			currentFunction = functionNameFromResource(aws.ToString(ev.LambdaFunctionScheduledEventDetails.Resource))

		case ev.TaskScheduledEventDetails != nil:
			currentFunction = functionNameFromResource(aws.ToString(ev.TaskScheduledEventDetails.Resource))
			recordRequestID(aws.ToString(ev.TaskScheduledEventDetails.Parameters))

		case ev.LambdaFunctionSucceededEventDetails != nil:
			recordRequestID(aws.ToString(ev.LambdaFunctionSucceededEventDetails.Output))

		case ev.TaskSucceededEventDetails != nil:
			recordRequestID(aws.ToString(ev.TaskSucceededEventDetails.Output))

		case ev.LambdaFunctionFailedEventDetails != nil:
			details := ev.LambdaFunctionFailedEventDetails
			recordRequestID(aws.ToString(details.Cause))
			recordFailure(ev, aws.ToString(details.Error), aws.ToString(details.Cause))

		case ev.TaskFailedEventDetails != nil:
			details := ev.TaskFailedEventDetails
			recordRequestID(aws.ToString(details.Cause))
			recordFailure(ev, aws.ToString(details.Error), aws.ToString(details.Cause))

		case ev.ExecutionFailedEventDetails != nil:
			details := ev.ExecutionFailedEventDetails
			recordFailure(ev, aws.ToString(details.Error), aws.ToString(details.Cause))
		}
	}

	if len(analysis.FailedFunctions) > 0 {
		analysis.PrimaryFailedFunction = analysis.FailedFunctions[0]
	}
	return analysis
}

// summarizeExecution builds the one-line workflow summary.
func summarizeExecution(analysis *ExecutionAnalysis) string {
	summary := fmt.Sprintf("Execution %s", analysis.ExecutionStatus)
	if analysis.DurationSeconds > 0 {
		summary += fmt.Sprintf(" after %.1fs", analysis.DurationSeconds)
	}
	if fp := analysis.TimelineAnalysis.FailurePoint; fp != nil {
		if fp.Name != "" {
			summary += fmt.Sprintf(", failed at %s", fp.Name)
		}
		if fp.Details.Error != "" {
			summary += fmt.Sprintf(" (%s)", fp.Details.Error)
		}
	}
	return summary
}

// functionNameFromResource extracts a Lambda function name from a task
// resource ARN. Non-Lambda resources keep their last ARN segment.
func functionNameFromResource(resource string) string {
	if resource == "" {
		return ""
	}
	if idx := strings.Index(resource, ":function:"); idx >= 0 {
		name := resource[idx+len(":function:"):]
		// Strip qualifier/alias if present.
		if colon := strings.Index(name, ":"); colon >= 0 {
			name = name[:colon]
		}
		return name
	}
	parts := strings.Split(resource, ":")
	return parts[len(parts)-1]
}

// traceIDFromHeader extracts the X-Ray trace ID from a trace header
// like "Root=1-5759e988-bd862e3fe1be46a994272793;Sampled=1".
func traceIDFromHeader(header string) string {
	for _, part := range strings.Split(header, ";") {
		if strings.HasPrefix(part, "Root=") {
			return strings.TrimPrefix(part, "Root=")
		}
	}
	return ""
}

func formatEventTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

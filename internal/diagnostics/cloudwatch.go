package diagnostics

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// errorPatterns are filter patterns whose results mix in INFO noise, so
// the raw search limit is widened and results are post-filtered.
var errorPatterns = map[string]bool{
	"[ERROR]":   true,
	"[WARN]":    true,
	"ERROR:":    true,
	"WARN:":     true,
	"Exception": true,
	"Failed":    true,
}

// lambdaSystemPrefixes mark Lambda runtime bookkeeping lines.
var lambdaSystemPrefixes = []string{"INIT_START", "START", "END", "REPORT"}

// requestIDLinePattern matches the standard Lambda log line:
// [LEVEL] 2025-10-22T18:35:40.357Z 1386c0d2-a9d1-4169-940a-8d35c8899e27 message
var requestIDLinePattern = regexp.MustCompile(
	`\[\w+\]\s+\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\s+([a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12})`)

// uuidPattern is the fallback when the line layout is non-standard.
var uuidPattern = regexp.MustCompile(`(?i)([a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12})`)

// LogEvent is a single matched CloudWatch log event.
type LogEvent struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	LogStream string `json:"log_stream"`
}

// SearchParams configure one log-group search.
type SearchParams struct {
	LogGroup      string
	FilterPattern string
	HoursBack     int
	MaxEvents     int
	StartTime     time.Time
	EndTime       time.Time
	RequestID     string
}

// SearchResult is the outcome of one log-group search.
type SearchResult struct {
	LogGroup      string     `json:"log_group"`
	EventsFound   int        `json:"events_found"`
	Events        []LogEvent `json:"events"`
	FilterPattern string     `json:"filter_pattern"`
	RequestIDUsed string     `json:"request_id_used,omitempty"`
	Strategy      string     `json:"search_strategy"`
}

// buildFilterPattern builds the CloudWatch filter with request-ID
// priority: the request ID alone is the most precise filter, the base
// pattern (colons stripped, they are filter syntax) is the fallback.
func buildFilterPattern(basePattern, requestID string) string {
	if requestID != "" {
		return requestID
	}
	if basePattern != "" {
		return strings.ReplaceAll(basePattern, ":", "")
	}
	return ""
}

// SearchLogs searches a single log group for matching events.
func (a *Analyzer) SearchLogs(ctx context.Context, params SearchParams) (*SearchResult, error) {
	searchStart, searchEnd := params.StartTime, params.EndTime
	if searchStart.IsZero() || searchEnd.IsZero() {
		hoursBack := positiveOr(params.HoursBack, 24)
		searchEnd = a.now().UTC()
		searchStart = searchEnd.Add(-time.Duration(hoursBack) * time.Hour)
	}

	maxEvents := positiveOr(params.MaxEvents, 10)

	// Error-pattern searches return INFO lines that mention the word, so
	// fetch extra and filter below.
	searchLimit := maxEvents
	isErrorPattern := errorPatterns[params.FilterPattern]
	if isErrorPattern {
		searchLimit = maxEvents * 5
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(params.LogGroup),
		StartTime:    aws.Int64(searchStart.UnixMilli()),
		EndTime:      aws.Int64(searchEnd.UnixMilli()),
		Limit:        aws.Int32(int32(searchLimit)),
	}
	finalPattern := buildFilterPattern(params.FilterPattern, params.RequestID)
	if finalPattern != "" {
		input.FilterPattern = aws.String(finalPattern)
	}

	a.logger.Debug("Searching CloudWatch logs",
		zap.String("log_group", params.LogGroup),
		zap.String("filter_pattern", finalPattern),
	)
	out, err := a.filterLogEvents(ctx, input)
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("CloudWatch search failed for log group %q", params.LogGroup))
	}

	events := make([]LogEvent, 0, maxEvents)
	for _, event := range out.Events {
		message := aws.ToString(event.Message)

		if isErrorPattern && isNonErrorLine(message) {
			continue
		}

		events = append(events, LogEvent{
			Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC().Format(time.RFC3339),
			Message:   message,
			LogStream: aws.ToString(event.LogStreamName),
		})
		if len(events) >= maxEvents {
			break
		}
	}

	strategy := "pattern"
	if params.RequestID != "" {
		strategy = "request_id"
	}
	return &SearchResult{
		LogGroup:      params.LogGroup,
		EventsFound:   len(events),
		Events:        events,
		FilterPattern: finalPattern,
		RequestIDUsed: params.RequestID,
		Strategy:      strategy,
	}, nil
}

// isNonErrorLine reports whether a line is INFO noise or Lambda runtime
// bookkeeping that should be dropped from error searches.
func isNonErrorLine(message string) bool {
	trimmed := strings.TrimSpace(message)
	if strings.HasPrefix(trimmed, "[INFO]") {
		return true
	}
	for _, prefix := range lambdaSystemPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// LogGroupInfo describes one discovered log group.
type LogGroupInfo struct {
	Name         string `json:"name"`
	CreationTime string `json:"creation_time"`
	Retention    string `json:"retention_days"`
	SizeBytes    int64  `json:"size_bytes"`
}

// LogGroupList is the result of a prefix-scoped log-group listing.
type LogGroupList struct {
	LogGroupsFound int            `json:"log_groups_found"`
	LogGroups      []LogGroupInfo `json:"log_groups"`
	Warning        string         `json:"warning,omitempty"`
}

// ListLogGroups lists log groups under a prefix. Short prefixes would
// enumerate the whole account, so they return an empty listing with a
// warning instead.
func (a *Analyzer) ListLogGroups(ctx context.Context, prefix string) (*LogGroupList, error) {
	if len(prefix) < 5 {
		return &LogGroupList{Warning: "Empty prefix provided"}, nil
	}

	out, err := a.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(prefix),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to list log groups with prefix %q", prefix))
	}

	groups := make([]LogGroupInfo, 0, len(out.LogGroups))
	for _, group := range out.LogGroups {
		retention := "Never expire"
		if group.RetentionInDays != nil {
			retention = fmt.Sprintf("%d", aws.ToInt32(group.RetentionInDays))
		}
		groups = append(groups, LogGroupInfo{
			Name:         aws.ToString(group.LogGroupName),
			CreationTime: time.UnixMilli(aws.ToInt64(group.CreationTime)).UTC().Format(time.RFC3339),
			Retention:    retention,
			SizeBytes:    aws.ToInt64(group.StoredBytes),
		})
	}
	return &LogGroupList{LogGroupsFound: len(groups), LogGroups: groups}, nil
}

// PrefixInfo describes the log-group prefix derived for a stack.
type PrefixInfo struct {
	StackName       string `json:"stack_name"`
	PrefixType      string `json:"prefix_type"`
	LogGroupPrefix  string `json:"log_group_prefix"`
	NestedStackName string `json:"nested_stack_name,omitempty"`
}

// LogGroupPrefix determines the CloudWatch log-group prefix for a stack.
// A StateMachineArn stack output yields a pattern prefix derived from
// the state machine name; otherwise the conventional Lambda prefix for
// the stack is used.
func (a *Analyzer) LogGroupPrefix(ctx context.Context, stackName string) (*PrefixInfo, error) {
	out, err := a.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to determine log group prefix for stack %q", stackName))
	}

	if len(out.Stacks) > 0 {
		for _, output := range out.Stacks[0].Outputs {
			if aws.ToString(output.OutputKey) != "StateMachineArn" {
				continue
			}
			extracted := extractPrefixFromStateMachineARN(aws.ToString(output.OutputValue))
			if extracted != "" {
				return &PrefixInfo{
					StackName:       stackName,
					PrefixType:      "pattern",
					LogGroupPrefix:  fmt.Sprintf("/%s/lambda", extracted),
					NestedStackName: extracted,
				}, nil
			}
		}
	}

	return &PrefixInfo{
		StackName:      stackName,
		PrefixType:     "main",
		LogGroupPrefix: fmt.Sprintf("/aws/lambda/%s", stackName),
	}, nil
}

// extractPrefixFromStateMachineARN derives the nested-stack prefix from
// a Step Functions state machine ARN.
func extractPrefixFromStateMachineARN(arn string) string {
	if !strings.Contains(arn, ":stateMachine:") {
		return ""
	}
	parts := strings.Split(arn, ":stateMachine:")
	name := parts[len(parts)-1]
	if strings.Contains(name, "-DocumentProcessingWorkflow") {
		return strings.ReplaceAll(name, "-DocumentProcessingWorkflow", "")
	}
	segments := strings.Split(name, "-")
	if len(segments) > 1 {
		return strings.Join(segments[:len(segments)-1], "-")
	}
	return ""
}

// RequestIDExtraction maps Lambda functions to request IDs recovered
// from their logs.
type RequestIDExtraction struct {
	FunctionRequestMap map[string]string `json:"function_request_map"`
	AllRequestIDs      []string          `json:"all_request_ids"`
	ExtractionMethod   string            `json:"extraction_method"`
	Success            bool              `json:"extraction_success"`
}

// ExtractRequestIDs recovers Lambda request IDs from CloudWatch logs
// within an execution's time window. Used when the Step Functions
// history carries no usable request IDs.
func (a *Analyzer) ExtractRequestIDs(ctx context.Context, logGroups []string, executionID string, start, end time.Time) *RequestIDExtraction {
	result := &RequestIDExtraction{
		FunctionRequestMap: map[string]string{},
		ExtractionMethod:   "cloudwatch_logs",
	}

	a.logger.Info("Extracting request IDs from CloudWatch logs",
		zap.Int("log_groups", len(logGroups)),
		zap.String("execution_id", executionID),
	)

	// First 5 groups only, the window already bounds the search.
	if len(logGroups) > 5 {
		logGroups = logGroups[:5]
	}
	seen := map[string]bool{}
	for _, logGroup := range logGroups {
		out, err := a.filterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(logGroup),
			StartTime:    aws.Int64(start.UnixMilli()),
			EndTime:      aws.Int64(end.UnixMilli()),
			Limit:        aws.Int32(50),
		})
		if err != nil {
			a.logger.Debug("Failed to search log group", zap.String("log_group", logGroup), zap.Error(err))
			continue
		}

		for _, event := range out.Events {
			requestID := extractRequestIDFromMessage(aws.ToString(event.Message))
			if requestID == "" || seen[requestID] {
				continue
			}
			functionName := functionNameFromLogGroup(logGroup)
			if functionName == "" {
				continue
			}
			result.FunctionRequestMap[functionName] = requestID
			result.AllRequestIDs = append(result.AllRequestIDs, requestID)
			seen[requestID] = true
			a.logger.Info("Extracted request ID from CloudWatch logs",
				zap.String("request_id", requestID),
				zap.String("function", functionName),
			)
			break // one request ID per function is sufficient
		}
	}

	result.Success = len(result.AllRequestIDs) > 0
	return result
}

// extractRequestIDFromMessage pulls a Lambda request ID out of a log line.
func extractRequestIDFromMessage(message string) string {
	if message == "" {
		return ""
	}
	if m := requestIDLinePattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if m := uuidPattern.FindStringSubmatch(message); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// functionNameFromLogGroup extracts the Lambda function name from a log
// group name like /aws/lambda/FunctionName or /prefix/lambda/FunctionName.
func functionNameFromLogGroup(logGroup string) string {
	if idx := strings.LastIndex(logGroup, "/lambda/"); idx >= 0 {
		return logGroup[idx+len("/lambda/"):]
	}
	if idx := strings.LastIndex(logGroup, "/"); idx >= 0 {
		return logGroup[idx+1:]
	}
	return logGroup
}

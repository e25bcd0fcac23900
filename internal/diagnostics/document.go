package diagnostics

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// failureKeywords post-filter document-identifier matches: a hit on the
// document name alone is usually routine processing chatter.
var failureKeywords = []string{"ERROR", "EXCEPTION", "FAILED", "TIMEOUT"}

// DocumentStatus is the tracking-table view of one document.
type DocumentStatus struct {
	ObjectKey        string `json:"object_key"`
	ObjectStatus     string `json:"object_status"`
	InitialEventTime string `json:"initial_event_time,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	CompletionTime   string `json:"completion_time,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	EvaluationStatus string `json:"evaluation_status,omitempty"`
	ExecutionARN     string `json:"workflow_execution_arn,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
}

// DocumentLogSearch is the outcome of the prioritized log search for a
// document.
type DocumentLogSearch struct {
	SearchStrategy    string     `json:"search_strategy"`
	LogGroupsSearched int        `json:"log_groups_searched"`
	EventsFound       int        `json:"events_found"`
	Events            []LogEvent `json:"events"`
}

// DocumentAnalysis is the composite per-document diagnostic report.
type DocumentAnalysis struct {
	DocumentFound     bool               `json:"document_found"`
	ObjectKey         string             `json:"object_key"`
	DocumentStatus    *DocumentStatus    `json:"document_status,omitempty"`
	ExecutionAnalysis *ExecutionAnalysis `json:"execution_analysis,omitempty"`
	LogAnalysis       *DocumentLogSearch `json:"log_analysis,omitempty"`
	TraceAnalysis     *TraceAnalysis     `json:"trace_analysis,omitempty"`
	AnalysisSummary   string             `json:"analysis_summary"`
	Recommendations   []string           `json:"recommendations"`
}

// AnalyzeDocument runs the full diagnostic pipeline for one document:
// tracking record, Step Functions execution, prioritized log search and
// X-Ray trace, merged into a single report sized for an agent context.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, objectKey, stackName string) (*DocumentAnalysis, error) {
	record, found, err := a.store.GetDocument(ctx, objectKey)
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to look up document %q", objectKey))
	}
	if !found {
		return &DocumentAnalysis{
			ObjectKey:       objectKey,
			AnalysisSummary: fmt.Sprintf("Document %q was not found in the tracking table", objectKey),
			Recommendations: []string{
				"Verify the document key is correct, including any prefix",
				"Check that the document was uploaded to the input bucket",
				"Confirm the processing workflow was triggered for this document",
				"List recent documents to locate the correct object key",
			},
		}, nil
	}

	analysis := &DocumentAnalysis{
		DocumentFound: true,
		ObjectKey:     objectKey,
		DocumentStatus: &DocumentStatus{
			ObjectKey:        record.ObjectKey,
			ObjectStatus:     record.ObjectStatus,
			InitialEventTime: record.InitialEventTime,
			StartTime:        record.StartTime,
			CompletionTime:   record.CompletionTime,
			ErrorMessage:     truncateMessage(record.ErrorMessage, a.limits.MaxErrorLength),
			EvaluationStatus: record.EvaluationStatus,
			ExecutionARN:     record.WorkflowExecutionArn,
			TraceID:          record.TraceID,
		},
	}

	if record.WorkflowExecutionArn != "" {
		execution, err := a.ExecutionDetails(ctx, record.WorkflowExecutionArn)
		if err != nil {
			// The execution may have aged out of Step Functions history;
			// logs and traces can still tell the story.
			a.logger.Warn("Failed to analyze workflow execution",
				zap.String("execution_arn", record.WorkflowExecutionArn),
				zap.Error(err),
			)
		} else {
			analysis.ExecutionAnalysis = execution
		}
	}

	logSearch, err := a.DocumentLogs(ctx, record, analysis.ExecutionAnalysis, stackName)
	if err != nil {
		a.logger.Warn("Document log search failed", zap.String("object_key", objectKey), zap.Error(err))
	} else {
		analysis.LogAnalysis = logSearch
	}

	traceID := record.TraceID
	if traceID == "" && analysis.ExecutionAnalysis != nil {
		traceID = analysis.ExecutionAnalysis.TraceID
	}
	if traceID != "" {
		trace, err := a.DocumentTrace(ctx, traceID)
		if err != nil {
			a.logger.Warn("X-Ray trace analysis failed", zap.String("trace_id", traceID), zap.Error(err))
		} else if trace.TraceFound {
			analysis.TraceAnalysis = trace
		}
	}

	a.compactDocumentAnalysis(analysis)
	analysis.AnalysisSummary = summarizeDocument(analysis)
	analysis.Recommendations = documentRecommendations(analysis)
	return analysis, nil
}

// DocumentLogs runs the prioritized log search for a document. Each
// stage is more precise than the next; the first stage that yields
// events wins:
//
//  1. request IDs of failed Lambda functions
//  2. other request IDs from the execution history
//  3. the document identifier, filtered to failure lines
//  4. a broad ERROR sweep over the first log groups
//  5. the execution ID itself
func (a *Analyzer) DocumentLogs(ctx context.Context, record *tracking.DocumentRecord, execution *ExecutionAnalysis, stackName string) (*DocumentLogSearch, error) {
	prefix, err := a.LogGroupPrefix(ctx, stackName)
	if err != nil {
		return nil, err
	}
	groupList, err := a.ListLogGroups(ctx, prefix.LogGroupPrefix)
	if err != nil {
		return nil, err
	}
	if groupList.LogGroupsFound == 0 {
		return &DocumentLogSearch{SearchStrategy: "none", Events: []LogEvent{}}, nil
	}

	groups := make([]string, 0, len(groupList.LogGroups))
	for _, g := range groupList.LogGroups {
		groups = append(groups, g.Name)
	}
	if len(groups) > a.limits.MaxLogGroups {
		groups = groups[:a.limits.MaxLogGroups]
	}

	start, end := searchWindow(record, execution, a.now)

	// When the execution history carried no usable request IDs, recover
	// them from the logs themselves inside the processing window.
	functionRequestMap := map[string]string{}
	var failedFunctions []string
	if execution != nil {
		for fn, id := range execution.FunctionRequestMap {
			functionRequestMap[fn] = id
		}
		failedFunctions = execution.FailedFunctions
		if len(functionRequestMap) == 0 && execution.ExecutionARN != "" {
			extraction := a.ExtractRequestIDs(ctx, groups, executionIDFromARN(execution.ExecutionARN), start, end)
			if extraction.Success {
				functionRequestMap = extraction.FunctionRequestMap
			}
		}
	}

	type stage struct {
		name string
		run  func() []LogEvent
	}
	searched := 0
	searchGroup := func(logGroup, pattern, requestID string) []LogEvent {
		searched++
		result, err := a.SearchLogs(ctx, SearchParams{
			LogGroup:      logGroup,
			FilterPattern: pattern,
			RequestID:     requestID,
			StartTime:     start,
			EndTime:       end,
			MaxEvents:     a.limits.MaxEventsPerLogGroup,
		})
		if err != nil {
			a.logger.Debug("Log group search failed", zap.String("log_group", logGroup), zap.Error(err))
			return nil
		}
		return result.Events
	}

	stages := []stage{
		{name: "failed_function_request_ids", run: func() []LogEvent {
			var events []LogEvent
			for _, fn := range failedFunctions {
				requestID := functionRequestMap[fn]
				if requestID == "" {
					continue
				}
				if group := matchLogGroup(groups, fn); group != "" {
					events = append(events, searchGroup(group, "", requestID)...)
				}
			}
			return events
		}},
		{name: "other_request_ids", run: func() []LogEvent {
			var events []LogEvent
			used := 0
			for fn, requestID := range functionRequestMap {
				if contains(failedFunctions, fn) || requestID == "" {
					continue
				}
				if group := matchLogGroup(groups, fn); group != "" {
					events = append(events, searchGroup(group, "", requestID)...)
					used++
				}
				if used >= 3 {
					break
				}
			}
			return events
		}},
		{name: "document_identifier", run: func() []LogEvent {
			identifier := documentIdentifier(record.ObjectKey)
			if identifier == "" {
				return nil
			}
			var events []LogEvent
			for _, group := range firstN(groups, 3) {
				for _, event := range searchGroup(group, identifier, "") {
					if hasFailureKeyword(event.Message) {
						events = append(events, event)
					}
				}
			}
			return events
		}},
		{name: "broad_error_search", run: func() []LogEvent {
			var events []LogEvent
			for _, group := range firstN(groups, 2) {
				events = append(events, searchGroup(group, "ERROR", "")...)
			}
			return events
		}},
		{name: "execution_pattern", run: func() []LogEvent {
			executionID := ""
			if execution != nil {
				executionID = executionIDFromARN(execution.ExecutionARN)
			} else if record.WorkflowExecutionArn != "" {
				executionID = executionIDFromARN(record.WorkflowExecutionArn)
			}
			if executionID == "" {
				return nil
			}
			var events []LogEvent
			for _, group := range firstN(groups, 2) {
				events = append(events, searchGroup(group, executionID, "")...)
			}
			return events
		}},
	}

	for _, s := range stages {
		events := s.run()
		if len(events) > 0 {
			if len(events) > a.limits.MaxLogEvents {
				events = events[:a.limits.MaxLogEvents]
			}
			a.logger.Info("Document log search succeeded",
				zap.String("strategy", s.name),
				zap.Int("events", len(events)),
			)
			return &DocumentLogSearch{
				SearchStrategy:    s.name,
				LogGroupsSearched: searched,
				EventsFound:       len(events),
				Events:            events,
			}, nil
		}
	}

	return &DocumentLogSearch{
		SearchStrategy:    "exhausted",
		LogGroupsSearched: searched,
		Events:            []LogEvent{},
	}, nil
}

// searchWindow derives the search window from the document's processing
// times, buffered by min(2 minutes, 10% of the processing duration) on
// each side so retries and cold starts at the edges still match.
func searchWindow(record *tracking.DocumentRecord, execution *ExecutionAnalysis, now func() time.Time) (time.Time, time.Time) {
	start, end := record.ProcessingWindow()
	if start.IsZero() && execution != nil && execution.StartTime != "" {
		if t, err := time.Parse(time.RFC3339, execution.StartTime); err == nil {
			start = t
		}
	}
	if end.IsZero() {
		end = now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
		return start, end
	}

	buffer := 2 * time.Minute
	if tenth := end.Sub(start) / 10; tenth < buffer && tenth > 0 {
		buffer = tenth
	}
	return start.Add(-buffer), end.Add(buffer)
}

// matchLogGroup finds the log group that belongs to a Lambda function.
func matchLogGroup(groups []string, functionName string) string {
	for _, group := range groups {
		if strings.Contains(group, functionName) {
			return group
		}
	}
	return ""
}

// documentIdentifier derives a search token from an object key: the
// file name without its extension, remaining dots replaced since "." is
// CloudWatch filter syntax.
func documentIdentifier(objectKey string) string {
	base := path.Base(objectKey)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.ReplaceAll(base, ".", "-")
}

func hasFailureKeyword(message string) bool {
	upper := strings.ToUpper(message)
	for _, keyword := range failureKeywords {
		if strings.Contains(upper, keyword) {
			return true
		}
	}
	return false
}

func executionIDFromARN(arn string) string {
	if arn == "" {
		return ""
	}
	parts := strings.Split(arn, ":")
	return parts[len(parts)-1]
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

// compactDocumentAnalysis trims the report to the configured limits so
// the whole analysis fits in an agent context window.
func (a *Analyzer) compactDocumentAnalysis(analysis *DocumentAnalysis) {
	if logs := analysis.LogAnalysis; logs != nil {
		if len(logs.Events) > a.limits.MaxLogEvents {
			logs.Events = logs.Events[:a.limits.MaxLogEvents]
			logs.EventsFound = len(logs.Events)
		}
		for i := range logs.Events {
			logs.Events[i].Message = truncateMessage(logs.Events[i].Message, a.limits.MaxLogMessageLength)
		}
	}
	if exec := analysis.ExecutionAnalysis; exec != nil {
		if len(exec.TimelineAnalysis.Timeline) > a.limits.MaxTimelineEvents {
			exec.TimelineAnalysis.Timeline = exec.TimelineAnalysis.Timeline[:a.limits.MaxTimelineEvents]
		}
		if fp := exec.TimelineAnalysis.FailurePoint; fp != nil {
			fp.Details.Cause = truncateMessage(fp.Details.Cause, a.limits.MaxErrorLength)
		}
	}
}

// summarizeDocument builds the one-paragraph report headline.
func summarizeDocument(analysis *DocumentAnalysis) string {
	status := analysis.DocumentStatus
	summary := fmt.Sprintf("Document %q is in status %s", analysis.ObjectKey, status.ObjectStatus)
	if exec := analysis.ExecutionAnalysis; exec != nil {
		summary += ". " + exec.AnalysisSummary
	}
	if logs := analysis.LogAnalysis; logs != nil && logs.EventsFound > 0 {
		summary += fmt.Sprintf(". Found %d relevant log events via %s", logs.EventsFound, logs.SearchStrategy)
	}
	if trace := analysis.TraceAnalysis; trace != nil {
		summary += fmt.Sprintf(". X-Ray trace covers %d services with %d errors and %d faults",
			trace.TotalServices, trace.TotalErrors, trace.TotalFaults)
	}
	return summary
}

// documentRecommendations derives actionable next steps from the report.
func documentRecommendations(analysis *DocumentAnalysis) []string {
	var recs []string

	if exec := analysis.ExecutionAnalysis; exec != nil {
		if fp := exec.TimelineAnalysis.FailurePoint; fp != nil {
			target := fp.Name
			if target == "" {
				target = "the workflow"
			}
			recs = append(recs, fmt.Sprintf("Investigate the failure in %s: %s", target, fp.Details.Error))
			if strings.Contains(fp.Details.Error, "Timeout") || strings.Contains(fp.Details.Cause, "Task timed out") {
				recs = append(recs, "Increase the function timeout or reduce the document size")
			}
			if strings.Contains(fp.Details.Error, "ValidationException") {
				recs = append(recs, "Check the document format against the configured document classes")
			}
			if strings.Contains(fp.Details.Error, "Throttling") || strings.Contains(fp.Details.Cause, "ThrottlingException") {
				recs = append(recs, "Reduce processing concurrency or request a service quota increase")
			}
		}
	}

	if trace := analysis.TraceAnalysis; trace != nil {
		for _, entry := range trace.ServiceTimeline {
			if entry.DurationMS > 30000 {
				recs = append(recs, fmt.Sprintf("Service %s took %.1fs; check for downstream latency or large payloads",
					entry.Name, entry.DurationMS/1000))
				break
			}
		}
		if trace.TotalFaults > 0 {
			recs = append(recs, "Inspect the X-Ray trace for the faulting service's exception details")
		}
	}

	if status := analysis.DocumentStatus; status != nil && status.ErrorMessage != "" && len(recs) == 0 {
		recs = append(recs, fmt.Sprintf("Review the recorded error: %s", status.ErrorMessage))
	}
	if len(recs) == 0 {
		if logs := analysis.LogAnalysis; logs != nil && logs.EventsFound > 0 {
			recs = append(recs, "Review the matched log events for the underlying error")
		} else {
			recs = append(recs, "No errors detected; re-run with a wider time window if the problem persists")
		}
	}
	return recs
}

// StackLogsResult aggregates a pattern search across a stack's log groups.
type StackLogsResult struct {
	StackName         string         `json:"stack_name"`
	LogGroupPrefix    string         `json:"log_group_prefix"`
	FilterPattern     string         `json:"filter_pattern"`
	LogGroupsSearched int            `json:"log_groups_searched"`
	TotalEvents       int            `json:"total_events"`
	Results           []SearchResult `json:"results"`
}

// StackLogs searches every log group of a stack for a pattern.
func (a *Analyzer) StackLogs(ctx context.Context, stackName, pattern string, hoursBack int) (*StackLogsResult, error) {
	prefix, err := a.LogGroupPrefix(ctx, stackName)
	if err != nil {
		return nil, err
	}
	groupList, err := a.ListLogGroups(ctx, prefix.LogGroupPrefix)
	if err != nil {
		return nil, err
	}

	result := &StackLogsResult{
		StackName:      stackName,
		LogGroupPrefix: prefix.LogGroupPrefix,
		FilterPattern:  pattern,
		Results:        []SearchResult{},
	}
	groups := groupList.LogGroups
	if len(groups) > a.limits.MaxLogGroups {
		groups = groups[:a.limits.MaxLogGroups]
	}
	for _, group := range groups {
		search, err := a.SearchLogs(ctx, SearchParams{
			LogGroup:      group.Name,
			FilterPattern: pattern,
			HoursBack:     hoursBack,
			MaxEvents:     a.limits.MaxEventsPerLogGroup,
		})
		if err != nil {
			a.logger.Debug("Stack log search failed for group",
				zap.String("log_group", group.Name), zap.Error(err))
			continue
		}
		result.LogGroupsSearched++
		if search.EventsFound == 0 {
			continue
		}
		for i := range search.Events {
			search.Events[i].Message = truncateMessage(search.Events[i].Message, a.limits.MaxLogMessageLength)
		}
		result.TotalEvents += search.EventsFound
		result.Results = append(result.Results, *search)
	}
	return result, nil
}

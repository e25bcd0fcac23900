package diagnostics

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

// systemSearchPatterns are searched in priority order; the weight caps
// how many events each pattern may contribute relative to the others.
var systemSearchPatterns = []struct {
	Pattern string
	Weight  int
}{
	{"ERROR", 5},
	{"Exception", 3},
	{"ValidationException", 2},
	{"Failed", 2},
	{"Timeout", 1},
}

var (
	timestampToken = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	requestIDToken = regexp.MustCompile(`RequestId: [a-f0-9-]+`)
)

// ErrorGroup is a deduplicated error signature with its occurrences.
type ErrorGroup struct {
	Signature  string `json:"signature"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
	Sample     string `json:"sample_message"`
	LogGroup   string `json:"log_group"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
	SearchTerm string `json:"matched_pattern"`
}

// FailedDocument is one recently failed document in the system report.
type FailedDocument struct {
	ObjectKey      string `json:"object_key"`
	Status         string `json:"status"`
	CompletionTime string `json:"completion_time,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ExecutionARN   string `json:"workflow_execution_arn,omitempty"`
}

// SystemAnalysis is the stack-wide diagnostic report.
type SystemAnalysis struct {
	StackName         string              `json:"stack_name"`
	HoursAnalyzed     int                 `json:"hours_analyzed"`
	LogGroupsSearched int                 `json:"log_groups_searched"`
	ErrorsEstimate    int                 `json:"total_errors_estimate"`
	ErrorGroups       []ErrorGroup        `json:"error_groups"`
	ErrorCategories   map[string]int      `json:"error_categories"`
	FailedDocuments   []FailedDocument    `json:"failed_documents"`
	Executions        []ExecutionAnalysis `json:"execution_analyses,omitempty"`
	StackTraces       *StackTraceSummary  `json:"xray_summary,omitempty"`
	ServiceMap        *ServiceMapSummary  `json:"xray_service_map,omitempty"`
	AnalysisSummary   string              `json:"analysis_summary"`
	Recommendations   []string            `json:"recommendations"`
}

// AnalyzeSystem runs the stack-wide diagnostic sweep: prioritized error
// patterns across the stack's log groups, deduplicated into signatures,
// recent failed documents from the tracking table, their workflow
// executions, and an X-Ray summary.
func (a *Analyzer) AnalyzeSystem(ctx context.Context, stackName string, hoursBack int) (*SystemAnalysis, error) {
	if a.store == nil || a.store.TableName() == "" {
		return nil, appErrors.NewNotFound("TrackingTable not found")
	}
	hoursBack = positiveOr(hoursBack, 24)
	analysis := &SystemAnalysis{
		StackName:       stackName,
		HoursAnalyzed:   hoursBack,
		ErrorGroups:     []ErrorGroup{},
		ErrorCategories: map[string]int{},
		FailedDocuments: []FailedDocument{},
		Recommendations: []string{},
	}

	prefix, err := a.LogGroupPrefix(ctx, stackName)
	if err != nil {
		return nil, err
	}
	groupList, err := a.ListLogGroups(ctx, prefix.LogGroupPrefix)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to enumerate stack log groups")
	}

	groups := groupList.LogGroups
	if len(groups) > a.limits.MaxLogGroups {
		groups = groups[:a.limits.MaxLogGroups]
	}
	analysis.ErrorsEstimate = a.estimateErrors(ctx, groups, hoursBack)
	a.collectErrorGroups(ctx, analysis, groups, hoursBack)

	if err := a.collectFailedDocuments(ctx, analysis, hoursBack); err != nil {
		return nil, err
	}

	a.collectXRaySummary(ctx, analysis, stackName, hoursBack)

	analysis.AnalysisSummary = summarizeSystem(analysis)
	analysis.Recommendations = systemRecommendations(analysis)
	return analysis, nil
}

// estimateErrors runs a quick "ERROR" scan over the first few log
// groups to size the problem before the prioritized collection.
func (a *Analyzer) estimateErrors(ctx context.Context, groups []LogGroupInfo, hoursBack int) int {
	if len(groups) > 5 {
		groups = groups[:5]
	}
	total := 0
	for _, group := range groups {
		result, err := a.SearchLogs(ctx, SearchParams{
			LogGroup:      group.Name,
			FilterPattern: "ERROR",
			HoursBack:     hoursBack,
			MaxEvents:     5,
		})
		if err != nil {
			a.logger.Debug("Error estimate scan failed for group",
				zap.String("log_group", group.Name), zap.Error(err))
			continue
		}
		total += result.EventsFound
	}
	return total
}

// collectErrorGroups searches each pattern across the log groups and
// folds matches into deduplicated signatures.
func (a *Analyzer) collectErrorGroups(ctx context.Context, analysis *SystemAnalysis, groups []LogGroupInfo, hoursBack int) {
	signatures := map[string]*ErrorGroup{}
	for _, sp := range systemSearchPatterns {
		for _, group := range groups {
			result, err := a.SearchLogs(ctx, SearchParams{
				LogGroup:      group.Name,
				FilterPattern: sp.Pattern,
				HoursBack:     hoursBack,
				MaxEvents:     sp.Weight * a.limits.MaxEventsPerLogGroup,
			})
			if err != nil {
				a.logger.Debug("System error search failed for group",
					zap.String("log_group", group.Name),
					zap.String("pattern", sp.Pattern),
					zap.Error(err),
				)
				continue
			}
			analysis.LogGroupsSearched++

			for _, event := range result.Events {
				sig := errorSignature(event.Message)
				if sig == "" {
					continue
				}
				if existing, ok := signatures[sig]; ok {
					existing.Count++
					existing.LastSeen = event.Timestamp
					continue
				}
				signatures[sig] = &ErrorGroup{
					Signature:  truncateMessage(sig, a.limits.MaxErrorLength),
					Category:   categorizeError(event.Message),
					Count:      1,
					Sample:     truncateMessage(event.Message, a.limits.MaxLogMessageLength),
					LogGroup:   group.Name,
					FirstSeen:  event.Timestamp,
					LastSeen:   event.Timestamp,
					SearchTerm: sp.Pattern,
				}
			}
		}
	}

	for _, group := range signatures {
		analysis.ErrorGroups = append(analysis.ErrorGroups, *group)
		analysis.ErrorCategories[group.Category] += group.Count
	}
	sort.Slice(analysis.ErrorGroups, func(i, j int) bool {
		return analysis.ErrorGroups[i].Count > analysis.ErrorGroups[j].Count
	})
	if len(analysis.ErrorGroups) > 10 {
		analysis.ErrorGroups = analysis.ErrorGroups[:10]
	}
}

// collectFailedDocuments pulls recently failed documents from the
// tracking table and analyzes the first two failed workflow executions.
// The tracking table is the system of record; a failed query fails the
// whole analysis.
func (a *Analyzer) collectFailedDocuments(ctx context.Context, analysis *SystemAnalysis, hoursBack int) error {
	records, err := a.store.QueryRecentDocuments(ctx, hoursBack, 50)
	if err != nil {
		return appErrors.Wrap(err, "failed to query the tracking table for recent documents")
	}

	for _, record := range records {
		if !strings.EqualFold(record.ObjectStatus, "FAILED") {
			continue
		}
		analysis.FailedDocuments = append(analysis.FailedDocuments, FailedDocument{
			ObjectKey:      record.ObjectKey,
			Status:         record.ObjectStatus,
			CompletionTime: record.CompletionTime,
			ErrorMessage:   truncateMessage(record.ErrorMessage, a.limits.MaxErrorLength),
			ExecutionARN:   record.WorkflowExecutionArn,
		})
	}

	// Executions are expensive to walk; the first two failures are
	// usually representative of the rest.
	analyzed := 0
	for _, doc := range analysis.FailedDocuments {
		if doc.ExecutionARN == "" || analyzed >= 2 {
			continue
		}
		execution, err := a.ExecutionDetails(ctx, doc.ExecutionARN)
		if err != nil {
			a.logger.Debug("Failed to analyze execution",
				zap.String("execution_arn", doc.ExecutionARN), zap.Error(err))
			continue
		}
		if len(execution.TimelineAnalysis.Timeline) > a.limits.MaxTimelineEvents {
			execution.TimelineAnalysis.Timeline = execution.TimelineAnalysis.Timeline[:a.limits.MaxTimelineEvents]
		}
		analysis.Executions = append(analysis.Executions, *execution)
		analyzed++
	}
	return nil
}

// collectXRaySummary prefers stack-scoped trace summaries and falls
// back to the account service map when no traces match the stack.
func (a *Analyzer) collectXRaySummary(ctx context.Context, analysis *SystemAnalysis, stackName string, hoursBack int) {
	traces, err := a.StackTraces(ctx, stackName, hoursBack)
	if err != nil {
		a.logger.Warn("X-Ray trace summary failed", zap.Error(err))
	} else if traces.TracesFound > 0 {
		analysis.StackTraces = traces
		return
	}

	serviceMap, err := a.ServiceMap(ctx, hoursBack)
	if err != nil {
		a.logger.Warn("X-Ray service map failed", zap.Error(err))
		return
	}
	analysis.ServiceMap = serviceMap
}

// errorSignature normalizes a log message so repeated occurrences of
// the same error fold together: timestamps and request IDs vary per
// invocation, the rest of the line is the signature.
func errorSignature(message string) string {
	sig := strings.TrimSpace(message)
	sig = timestampToken.ReplaceAllString(sig, "<time>")
	sig = requestIDToken.ReplaceAllString(sig, "RequestId: <id>")
	sig = uuidPattern.ReplaceAllString(sig, "<uuid>")
	if len(sig) > 200 {
		sig = sig[:200]
	}
	return sig
}

// categorizeError buckets an error message for the category histogram.
func categorizeError(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "validation"):
		return "validation"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return "timeout"
	case strings.Contains(lower, "accessdenied") || strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "forbidden") || strings.Contains(lower, "unauthorized"):
		return "access"
	case strings.Contains(lower, "throttl") || strings.Contains(lower, "too many requests"):
		return "throttling"
	case strings.Contains(lower, "exception") || strings.Contains(lower, "error"):
		return "processing"
	default:
		return "system"
	}
}

func summarizeSystem(analysis *SystemAnalysis) string {
	if len(analysis.ErrorGroups) == 0 && len(analysis.FailedDocuments) == 0 {
		return fmt.Sprintf("No errors found in stack %s over the last %d hours",
			analysis.StackName, analysis.HoursAnalyzed)
	}

	summary := fmt.Sprintf("Found %d distinct error signatures and %d failed documents in stack %s over the last %d hours",
		len(analysis.ErrorGroups), len(analysis.FailedDocuments), analysis.StackName, analysis.HoursAnalyzed)
	if len(analysis.ErrorGroups) > 0 {
		top := analysis.ErrorGroups[0]
		summary += fmt.Sprintf(". Most frequent: %q (%d occurrences, category %s)",
			truncateMessage(top.Signature, 120), top.Count, top.Category)
	}
	return summary
}

func systemRecommendations(analysis *SystemAnalysis) []string {
	var recs []string

	if analysis.ErrorCategories["throttling"] > 0 {
		recs = append(recs, "Throttling detected; review service quotas and processing concurrency")
	}
	if analysis.ErrorCategories["timeout"] > 0 {
		recs = append(recs, "Timeouts detected; review Lambda timeout settings and downstream latency")
	}
	if analysis.ErrorCategories["validation"] > 0 {
		recs = append(recs, "Validation errors detected; check input document formats and configuration schemas")
	}
	if analysis.ErrorCategories["access"] > 0 {
		recs = append(recs, "Access errors detected; review IAM role permissions for the processing functions")
	}
	for _, execution := range analysis.Executions {
		if execution.PrimaryFailedFunction != "" {
			recs = append(recs, fmt.Sprintf("Workflow failures concentrate in %s; analyze a failed document for details",
				execution.PrimaryFailedFunction))
			break
		}
	}
	if traces := analysis.StackTraces; traces != nil && traces.ErrorRate > 0.2 {
		recs = append(recs, fmt.Sprintf("X-Ray error rate is %.0f%%; inspect the involved services",
			traces.ErrorRate*100))
	}
	if serviceMap := analysis.ServiceMap; serviceMap != nil {
		for _, svc := range serviceMap.HighErrorServices {
			recs = append(recs, fmt.Sprintf("Service %s shows an elevated error rate in the service map", svc))
		}
	}

	if len(recs) == 0 {
		if len(analysis.ErrorGroups) == 0 && len(analysis.FailedDocuments) == 0 {
			recs = append(recs, "System appears healthy; no action required")
		} else {
			recs = append(recs, "Review the error signatures above and analyze an affected document for root cause")
		}
	}
	return recs
}

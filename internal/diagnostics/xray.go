package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

const (
	// slowSegmentMillis flags segments that dominate processing time.
	slowSegmentMillis = 10000
	// highErrorRate flags services in the service map.
	highErrorRate = 0.05
	// slowServiceMillis flags slow services in the service map.
	slowServiceMillis = 1000
)

// ServiceTimelineEntry is one segment of a trace, ordered by start time.
type ServiceTimelineEntry struct {
	Name       string  `json:"name"`
	Origin     string  `json:"origin,omitempty"`
	StartTime  string  `json:"start_time"`
	DurationMS float64 `json:"duration_ms"`
	HasError   bool    `json:"has_error"`
	HasFault   bool    `json:"has_fault"`
}

// TraceAnalysis is the per-document X-Ray report.
type TraceAnalysis struct {
	TraceFound           bool                   `json:"trace_found"`
	TraceID              string                 `json:"trace_id"`
	TotalServices        int                    `json:"total_services"`
	TotalErrors          int                    `json:"total_errors"`
	TotalFaults          int                    `json:"total_faults"`
	HasPerformanceIssues bool                   `json:"has_performance_issues"`
	ServiceTimeline      []ServiceTimelineEntry `json:"service_timeline"`
}

// DocumentTrace fetches and analyzes the X-Ray trace recorded for a
// document. Segment documents arrive as JSON strings, parsed here with
// gjson rather than full unmarshalling since only a handful of fields
// matter.
func (a *Analyzer) DocumentTrace(ctx context.Context, traceID string) (*TraceAnalysis, error) {
	analysis := &TraceAnalysis{TraceID: traceID, ServiceTimeline: []ServiceTimelineEntry{}}
	if traceID == "" {
		return analysis, nil
	}

	out, err := a.xrayAPI.BatchGetTraces(ctx, &xray.BatchGetTracesInput{
		TraceIds: []string{traceID},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to fetch X-Ray trace %q", traceID))
	}
	if len(out.Traces) == 0 {
		a.logger.Info("No X-Ray trace found", zap.String("trace_id", traceID))
		return analysis, nil
	}

	analysis.TraceFound = true
	for _, trace := range out.Traces {
		for _, segment := range trace.Segments {
			doc := aws.ToString(segment.Document)
			if doc == "" {
				continue
			}
			entry := parseSegmentDocument(doc)
			if entry.Name == "" {
				continue
			}
			analysis.ServiceTimeline = append(analysis.ServiceTimeline, entry)
			if entry.HasError {
				analysis.TotalErrors++
			}
			if entry.HasFault {
				analysis.TotalFaults++
			}
			if entry.DurationMS > slowSegmentMillis {
				analysis.HasPerformanceIssues = true
			}
		}
	}

	sort.Slice(analysis.ServiceTimeline, func(i, j int) bool {
		return analysis.ServiceTimeline[i].StartTime < analysis.ServiceTimeline[j].StartTime
	})
	analysis.TotalServices = len(analysis.ServiceTimeline)
	return analysis, nil
}

// parseSegmentDocument extracts the timeline fields from a raw segment
// document.
func parseSegmentDocument(doc string) ServiceTimelineEntry {
	start := gjson.Get(doc, "start_time").Float()
	end := gjson.Get(doc, "end_time").Float()

	entry := ServiceTimelineEntry{
		Name:     gjson.Get(doc, "name").String(),
		Origin:   gjson.Get(doc, "origin").String(),
		HasError: gjson.Get(doc, "error").Bool(),
		HasFault: gjson.Get(doc, "fault").Bool(),
	}
	if start > 0 {
		entry.StartTime = time.Unix(0, int64(start*float64(time.Second))).UTC().Format(time.RFC3339Nano)
	}
	if end > start {
		entry.DurationMS = (end - start) * 1000
	}
	return entry
}

// StackTraceSummary is the stack-wide X-Ray report.
type StackTraceSummary struct {
	TracesFound      int      `json:"traces_found"`
	TotalErrors      int      `json:"total_errors"`
	TotalFaults      int      `json:"total_faults"`
	TotalThrottles   int      `json:"total_throttles"`
	ErrorRate        float64  `json:"error_rate"`
	ServicesInvolved []string `json:"services_involved"`
}

// StackTraces summarizes recent traces touching the stack's services.
func (a *Analyzer) StackTraces(ctx context.Context, stackName string, hoursBack int) (*StackTraceSummary, error) {
	end := a.now().UTC()
	start := end.Add(-time.Duration(positiveOr(hoursBack, 24)) * time.Hour)

	out, err := a.xrayAPI.GetTraceSummaries(ctx, &xray.GetTraceSummariesInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, fmt.Sprintf("failed to get trace summaries for stack %q", stackName))
	}

	summary := &StackTraceSummary{ServicesInvolved: []string{}}
	seenServices := map[string]bool{}
	for _, trace := range out.TraceSummaries {
		// Keep only traces that touch a service of this stack.
		matched := stackName == ""
		var names []string
		for _, svc := range trace.ServiceIds {
			name := aws.ToString(svc.Name)
			names = append(names, name)
			if stackName != "" && strings.Contains(name, stackName) {
				matched = true
			}
		}
		if !matched {
			continue
		}

		summary.TracesFound++
		if aws.ToBool(trace.HasError) {
			summary.TotalErrors++
		}
		if aws.ToBool(trace.HasFault) {
			summary.TotalFaults++
		}
		if aws.ToBool(trace.HasThrottle) {
			summary.TotalThrottles++
		}
		for _, name := range names {
			if name != "" && !seenServices[name] {
				seenServices[name] = true
				summary.ServicesInvolved = append(summary.ServicesInvolved, name)
			}
		}
	}

	if summary.TracesFound > 0 {
		summary.ErrorRate = float64(summary.TotalErrors+summary.TotalFaults) / float64(summary.TracesFound)
	}
	return summary, nil
}

// ServiceMapSummary is the fallback report when no stack name is known.
type ServiceMapSummary struct {
	ServicesFound     int      `json:"services_found"`
	HighErrorServices []string `json:"high_error_services"`
	SlowServices      []string `json:"slow_services"`
}

// ServiceMap summarizes the X-Ray service graph for the look-back window.
func (a *Analyzer) ServiceMap(ctx context.Context, hoursBack int) (*ServiceMapSummary, error) {
	end := a.now().UTC()
	start := end.Add(-time.Duration(positiveOr(hoursBack, 24)) * time.Hour)

	out, err := a.xrayAPI.GetServiceGraph(ctx, &xray.GetServiceGraphInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get X-Ray service graph")
	}

	summary := &ServiceMapSummary{
		HighErrorServices: []string{},
		SlowServices:      []string{},
	}
	for _, svc := range out.Services {
		name := aws.ToString(svc.Name)
		if name == "" {
			continue
		}
		summary.ServicesFound++

		stats := svc.SummaryStatistics
		if stats == nil {
			continue
		}
		total := aws.ToInt64(stats.TotalCount)
		if total == 0 {
			continue
		}

		var errored int64
		if stats.ErrorStatistics != nil {
			errored += aws.ToInt64(stats.ErrorStatistics.TotalCount)
		}
		if stats.FaultStatistics != nil {
			errored += aws.ToInt64(stats.FaultStatistics.TotalCount)
		}
		if float64(errored)/float64(total) >= highErrorRate {
			summary.HighErrorServices = append(summary.HighErrorServices, name)
		}

		avgMillis := aws.ToFloat64(stats.TotalResponseTime) / float64(total) * 1000
		if avgMillis > slowServiceMillis {
			summary.SlowServices = append(summary.SlowServices, name)
		}
	}
	return summary, nil
}

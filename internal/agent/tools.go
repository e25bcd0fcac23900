package agent

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/diagnostics"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
)

// toolTimeout bounds a single tool call; the deep analyses fan out over
// many AWS calls and an agent should get an error before its own
// request times out.
const toolTimeout = 2 * time.Minute

// AnalyzeDocumentInput asks for the full per-document diagnosis.
type AnalyzeDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"object key of the document to analyze"`
}

// AnalyzeSystemInput asks for the stack-wide error sweep.
type AnalyzeSystemInput struct {
	HoursBack int `json:"hours_back,omitempty" jsonschema:"look-back window in hours (default 24)"`
}

// DocumentLogsInput asks for the prioritized document log search.
type DocumentLogsInput struct {
	DocumentID string `json:"document_id" jsonschema:"object key of the document"`
}

// StackLogsInput asks for a pattern search across the stack's log groups.
type StackLogsInput struct {
	FilterPattern string `json:"filter_pattern" jsonschema:"CloudWatch filter pattern, e.g. ERROR"`
	HoursBack     int    `json:"hours_back,omitempty" jsonschema:"look-back window in hours (default 24)"`
}

// ListLogGroupsInput asks for the log groups under a prefix.
type ListLogGroupsInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"log group name prefix; defaults to the stack's prefix"`
}

// ExecutionDetailsInput asks for a Step Functions execution analysis.
type ExecutionDetailsInput struct {
	ExecutionARN string `json:"execution_arn" jsonschema:"Step Functions execution ARN"`
}

// TrackingTableInput asks for the tracking table schema overview.
type TrackingTableInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_document_error",
		Description: "Full diagnosis of one document: tracking status, workflow execution timeline, correlated CloudWatch logs and X-Ray trace, with recommendations",
	}, instrument(s, "analyze_document_error",
		func(ctx context.Context, input AnalyzeDocumentInput) (*diagnostics.DocumentAnalysis, error) {
			return s.analyzer.AnalyzeDocument(ctx, input.DocumentID, s.stackName)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_general_errors",
		Description: "Stack-wide error sweep: deduplicated error signatures across log groups, failed documents, representative workflow failures and an X-Ray summary",
	}, instrument(s, "analyze_general_errors",
		func(ctx context.Context, input AnalyzeSystemInput) (*diagnostics.SystemAnalysis, error) {
			return s.analyzer.AnalyzeSystem(ctx, s.stackName, input.HoursBack)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cloudwatch_document_logs",
		Description: "Prioritized CloudWatch log search scoped to one document's processing window",
	}, instrument(s, "cloudwatch_document_logs",
		func(ctx context.Context, input DocumentLogsInput) (*diagnostics.DocumentLogSearch, error) {
			record, found, err := s.store.GetDocument(ctx, input.DocumentID)
			if err != nil {
				return nil, err
			}
			if !found {
				return &diagnostics.DocumentLogSearch{SearchStrategy: "document_not_found"}, nil
			}
			var execution *diagnostics.ExecutionAnalysis
			if record.WorkflowExecutionArn != "" {
				execution, _ = s.analyzer.ExecutionDetails(ctx, record.WorkflowExecutionArn)
			}
			return s.analyzer.DocumentLogs(ctx, record, execution, s.stackName)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cloudwatch_stack_logs",
		Description: "Search every log group of the stack for a filter pattern",
	}, instrument(s, "cloudwatch_stack_logs",
		func(ctx context.Context, input StackLogsInput) (*diagnostics.StackLogsResult, error) {
			return s.analyzer.StackLogs(ctx, s.stackName, input.FilterPattern, input.HoursBack)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_log_groups",
		Description: "List CloudWatch log groups under a prefix with retention and size metadata",
	}, instrument(s, "list_log_groups",
		func(ctx context.Context, input ListLogGroupsInput) (*diagnostics.LogGroupList, error) {
			prefix := input.Prefix
			if prefix == "" {
				info, err := s.analyzer.LogGroupPrefix(ctx, s.stackName)
				if err != nil {
					return nil, err
				}
				prefix = info.LogGroupPrefix
			}
			return s.analyzer.ListLogGroups(ctx, prefix)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stepfunction_execution_details",
		Description: "Timeline, failure point and Lambda request IDs for one Step Functions execution",
	}, instrument(s, "stepfunction_execution_details",
		func(ctx context.Context, input ExecutionDetailsInput) (*diagnostics.ExecutionAnalysis, error) {
			return s.analyzer.ExecutionDetails(ctx, input.ExecutionARN)
		}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "tracking_table_info",
		Description: "Schema overview of the document tracking table",
	}, instrument(s, "tracking_table_info",
		func(ctx context.Context, _ TrackingTableInput) (*tracking.TableInfo, error) {
			return s.store.DescribeTable(ctx)
		}))
}

// instrument adapts a plain tool function into an MCP handler with a
// per-call timeout and Prometheus accounting.
func instrument[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		callCtx, cancel := context.WithTimeout(ctx, toolTimeout)
		defer cancel()

		started := time.Now()
		out, err := fn(callCtx, input)
		s.metrics.RecordToolInvocation(name, time.Since(started), err)
		return nil, out, err
	}
}

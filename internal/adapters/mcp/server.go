// Package mcpadapter exposes the maintenance pipeline as MCP tools so an
// assistant can triage mail and read the dashboard over stdio.
package mcpadapter

import (
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const (
	serverName        = "maintenance-supervisor"
	defaultMaxResults = 10
	maxBatchResults   = 500
)

type Server struct {
	server    *server.MCPServer
	processor ports.EmailProcessor
	records   ports.RecordReader
	stats     ports.StatsProvider
	inbox     ports.InboxReader
}

func NewServer(processor ports.EmailProcessor, records ports.RecordReader, stats ports.StatsProvider, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server:    server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
		processor: processor,
		records:   records,
		stats:     stats,
	}
	s.registerTools()
	return s
}

// WithInbox adds the read-only list_unread and classify_email tools.
func (s *Server) WithInbox(inbox ports.InboxReader) *Server {
	s.inbox = inbox
	s.server.AddTool(mcp.NewTool("list_unread",
		mcp.WithDescription("List unread mailbox messages and whether each already has a processing record."),
		mcp.WithNumber("max_results", mcp.Description("maximum messages to list"), mcp.Min(1), mcp.Max(maxBatchResults), mcp.DefaultNumber(defaultMaxResults)),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListUnread)

	s.server.AddTool(mcp.NewTool("classify_email",
		mcp.WithDescription("Classify one email without recording, filing or notifying anything."),
		mcp.WithString("email_id", mcp.Required(), mcp.Description("mailbox message id")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleClassifyEmail)
	return s
}

// Run serves MCP over the given streams until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, stdin, stdout)
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("process_email",
		mcp.WithDescription("Run the classify, file and notify pipeline for one email. Completed emails are returned unchanged."),
		mcp.WithString("email_id", mcp.Required(), mcp.Description("mailbox message id")),
	), s.handleProcessEmail)

	s.server.AddTool(mcp.NewTool("process_unread",
		mcp.WithDescription("Fetch unread maintenance emails and process them as a batch."),
		mcp.WithNumber("max_results", mcp.Description("maximum emails to fetch"), mcp.Min(1), mcp.Max(maxBatchResults), mcp.DefaultNumber(defaultMaxResults)),
		mcp.WithBoolean("send_notifications", mcp.Description("post a channel notification per email"), mcp.DefaultBool(true)),
	), s.handleProcessUnread)

	s.server.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Return the processing record of one email, including every stage outcome."),
		mcp.WithString("email_id", mcp.Required(), mcp.Description("mailbox message id")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetRecord)

	s.server.AddTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Return dashboard statistics: counts by category, priority and outcome plus recent emails."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetStats)
}

func (s *Server) handleProcessEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	emailID, err := req.RequireString("email_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := s.processor.ProcessOne(ctx, emailID)
	if err != nil {
		return errorResult("process email "+emailID, err), nil
	}
	return mcp.NewToolResultJSON(record)
}

type batchOutput struct {
	Processed int                       `json:"processed"`
	Failed    int                       `json:"failed"`
	Records   []domain.ProcessingRecord `json:"records"`
	Errors    []domain.BatchError       `json:"errors,omitempty"`
}

func (s *Server) handleProcessUnread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxResults := req.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 || maxResults > maxBatchResults {
		return mcp.NewToolResultError(fmt.Sprintf("max_results must be between 1 and %d", maxBatchResults)), nil
	}
	result, err := s.processor.ProcessUnread(ctx, domain.BatchOptions{
		MaxResults:        maxResults,
		SendNotifications: req.GetBool("send_notifications", true),
	})
	if err != nil {
		return errorResult("process unread", err), nil
	}
	return mcp.NewToolResultJSON(batchOutput{
		Processed: len(result.Records),
		Failed:    len(result.Errors),
		Records:   result.Records,
		Errors:    result.Errors,
	})
}

func (s *Server) handleGetRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	emailID, err := req.RequireString("email_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := s.records.GetRecord(ctx, emailID)
	if err != nil {
		return errorResult("get record "+emailID, err), nil
	}
	return mcp.NewToolResultJSON(record)
}

func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.stats.GetStats(ctx)
	if err != nil {
		return errorResult("get stats", err), nil
	}
	return mcp.NewToolResultJSON(stats)
}

func (s *Server) handleListUnread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxResults := req.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 || maxResults > maxBatchResults {
		return mcp.NewToolResultError(fmt.Sprintf("max_results must be between 1 and %d", maxBatchResults)), nil
	}
	items, err := s.inbox.ListUnread(ctx, maxResults)
	if err != nil {
		return errorResult("list unread", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"count": len(items), "emails": items})
}

func (s *Server) handleClassifyEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	emailID, err := req.RequireString("email_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	preview, err := s.inbox.Preview(ctx, emailID)
	if err != nil {
		return errorResult("classify email "+emailID, err), nil
	}
	return mcp.NewToolResultJSON(preview)
}

func errorResult(op string, err error) *mcp.CallToolResult {
	if domain.IsKind(err, domain.ErrRecordNotFound) {
		return mcp.NewToolResultError(op + ": not found")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", op, err))
}

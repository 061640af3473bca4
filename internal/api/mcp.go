package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/notify"
	"github.com/mossline/revport/internal/worker"
)

// NewMCPServer creates an MCP server exposing the review portal to agency
// tooling: inspect the queue, review items, kick off generation runs and
// reminder passes.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"revport",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("revport — marketing content review portal: pending queue, client reviews, and SMS reminders."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_pending_content",
			mcp.WithDescription("List content items awaiting client review, optionally for one client."),
			mcp.WithString("client_id", mcp.Description("Restrict to a single client")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListPending(deps),
	)

	s.AddTool(
		mcp.NewTool("review_content",
			mcp.WithDescription("Approve or reject a pending content item on behalf of the client."),
			mcp.WithString("content_id", mcp.Description("Content item id"), mcp.Required()),
			mcp.WithString("action", mcp.Description("approve or reject"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Optional reviewer feedback")),
		),
		mcpReviewContent(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_content",
			mcp.WithDescription("Queue a content generation run for a client."),
			mcp.WithString("client_id", mcp.Description("Client id"), mcp.Required()),
			mcp.WithString("admin_notes", mcp.Description("Extra direction for this run")),
		),
		mcpGenerateContent(deps),
	)

	s.AddTool(
		mcp.NewTool("run_reminders",
			mcp.WithDescription("Run one reminder escalation pass and report what was sent."),
		),
		mcpRunReminders(deps),
	)

	s.AddTool(
		mcp.NewTool("send_sms",
			mcp.WithDescription("Send a one-off text message to a phone number."),
			mcp.WithString("to", mcp.Description("Destination phone number"), mcp.Required()),
			mcp.WithString("body", mcp.Description("Message body"), mcp.Required()),
		),
		mcpSendSMS(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"revport://clients",
			"Clients",
			mcp.WithResourceDescription("All clients as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceClients(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"revport://pending",
			"Pending Review Queue",
			mcp.WithResourceDescription("Content items currently awaiting review (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpListPending(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		clientID := req.GetString("client_id", "")
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		var items []content.Item
		var err error
		if clientID != "" {
			items, err = deps.Store.ListContentItemsByClient(clientID, content.StatusPending, limit)
		} else {
			items, err = deps.Store.ListContentItems()
			if err == nil {
				items = filterItems(items, content.StatusPending, limit)
			}
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list content: %v", err)), nil
		}

		if len(items) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(items)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReviewContent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("content_id")
		if err != nil {
			return mcpError("content_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		feedback := req.GetString("feedback", "")

		var target content.Status
		switch action {
		case "approve":
			target = content.StatusApproved
		case "reject":
			target = content.StatusRejected
		default:
			return mcpError("action must be approve or reject"), nil
		}

		item, err := deps.Store.ReviewContentItem(id, target, feedback, time.Now().UTC())
		if errors.Is(err, content.ErrNotFound) {
			return mcpError(fmt.Sprintf("content item %s not found", id)), nil
		}
		if errors.Is(err, content.ErrAlreadyReviewed) {
			return mcpError(fmt.Sprintf("content item %s was already reviewed", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("review failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Content %s is now %s", item.ID, item.Status)), nil
	}
}

func mcpGenerateContent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		clientID, err := req.RequireString("client_id")
		if err != nil {
			return mcpError("client_id is required"), nil
		}
		notes := req.GetString("admin_notes", "")

		if _, err := deps.Store.GetClient(clientID); errors.Is(err, content.ErrNotFound) {
			return mcpError(fmt.Sprintf("client %s not found", clientID)), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("failed to load client: %v", err)), nil
		}

		job, err := worker.NewGenerateJob(clientID, notes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create job: %v", err)), nil
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue job: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued generation job %s for client %s", job.ID, clientID)), nil
	}
}

func mcpRunReminders(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Reminders.Run(ctx)
		if errors.Is(err, notify.ErrNotConfigured) {
			return mcpError("SMS delivery is not configured"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reminder run failed: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSendSMS(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Notifier == nil {
			return mcpError("SMS delivery is not configured"), nil
		}

		to, err := req.RequireString("to")
		if err != nil {
			return mcpError("to is required"), nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}

		if err := deps.Notifier.Send(ctx, to, body); err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Sent message to %s", notify.NormalizePhone(to))), nil
	}
}

func mcpResourceClients(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		clients, err := deps.Store.ListClients()
		if err != nil {
			return nil, fmt.Errorf("failed to list clients: %w", err)
		}
		if clients == nil {
			clients = []content.Client{}
		}

		b, err := json.Marshal(clients)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal clients: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourcePending(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Store.ListContentItems()
		if err != nil {
			return nil, fmt.Errorf("failed to list content: %w", err)
		}
		items = filterItems(items, content.StatusPending, 0)

		type itemSummary struct {
			ID        string `json:"id"`
			ClientID  string `json:"client_id"`
			Type      string `json:"type"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]itemSummary, len(items))
		for i, it := range items {
			title := it.Title
			if utf8.RuneCountInString(title) > 200 {
				runes := []rune(title)
				title = string(runes[:200]) + "..."
			}
			summaries[i] = itemSummary{
				ID:        it.ID,
				ClientID:  it.ClientID,
				Type:      string(it.Type),
				Title:     title,
				CreatedAt: it.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/teamhub/proto"
	"github.com/mbocsi/teamhub/services"
)

// Tools exposes the dashboard feeds to MCP clients.
type Tools struct {
	services *services.ServiceContainer
}

func NewTools(sc *services.ServiceContainer) *Tools {
	return &Tools{services: sc}
}

// Register adds every tool to s.
func (t *Tools) Register(s *MCPServer) {
	t.registerConnectionTools(s)
	t.registerTaskTools(s)
	t.registerChatTools(s)
	t.registerAgentTools(s)
}

func (t *Tools) registerConnectionTools(s *MCPServer) {
	statusTool := mcp.NewTool("connection_status",
		mcp.WithDescription("Get the hub connection state, reconnect attempts and outbound queue depth"),
	)
	s.Server.AddTool(statusTool, t.handleConnectionStatus)
}

func (t *Tools) registerTaskTools(s *MCPServer) {
	listTasksTool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks on the team board, newest first"),
		mcp.WithString("status",
			mcp.Description("Only return tasks with this status"),
			mcp.Enum("pending", "running", "completed", "failed", "cancelled"),
		),
		mcp.WithString("agent_id",
			mcp.Description("Only return tasks assigned to this agent"),
		),
	)
	s.Server.AddTool(listTasksTool, t.handleListTasks)

	createTaskTool := mcp.NewTool("create_task",
		mcp.WithDescription("Ask the hub to create a task. Queued while the hub is unreachable."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short task title"),
		),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Free-form task classifier, e.g. review or deploy"),
		),
		mcp.WithString("description",
			mcp.Description("Longer task description"),
		),
		mcp.WithString("priority",
			mcp.Description("Task priority, defaults to medium"),
			mcp.Enum("low", "medium", "high", "urgent"),
		),
	)
	s.Server.AddTool(createTaskTool, t.handleCreateTask)
}

func (t *Tools) registerChatTools(s *MCPServer) {
	postTool := mcp.NewTool("post_chat_message",
		mcp.WithDescription("Post a message to a chat room"),
		mcp.WithString("room",
			mcp.Required(),
			mcp.Description("Chat room name"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("author",
			mcp.Description("Display name of the author, defaults to mcp"),
		),
	)
	s.Server.AddTool(postTool, t.handlePostChatMessage)
}

func (t *Tools) registerAgentTools(s *MCPServer) {
	listAgentsTool := mcp.NewTool("list_agents",
		mcp.WithDescription("List agents with their last reported status"),
		mcp.WithBoolean("include_monitor",
			mcp.Description("Include monitor event counts and the most recent events"),
		),
		mcp.WithNumber("recent_events",
			mcp.Description("How many recent monitor events to include (default 10)"),
		),
	)
	s.Server.AddTool(listAgentsTool, t.handleListAgents)
}

func (t *Tools) handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"connection":  t.services.Connection.Status(),
		"health":      t.services.Agents.Health(),
		"tasks_stale": t.services.Tasks.Stale(),
	})
}

func (t *Tools) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := services.TaskFilter{
		Status:  request.GetString("status", ""),
		AgentID: request.GetString("agent_id", ""),
	}
	tasks, err := t.services.Tasks.ListTasks(filter)
	if err != nil {
		return toolError("Error listing tasks", err), nil
	}
	return jsonResult(map[string]any{
		"tasks": tasks,
		"count": len(tasks),
		"stale": t.services.Tasks.Stale(),
	})
}

func (t *Tools) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("title is required and must be a string"), nil
	}
	taskType, err := request.RequireString("task_type")
	if err != nil {
		return mcp.NewToolResultError("task_type is required and must be a string"), nil
	}

	receipt, err := t.services.Tasks.CreateTask(proto.TaskCreatePayload{
		Title:       title,
		TaskType:    taskType,
		Description: request.GetString("description", ""),
		Priority:    request.GetString("priority", ""),
	})
	if err != nil {
		return toolError("Failed to create task", err), nil
	}
	return jsonResult(receipt)
}

func (t *Tools) handlePostChatMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	room, err := request.RequireString("room")
	if err != nil {
		return mcp.NewToolResultError("room is required and must be a string"), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required and must be a string"), nil
	}

	receipt, err := t.services.Chat.Post(room, request.GetString("author", "mcp"), text)
	if err != nil {
		return toolError("Failed to post chat message", err), nil
	}
	return jsonResult(receipt)
}

func (t *Tools) handleListAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents, err := t.services.Agents.ListAgents()
	if err != nil {
		return toolError("Error listing agents", err), nil
	}

	result := map[string]any{
		"agents": agents,
		"count":  len(agents),
	}
	if request.GetBool("include_monitor", false) {
		result["monitor"] = t.services.Agents.MonitorSummary()
		result["recent_events"] = t.services.Agents.RecentEvents(int(request.GetFloat("recent_events", 10)))
	}
	return jsonResult(result)
}

// toolError reports failures as tool results so the model sees the message.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, serviceErr.Code, serviceErr.Message))
	}
	slog.Error("MCP tool failed", "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

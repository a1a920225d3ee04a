package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/proto"
	"github.com/mbocsi/teamhub/services"
)

type statusResponse struct {
	Connection client.Status             `json:"connection"`
	Health     services.ConnectionHealth `json:"health"`
	TasksStale bool                      `json:"tasks_stale"`
}

func (a *API) HandleStatus(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, statusResponse{
		Connection: a.services.Connection.Status(),
		Health:     a.services.Agents.Health(),
		TasksStale: a.services.Tasks.Stale(),
	})
}

// HandleConnect starts (or restarts after exhaustion) the hub connection.
func (a *API) HandleConnect(wr http.ResponseWriter, r *http.Request) {
	a.services.Connection.Connect()
	writeJSON(wr, http.StatusAccepted, a.services.Connection.Status())
}

func (a *API) HandleDisconnect(wr http.ResponseWriter, r *http.Request) {
	a.services.Connection.Disconnect()
	writeJSON(wr, http.StatusOK, a.services.Connection.Status())
}

func (a *API) HandleListTasks(wr http.ResponseWriter, r *http.Request) {
	filter := services.TaskFilter{
		Status:  r.URL.Query().Get("status"),
		AgentID: r.URL.Query().Get("agent_id"),
	}
	tasks, err := a.services.Tasks.ListTasks(filter)
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"tasks": tasks,
		"stale": a.services.Tasks.Stale(),
	})
}

func (a *API) HandleTaskDetail(wr http.ResponseWriter, r *http.Request) {
	task, err := a.services.Tasks.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, task)
}

// HandleCreateTask forwards a task_create to the hub. The task shows up in
// the list once the hub broadcasts the resulting task_update.
func (a *API) HandleCreateTask(wr http.ResponseWriter, r *http.Request) {
	var req proto.TaskCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid JSON body", Cause: err})
		return
	}

	receipt, err := a.services.Tasks.CreateTask(req)
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusAccepted, receipt)
}

func (a *API) HandleRefreshTasks(wr http.ResponseWriter, r *http.Request) {
	if err := a.services.Tasks.Refresh(r.Context()); err != nil {
		a.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (a *API) HandleChatRooms(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, map[string]any{"rooms": a.services.Chat.Rooms()})
}

// HandleChatHistory returns the cached history of a room. ?refresh=true
// asks the hub for the room's history first.
func (a *API) HandleChatHistory(wr http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := a.services.Chat.LoadHistory(r.Context(), room); err != nil {
			a.handleError(wr, err)
			return
		}
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "limit must be a non-negative integer", Cause: err})
			return
		}
		limit = n
	}

	msgs, err := a.services.Chat.History(room, limit)
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{"room": room, "messages": msgs})
}

func (a *API) HandlePostChat(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid JSON body", Cause: err})
		return
	}

	receipt, err := a.services.Chat.Post(chi.URLParam(r, "room"), req.Author, req.Text)
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusAccepted, receipt)
}

func (a *API) HandleListAgents(wr http.ResponseWriter, r *http.Request) {
	agents, err := a.services.Agents.ListAgents()
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{"agents": agents})
}

func (a *API) HandleAgentDetail(wr http.ResponseWriter, r *http.Request) {
	agent, err := a.services.Agents.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, agent)
}

func (a *API) HandleMonitor(wr http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"summary": a.services.Agents.MonitorSummary(),
		"recent":  a.services.Agents.RecentEvents(limit),
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleError handles service errors with proper HTTP status codes
func (a *API) handleError(wr http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if !errors.As(err, &serviceErr) {
		slog.Error("Unexpected API error", "error", err)
		writeJSON(wr, http.StatusInternalServerError, errorResponse{Code: services.ErrCodeInternal, Message: "Internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Code {
	case services.ErrCodeNotFound:
		status = http.StatusNotFound
	case services.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case services.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case services.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Service error", "code", serviceErr.Code, "error", err)
	} else {
		slog.Debug("Rejected API request", "code", serviceErr.Code, "error", err)
	}
	writeJSON(wr, status, errorResponse{Code: serviceErr.Code, Message: serviceErr.Message})
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to write JSON response", "error", err)
	}
}

// Package gateway provides the main Nexus gateway server.
//
// task_handlers.go exposes CRUD for scheduled tasks (spec.md §4.4, §4.7) over
// plain HTTP/JSON. tasks.ScheduledTask and tasks.TaskExecution already carry
// `json:` tags, so they're encoded directly rather than through a converter.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexus-assist/internal/tasks"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func (s *Server) registerTaskRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks/", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks/", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/pause", s.handlePauseTask)
	mux.HandleFunc("POST /api/tasks/{id}/resume", s.handleResumeTask)
	mux.HandleFunc("POST /api/tasks/{id}/trigger", s.handleTriggerTask)
	mux.HandleFunc("GET /api/tasks/{id}/executions", s.handleListExecutions)
}

func (s *Server) taskStoreOrError(w http.ResponseWriter) bool {
	if s.taskStore == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "task scheduler not enabled")
		return false
	}
	return true
}

type createTaskRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	AgentID     string           `json:"agent_id"`
	Schedule    string           `json:"schedule"`
	Timezone    string           `json:"timezone,omitempty"`
	Prompt      string           `json:"prompt"`
	Config      tasks.TaskConfig `json:"config,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sched, err := cronParser.Parse(req.Schedule)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid cron schedule: "+err.Error())
		return
	}

	loc := resolveTimezone(req.Timezone)
	now := time.Now()

	task := &tasks.ScheduledTask{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		AgentID:     req.AgentID,
		Schedule:    req.Schedule,
		Timezone:    req.Timezone,
		Prompt:      req.Prompt,
		Config:      req.Config,
		Status:      tasks.TaskStatusActive,
		NextRunAt:   sched.Next(now.In(loc)),
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    req.Metadata,
	}

	if err := s.taskStore.CreateTask(r.Context(), task); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "create task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	task, err := s.taskStore.GetTask(r.Context(), r.PathValue("id"))
	if err != nil || task == nil {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	opts := tasks.ListTasksOptions{AgentID: r.URL.Query().Get("agent_id")}
	if status := r.URL.Query().Get("status"); status != "" {
		s := tasks.TaskStatus(status)
		opts.Status = &s
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	} else {
		opts.Limit = 50
	}

	list, err := s.taskStore.ListTasks(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "total_count": len(list)})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	task, err := s.taskStore.GetTask(r.Context(), r.PathValue("id"))
	if err != nil || task == nil {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		task.Name = req.Name
	}
	if req.Description != "" {
		task.Description = req.Description
	}
	if req.Schedule != "" {
		sched, err := cronParser.Parse(req.Schedule)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid cron schedule: "+err.Error())
			return
		}
		task.Schedule = req.Schedule
		tz := req.Timezone
		if tz == "" {
			tz = task.Timezone
		}
		task.NextRunAt = sched.Next(time.Now().In(resolveTimezone(tz)))
	}
	if req.Timezone != "" {
		task.Timezone = req.Timezone
	}
	if req.Prompt != "" {
		task.Prompt = req.Prompt
	}
	if req.Config != (tasks.TaskConfig{}) {
		task.Config = req.Config
	}
	if len(req.Metadata) > 0 {
		task.Metadata = req.Metadata
	}
	task.UpdatedAt = time.Now()

	if err := s.taskStore.UpdateTask(r.Context(), task); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "update task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	if err := s.taskStore.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskStatus(w, r, tasks.TaskStatusPaused)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskStatus(w, r, tasks.TaskStatusActive)
}

func (s *Server) setTaskStatus(w http.ResponseWriter, r *http.Request, status tasks.TaskStatus) {
	if !s.taskStoreOrError(w) {
		return
	}
	task, err := s.taskStore.GetTask(r.Context(), r.PathValue("id"))
	if err != nil || task == nil {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	if status == tasks.TaskStatusActive {
		if sched, err := cronParser.Parse(task.Schedule); err == nil {
			task.NextRunAt = sched.Next(time.Now().In(resolveTimezone(task.Timezone)))
		}
	}
	if err := s.taskStore.UpdateTask(r.Context(), task); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	task, err := s.taskStore.GetTask(r.Context(), r.PathValue("id"))
	if err != nil || task == nil {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}

	exec := &tasks.TaskExecution{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Status:        tasks.ExecutionStatusPending,
		ScheduledAt:   time.Now(),
		Prompt:        task.Prompt,
		AttemptNumber: 1,
	}
	if err := s.taskStore.CreateExecution(r.Context(), exec); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "create execution: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.taskStoreOrError(w) {
		return
	}
	opts := tasks.ListExecutionsOptions{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := tasks.ExecutionStatus(status)
		opts.Status = &s
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	} else {
		opts.Limit = 50
	}

	executions, err := s.taskStore.ListExecutions(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "total_count": len(executions)})
}

func resolveTimezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

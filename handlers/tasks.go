package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"bridgarr/services/scheduler"
)

// TasksHandler exposes the scheduled maintenance tasks.
type TasksHandler struct {
	scheduler *scheduler.Service
}

// NewTasksHandler creates the tasks handler.
func NewTasksHandler(sched *scheduler.Service) *TasksHandler {
	return &TasksHandler{scheduler: sched}
}

// ListTasks lists the fixed task set and which tasks are running.
// GET /api/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	type taskInfo struct {
		Name    string `json:"name"`
		Running bool   `json:"running"`
	}

	tasks := []taskInfo{}
	for _, name := range scheduler.TaskNames() {
		tasks = append(tasks, taskInfo{
			Name:    name,
			Running: h.scheduler.IsTaskRunning(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// RunTask triggers immediate execution of a named task.
// POST /api/tasks/{name}/run
func (h *TasksHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := h.scheduler.RunTaskNow(name)
	if errors.Is(err, scheduler.ErrUnknownTask) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, scheduler.ErrTaskRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "task": name})
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/service"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/worker"
)

const streamBufSize = 64

type TaskHandler struct {
	svc    *service.TaskService
	logger *zap.Logger
}

func NewTaskHandler(svc *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

type submitQuestionRequest struct {
	Question string `json:"question"`
}

// Submit accepts a question and returns the pending task. Processing is
// asynchronous; the caller polls Get or follows Stream.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := h.svc.Submit(r.Context(), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQuestionEmpty):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, worker.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "queue is full, try again later")
		default:
			h.logger.Error("submit question", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit question")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	task, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// Stream follows the task's progress over SSE. The current snapshot is sent
// first, then one frame per progress event until the terminal event closes
// the stream.
func (h *TaskHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	task, ch, err := h.svc.Subscribe(r.Context(), id, streamBufSize)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("subscribe to task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer h.svc.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "snapshot", task)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, "progress", ev)
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

func (h *TaskHandler) Related(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	related, err := h.svc.Related(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("related tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load related tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"related": related})
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (h *TaskHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.RecordFeedback(r.Context(), id, req.Rating, req.Comment); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRating):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		default:
			h.logger.Error("record feedback", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to record feedback")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("cancel task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

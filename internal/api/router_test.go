package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/events"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/service"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/store"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/worker"
)

type stubQueue struct {
	mu  sync.Mutex
	err error
	ids []uuid.UUID
}

func (q *stubQueue) Submit(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *stubQueue) submitted() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

type testApp struct {
	app   *App
	store *store.MemoryStore
	bus   *events.Bus
	queue *stubQueue
}

func newTestApp(t *testing.T, ping Pinger) *testApp {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewBus()
	queue := &stubQueue{}
	svc := service.NewTaskService(st, bus, queue, zap.NewNop())
	return &testApp{
		app:   NewApp(svc, ping, zap.NewNop()),
		store: st,
		bus:   bus,
		queue: queue,
	}
}

func (ta *testApp) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	ta.app.Router.ServeHTTP(rec, req)
	return rec
}

func (ta *testApp) createTask(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	task := domain.NewTask("What is dark matter?")
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, ta.store.Create(context.Background(), task))
	return task
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSubmitQuestion(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.request(t, http.MethodPost, "/v1/questions", `{"question":"What is dark matter?"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "What is dark matter?", task.Question)
	assert.Equal(t, domain.StatusPending, task.Status)

	queued := ta.queue.submitted()
	require.Len(t, queued, 1)
	assert.Equal(t, task.ID, queued[0])

	stored, err := ta.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestSubmitQuestionValidation(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.request(t, http.MethodPost, "/v1/questions", `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "question is required", errorMessage(t, rec))

	rec = ta.request(t, http.MethodPost, "/v1/questions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", errorMessage(t, rec))
}

func TestSubmitQuestionQueueFull(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.queue.err = worker.ErrQueueFull

	rec := ta.request(t, http.MethodPost, "/v1/questions", `{"question":"What is dark matter?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queue is full, try again later", errorMessage(t, rec))
}

func TestGetTask(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	rec := ta.request(t, http.MethodGet, "/v1/tasks/"+task.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.request(t, http.MethodGet, "/v1/tasks/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.request(t, http.MethodGet, "/v1/tasks/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid task id", errorMessage(t, rec))
}

func TestTaskFeedback(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	rec := ta.request(t, http.MethodPost, "/v1/tasks/"+task.ID.String()+"/feedback", `{"rating":4,"comment":"helpful answer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := ta.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, stored.Feedback, 1)
	assert.Equal(t, 4, stored.Feedback[0].Rating)
	assert.Equal(t, "helpful answer", stored.Feedback[0].Comment)
}

func TestTaskFeedbackValidation(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	rec := ta.request(t, http.MethodPost, "/v1/tasks/"+task.ID.String()+"/feedback", `{"rating":6}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "rating must be between 1 and 5", errorMessage(t, rec))

	rec = ta.request(t, http.MethodPost, "/v1/tasks/"+uuid.NewString()+"/feedback", `{"rating":3}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	rec := ta.request(t, http.MethodPost, "/v1/tasks/"+task.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	stored, err := ta.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)
}

func TestRelatedTasks(t *testing.T) {
	ta := newTestApp(t, nil)
	base := ta.createTask(t, func(task *domain.Task) {
		task.Embedding = []float32{1, 0}
	})
	similar := ta.createTask(t, func(task *domain.Task) {
		task.Question = "How is dark matter detected?"
		task.Status = domain.StatusCompleted
		task.Embedding = []float32{1, 0}
	})

	rec := ta.request(t, http.MethodGet, "/v1/tasks/"+base.ID.String()+"/related", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Related []domain.TaskWithScore `json:"related"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Related, 1)
	assert.Equal(t, similar.ID, body.Related[0].ID)
	assert.InDelta(t, 1.0, body.Related[0].Score, 1e-6)

	rec = ta.request(t, http.MethodGet, "/v1/tasks/"+base.ID.String()+"/related?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid limit", errorMessage(t, rec))
}

func TestStreamTerminalSnapshot(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, func(task *domain.Task) {
		task.Status = domain.StatusCompleted
	})

	rec := ta.request(t, http.MethodGet, "/v1/tasks/"+task.ID.String()+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: snapshot\ndata: "), "body %q", body)
	assert.Contains(t, body, `"status":"completed"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestStreamFollowsProgress(t *testing.T) {
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	srv := httptest.NewServer(ta.app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/tasks/" + task.ID.String() + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)

	// The snapshot frame is flushed after the subscription is registered,
	// so publishing after reading it cannot race the subscribe.
	event, data := readFrame(t, reader)
	assert.Equal(t, "snapshot", event)
	assert.Contains(t, data, `"status":"pending"`)

	ta.bus.Publish(events.ProgressEvent{
		TaskID:    task.ID,
		Seq:       1,
		Status:    domain.StatusClassifying,
		Summary:   "classifying question",
		Timestamp: time.Now().UTC(),
	})
	ta.bus.Publish(events.ProgressEvent{
		TaskID:    task.ID,
		Seq:       2,
		Status:    domain.StatusFailed,
		Terminal:  true,
		Timestamp: time.Now().UTC(),
	})

	event, data = readFrame(t, reader)
	assert.Equal(t, "progress", event)
	assert.Contains(t, data, `"status":"classifying"`)
	assert.Contains(t, data, `"summary":"classifying question"`)

	event, data = readFrame(t, reader)
	assert.Equal(t, "progress", event)
	assert.Contains(t, data, `"terminal":true`)

	_, err = reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func readFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if event != "" {
				return event, data
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
}

func TestAPIKeyAuthGuardsRoutes(t *testing.T) {
	t.Setenv("API_TOKEN", "sekret")
	ta := newTestApp(t, nil)
	task := ta.createTask(t, nil)

	get := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+task.ID.String(), nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		ta.app.Router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization header", errorMessage(t, rec))

	rec = get("Basic sekret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid authorization header format", errorMessage(t, rec))

	rec = get("Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid API key", errorMessage(t, rec))

	rec = get("Bearer sekret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = ta.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsStore(t *testing.T) {
	ta := newTestApp(t, nil)
	rec := ta.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	down := newTestApp(t, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	rec = down.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsCountsRequests(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.request(t, http.MethodGet, "/health", "")
	ta.request(t, http.MethodGet, "/v1/tasks/not-a-uuid", "")

	rec := ta.request(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body["request_count"].(float64), float64(2))
	assert.GreaterOrEqual(t, body["error_count"].(float64), float64(1))
	assert.Equal(t, float64(1), body["in_flight"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "goroutines")
	assert.Contains(t, body, "build")
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/history"
	"ImageGen-Console/internal/observability/metrics"
	"ImageGen-Console/internal/storage"
	"ImageGen-Console/pkg/logger"
	"ImageGen-Console/sdk/go/imagegen"
)

type fakeBackend struct {
	mu      sync.Mutex
	tasks   []imagegen.Task
	total   int
	queries []imagegen.HistoryQuery
	listErr error
	status  map[string]*imagegen.TaskStatus
	upscale map[string]*imagegen.TaskStatus
}

func (f *fakeBackend) ListHistory(_ context.Context, q imagegen.HistoryQuery) (*imagegen.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &imagegen.HistoryPage{Tasks: f.tasks, Total: f.total, HasMore: f.total > len(f.tasks)}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func lookup(m map[string]*imagegen.TaskStatus, id string) (*imagegen.TaskStatus, error) {
	if st, ok := m[id]; ok {
		return st, nil
	}
	return nil, &imagegen.APIError{StatusCode: http.StatusNotFound, Message: "任务不存在"}
}

func (f *fakeBackend) GetTask(_ context.Context, id string) (*imagegen.TaskStatus, error) {
	return lookup(f.status, id)
}

func (f *fakeBackend) GetUpscale(_ context.Context, id string) (*imagegen.TaskStatus, error) {
	return lookup(f.upscale, id)
}

func sampleTasks(n int) []imagegen.Task {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]imagegen.Task, n)
	for i := range out {
		id := "task-" + string(rune('a'+i))
		created := imagegen.At(base.Add(time.Duration(i) * time.Minute))
		out[i] = imagegen.Task{ID: id, TaskID: id, Status: imagegen.StatusCompleted, CreatedAt: created, UpdatedAt: created}
	}
	return out
}

func newTestServer(t *testing.T, backend *fakeBackend, opts ...Option) (*Server, *history.Manager) {
	t.Helper()
	manager, err := history.NewManager(storage.NewMemoryStore(), history.Options{}, history.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	opts = append([]Option{WithLogger(logger.Discard()), WithMetrics(metrics.New(nil))}, opts...)
	return NewServer(":0", manager, backend, opts...), manager
}

func do(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHistoryServesFromCacheOnSecondRequest(t *testing.T) {
	backend := &fakeBackend{tasks: sampleTasks(3), total: 3}
	server, _ := newTestServer(t, backend)
	handler := server.Handler()

	first := do(t, handler, http.MethodGet, "/api/v1/history")
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", first.Code, first.Body.String())
	}
	if got := decode[historyResponse](t, first); got.FromCache || len(got.Tasks) != 3 || got.CachedAt == nil {
		t.Fatalf("first request should fetch and persist: %+v", got)
	}

	second := do(t, handler, http.MethodGet, "/api/v1/history")
	got := decode[historyResponse](t, second)
	if !got.FromCache || got.Stale || got.Total != 3 {
		t.Fatalf("second request should hit the fresh cache: %+v", got)
	}
	if backend.calls() != 1 {
		t.Fatalf("expected one backend call, got %d", backend.calls())
	}
	if q := backend.queries[0]; q.Limit != 20 || q.Order != "desc" {
		t.Fatalf("unexpected upstream query %+v", q)
	}
}

func TestHistoryFilteredQueriesBypassCache(t *testing.T) {
	backend := &fakeBackend{tasks: sampleTasks(2), total: 30}
	server, manager := newTestServer(t, backend)
	handler := server.Handler()

	for _, target := range []string{
		"/api/v1/history?offset=20",
		"/api/v1/history?favorite_filter=favorited",
		"/api/v1/history?limit=50",
	} {
		rec := do(t, handler, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", target, rec.Code)
		}
		if got := decode[historyResponse](t, rec); got.FromCache || !got.HasMore {
			t.Fatalf("%s: unexpected response %+v", target, got)
		}
	}
	if backend.calls() != 3 {
		t.Fatalf("expected pass-through for each request, got %d", backend.calls())
	}
	if snap, _ := manager.Peek(context.Background()); snap != nil {
		t.Fatalf("filtered pages must not be cached")
	}
	if backend.queries[1].FavoriteFilter != "favorited" || backend.queries[0].Offset != 20 {
		t.Fatalf("query parameters not forwarded: %+v", backend.queries)
	}
}

func TestHistoryForceAndNoCache(t *testing.T) {
	backend := &fakeBackend{tasks: sampleTasks(1), total: 1}
	server, _ := newTestServer(t, backend, WithRefreshLimit(100, 10))
	handler := server.Handler()

	do(t, handler, http.MethodGet, "/api/v1/history")
	forced := decode[historyResponse](t, do(t, handler, http.MethodGet, "/api/v1/history?force=1"))
	uncached := decode[historyResponse](t, do(t, handler, http.MethodGet, "/api/v1/history?cache=0"))
	if forced.FromCache || uncached.FromCache {
		t.Fatalf("force and cache=0 must fetch")
	}
	if backend.calls() != 3 {
		t.Fatalf("expected three backend calls, got %d", backend.calls())
	}
}

func TestHistoryUpstreamFailure(t *testing.T) {
	backend := &fakeBackend{listErr: &imagegen.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}}
	server, _ := newTestServer(t, backend)

	rec := do(t, server.Handler(), http.MethodGet, "/api/v1/history")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Code != xerrors.CodeUpstreamFailure {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestRefreshIsRateLimited(t *testing.T) {
	backend := &fakeBackend{tasks: sampleTasks(2), total: 2}
	server, _ := newTestServer(t, backend, WithRefreshLimit(0.001, 1))
	handler := server.Handler()

	if rec := do(t, handler, http.MethodPost, "/api/v1/history/refresh"); rec.Code != http.StatusOK {
		t.Fatalf("first refresh should pass, got %d", rec.Code)
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/history/refresh")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Code != xerrors.CodeRateLimited {
		t.Fatalf("unexpected error body %+v", body)
	}
	if backend.calls() != 1 {
		t.Fatalf("limited refresh must not reach the backend")
	}
}

func TestSyncReportsDiff(t *testing.T) {
	tasks := sampleTasks(3)
	backend := &fakeBackend{tasks: tasks[:2], total: 2}
	server, _ := newTestServer(t, backend)
	handler := server.Handler()

	do(t, handler, http.MethodGet, "/api/v1/history")

	backend.mu.Lock()
	backend.tasks = tasks
	backend.total = 3
	backend.mu.Unlock()

	rec := do(t, handler, http.MethodPost, "/api/v1/history/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[syncResponse](t, rec)
	if got.New != 1 || got.Updated != 0 || got.Removed != 0 || !got.Incremental {
		t.Fatalf("unexpected diff %+v", got)
	}
	if len(got.Tasks) != 3 || got.Tasks[0].TaskID != "task-c" || got.Total != 3 {
		t.Fatalf("unexpected merged tasks %+v", got)
	}
}

func TestCacheStatusAndInvalidate(t *testing.T) {
	backend := &fakeBackend{tasks: sampleTasks(2), total: 2}
	server, _ := newTestServer(t, backend)
	handler := server.Handler()

	empty := decode[cacheStatus](t, do(t, handler, http.MethodGet, "/api/v1/history/cache"))
	if empty.Freshness != "expired" || empty.Entries != 0 || empty.Namespace != "imagegen" {
		t.Fatalf("unexpected empty status %+v", empty)
	}

	do(t, handler, http.MethodGet, "/api/v1/history")
	filled := decode[cacheStatus](t, do(t, handler, http.MethodGet, "/api/v1/history/cache"))
	if filled.Freshness != "fresh" || filled.Entries != 2 || filled.Version != history.SchemaVersion {
		t.Fatalf("unexpected status %+v", filled)
	}

	if rec := do(t, handler, http.MethodDelete, "/api/v1/history/cache"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	after := decode[cacheStatus](t, do(t, handler, http.MethodGet, "/api/v1/history/cache"))
	if after.Entries != 0 {
		t.Fatalf("cache should be empty after invalidation")
	}
}

func TestTaskStatusPassThrough(t *testing.T) {
	progress := 40
	backend := &fakeBackend{
		status:  map[string]*imagegen.TaskStatus{"t1": {TaskID: "t1", Status: imagegen.StatusProcessing, Progress: &progress}},
		upscale: map[string]*imagegen.TaskStatus{"u1": {TaskID: "u1", Status: imagegen.StatusCompleted}},
	}
	server, _ := newTestServer(t, backend)
	handler := server.Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/tasks/t1")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := decode[imagegen.TaskStatus](t, rec); got.Progress == nil || *got.Progress != 40 {
		t.Fatalf("unexpected task status %+v", got)
	}

	if got := decode[imagegen.TaskStatus](t, do(t, handler, http.MethodGet, "/api/v1/tasks/u1?type=upscale")); got.Status != imagegen.StatusCompleted {
		t.Fatalf("unexpected upscale status %+v", got)
	}

	missing := do(t, handler, http.MethodGet, "/api/v1/tasks/nope")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestRoutingAndMetrics(t *testing.T) {
	server, _ := newTestServer(t, &fakeBackend{})
	handler := server.Handler()

	if rec := do(t, handler, http.MethodPut, "/api/v1/history/cache"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
	rec := do(t, handler, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "genconsole_http_requests_total") {
		t.Fatalf("metrics endpoint missing request counters: %d", rec.Code)
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if rec := do(t, handler, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ImageGen-Console/internal/config"
	"ImageGen-Console/internal/events"
	"ImageGen-Console/internal/storage"
	"ImageGen-Console/internal/task"
)

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cases := []config.StorageConfig{
		{Driver: storage.DriverMemory},
		{Driver: storage.DriverSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "history.db")}},
		{Driver: storage.DriverBadger, Badger: config.BadgerConfig{InMemory: true}},
	}
	for _, cfg := range cases {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, err := openStore(ctx, cfg)
			if err != nil {
				t.Fatalf("open %s: %v", cfg.Driver, err)
			}
			defer store.Close()
			if err := store.Set(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := store.Get(ctx, "k")
			if err != nil || string(got) != "v" {
				t.Fatalf("get: %q, %v", got, err)
			}
		})
	}

	if _, err := openStore(ctx, config.StorageConfig{Driver: "etcd"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestOpenBusDrivers(t *testing.T) {
	ctx := context.Background()
	bus, err := openBus(ctx, config.EventsConfig{Driver: events.DriverNone})
	if err != nil {
		t.Fatalf("open none: %v", err)
	}
	if _, ok := bus.(events.Nop); !ok {
		t.Fatalf("expected Nop bus, got %T", bus)
	}

	bus, err = openBus(ctx, config.EventsConfig{Driver: events.DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer bus.Close()
	if _, ok := bus.(*events.MemoryBus); !ok {
		t.Fatalf("expected memory bus, got %T", bus)
	}

	if _, err := openBus(ctx, config.EventsConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestNewPollerAppliesOverrides(t *testing.T) {
	cfg, err := config.Parse([]byte("poller:\n  upscale:\n    interval: 3s\n    max_attempts: 7\n"), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rt, err := buildServices(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	defer rt.Close()

	poller, err := newPoller(rt, "upscale")
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	profile := poller.Profile()
	if profile.Interval != 3*time.Second || profile.MaxAttempts != 7 || profile.Endpoint != task.EndpointUpscale {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if _, err := newPoller(rt, "gif"); err == nil {
		t.Fatalf("expected unknown profile error")
	}
}

func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "genconsole.yaml")
	content := fmt.Sprintf(`backend:
  base_url: %q
storage:
  driver: sqlite
logging:
  output_paths: ["stderr"]
  level: error
`, backendURL)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryAndCacheCommands(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[
			{"id":"t2","task_id":"t2","status":"completed","description":"a red fox","is_favorited":1,"created_at":"2024-05-01T12:02:00"},
			{"id":"t1","task_id":"t1","status":"pending","description":"a cat","is_favorited":0,"created_at":"2024-05-01T12:01:00"}
		],"total":2,"has_more":false,"limit":20,"offset":0,"order":"desc"}`))
	}))
	defer backend.Close()
	configPath := writeConfig(t, backend.URL)

	out, err := execute(t, "--config", configPath, "cache", "status")
	if err != nil {
		t.Fatalf("cache status: %v", err)
	}
	if !strings.Contains(out, "empty") {
		t.Fatalf("expected empty cache, got:\n%s", out)
	}

	out, err = execute(t, "--config", configPath, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "2 of 2 tasks from backend") || !strings.Contains(out, "a red fox") {
		t.Fatalf("unexpected history output:\n%s", out)
	}

	out, err = execute(t, "--config", configPath, "history")
	if err != nil {
		t.Fatalf("history (cached): %v", err)
	}
	if !strings.Contains(out, "from cache") {
		t.Fatalf("second run should read the sqlite cache, got:\n%s", out)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one backend hit, got %d", hits.Load())
	}

	out, err = execute(t, "--config", configPath, "cache", "status")
	if err != nil || !strings.Contains(out, "fresh, 2 entries") {
		t.Fatalf("unexpected cache status (%v):\n%s", err, out)
	}

	if _, err := execute(t, "--config", configPath, "cache", "clear"); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	out, _ = execute(t, "--config", configPath, "cache", "status")
	if !strings.Contains(out, "empty") {
		t.Fatalf("expected empty cache after clear, got:\n%s", out)
	}
}

func TestPollCommandReportsFailures(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/task/ok":
			_, _ = w.Write([]byte(`{"task_id":"ok","status":"completed","progress":100}`))
		case "/api/task/bad":
			_, _ = w.Write([]byte(`{"task_id":"bad","status":"failed","error":"显存不足"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()
	configPath := writeConfig(t, backend.URL)

	out, err := execute(t, "--config", configPath, "poll", "ok")
	if err != nil {
		t.Fatalf("poll ok: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok\tcompleted") {
		t.Fatalf("unexpected poll output:\n%s", out)
	}

	out, err = execute(t, "--config", configPath, "poll", "ok", "bad")
	if err == nil || !strings.Contains(err.Error(), "bad(failed)") {
		t.Fatalf("expected failure for bad task, got %v", err)
	}
	if !strings.Contains(out, "bad\terror: 显存不足") {
		t.Fatalf("unexpected poll output:\n%s", out)
	}
}

func TestEventsWatchRequiresSharedBus(t *testing.T) {
	configPath := writeConfig(t, "http://127.0.0.1:1")
	if _, err := execute(t, "--config", configPath, "events", "watch"); err == nil {
		t.Fatalf("expected error for the none driver")
	}
}

func TestTaskCommandsInvalidateCache(t *testing.T) {
	var deletes atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/history":
			_, _ = w.Write([]byte(`{"tasks":[{"id":"t1","task_id":"t1","status":"completed","created_at":"2024-05-01T12:01:00"}],"total":1,"has_more":false}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/task/t1":
			deletes.Add(1)
			_, _ = w.Write([]byte(`{"message":"deleted"}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"任务不存在"}`))
		case r.URL.Path == "/api/image/t1/2/favorite":
			_, _ = w.Write([]byte(`{"task_id":"t1","image_index":2,"is_favorited":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()
	configPath := writeConfig(t, backend.URL)

	if _, err := execute(t, "--config", configPath, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	out, err := execute(t, "--config", configPath, "task", "favorite", "t1", "--index", "2")
	if err != nil || !strings.Contains(out, "t1\tfavorited") {
		t.Fatalf("favorite (%v):\n%s", err, out)
	}
	if out, _ := execute(t, "--config", configPath, "cache", "status"); !strings.Contains(out, "empty") {
		t.Fatalf("favorite should clear the cache, got:\n%s", out)
	}

	if _, err := execute(t, "--config", configPath, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	out, err = execute(t, "--config", configPath, "task", "delete", "t1", "gone")
	if err != nil {
		t.Fatalf("delete: %v\n%s", err, out)
	}
	if !strings.Contains(out, "t1\tdeleted") || !strings.Contains(out, "gone\tnot found") || deletes.Load() != 1 {
		t.Fatalf("unexpected delete output:\n%s", out)
	}
	if out, _ := execute(t, "--config", configPath, "cache", "status"); !strings.Contains(out, "empty") {
		t.Fatalf("delete should clear the cache, got:\n%s", out)
	}
}

func TestHealthCommand(t *testing.T) {
	var degraded atomic.Bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		if degraded.Load() {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":%q,"database_connected":true,"comfyui_connected":false}`, status)
	}))
	defer backend.Close()
	configPath := writeConfig(t, backend.URL)

	out, err := execute(t, "--config", configPath, "health")
	if err != nil || !strings.Contains(out, "comfyui:  false") {
		t.Fatalf("health (%v):\n%s", err, out)
	}
	degraded.Store(true)
	if _, err := execute(t, "--config", configPath, "health"); err == nil {
		t.Fatalf("expected error for unhealthy backend")
	}
}

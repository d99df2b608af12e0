package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesObservedSeries(t *testing.T) {
	m := New(nil)
	m.ObserveLoad("fresh")
	m.ObserveFetch("background", errors.New("boom"), 20*time.Millisecond)
	m.ObserveWrite(42)
	m.ObservePoll("task", "completed")
	m.ObserveHTTPRequest("history", "GET", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`genconsole_history_loads_total{source="fresh"} 1`,
		`genconsole_history_fetches_total{mode="background",result="error"} 1`,
		`genconsole_history_cache_entries 42`,
		`genconsole_poll_outcomes_total{outcome="completed",profile="task"} 1`,
		`genconsole_http_requests_total{code="200",handler="history",method="GET"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, text)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLoad("fresh")
	m.ObserveInvalidation("manual")
	m.ObserveSync(true)
	if m.Gatherer() == nil {
		t.Fatalf("expected a non-nil gatherer")
	}
}

func TestInvalidationResetsEntriesGauge(t *testing.T) {
	m := New(nil)
	m.ObserveWrite(10)
	m.ObserveInvalidation("version_mismatch")

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "genconsole_history_cache_entries" {
			if got := family.GetMetric()[0].GetGauge().GetValue(); got != 0 {
				t.Fatalf("expected gauge reset to 0, got %v", got)
			}
			return
		}
	}
	t.Fatalf("gauge family not found")
}

func TestStartServerServesAndStops(t *testing.T) {
	m := New(nil)
	if err := m.StartServer(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	if err := m.StartServer(context.Background(), addr); err == nil {
		t.Fatalf("expected bind error while the port is taken")
	}
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.StartServer(ctx, addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

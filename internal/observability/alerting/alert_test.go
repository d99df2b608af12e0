package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	logN := &recordingNotifier{channel: ChannelLog}
	hook := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(logN, nil, hook)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, Message: "poll timed out"})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected webhook failure to surface, got %v", err)
	}
	if len(logN.events) != 1 || len(hook.events) != 1 {
		t.Fatalf("expected each notifier to receive one event")
	}
	if logN.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be stamped")
	}
}

func TestFanoutReplacesDuplicateChannel(t *testing.T) {
	first := &recordingNotifier{channel: ChannelLog}
	second := &recordingNotifier{channel: ChannelLog}
	if err := NewFanout(first, second).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(first.events) != 0 || len(second.events) != 1 {
		t.Fatalf("expected only the last notifier per channel to be used")
	}
}

func TestFromErrorCopiesCodeAndMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeUpstreamFailure, "backend unavailable", xerrors.WithMetadata("status", "502"))
	event := FromError("history", "imagegen", err)
	if event.Code != xerrors.CodeUpstreamFailure || event.Metadata["status"] != "502" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Severity != xerrors.SeverityWarning {
		t.Fatalf("unexpected severity: %s", event.Severity)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, 0)
	if err := n.Notify(context.Background(), Event{Code: "POLL_ABORTED", Subject: "task-1"}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.Code != "POLL_ABORTED" || got.Subject != "task-1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, 0).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Logger: logger.Discard()}
	if err := n.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

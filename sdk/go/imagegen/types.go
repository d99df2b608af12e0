package imagegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state reported by the backend for a generation task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Flag decodes the backend's favorite markers, which arrive as 0/1 integers
// from some endpoints and as booleans from others.
type Flag bool

// UnmarshalJSON accepts true/false, 0/1, "0"/"1" and null.
func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch raw {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	case "false", "0", `"0"`, `"false"`, "null", `""`:
		*f = false
	default:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("imagegen: invalid flag value %s", raw)
		}
		*f = n != 0
	}
	return nil
}

// Timestamp keeps the backend's original representation next to the parsed
// instant, so entries re-encode byte-for-byte and unknown formats still
// compare by their raw text.
type Timestamp struct {
	t   time.Time
	raw string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// At wraps a concrete instant.
func At(t time.Time) Timestamp {
	return Timestamp{t: t, raw: t.Format(time.RFC3339Nano)}
}

// ParseTimestamp parses one of the formats the backend emits. Unknown formats
// are kept as raw text with a zero instant.
func ParseTimestamp(raw string) Timestamp {
	raw = strings.TrimSpace(raw)
	ts := Timestamp{raw: raw}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			ts.t = parsed
			return ts
		}
	}
	return ts
}

// Time returns the parsed instant, zero when the raw text was not understood.
func (t Timestamp) Time() time.Time { return t.t }

// IsZero reports whether the timestamp carries no information at all.
func (t Timestamp) IsZero() bool { return t.t.IsZero() && t.raw == "" }

func (t Timestamp) String() string { return t.raw }

// Equal compares instants when both sides parsed, raw text otherwise.
func (t Timestamp) Equal(o Timestamp) bool {
	if !t.t.IsZero() && !o.t.IsZero() {
		return t.t.Equal(o.t)
	}
	return t.raw == o.raw
}

// NewerThan orders timestamps newest first. Unparsed values fall back to a
// lexical comparison, which matches ISO-8601 ordering.
func (t Timestamp) NewerThan(o Timestamp) bool {
	if !t.t.IsZero() && !o.t.IsZero() {
		return t.t.After(o.t)
	}
	return t.raw > o.raw
}

// MarshalJSON writes back the original text.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(t.raw)
}

// UnmarshalJSON accepts strings and unix seconds or milliseconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ParseTimestamp(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("imagegen: invalid timestamp %s", data)
	}
	var parsed time.Time
	if n > 1e12 {
		parsed = time.UnixMilli(n).UTC()
	} else {
		parsed = time.Unix(n, 0).UTC()
	}
	*t = Timestamp{t: parsed, raw: parsed.Format(time.RFC3339Nano)}
	return nil
}

// Image is one rendered output attached to a history task.
type Image struct {
	TaskID      string `json:"task_id"`
	Index       int    `json:"image_index"`
	URL         string `json:"url"`
	IsFavorited Flag   `json:"isFavorited"`
}

// Task is one history record as returned by GET /api/history.
type Task struct {
	ID                 string          `json:"id,omitempty"`
	TaskID             string          `json:"task_id,omitempty"`
	Status             Status          `json:"status"`
	TaskType           string          `json:"task_type,omitempty"`
	Description        string          `json:"description,omitempty"`
	Parameters         map[string]any  `json:"parameters,omitempty"`
	PromptID           string          `json:"prompt_id,omitempty"`
	ResultPath         string          `json:"result_path,omitempty"`
	Error              string          `json:"error,omitempty"`
	Progress           float64         `json:"progress,omitempty"`
	IsFavorited        Flag            `json:"is_favorited"`
	CreatedAt          Timestamp       `json:"created_at"`
	UpdatedAt          Timestamp       `json:"updated_at"`
	ReferenceImagePath json.RawMessage `json:"reference_image_path,omitempty"`
	ImageCount         int             `json:"image_count,omitempty"`
	ImageURLs          []string        `json:"image_urls,omitempty"`
	ThumbnailURLs      []string        `json:"thumbnail_urls,omitempty"`
	Images             []Image         `json:"images,omitempty"`
}

// Key returns the task identity. The history endpoint sends both id and
// task_id; older payloads carry only one of them.
func (t Task) Key() string {
	if t.TaskID != "" {
		return t.TaskID
	}
	return t.ID
}

// HistoryQuery selects one page of history.
type HistoryQuery struct {
	Limit  int
	Offset int
	// Order defaults to "desc".
	Order          string
	FavoriteFilter string
	TimeFilter     string
}

// Filtered reports whether the query narrows the default listing.
func (q HistoryQuery) Filtered() bool {
	return q.FavoriteFilter != "" || q.TimeFilter != ""
}

// HistoryPage is the body of GET /api/history.
type HistoryPage struct {
	Tasks   []Task `json:"tasks"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// TaskStatus is the body of GET /api/task/{id} and GET /api/upscale/{id}.
type TaskStatus struct {
	TaskID   string         `json:"task_id"`
	Status   Status         `json:"status"`
	Progress *int           `json:"progress,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    *string        `json:"error,omitempty"`
}

// FavoriteResult is returned by the favorite toggles.
type FavoriteResult struct {
	TaskID      string `json:"task_id"`
	ImageIndex  *int   `json:"image_index,omitempty"`
	IsFavorited Flag   `json:"is_favorited"`
	Message     string `json:"message,omitempty"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status            string `json:"status"`
	DatabaseConnected bool   `json:"database_connected"`
	ComfyUIConnected  bool   `json:"comfyui_connected"`
	Timestamp         string `json:"timestamp"`
}

// Healthy reports whether every backend dependency is up.
func (h Health) Healthy() bool { return h.Status == "healthy" }

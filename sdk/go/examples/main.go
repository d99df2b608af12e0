package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ImageGen-Console/sdk/go/imagegen"
)

func main() {
	progress := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tasks": []map[string]any{{
				"id":           "task-demo",
				"task_id":      "task-demo",
				"status":       "processing",
				"description":  "a lighthouse at dusk",
				"is_favorited": 0,
				"created_at":   time.Now().UTC().Format("2006-01-02T15:04:05"),
			}},
			"total":    1,
			"has_more": false,
		})
	})
	mux.HandleFunc("/api/task/task-demo", func(w http.ResponseWriter, r *http.Request) {
		progress += 50
		status := "processing"
		if progress >= 100 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "task-demo", "status": status, "progress": progress})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := imagegen.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := client.ListHistory(ctx, imagegen.HistoryQuery{Limit: 20})
	if err != nil {
		panic(err)
	}
	fmt.Printf("history: %d of %d tasks\n", len(page.Tasks), page.Total)

	for {
		status, err := client.GetTask(ctx, page.Tasks[0].Key())
		if err != nil {
			panic(err)
		}
		fmt.Printf("task %s: %s\n", status.TaskID, status.Status)
		if status.Status.Terminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}

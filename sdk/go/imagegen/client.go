// Package imagegen is a Go client for the image-generation backend REST API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPageSize matches the page size the console requests.
const DefaultPageSize = 20

// Client wraps the HTTP interactions with the generation backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError represents a non-2xx response. The backend reports failures as
// {"detail": "..."}.
type APIError struct {
	StatusCode int
	Message    string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("imagegen api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets a bearer token sent with every request. An empty token
// disables the Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// ListHistory fetches one page of generation history.
func (c *Client) ListHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Order == "" {
		q.Order = "desc"
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("order", q.Order)
	if q.FavoriteFilter != "" {
		params.Set("favorite_filter", q.FavoriteFilter)
	}
	if q.TimeFilter != "" {
		params.Set("time_filter", q.TimeFilter)
	}

	var page HistoryPage
	if err := c.call(ctx, http.MethodGet, "/api/history", params, nil, &page, false); err != nil {
		return nil, err
	}
	if page.Tasks == nil {
		page.Tasks = []Task{}
	}
	return &page, nil
}

// GetTask returns the status of a generation task. The request bypasses
// intermediary caches because it is used for polling.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	return c.status(ctx, "/api/task/"+taskID)
}

// GetUpscale returns the status of an upscale task.
func (c *Client) GetUpscale(ctx context.Context, taskID string) (*TaskStatus, error) {
	return c.status(ctx, "/api/upscale/"+taskID)
}

func (c *Client) status(ctx context.Context, endpoint string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.call(ctx, http.MethodGet, endpoint, nil, nil, &status, true); err != nil {
		return nil, err
	}
	return &status, nil
}

// DeleteTask removes a task and its outputs.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.call(ctx, http.MethodDelete, "/api/task/"+taskID, nil, nil, nil, false)
}

// ToggleFavorite flips the favorite flag of one image of a task.
func (c *Client) ToggleFavorite(ctx context.Context, taskID string, index int) (*FavoriteResult, error) {
	endpoint := fmt.Sprintf("/api/image/%s/%d/favorite", taskID, index)
	var result FavoriteResult
	if err := c.call(ctx, http.MethodPost, endpoint, nil, nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// ToggleVideoFavorite flips the favorite flag of a video task.
func (c *Client) ToggleVideoFavorite(ctx context.Context, taskID string) (*FavoriteResult, error) {
	var result FavoriteResult
	if err := c.call(ctx, http.MethodPost, "/api/video/"+taskID+"/favorite", nil, nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health queries the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, nil, &health, true); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload any, out any, noCache bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", c.baseURL.Path, endpoint)
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

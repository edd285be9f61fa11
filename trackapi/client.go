// Package trackapi is the HTTP client for the external time-tracking
// API. It exposes raw GET/POST/PUT plus typed helpers for the paged
// workspace entity endpoints, and surfaces rate limiting and server
// errors as typed values so callers can drive retry policy.
package trackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPageSize matches the API's maximum page size.
	DefaultPageSize = 200

	errorBodyLimit = 512
)

// APIError is a non-2xx response. Status and RetryAfter let the
// caller distinguish throttling (429) and server failures (5xx) from
// terminal client errors.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d", e.Status)
}

// RateLimited reports whether the request was throttled.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// ServerError reports a 5xx response.
func (e *APIError) ServerError() bool { return e.Status >= 500 }

// Client calls the external API on behalf of one workspace
// installation. All requests share a fixed timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given installation token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Get issues a GET for a path relative to the API base.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Addon-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Status:     resp.StatusCode,
			Body:       truncate(data, errorBodyLimit),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return data, nil
}

// NamedItem is an id/name pair from the entity list endpoints. Email
// is populated for users only.
type NamedItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TagsPage fetches one page of workspace tags.
func (c *Client) TagsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]NamedItem, error) {
	return c.itemsPage(ctx, "/workspaces/"+url.PathEscape(workspaceID)+"/tags", page, pageSize)
}

// ProjectsPage fetches one page of workspace projects.
func (c *Client) ProjectsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]NamedItem, error) {
	return c.itemsPage(ctx, "/workspaces/"+url.PathEscape(workspaceID)+"/projects", page, pageSize)
}

// ClientsPage fetches one page of workspace clients.
func (c *Client) ClientsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]NamedItem, error) {
	return c.itemsPage(ctx, "/workspaces/"+url.PathEscape(workspaceID)+"/clients", page, pageSize)
}

// UsersPage fetches one page of workspace users.
func (c *Client) UsersPage(ctx context.Context, workspaceID string, page, pageSize int) ([]NamedItem, error) {
	return c.itemsPage(ctx, "/workspaces/"+url.PathEscape(workspaceID)+"/users", page, pageSize)
}

// TasksPage fetches one page of a project's tasks.
func (c *Client) TasksPage(ctx context.Context, workspaceID, projectID string, page, pageSize int) ([]NamedItem, error) {
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/projects/" + url.PathEscape(projectID) + "/tasks"
	return c.itemsPage(ctx, path, page, pageSize)
}

func (c *Client) itemsPage(ctx context.Context, basePath string, page, pageSize int) ([]NamedItem, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page-size", strconv.Itoa(pageSize))

	data, err := c.Get(ctx, basePath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var items []NamedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unexpected list response: %w", err)
	}
	return items, nil
}

// CreateTag creates a workspace tag and returns it.
func (c *Client) CreateTag(ctx context.Context, workspaceID, name string) (NamedItem, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return NamedItem{}, fmt.Errorf("failed to marshal tag: %w", err)
	}
	data, err := c.Post(ctx, "/workspaces/"+url.PathEscape(workspaceID)+"/tags", body)
	if err != nil {
		return NamedItem{}, err
	}
	var created NamedItem
	if err := json.Unmarshal(data, &created); err != nil {
		return NamedItem{}, fmt.Errorf("unexpected create-tag response: %w", err)
	}
	return created, nil
}

// TimeEntry fetches a time entry as a raw object.
func (c *Client) TimeEntry(ctx context.Context, workspaceID, entryID string) (map[string]any, error) {
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/time-entries/" + url.PathEscape(entryID)
	data, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unexpected time-entry response: %w", err)
	}
	return entry, nil
}

// UpdateTimeEntry applies a partial update to a time entry.
func (c *Client) UpdateTimeEntry(ctx context.Context, workspaceID, entryID string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/time-entries/" + url.PathEscape(entryID)
	_, err = c.Put(ctx, path, body)
	return err
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit])
}

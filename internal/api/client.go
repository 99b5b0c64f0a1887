// Package api implements the pull side of the crawl backend interface:
// launching a crawl, fetching the authoritative status of one task, and
// listing tasks for startup recovery. The push side lives in
// internal/stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okjin/crawlwatch/internal/task"
)

// LaunchOptions are the job options for a bulk crawl run.
type LaunchOptions struct {
	Mode            string `json:"mode"`
	Concurrency     int    `json:"concurrency"`
	ForceRecrawl    bool   `json:"force_recrawl"`
	UpdateMenuLinks bool   `json:"update_menu_links"`
	Limit           int    `json:"limit,omitempty"`
	URLIDs          []int  `json:"url_ids,omitempty"`
}

// LaunchResult is the backend's answer to a launch request. An empty TaskID
// means there was nothing to crawl; it is not an error.
type LaunchResult struct {
	TaskID    string `json:"task_id"`
	TotalURLs int    `json:"total_urls"`
	Message   string `json:"message"`
}

// TaskResult is the result block of a finished task.
type TaskResult struct {
	Success     int               `json:"success"`
	Failed      int               `json:"failed"`
	Total       int               `json:"total"`
	JSONFile    string            `json:"json_file"`
	FailedItems []task.FailedItem `json:"failed_items"`
}

// TaskStatus is one entry of the authoritative status endpoint or the task
// listing.
type TaskStatus struct {
	TaskID      string      `json:"taskId"`
	Status      string      `json:"status"`
	Result      *TaskResult `json:"result"`
	Error       string      `json:"error"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt"`
}

// NormalizedStatus lowercases the backend status string; the backend has
// emitted both "completed" and "COMPLETED".
func (s *TaskStatus) NormalizedStatus() task.TaskStatus {
	return task.TaskStatus(strings.ToLower(s.Status))
}

// Terminal reports whether the fetched status is final.
func (s *TaskStatus) Terminal() bool {
	n := s.NormalizedStatus()
	return n == task.StatusCompleted || n == task.StatusFailed
}

type apiError struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Client talks to the crawl backend over HTTP.
type Client struct {
	rc      *resty.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	rc.AddRetryCondition(retryCondition)

	return &Client{rc: rc, baseURL: strings.TrimRight(baseURL, "/")}
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

// Launch starts a bulk crawl and returns its handle.
func (c *Client) Launch(ctx context.Context, opts LaunchOptions) (*LaunchResult, error) {
	var result LaunchResult
	var apiErr apiError

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(opts).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/daily-crawling")
	if err != nil {
		return nil, fmt.Errorf("launch crawl: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("launch crawl", resp, &apiErr)
	}

	return &result, nil
}

// Status fetches the authoritative state of one task.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	var result TaskStatus
	var apiErr apiError

	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&apiErr).
		Get("/api/daily-crawling/" + url.PathEscape(taskID))
	if err != nil {
		return nil, fmt.Errorf("fetch task status: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("fetch task status", resp, &apiErr)
	}
	if result.TaskID == "" {
		result.TaskID = taskID
	}

	return &result, nil
}

// ListTasks fetches all tasks known to the backend. Used only at startup for
// recovery.
func (c *Client) ListTasks(ctx context.Context) ([]TaskStatus, error) {
	var result []TaskStatus
	var apiErr apiError

	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&apiErr).
		Get("/api/daily-crawling/tasks")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("list tasks", resp, &apiErr)
	}

	return result, nil
}

// StreamURL returns the push channel endpoint for taskID.
func (c *Client) StreamURL(taskID string) string {
	return c.baseURL + "/api/daily-crawling/" + url.PathEscape(taskID) + "/stream"
}

// HTTPClient exposes the underlying client for the stream, which must read
// the response body raw and without the request timeout.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.rc.GetClient().Transport}
}

func responseError(op string, resp *resty.Response, apiErr *apiError) error {
	switch {
	case apiErr.Detail != "":
		return fmt.Errorf("%s: %s (status %d)", op, apiErr.Detail, resp.StatusCode())
	case apiErr.Message != "":
		return fmt.Errorf("%s: %s (status %d)", op, apiErr.Message, resp.StatusCode())
	default:
		return fmt.Errorf("%s: status %d", op, resp.StatusCode())
	}
}

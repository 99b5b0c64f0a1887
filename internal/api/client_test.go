package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunch(t *testing.T) {
	var gotBody LaunchOptions
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/daily-crawling", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"task-1","total_urls":12,"message":"queued 12 URLs"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.Launch(context.Background(), LaunchOptions{
		Mode:        "selected",
		Concurrency: 4,
		URLIDs:      []int{7, 9},
	})
	require.NoError(t, err)

	assert.Equal(t, "task-1", res.TaskID)
	assert.Equal(t, 12, res.TotalURLs)
	assert.Equal(t, "selected", gotBody.Mode)
	assert.Equal(t, 4, gotBody.Concurrency)
	assert.Equal(t, []int{7, 9}, gotBody.URLIDs)
}

func TestLaunchNothingToCrawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"","total_urls":0,"message":"no URLs due for recrawl"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.Launch(context.Background(), LaunchOptions{Mode: "all"})
	require.NoError(t, err)

	assert.Empty(t, res.TaskID)
	assert.Equal(t, "no URLs due for recrawl", res.Message)
}

func TestLaunchErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"invalid mode"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Launch(context.Background(), LaunchOptions{Mode: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
	assert.Contains(t, err.Error(), "422")
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/daily-crawling/task-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"COMPLETED","result":{"success":3,"failed":1,"total":4,"json_file":"r.json"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	st, err := c.Status(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, "task-1", st.TaskID, "missing id backfilled from the request")
	assert.Equal(t, "completed", string(st.NormalizedStatus()))
	assert.True(t, st.Terminal())
	require.NotNil(t, st.Result)
	assert.Equal(t, 3, st.Result.Success)
	assert.Equal(t, "r.json", st.Result.JSONFile)
}

func TestStatusCaseInsensitive(t *testing.T) {
	tests := []struct {
		raw      string
		terminal bool
	}{
		{"completed", true},
		{"Completed", true},
		{"FAILED", true},
		{"running", false},
		{"PENDING", false},
	}

	for _, tt := range tests {
		st := &TaskStatus{Status: tt.raw}
		assert.Equal(t, tt.terminal, st.Terminal(), "status %q", tt.raw)
	}
}

func TestListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/daily-crawling/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"taskId":"a","status":"completed"},{"taskId":"b","status":"running"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].TaskID)
	assert.True(t, tasks[0].Terminal())
	assert.False(t, tasks[1].Terminal())
}

func TestStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"taskId":"task-1","status":"running"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	st, err := c.Status(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "running", string(st.NormalizedStatus()))
}

func TestStreamURL(t *testing.T) {
	c := NewClient("http://backend:8000/")
	assert.Equal(t, "http://backend:8000/api/daily-crawling/task%2F1/stream", c.StreamURL("task/1"))
	assert.Equal(t, "http://backend:8000/api/daily-crawling/task-1/stream", c.StreamURL("task-1"))
}

func TestHTTPClientHasNoTimeout(t *testing.T) {
	c := NewClient("http://backend:8000")
	hc := c.HTTPClient()
	assert.Zero(t, hc.Timeout)
}

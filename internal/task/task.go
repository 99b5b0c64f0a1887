// Package task defines the crawl task model tracked by the client.
// It contains task status definitions, progress fields, the failed-item
// record populated at terminal completion, and serialization helpers.
package task

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// FailedItem records one URL the crawl could not process.
type FailedItem struct {
	ID    *int   `json:"id,omitempty"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Task is one tracked unit of long-running crawl work. The ID is opaque and
// assigned by the external crawl backend. Once Status reaches completed or
// failed the task is terminal and never transitions again.
type Task struct {
	ID           string       `json:"task_id"`
	Status       TaskStatus   `json:"status"`
	TotalURLs    int          `json:"total_urls"`
	CurrentURL   string       `json:"current_url,omitempty"`
	Progress     int          `json:"progress"`
	SuccessCount int          `json:"success_count"`
	FailedCount  int          `json:"failed_count"`
	FailedItems  []FailedItem `json:"failed_items,omitempty"`
	JSONFilePath string       `json:"json_file,omitempty"`
	Message      string       `json:"message"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Error        string       `json:"error,omitempty"`
}

func NewTask(id string, totalURLs int, message string) *Task {
	return &Task{
		ID:        id,
		Status:    StatusPending,
		TotalURLs: totalURLs,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Active reports whether the task is still expected to produce events.
func (t *Task) Active() bool {
	return t.Status == StatusPending || t.Status == StatusRunning
}

// Clone returns an independent copy so observers and history entries never
// alias the live task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.FailedItems != nil {
		c.FailedItems = make([]FailedItem, len(t.FailedItems))
		copy(c.FailedItems, t.FailedItems)
	}
	return &c
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	return string(data), err
}

func FromJSON(data string) (*Task, error) {
	var t Task
	err := json.Unmarshal([]byte(data), &t)
	return &t, err
}

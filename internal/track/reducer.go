package track

import (
	"fmt"
	"strings"
	"time"

	"github.com/okjin/crawlwatch/internal/stream"
	"github.com/okjin/crawlwatch/internal/task"
)

// Apply is the task state machine: it maps (current task, incoming event) to
// the next task without mutating the input. Transitions out of a terminal
// state do not exist; any event reaching a completed or failed task returns
// it unchanged, which makes duplicate terminal signals from the stream and
// the status poll safe.
//
// Success/failed counters and the progress percentage are merged with max,
// never overwritten: after a reconnect the new stream's first progress frame
// may carry restarted raw counters, and visible state must not regress.
func Apply(t *task.Task, ev stream.Event, now time.Time) *task.Task {
	if t == nil || t.Terminal() {
		return t
	}

	switch ev.Kind {
	case stream.EventConnected:
		if t.Status != task.StatusPending {
			return t
		}
		next := t.Clone()
		next.Status = task.StatusRunning
		next.Message = "connected"
		return next

	case stream.EventStatus:
		if t.Status != task.StatusRunning {
			return t
		}
		next := t.Clone()
		if ev.Message != "" {
			next.Message = ev.Message
		}
		if ev.TotalURLs != nil {
			next.TotalURLs = *ev.TotalURLs
		}
		return next

	case stream.EventProgress:
		if t.Status != task.StatusRunning {
			return t
		}
		next := t.Clone()
		next.Progress = max(next.Progress, percent(ev.Current, ev.Total))
		if ev.Success != nil {
			next.SuccessCount = max(next.SuccessCount, *ev.Success)
		}
		if ev.Failed != nil {
			next.FailedCount = max(next.FailedCount, *ev.Failed)
		}
		if ev.URL != "" {
			next.CurrentURL = ev.URL
		}
		if ev.Message != "" {
			next.Message = ev.Message
		} else {
			next.Message = fmt.Sprintf("crawling %d/%d", ev.Current, ev.Total)
		}
		return next

	case stream.EventToolCall:
		if t.Status != task.StatusRunning {
			return t
		}
		next := t.Clone()
		if ev.Message != "" {
			next.Message = ev.Message
		} else if ev.ToolName != "" {
			next.Message = "running " + ev.ToolName
		}
		return next

	case stream.EventPartial:
		if t.Status != task.StatusRunning {
			return t
		}
		next := t.Clone()
		switch {
		case ev.Message != "":
			next.Message = ev.Message
		case strings.HasPrefix(next.Message, "running "):
			// The in-flight sub-step reported done.
			next.Message = "finished " + strings.TrimPrefix(next.Message, "running ")
		}
		return next

	case stream.EventFinal, stream.EventComplete:
		next := t.Clone()
		next.Status = task.StatusCompleted
		next.Progress = 100
		if ev.Success != nil {
			next.SuccessCount = *ev.Success
		}
		if ev.Failed != nil {
			next.FailedCount = *ev.Failed
		}
		if ev.FailedItems != nil {
			next.FailedItems = ev.FailedItems
		}
		if ev.JSONFile != "" {
			next.JSONFilePath = ev.JSONFile
		}
		if ev.Message != "" {
			next.Message = ev.Message
		} else {
			next.Message = "crawl complete"
		}
		next.CompletedAt = &now
		return next

	case stream.EventError:
		next := t.Clone()
		next.Status = task.StatusFailed
		next.Error = ev.Message
		if next.Error == "" {
			next.Error = "unknown error"
		}
		next.Message = "error: " + next.Error
		next.CompletedAt = &now
		return next

	default:
		return t
	}
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(float64(current)/float64(total)*100 + 0.5)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

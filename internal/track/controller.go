// Package track reconciles the two unreliable views of one crawl task (the
// push stream and the pull status endpoint) into a single authoritative
// state. A one-way terminal latch plus the reducer's terminal guard make the
// second arrival of any terminal signal a no-op, regardless of which channel
// delivered it first.
package track

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/okjin/crawlwatch/internal/api"
	"github.com/okjin/crawlwatch/internal/history"
	"github.com/okjin/crawlwatch/internal/metrics"
	"github.com/okjin/crawlwatch/internal/notify"
	"github.com/okjin/crawlwatch/internal/stream"
	"github.com/okjin/crawlwatch/internal/task"
)

// Archiver persists terminal snapshots long-term. Optional; failures are
// logged and never block the tracker.
type Archiver interface {
	SaveTask(ctx context.Context, t *task.Task) error
}

// Controller owns the single live-task register. It is the only writer of
// task state, and writes only through the reducer or the reconcile path.
type Controller struct {
	api     *api.Client
	store   history.Store
	sink    notify.Sink
	archive Archiver

	mu       sync.Mutex
	cur      *task.Task
	sc       *stream.Client
	latched  bool
	gen      int
	onUpdate func(*task.Task)

	watchdogInterval time.Duration
	graceInterval    time.Duration
	openDelay        time.Duration
	watchdogOnce     sync.Once
}

func NewController(apiClient *api.Client, store history.Store, sink notify.Sink) *Controller {
	return &Controller{
		api:              apiClient,
		store:            store,
		sink:             sink,
		watchdogInterval: 60 * time.Second,
		graceInterval:    1500 * time.Millisecond,
		openDelay:        300 * time.Millisecond,
	}
}

// SetWatchdogInterval adjusts the status-poll period.
func (c *Controller) SetWatchdogInterval(d time.Duration) {
	c.watchdogInterval = d
}

// SetGraceInterval adjusts the wait before the backup-completion fetch.
func (c *Controller) SetGraceInterval(d time.Duration) {
	c.graceInterval = d
}

// SetOpenDelay adjusts the pause between launching a task and opening its
// stream; the backend needs a beat to register the channel.
func (c *Controller) SetOpenDelay(d time.Duration) {
	c.openDelay = d
}

// SetArchive attaches a long-term archive for terminal snapshots.
func (c *Controller) SetArchive(a Archiver) {
	c.archive = a
}

// OnUpdate registers the observer invoked with a snapshot after every state
// change. Must be set before Start/Restore.
func (c *Controller) OnUpdate(fn func(*task.Task)) {
	c.onUpdate = fn
}

// Current returns a snapshot of the live task, or nil.
func (c *Controller) Current() *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Clone()
}

// History exposes the finished-task store.
func (c *Controller) History() history.Store {
	return c.store
}

// Start launches a new crawl and begins tracking it. A backend answer
// without a task id means there was nothing to crawl; that is reported as an
// info notification, not an error. Any previously tracked task is dropped
// (history is untouched).
func (c *Controller) Start(ctx context.Context, opts api.LaunchOptions) error {
	res, err := c.api.Launch(ctx, opts)
	if err != nil {
		return err
	}
	if res.TaskID == "" {
		c.sink.Notify(notify.Notification{
			Kind:    notify.KindInfo,
			Title:   "nothing to crawl",
			Message: res.Message,
		})
		return nil
	}

	t := task.NewTask(res.TaskID, res.TotalURLs, res.Message)

	c.mu.Lock()
	if c.sc != nil {
		_ = c.sc.Close()
		c.sc = nil
	}
	c.cur = t
	c.latched = false
	c.gen++
	c.mu.Unlock()

	log.Info("crawl launched", "task_id", res.TaskID, "total_urls", res.TotalURLs)
	c.sink.Notify(notify.Notification{
		Kind:    notify.KindInfo,
		Title:   "crawl started",
		Message: fmt.Sprintf("crawling %d URLs", res.TotalURLs),
	})
	c.publish(t)

	// The backend needs a moment to register the stream endpoint.
	select {
	case <-time.After(c.openDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.openStream(ctx, res.TaskID)
	c.startWatchdog(ctx)
	return nil
}

// Restore rebuilds state after a client restart: terminal tasks from the
// backend listing are loaded into history, and the most recent
// pending/running task (if any) becomes the live task again.
func (c *Controller) Restore(ctx context.Context) error {
	tasks, err := c.api.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	var active *api.TaskStatus
	for i := range tasks {
		ts := &tasks[i]
		if ts.Terminal() {
			if err := c.store.Upsert(taskFromStatus(ts)); err != nil {
				log.Warn("failed to restore history entry", "task_id", ts.TaskID, "error", err)
			}
			continue
		}
		active = ts
	}

	if active == nil {
		return nil
	}

	t := taskFromStatus(active)
	log.Info("restoring active task", "task_id", t.ID, "status", t.Status)

	c.mu.Lock()
	c.cur = t
	c.latched = false
	c.gen++
	c.mu.Unlock()

	c.publish(t)
	c.openStream(ctx, t.ID)
	c.startWatchdog(ctx)
	return nil
}

// Refresh performs one authoritative status fetch for the live task and
// reconciles immediately. It also corrects a locally cancelled task that the
// server has since finished.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return nil
	}
	id := c.cur.ID
	c.mu.Unlock()

	st, err := c.api.Status(ctx, id)
	if err != nil {
		return err
	}
	c.reconcile(st)
	return nil
}

// Cancel detaches from the task: the stream is closed and local state is
// force-failed with a cancellation message. The server-side task may keep
// running; the latch stays open so a later Refresh can reconcile with an
// authoritative result.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.sc != nil {
		_ = c.sc.Close()
		c.sc = nil
	}
	if c.cur == nil || c.cur.Terminal() {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.cur.Status = task.StatusFailed
	c.cur.Error = "cancelled by user"
	c.cur.Message = "cancelled by user; the server-side task may still be running"
	c.cur.CompletedAt = &now
	snapshot := c.cur.Clone()
	c.mu.Unlock()

	if err := c.store.Upsert(snapshot); err != nil {
		log.Warn("failed to record cancelled task", "task_id", snapshot.ID, "error", err)
	}
	metrics.RecordTaskFinished("cancelled")
	c.sink.Notify(notify.Notification{
		Kind:    notify.KindWarning,
		Title:   "crawl detached",
		Message: "stream closed; the server-side task may continue",
	})
	c.publish(snapshot)
}

// Clear drops the live task reference and closes any open stream. History is
// untouched.
func (c *Controller) Clear() {
	c.mu.Lock()
	if c.sc != nil {
		_ = c.sc.Close()
		c.sc = nil
	}
	c.cur = nil
	c.latched = false
	c.gen++
	c.mu.Unlock()
}

// openStream opens the push channel and starts pumping its events. Open
// failures are logged only; the watchdog retries.
func (c *Controller) openStream(ctx context.Context, taskID string) {
	sc, err := stream.Open(ctx, c.api.HTTPClient(), c.api.StreamURL(taskID), taskID)
	if err != nil {
		log.Warn("failed to open stream", "task_id", taskID, "error", err)
		return
	}

	c.mu.Lock()
	if c.cur == nil || c.cur.ID != taskID {
		c.mu.Unlock()
		_ = sc.Close()
		return
	}
	if c.sc != nil {
		_ = c.sc.Close()
	}
	c.sc = sc
	gen := c.gen
	c.mu.Unlock()

	go c.pump(ctx, sc, gen)
}

// pump drains one stream. Events are applied in arrival order; when the
// event channel closes, a pending transport error (if any) is handled.
// gen pins the stream to the task register state it was opened for.
func (c *Controller) pump(ctx context.Context, sc *stream.Client, gen int) {
	for ev := range sc.Events() {
		c.handleEvent(ev, gen)
	}

	select {
	case terr := <-sc.Errors():
		c.handleTransportError(ctx, sc, terr, gen)
	default:
		// Drained or deliberately closed; nothing to reconcile.
	}
}

// handleEvent feeds one event through the reducer and finalizes on the
// terminal transition. An event from a stream opened for an earlier
// generation is dropped: its frames may still be in flight after the live
// task was replaced, and they must not touch the replacement.
func (c *Controller) handleEvent(ev stream.Event, gen int) {
	c.mu.Lock()
	if c.cur == nil || c.latched || c.gen != gen {
		c.mu.Unlock()
		return
	}

	prev := c.cur
	next := Apply(prev, ev, time.Now())
	if next == prev {
		c.mu.Unlock()
		return
	}
	c.cur = next

	if next.Terminal() {
		c.latched = true
		sc := c.sc
		c.sc = nil
		snapshot := next.Clone()
		c.mu.Unlock()

		if sc != nil {
			_ = sc.Close()
		}
		c.finalize(snapshot)
		return
	}

	snapshot := next.Clone()
	c.mu.Unlock()
	c.publish(snapshot)
}

// handleTransportError implements the reconcile-or-retry decision. A latched
// task ignores the error outright: it is an artifact of the channel closing
// after completion. Progress at 100% with no terminal event is a silent
// completion handled by the backup path; anything else is a genuine mid-task
// drop left to the watchdog.
func (c *Controller) handleTransportError(ctx context.Context, sc *stream.Client, terr *stream.TransportError, gen int) {
	c.mu.Lock()
	if c.sc == sc {
		c.sc = nil
	}
	if c.latched || c.cur == nil || c.gen != gen || terr.Drained {
		c.mu.Unlock()
		return
	}

	if c.cur.Progress >= 100 && c.cur.Status == task.StatusRunning {
		// Silent completion: the last push frame is the least reliable part
		// of the transport. Latch on a provisional snapshot now; the
		// authoritative fetch fills in the result.
		log.Info("stream lost at 100%, running backup completion", "task_id", c.cur.ID)
		c.latched = true
		now := time.Now()
		c.cur.Status = task.StatusCompleted
		c.cur.Message = "fetching final result"
		c.cur.CompletedAt = &now
		id := c.cur.ID
		gen := c.gen
		snapshot := c.cur.Clone()
		c.mu.Unlock()

		c.publish(snapshot)
		go c.backupCompletion(ctx, id, gen)
		return
	}

	snapshot := c.cur.Clone()
	c.mu.Unlock()

	log.Warn("stream dropped mid-task", "task_id", snapshot.ID, "state", terr.State.String(), "error", terr.Err)
	c.sink.Notify(notify.Notification{
		Kind:    notify.KindWarning,
		Title:   "connection error",
		Message: "lost the task stream; retrying in the background",
	})
}

// backupCompletion waits out the grace interval, fetches the authoritative
// result, and finalizes the task with it. On fetch failure the provisional
// counters stand; the terminal decision was already made from the observed
// progress, never from the fetch alone.
func (c *Controller) backupCompletion(ctx context.Context, taskID string, gen int) {
	select {
	case <-time.After(c.graceInterval):
	case <-ctx.Done():
		return
	}

	var result *api.TaskResult
	st, err := c.api.Status(ctx, taskID)
	if err != nil {
		log.Warn("backup completion fetch failed", "task_id", taskID, "error", err)
	} else if st.NormalizedStatus() == task.StatusCompleted {
		result = st.Result
	}

	c.mu.Lock()
	if c.gen != gen || c.cur == nil || c.cur.ID != taskID {
		// Task was cleared or replaced while the fetch was in flight.
		c.mu.Unlock()
		return
	}
	if result != nil {
		c.cur.SuccessCount = result.Success
		c.cur.FailedCount = result.Failed
		c.cur.FailedItems = result.FailedItems
		c.cur.JSONFilePath = result.JSONFile
	}
	c.cur.Message = "crawl complete"
	snapshot := c.cur.Clone()
	c.mu.Unlock()

	metrics.RecordBackupCompletion()
	c.finalize(snapshot)
}

// reconcile applies an authoritative status fetch. The latch makes a second
// terminal arrival a no-op; an unlatched local terminal state (a
// cancellation) is corrected by the server's verdict.
func (c *Controller) reconcile(st *api.TaskStatus) {
	c.mu.Lock()
	if c.cur == nil || c.cur.ID != st.TaskID || c.latched {
		c.mu.Unlock()
		return
	}

	if !st.Terminal() {
		cur := c.cur
		gen := c.gen
		c.mu.Unlock()
		if cur.Status == task.StatusRunning && st.Error == "" {
			c.handleEvent(stream.Event{Kind: stream.EventStatus, Message: "still running"}, gen)
		}
		return
	}

	now := time.Now()
	next := c.cur.Clone()
	next.Status = st.NormalizedStatus()
	next.CompletedAt = &now
	if st.Result != nil {
		next.SuccessCount = st.Result.Success
		next.FailedCount = st.Result.Failed
		next.FailedItems = st.Result.FailedItems
		next.JSONFilePath = st.Result.JSONFile
		next.Progress = 100
	}
	if next.Status == task.StatusFailed {
		next.Error = st.Error
		next.Message = "error: " + st.Error
	} else {
		next.Error = ""
		next.Message = "crawl complete"
	}

	c.cur = next
	c.latched = true
	sc := c.sc
	c.sc = nil
	snapshot := next.Clone()
	c.mu.Unlock()

	if sc != nil {
		_ = sc.Close()
	}
	c.finalize(snapshot)
}

// finalize records a terminal snapshot everywhere it goes: history, the
// optional archive, notifications, metrics, observers.
func (c *Controller) finalize(snapshot *task.Task) {
	if err := c.store.Upsert(snapshot); err != nil {
		log.Warn("failed to record finished task", "task_id", snapshot.ID, "error", err)
	}
	if c.archive != nil {
		if err := c.archive.SaveTask(context.Background(), snapshot); err != nil {
			log.Warn("failed to archive finished task", "task_id", snapshot.ID, "error", err)
		}
	}

	metrics.RecordTaskFinished(string(snapshot.Status))
	if snapshot.Status == task.StatusCompleted {
		c.sink.Notify(notify.Notification{
			Kind:     notify.KindSuccess,
			Title:    "crawl complete",
			Message:  fmt.Sprintf("%d succeeded, %d failed", snapshot.SuccessCount, snapshot.FailedCount),
			Duration: 10 * time.Second,
		})
	} else {
		c.sink.Notify(notify.Notification{
			Kind:     notify.KindError,
			Title:    "crawl failed",
			Message:  snapshot.Error,
			Duration: 10 * time.Second,
		})
	}

	log.Info("task finished", "task_id", snapshot.ID, "status", snapshot.Status,
		"success", snapshot.SuccessCount, "failed", snapshot.FailedCount)
	c.publish(snapshot)
}

// startWatchdog begins the fixed-interval revalidation loop. One watchdog
// per controller; it outlives individual tasks and streams.
func (c *Controller) startWatchdog(ctx context.Context) {
	c.watchdogOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.watchdogInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.watchdogTick(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// watchdogTick revalidates an assumed-live task: a terminal fetch result is
// reconciled (idempotent via the latch); a still-running task with a dead
// stream gets its stream reopened without resetting accumulated progress.
func (c *Controller) watchdogTick(ctx context.Context) {
	c.mu.Lock()
	if c.cur == nil || !c.cur.Active() || c.latched {
		c.mu.Unlock()
		return
	}
	id := c.cur.ID
	streamDown := c.sc == nil || c.sc.Closed()
	c.mu.Unlock()

	metrics.RecordWatchdogPoll()
	st, err := c.api.Status(ctx, id)
	if err != nil {
		// Leave state alone; the next tick retries.
		log.Warn("watchdog poll failed", "task_id", id, "error", err)
		return
	}

	if st.Terminal() {
		c.reconcile(st)
		return
	}

	if st.NormalizedStatus() == task.StatusRunning && streamDown {
		log.Info("stream down but task still running, reconnecting", "task_id", id)
		metrics.RecordStreamReconnect()
		c.openStream(ctx, id)
	}
}

func (c *Controller) publish(snapshot *task.Task) {
	if c.onUpdate != nil {
		c.onUpdate(snapshot)
	}
}

// taskFromStatus converts a listing/status entry into a task snapshot.
func taskFromStatus(ts *api.TaskStatus) *task.Task {
	t := &task.Task{
		ID:          ts.TaskID,
		Status:      ts.NormalizedStatus(),
		CreatedAt:   ts.CreatedAt,
		CompletedAt: ts.CompletedAt,
		Error:       ts.Error,
	}

	if ts.Result != nil {
		t.SuccessCount = ts.Result.Success
		t.FailedCount = ts.Result.Failed
		t.TotalURLs = ts.Result.Total
		t.JSONFilePath = ts.Result.JSONFile
		t.FailedItems = ts.Result.FailedItems
	}

	switch t.Status {
	case task.StatusCompleted:
		t.Progress = 100
		t.Message = "crawl complete"
	case task.StatusFailed:
		t.Message = "error: " + ts.Error
	default:
		if t.TotalURLs > 0 {
			t.Progress = percent(t.SuccessCount+t.FailedCount, t.TotalURLs)
		}
		t.Message = "in progress"
	}

	return t
}

// Package dashboard implements the local read-only HTTP view of the
// tracker: the live task, the finished-task history, and active
// notifications.
package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okjin/crawlwatch/internal/httputil"
	"github.com/okjin/crawlwatch/internal/notify"
	"github.com/okjin/crawlwatch/internal/task"
	"github.com/okjin/crawlwatch/internal/track"
)

// ArchiveReader serves the long-term archive of finished tasks.
type ArchiveReader interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	RecentTasks(ctx context.Context, limit int) ([]*task.Task, error)
}

type Dashboard struct {
	controller *track.Controller
	center     *notify.Center
	archive    ArchiveReader
}

const defaultArchiveLimit = 20

type statusView struct {
	Running     bool       `json:"running"`
	Task        *task.Task `json:"task"`
	LastUpdated time.Time  `json:"last_updated"`
}

func NewDashboard(c *track.Controller, center *notify.Center) *Dashboard {
	return &Dashboard{controller: c, center: center}
}

// SetArchive enables the archive endpoints.
func (d *Dashboard) SetArchive(a ArchiveReader) {
	d.archive = a
}

// Register mounts the dashboard endpoints on mux.
func (d *Dashboard) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", d.GetStatus)
	mux.HandleFunc("/api/history", d.GetHistory)
	mux.HandleFunc("/api/notifications", d.GetNotifications)
	mux.HandleFunc("/api/archive", d.GetArchive)
	mux.HandleFunc("/api/archive/", d.GetArchivedTask)
}

func (d *Dashboard) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cur := d.controller.Current()
	httputil.WriteJSON(w, statusView{
		Running:     cur != nil && cur.Active(),
		Task:        cur,
		LastUpdated: time.Now(),
	})
}

func (d *Dashboard) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := d.controller.History().Recent()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*task.Task{}
	}

	httputil.WriteJSON(w, entries)
}

func (d *Dashboard) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, d.center.Active())
}

func (d *Dashboard) GetArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.archive == nil {
		httputil.WriteJSONError(w, "Archive not configured", http.StatusNotFound)
		return
	}

	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := d.archive.RecentTasks(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*task.Task{}
	}

	httputil.WriteJSON(w, entries)
}

func (d *Dashboard) GetArchivedTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.archive == nil {
		httputil.WriteJSONError(w, "Archive not configured", http.StatusNotFound)
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/archive/")
	if taskID == "" {
		httputil.WriteJSONError(w, "Task ID required", http.StatusBadRequest)
		return
	}

	entry, err := d.archive.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, entry)
}

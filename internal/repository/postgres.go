// Package repository provides PostgreSQL persistence for the long-term
// archive of finished crawl tasks.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/okjin/crawlwatch/internal/task"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(connectionString string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresArchive{db: db}, nil
}

// SaveTask upserts a terminal snapshot keyed by task id, so a provisional
// snapshot written first is corrected by the authoritative one.
func (r *PostgresArchive) SaveTask(ctx context.Context, t *task.Task) error {
	failedItems, err := json.Marshal(t.FailedItems)
	if err != nil {
		return fmt.Errorf("failed to marshal failed items: %w", err)
	}

	query := `
		INSERT INTO crawl_history (
			task_id, status, total_urls, progress, success_count,
			failed_count, failed_items, json_file, message, error,
			created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			success_count = EXCLUDED.success_count,
			failed_count = EXCLUDED.failed_count,
			failed_items = EXCLUDED.failed_items,
			json_file = EXCLUDED.json_file,
			message = EXCLUDED.message,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Status,
		t.TotalURLs,
		t.Progress,
		t.SuccessCount,
		t.FailedCount,
		failedItems,
		t.JSONFilePath,
		t.Message,
		t.Error,
		t.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

func (r *PostgresArchive) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `
		SELECT
			task_id, status, total_urls, progress, success_count,
			failed_count, failed_items, json_file, message, error,
			created_at, completed_at
		FROM crawl_history
		WHERE task_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, taskID)
	return scanTask(row.Scan)
}

// RecentTasks returns archived tasks newest-first.
func (r *PostgresArchive) RecentTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	query := `
		SELECT
			task_id, status, total_urls, progress, success_count,
			failed_count, failed_items, json_file, message, error,
			created_at, completed_at
		FROM crawl_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*task.Task, error) {
	var t task.Task
	var failedItems []byte
	var completedAt sql.NullTime
	var jsonFile, message, errText sql.NullString

	err := scan(
		&t.ID,
		&t.Status,
		&t.TotalURLs,
		&t.Progress,
		&t.SuccessCount,
		&t.FailedCount,
		&failedItems,
		&jsonFile,
		&message,
		&errText,
		&t.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(failedItems) > 0 {
		if err := json.Unmarshal(failedItems, &t.FailedItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed items: %w", err)
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.JSONFilePath = jsonFile.String
	t.Message = message.String
	t.Error = errText.String

	return &t, nil
}

func (r *PostgresArchive) Close() error {
	return r.db.Close()
}

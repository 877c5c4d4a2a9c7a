package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-swarm/internal/task"
	"go.uber.org/zap"
)

// ArchiveTasks writes finished tasks trimmed from memory. Rows already
// archived are left untouched.
func (s *Store) ArchiveTasks(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(`
			INSERT INTO task_archive (task_id, description, priority, specialization, status,
				assigned_agent, timeout_seconds, attempts, error, created_at, start_time, completion_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (task_id) DO NOTHING`,
			t.ID, t.Description, t.Priority, t.Specialization, string(t.Status),
			t.AssignedAgent, t.Timeout, t.Attempt, t.Error, t.CreatedAt, t.StartTime, t.CompletionTime,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive %d tasks: %w", len(tasks), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	s.logger.Debug("archived tasks", zap.Int("count", len(tasks)))
	return nil
}

// ListArchived returns up to limit archived tasks, most recently finished
// first.
func (s *Store) ListArchived(ctx context.Context, limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT task_id, description, priority, specialization, status,
		       assigned_agent, timeout_seconds, attempts, error, created_at, start_time, completion_time
		FROM task_archive
		ORDER BY completion_time DESC NULLS LAST, task_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var t task.Task
		var status string
		if err := rows.Scan(
			&t.ID, &t.Description, &t.Priority, &t.Specialization, &status,
			&t.AssignedAgent, &t.Timeout, &t.Attempt, &t.Error, &t.CreatedAt, &t.StartTime, &t.CompletionTime,
		); err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		t.Status = task.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

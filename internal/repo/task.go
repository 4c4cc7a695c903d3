package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/tree"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
)

const taskColumns = `
	t.id, t.parent_task_id, t.title, t.description, t.author_id, t.assignee_id,
	t.next_assignee_id, t.status, t.priority, t.progress, t.due_date, t.is_subtask,
	t.completed_at, t.created_at, t.updated_at,
	COALESCE((SELECT array_agg(tg.tag ORDER BY tg.tag) FROM task_tags tg WHERE tg.task_id = t.id), '{}'::text[])
`

type TaskRepo struct { // Репозиторий для работы непосредственно с БД
	db DBTX
}

func NewTaskRepo(db DBTX) *TaskRepo { // Конструктор
	return &TaskRepo{
		db: db,
	}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.ParentTaskID, &t.Title, &t.Description, &t.AuthorID, &t.AssigneeID,
		&t.NextAssigneeID, &t.Status, &t.Priority, &t.Progress, &t.DueDate, &t.IsSubtask,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt, &t.Tags,
	)
	return t, err
}

func collectTasks(rows pgx.Rows, capacity int) ([]model.Task, error) {
	defer rows.Close()

	tasks := make([]model.Task, 0, capacity)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	if t.Priority == "" {
		t.Priority = model.PriorityNormal
	}

	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO tasks (parent_task_id, title, description, author_id, assignee_id,
		                   next_assignee_id, status, priority, progress, due_date, is_subtask)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, t.ParentTaskID, t.Title, t.Description, t.AuthorID, t.AssigneeID,
		t.NextAssigneeID, t.Status, t.Priority, t.Progress, t.DueDate, t.IsSubtask,
	).Scan(&id)
	if err != nil {
		return t, r.mapError(err)
	}

	if len(t.Tags) > 0 {
		if err := r.SetTags(ctx, id, t.Tags); err != nil {
			return t, err
		}
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Get(ctx context.Context, id int64) (model.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`, id))
	return t, r.mapError(err)
}

// GetForUpdate locks the task row until the surrounding transaction ends.
func (r *TaskRepo) GetForUpdate(ctx context.Context, id int64) (model.Task, error) {
	var locked int64
	if err := r.db.QueryRow(ctx, "SELECT id FROM tasks WHERE id = $1 FOR UPDATE", id).Scan(&locked); err != nil {
		return model.Task{}, r.mapError(err)
	}
	return r.Get(ctx, locked)
}

// workQueueOrder mirrors model.WorkQueueLess so a LIMIT keeps the head of
// the queue rather than the newest rows.
const workQueueOrder = `t.status = 'approved',
		CASE t.status WHEN 'pending' THEN 1 WHEN 'in_progress' THEN 2 WHEN 'review' THEN 3
			WHEN 'rejected' THEN 4 WHEN 'approved' THEN 5 ELSE 6 END,
		CASE t.priority WHEN 'urgent' THEN 1 WHEN 'high' THEN 2 WHEN 'normal' THEN 3
			WHEN 'low' THEN 4 ELSE 5 END,
		t.due_date ASC NULLS LAST,
		t.created_at DESC,
		t.id ASC`

func (r *TaskRepo) List(ctx context.Context, filter model.TaskFilter, limit int) ([]model.Task, error) {
	var (
		conds = make([]string, 0, 3)
		args  = make([]any, 0, 4)
	)
	args = append(args, filter.UserID)
	switch filter.View {
	case model.ViewAssignedByMe:
		conds = append(conds, "t.author_id = $1")
	default:
		conds = append(conds, "t.assignee_id = $1")
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if filter.UpdatedSince != nil {
		args = append(args, *filter.UpdatedSince)
		conds = append(conds, fmt.Sprintf("(t.updated_at > $%d OR t.created_at > $%d)", len(args), len(args)))
	}
	args = append(args, limit)

	order := "t.created_at DESC, t.id DESC"
	if filter.View != model.ViewAssignedByMe {
		order = workQueueOrder
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ` + order + `
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, limit)
}

func (r *TaskRepo) ListSubtasks(ctx context.Context, parentID int64) ([]model.Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.parent_task_id = $1
		ORDER BY t.created_at, t.id`, parentID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, 8)
}

// ListForSync returns the caller's open tasks touched after the watermark,
// or all of them when watermark is nil. Order is left to the caller.
func (r *TaskRepo) ListForSync(ctx context.Context, assigneeID int64, watermark *time.Time) ([]model.Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.assignee_id = $1
		  AND t.status <> 'approved'
		  AND ($2::timestamptz IS NULL OR t.updated_at > $2 OR t.created_at > $2)`,
		assigneeID, watermark)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, 32)
}

func (r *TaskRepo) Update(ctx context.Context, t model.Task) (model.Task, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, assignee_id = $4, next_assignee_id = $5,
		    status = $6, priority = $7, progress = $8,
		    due_soon_notified_at = CASE WHEN due_date IS DISTINCT FROM $9 THEN NULL ELSE due_soon_notified_at END,
		    due_date = $9, completed_at = $10, updated_at = clock_timestamp()
		WHERE id = $1
	`, t.ID, t.Title, t.Description, t.AssigneeID, t.NextAssigneeID,
		t.Status, t.Priority, t.Progress, t.DueDate, t.CompletedAt)
	if err != nil {
		return t, r.mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return t, ErrorNotFound
	}
	return r.Get(ctx, t.ID)
}

// SetTags replaces the tag set of a task.
func (r *TaskRepo) SetTags(ctx context.Context, taskID int64, tags []string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM task_tags WHERE task_id = $1", taskID); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO task_tags (task_id, tag)
		SELECT DISTINCT $1::bigint, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, taskID, tags)
	return r.mapError(err)
}

// Delete removes the task row; descendants and dependent rows go with it via
// ON DELETE CASCADE.
func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

// Subtree loads the (id, parent) pairs of rootID and all its descendants.
func (r *TaskRepo) Subtree(ctx context.Context, rootID int64) ([]tree.Edge, error) {
	rows, err := r.db.Query(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id, parent_task_id FROM tasks WHERE id = $1
			UNION ALL
			SELECT t.id, t.parent_task_id FROM tasks t JOIN sub ON t.parent_task_id = sub.id
		)
		SELECT id, COALESCE(parent_task_id, 0) FROM sub
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []tree.Edge
	for rows.Next() {
		var e tree.Edge
		if err := rows.Scan(&e.ID, &e.Parent); err != nil {
			return nil, err
		}
		if e.ID == rootID {
			e.Parent = 0
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, ErrorNotFound
	}
	return edges, nil
}

// LockIdempotencyKey holds a transaction-scoped advisory lock on key, so only
// one transaction at a time can create a task for it.
func (r *TaskRepo) LockIdempotencyKey(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key)
	return err
}

func (r *TaskRepo) SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key, resource_id) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, resourceID)
	return err
}

func (r *TaskRepo) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT resource_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&id)
	return id, r.mapError(err)
}

// GetStats computes the dashboard counters for one user.
func (r *TaskRepo) GetStats(ctx context.Context, userID int64, dueSoon time.Duration) (model.Summary, error) {
	var s model.Summary
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE assignee_id = $1 AND status <> 'approved'),
			COUNT(*) FILTER (WHERE author_id = $1 AND status <> 'approved'),
			COUNT(*) FILTER (WHERE assignee_id = $1 AND status <> 'approved'
			                   AND due_date >= now() AND due_date <= now() + make_interval(secs => $2)),
			COUNT(*) FILTER (WHERE assignee_id = $1 AND status <> 'approved' AND due_date < now()),
			COUNT(*) FILTER (WHERE assignee_id = $1 AND status <> 'approved' AND priority = 'urgent'),
			(SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read)
		FROM tasks
		WHERE assignee_id = $1 OR author_id = $1
	`, userID, dueSoon.Seconds()).Scan(
		&s.AssignedToMe, &s.AssignedByMe, &s.DueSoon, &s.Overdue, &s.Urgent, &s.UnreadNotifications,
	)
	return s, err
}

// ClaimDueSoon marks one open task due within window as notified and returns
// it. Concurrent claimers skip each other's locked rows, so a task is claimed
// once. Returns ErrorNotFound when nothing is left to claim.
func (r *TaskRepo) ClaimDueSoon(ctx context.Context, window time.Duration) (model.Task, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		WITH claimed AS (
			SELECT id
			FROM tasks
			WHERE due_soon_notified_at IS NULL
			  AND status <> 'approved'
			  AND due_date IS NOT NULL
			  AND due_date > now()
			  AND due_date <= now() + make_interval(secs => $1)
			ORDER BY due_date, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tasks
		SET due_soon_notified_at = now()
		FROM claimed
		WHERE tasks.id = claimed.id
		RETURNING tasks.id
	`, window.Seconds()).Scan(&id)
	if err != nil {
		return model.Task{}, r.mapError(err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) mapError(err error) error {
	return mapError(err)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrorNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrorConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrorNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

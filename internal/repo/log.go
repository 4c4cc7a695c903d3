package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
)

const logColumns = `id, task_id, actor_id, action_type, old_value, new_value, note, created_at, edited_at`

type LogRepo struct {
	db DBTX
}

func NewLogRepo(db DBTX) *LogRepo {
	return &LogRepo{db: db}
}

func scanLog(row pgx.Row) (model.TaskLog, error) {
	var l model.TaskLog
	err := row.Scan(&l.ID, &l.TaskID, &l.ActorID, &l.ActionType, &l.OldValue, &l.NewValue,
		&l.Note, &l.CreatedAt, &l.EditedAt)
	return l, err
}

func (r *LogRepo) Append(ctx context.Context, l model.TaskLog) (model.TaskLog, error) {
	out, err := scanLog(r.db.QueryRow(ctx, `
		INSERT INTO task_logs (task_id, actor_id, action_type, old_value, new_value, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+logColumns,
		l.TaskID, l.ActorID, l.ActionType, l.OldValue, l.NewValue, l.Note))
	return out, mapError(err)
}

func (r *LogRepo) Get(ctx context.Context, id int64) (model.TaskLog, error) {
	l, err := scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM task_logs WHERE id = $1`, id))
	return l, mapError(err)
}

// List returns a task's history oldest first.
func (r *LogRepo) List(ctx context.Context, taskID int64) ([]model.TaskLog, error) {
	rows, err := r.db.Query(ctx, `SELECT `+logColumns+` FROM task_logs
		WHERE task_id = $1
		ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]model.TaskLog, 0, 16)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpdateNote rewrites the body of a comment entry. Other entry kinds are
// immutable and report ErrorNotFound.
func (r *LogRepo) UpdateNote(ctx context.Context, id int64, note string) (model.TaskLog, error) {
	l, err := scanLog(r.db.QueryRow(ctx, `
		UPDATE task_logs SET note = $2, edited_at = now()
		WHERE id = $1 AND action_type = 'comment'
		RETURNING `+logColumns, id, note))
	return l, mapError(err)
}

func (r *LogRepo) Delete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, "DELETE FROM task_logs WHERE id = $1 AND action_type = 'comment'", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

func (r *LogRepo) AddMention(ctx context.Context, m model.Mention) (model.Mention, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO mentions (task_id, log_id, user_id) VALUES ($1, $2, $3)
		RETURNING id
	`, m.TaskID, m.LogID, m.UserID).Scan(&m.ID)
	return m, mapError(err)
}

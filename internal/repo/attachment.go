package repo

import (
	"context"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
)

type AttachmentRepo struct {
	db DBTX
}

func NewAttachmentRepo(db DBTX) *AttachmentRepo {
	return &AttachmentRepo{db: db}
}

func (r *AttachmentRepo) Create(ctx context.Context, a model.Attachment) (model.Attachment, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO task_attachments (task_id, uploader_id, file_name, stored_path, size, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, a.TaskID, a.UploaderID, a.FileName, a.StoredPath, a.Size, a.MimeType).Scan(&a.ID, &a.CreatedAt)
	return a, mapError(err)
}

func (r *AttachmentRepo) ListForTasks(ctx context.Context, taskIDs []int64) ([]model.Attachment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, task_id, uploader_id, file_name, stored_path, size, mime_type, created_at
		FROM task_attachments
		WHERE task_id = ANY($1)
		ORDER BY task_id, id
	`, taskIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UploaderID, &a.FileName, &a.StoredPath,
			&a.Size, &a.MimeType, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type FavoriteRepo struct {
	db DBTX
}

func NewFavoriteRepo(db DBTX) *FavoriteRepo {
	return &FavoriteRepo{db: db}
}

// Toggle flips the favorite flag and reports the new state.
func (r *FavoriteRepo) Toggle(ctx context.Context, userID, taskID int64) (bool, error) {
	cmd, err := r.db.Exec(ctx, "DELETE FROM favorites WHERE user_id = $1 AND task_id = $2", userID, taskID)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() > 0 {
		return false, nil
	}
	_, err = r.db.Exec(ctx, "INSERT INTO favorites (user_id, task_id) VALUES ($1, $2)", userID, taskID)
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

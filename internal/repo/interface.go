package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/tree"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository can
// run either on the pool or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TaskRepository определяет интерфейс для работы с задачами
type TaskRepository interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id int64) (model.Task, error)
	GetForUpdate(ctx context.Context, id int64) (model.Task, error)
	List(ctx context.Context, filter model.TaskFilter, limit int) ([]model.Task, error)
	ListSubtasks(ctx context.Context, parentID int64) ([]model.Task, error)
	ListForSync(ctx context.Context, assigneeID int64, watermark *time.Time) ([]model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
	SetTags(ctx context.Context, taskID int64, tags []string) error
	Delete(ctx context.Context, id int64) error
	Subtree(ctx context.Context, rootID int64) ([]tree.Edge, error)
	LockIdempotencyKey(ctx context.Context, key string) error
	SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	GetIdempotencyKey(ctx context.Context, key string) (int64, error)
	GetStats(ctx context.Context, userID int64, dueSoon time.Duration) (model.Summary, error)
	ClaimDueSoon(ctx context.Context, window time.Duration) (model.Task, error)
}

type LogRepository interface {
	Append(ctx context.Context, l model.TaskLog) (model.TaskLog, error)
	Get(ctx context.Context, id int64) (model.TaskLog, error)
	List(ctx context.Context, taskID int64) ([]model.TaskLog, error)
	UpdateNote(ctx context.Context, id int64, note string) (model.TaskLog, error)
	Delete(ctx context.Context, id int64) error
	AddMention(ctx context.Context, m model.Mention) (model.Mention, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	ListUnread(ctx context.Context, userID int64) ([]model.Notification, error)
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

type PreferenceRepository interface {
	Get(ctx context.Context, userID int64) (model.PreferenceMatrix, error)
	Upsert(ctx context.Context, userID int64, p model.Preference) error
}

type UserRepository interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	Get(ctx context.Context, id int64) (model.User, error)
	FindActiveByUsernames(ctx context.Context, usernames []string) ([]model.User, error)
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, a model.Attachment) (model.Attachment, error)
	ListForTasks(ctx context.Context, taskIDs []int64) ([]model.Attachment, error)
}

type FavoriteRepository interface {
	Toggle(ctx context.Context, userID, taskID int64) (bool, error)
}

// Repos bundles the repositories bound to one connection or transaction.
type Repos struct {
	Tasks         TaskRepository
	Logs          LogRepository
	Notifications NotificationRepository
	Preferences   PreferenceRepository
	Users         UserRepository
	Attachments   AttachmentRepository
	Favorites     FavoriteRepository
}

// Store hands out repositories and scopes units of work to one transaction:
// InTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	Repos() Repos
	InTx(ctx context.Context, fn func(r Repos) error) error
	Now(ctx context.Context) (time.Time, error)
	SyncTime(ctx context.Context) (time.Time, error)
}

package model

import "time"

type ActionType string

const (
	ActionCreated       ActionType = "created"
	ActionStatusChanged ActionType = "status_changed"
	ActionComment       ActionType = "comment"
	ActionReassigned    ActionType = "reassigned"
	ActionUpdated       ActionType = "updated"
)

// TaskLog is one audit entry. Rows are append-only apart from comments,
// which their author may edit or delete.
type TaskLog struct {
	ID         int64      `json:"id"`
	TaskID     int64      `json:"task_id"`
	ActorID    int64      `json:"actor_id"`
	ActionType ActionType `json:"action_type"`
	OldValue   *string    `json:"old_value"`
	NewValue   *string    `json:"new_value"`
	Note       string     `json:"note"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at"`
}

type Mention struct {
	ID     int64 `json:"id"`
	TaskID int64 `json:"task_id"`
	LogID  int64 `json:"log_id"`
	UserID int64 `json:"user_id"`
}

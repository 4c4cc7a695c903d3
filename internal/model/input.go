package model

import "time"

// Input records below are decoded from request bodies and validated once,
// with go-playground/validator tags, before any service logic runs.

type MaterialProvider struct {
	AssigneeID int64      `json:"assignee_id" validate:"required,gt=0"`
	Title      string     `json:"title" validate:"required,max=200"`
	DueDate    *time.Time `json:"due_date"`
}

type CreateTaskInput struct {
	Title             string             `json:"title" validate:"required,max=200"`
	Description       string             `json:"description" validate:"max=10000"`
	AssigneeID        int64              `json:"assignee_id" validate:"required,gt=0"`
	NextAssigneeID    *int64             `json:"next_assignee_id" validate:"omitempty,gt=0"`
	Priority          Priority           `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	DueDate           *time.Time         `json:"due_date"`
	ParentTaskID      *int64             `json:"parent_task_id" validate:"omitempty,gt=0"`
	Tags              []string           `json:"tags" validate:"max=20,dive,required,max=50"`
	MaterialProviders []MaterialProvider `json:"material_providers" validate:"max=50,dive"`
}

type StatusChangeInput struct {
	Status  Status `json:"status" validate:"required,oneof=pending in_progress review approved rejected"`
	Comment string `json:"comment" validate:"max=5000"`
}

type BulkStatusInput struct {
	TaskIDs []int64 `json:"task_ids" validate:"required,min=1,max=500,dive,gt=0"`
	Status  Status  `json:"status" validate:"required,oneof=pending in_progress review approved rejected"`
	Comment string  `json:"comment" validate:"max=5000"`
}

type BulkOutcome string

const (
	BulkUpdated   BulkOutcome = "updated"
	BulkForbidden BulkOutcome = "forbidden"
	BulkNotFound  BulkOutcome = "not_found"
)

type BulkItemResult struct {
	TaskID  int64       `json:"task_id"`
	Outcome BulkOutcome `json:"outcome"`
}

type ReassignInput struct {
	AssigneeID int64 `json:"assignee_id" validate:"required,gt=0"`
}

// UpdateTaskInput is a patch: nil fields are left untouched.
type UpdateTaskInput struct {
	Title             *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description       *string    `json:"description" validate:"omitempty,max=10000"`
	Priority          *Priority  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Progress          *int       `json:"progress" validate:"omitempty,min=0,max=100"`
	DueDate           *time.Time `json:"due_date"`
	ClearDueDate      bool       `json:"clear_due_date"`
	NextAssigneeID    *int64     `json:"next_assignee_id" validate:"omitempty,gt=0"`
	ClearNextAssignee bool       `json:"clear_next_assignee"`
	Tags              *[]string  `json:"tags" validate:"omitempty,max=20,dive,required,max=50"`
}

// OnlyProgress reports whether the patch touches nothing but progress.
func (in UpdateTaskInput) OnlyProgress() bool {
	return in.Title == nil && in.Description == nil && in.Priority == nil &&
		in.DueDate == nil && !in.ClearDueDate && in.NextAssigneeID == nil &&
		!in.ClearNextAssignee && in.Tags == nil
}

func (in UpdateTaskInput) Empty() bool {
	return in.OnlyProgress() && in.Progress == nil
}

type CommentInput struct {
	Body string `json:"body" validate:"required,max=5000"`
}

type BroadcastInput struct {
	Message      string  `json:"message" validate:"required,max=1000"`
	RecipientIDs []int64 `json:"recipient_ids" validate:"omitempty,max=10000,dive,gt=0"`
}

type PreferenceInput struct {
	EventType EventType `json:"event_type" validate:"required"`
	InApp     *bool     `json:"in_app" validate:"required"`
	Email     *bool     `json:"email" validate:"required"`
}

type MarkReadInput struct {
	IDs []int64 `json:"ids" validate:"omitempty,max=1000,dive,gt=0"`
	All bool    `json:"all"`
}

// CreateResult is what Create hands back: the task, the subtasks it spawned
// and the material providers that could not be resolved.
type CreateResult struct {
	Task             Task    `json:"task"`
	Subtasks         []Task  `json:"subtasks"`
	SkippedProviders []int64 `json:"skipped_providers"`
}

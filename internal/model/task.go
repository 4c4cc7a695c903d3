package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether a task in this status has left the work queue.
func (s Status) Terminal() bool {
	return s == StatusApproved
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Task struct {
	ID             int64      `json:"id"`
	ParentTaskID   *int64     `json:"parent_task_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AuthorID       int64      `json:"author_id"`
	AssigneeID     int64      `json:"assignee_id"`
	NextAssigneeID *int64     `json:"next_assignee_id"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	Progress       int        `json:"progress"`
	DueDate        *time.Time `json:"due_date"`
	Tags           []string   `json:"tags"`
	IsSubtask      bool       `json:"is_subtask"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsPrincipal reports whether the user is the task's author or current assignee.
func (t Task) IsPrincipal(userID int64) bool {
	return t.AuthorID == userID || t.AssigneeID == userID
}

// Counterparty returns the one user who hears about an action taken by
// actorID: the author when the assignee acts, the assignee otherwise.
func (t Task) Counterparty(actorID int64) int64 {
	if actorID == t.AssigneeID {
		return t.AuthorID
	}
	return t.AssigneeID
}

type TaskView string

const (
	ViewAssignedToMe TaskView = "assigned_to_me"
	ViewAssignedByMe TaskView = "assigned_by_me"
)

type TaskFilter struct {
	View         TaskView
	UserID       int64
	Status       *Status
	UpdatedSince *time.Time
}

// Summary holds the dashboard counters for one user.
type Summary struct {
	AssignedToMe        int `json:"assigned_to_me"`
	AssignedByMe        int `json:"assigned_by_me"`
	DueSoon             int `json:"due_soon"`
	Overdue             int `json:"overdue"`
	Urgent              int `json:"urgent"`
	UnreadNotifications int `json:"unread_notifications"`
}

type Attachment struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	UploaderID int64     `json:"uploader_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"-"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	CreatedAt  time.Time `json:"created_at"`
}

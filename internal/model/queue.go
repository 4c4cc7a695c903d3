package model

import (
	"sort"
	"time"
)

var statusRank = map[Status]int{
	StatusPending:    1,
	StatusInProgress: 2,
	StatusReview:     3,
	StatusRejected:   4,
	StatusApproved:   5,
}

var priorityRank = map[Priority]int{
	PriorityUrgent: 1,
	PriorityHigh:   2,
	PriorityNormal: 3,
	PriorityLow:    4,
}

// WorkQueueLess orders tasks the way an assignee works through them:
// active before terminal, then by status, priority, soonest due date
// (undated last), newest first, and finally id so the order is total.
func WorkQueueLess(a, b Task) bool {
	if at, bt := a.Status.Terminal(), b.Status.Terminal(); at != bt {
		return !at
	}
	if ra, rb := rank(statusRank, a.Status), rank(statusRank, b.Status); ra != rb {
		return ra < rb
	}
	if ra, rb := rank(priorityRank, a.Priority), rank(priorityRank, b.Priority); ra != rb {
		return ra < rb
	}
	if c := compareDue(a.DueDate, b.DueDate); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortWorkQueue sorts tasks in place with WorkQueueLess.
func SortWorkQueue(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return WorkQueueLess(tasks[i], tasks[j])
	})
}

func rank[K comparable](m map[K]int, k K) int {
	if r, ok := m[k]; ok {
		return r
	}
	return len(m) + 1
}

func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

// SyncResult is one incremental delta for a polling client.
type SyncResult struct {
	ServerTime    time.Time      `json:"server_time"`
	Tasks         []Task         `json:"tasks"`
	Notifications []Notification `json:"notifications"`
}

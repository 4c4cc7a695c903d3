package service

import (
	"context"
	"fmt"
	"time"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
)

type SyncService struct {
	store repo.Store
}

func NewSyncService(store repo.Store) *SyncService {
	return &SyncService{store: store}
}

// Sync returns everything a polling client needs since watermark. ServerTime
// is read before the tasks and held below the start of any transaction still
// in flight, so a write that commits after the reads lands above it and is
// delivered on the next poll. Clients must send back exactly ServerTime as
// their next watermark.
func (s *SyncService) Sync(ctx context.Context, userID int64, watermark *time.Time) (model.SyncResult, error) {
	now, err := s.store.SyncTime(ctx)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("read server time: %w", err)
	}

	q := s.store.Repos()
	tasks, err := q.Tasks.ListForSync(ctx, userID, watermark)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("list tasks: %w", err)
	}
	model.SortWorkQueue(tasks)

	notes, err := q.Notifications.ListUnread(ctx, userID)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("list notifications: %w", err)
	}

	if tasks == nil {
		tasks = []model.Task{}
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	return model.SyncResult{ServerTime: now, Tasks: tasks, Notifications: notes}, nil
}

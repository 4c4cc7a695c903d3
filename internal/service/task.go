package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
	"github.com/BuzzLyutic/collab-tracker/internal/tree"
)

const clonePrefix = "[Copy] "

// FileStore keeps the bytes of task attachments.
type FileStore interface {
	Save(fileName string, r io.Reader) (string, int64, error)
	Open(stored string) (io.ReadCloser, error)
	Remove(stored string) error
}

type TaskService struct {
	store    repo.Store
	notifier *Notifier
	files    FileStore
	logger   *zap.Logger
	dueSoon  time.Duration
}

func NewTaskService(store repo.Store, notifier *Notifier, files FileStore, logger *zap.Logger, cfg config.Config) *TaskService {
	return &TaskService{
		store:    store,
		notifier: notifier,
		files:    files,
		logger:   logger,
		dueSoon:  cfg.DueSoonWindow,
	}
}

// mailbox collects email intents produced inside a transaction.
type mailbox []model.EmailIntent

func (s *TaskService) notify(ctx context.Context, q repo.Repos, mail *mailbox, ev model.Event) error {
	_, intent, err := s.notifier.Notify(ctx, q, ev)
	if err != nil {
		return err
	}
	if intent != nil {
		*mail = append(*mail, *intent)
	}
	return nil
}

func (s *TaskService) deny(action string, actor model.Identity, taskID int64) error {
	s.logger.Warn("permission denied",
		zap.String("action", action),
		zap.Int64("actor_id", actor.UserID),
		zap.Int64("task_id", taskID),
	)
	return fmt.Errorf("%s task %d: %w", action, taskID, ErrPermissionDenied)
}

func canView(t model.Task, actor model.Identity) bool {
	if t.IsPrincipal(actor.UserID) || actor.Privileged() {
		return true
	}
	return t.NextAssigneeID != nil && *t.NextAssigneeID == actor.UserID
}

func resolveUser(ctx context.Context, users repo.UserRepository, id int64) (model.User, error) {
	u, err := users.Get(ctx, id)
	if err != nil {
		return u, fmt.Errorf("user %d: %w", id, err)
	}
	if !u.IsActive {
		return u, fmt.Errorf("user %d is inactive: %w", id, repo.ErrorNotFound)
	}
	return u, nil
}

func requireRejectComment(status model.Status, comment string) error {
	if status == model.StatusRejected && strings.TrimSpace(comment) == "" {
		return invalid("rejecting a task requires a comment")
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

func (s *TaskService) Create(ctx context.Context, actor model.Identity, in model.CreateTaskInput, idempKey string) (model.CreateResult, error) {
	if err := validateInput(in); err != nil { // Валидация входных данных
		return model.CreateResult{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return model.CreateResult{}, invalid("title is blank")
	}

	if idempKey != "" { // Повторный ключ возвращает ранее созданную задачу
		res, err := s.replay(ctx, idempKey)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repo.ErrorNotFound) {
			return res, err
		}
	}

	var (
		res      model.CreateResult
		mail     mailbox
		replayed bool
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		res = model.CreateResult{Subtasks: []model.Task{}, SkippedProviders: []int64{}}
		mail = nil

		// Конкурентные запросы с одним ключом ждут друг друга здесь
		if idempKey != "" {
			if err := q.Tasks.LockIdempotencyKey(ctx, idempKey); err != nil {
				return err
			}
			_, err := q.Tasks.GetIdempotencyKey(ctx, idempKey)
			if err == nil {
				replayed = true
				return nil
			}
			if !errors.Is(err, repo.ErrorNotFound) {
				return err
			}
		}

		if _, err := resolveUser(ctx, q.Users, in.AssigneeID); err != nil {
			return fmt.Errorf("assignee: %w", err)
		}
		if in.NextAssigneeID != nil {
			if _, err := resolveUser(ctx, q.Users, *in.NextAssigneeID); err != nil {
				return fmt.Errorf("next assignee: %w", err)
			}
		}

		t := model.Task{
			Title:          strings.TrimSpace(in.Title),
			Description:    in.Description,
			AuthorID:       actor.UserID,
			AssigneeID:     in.AssigneeID,
			NextAssigneeID: in.NextAssigneeID,
			Priority:       in.Priority,
			DueDate:        in.DueDate,
			Tags:           in.Tags,
		}
		if in.ParentTaskID != nil {
			parent, err := q.Tasks.Get(ctx, *in.ParentTaskID)
			if err != nil {
				return fmt.Errorf("parent task: %w", err)
			}
			if !canView(parent, actor) {
				return s.deny("create subtask of", actor, parent.ID)
			}
			t.ParentTaskID = &parent.ID
			t.IsSubtask = true
		}

		created, err := s.insertTask(ctx, q, actor, t, "", &mail)
		if err != nil {
			return err
		}
		res.Task = created

		// Поставщики материалов становятся подзадачами; неизвестные пропускаются
		for _, p := range in.MaterialProviders {
			if _, err := resolveUser(ctx, q.Users, p.AssigneeID); err != nil {
				if errors.Is(err, repo.ErrorNotFound) {
					res.SkippedProviders = append(res.SkippedProviders, p.AssigneeID)
					continue
				}
				return err
			}
			due := p.DueDate
			if due == nil {
				due = created.DueDate
			}
			sub, err := s.insertTask(ctx, q, actor, model.Task{
				ParentTaskID: &created.ID,
				IsSubtask:    true,
				Title:        strings.TrimSpace(p.Title),
				AuthorID:     actor.UserID,
				AssigneeID:   p.AssigneeID,
				Priority:     created.Priority,
				DueDate:      due,
			}, "", &mail)
			if err != nil {
				return err
			}
			res.Subtasks = append(res.Subtasks, sub)
		}

		if idempKey != "" {
			return q.Tasks.SaveIdempotencyKey(ctx, idempKey, created.ID)
		}
		return nil
	})
	if err != nil {
		return model.CreateResult{}, err
	}
	if replayed {
		return s.replay(ctx, idempKey)
	}

	s.notifier.Dispatch(ctx, mail)
	if len(res.SkippedProviders) > 0 {
		s.logger.Info("skipped unknown material providers",
			zap.Int64("task_id", res.Task.ID),
			zap.Int64s("user_ids", res.SkippedProviders),
		)
	}
	return res, nil
}

func (s *TaskService) replay(ctx context.Context, idempKey string) (model.CreateResult, error) {
	q := s.store.Repos()
	id, err := q.Tasks.GetIdempotencyKey(ctx, idempKey)
	if err != nil {
		return model.CreateResult{}, err
	}
	t, err := q.Tasks.Get(ctx, id)
	if err != nil {
		return model.CreateResult{}, err
	}
	subs, err := q.Tasks.ListSubtasks(ctx, id)
	if err != nil {
		return model.CreateResult{}, err
	}
	return model.CreateResult{Task: t, Subtasks: subs, SkippedProviders: []int64{}}, nil
}

// insertTask writes the task, its "created" log entry and the assignee's
// "assigned" notification, in that order.
func (s *TaskService) insertTask(ctx context.Context, q repo.Repos, actor model.Identity, t model.Task, note string, mail *mailbox) (model.Task, error) {
	created, err := q.Tasks.Create(ctx, t)
	if err != nil {
		return created, fmt.Errorf("create task: %w", err)
	}
	_, err = q.Logs.Append(ctx, model.TaskLog{
		TaskID:     created.ID,
		ActorID:    actor.UserID,
		ActionType: model.ActionCreated,
		NewValue:   ptr(string(created.Status)),
		Note:       note,
	})
	if err != nil {
		return created, fmt.Errorf("log created: %w", err)
	}
	err = s.notify(ctx, q, mail, model.Event{
		Type:        model.EventAssigned,
		RecipientID: created.AssigneeID,
		TaskID:      &created.ID,
		Message:     fmt.Sprintf("You were assigned task #%d %q", created.ID, created.Title),
	})
	return created, err
}

func (s *TaskService) ChangeStatus(ctx context.Context, actor model.Identity, taskID int64, in model.StatusChangeInput) (model.Task, error) {
	if err := validateInput(in); err != nil {
		return model.Task{}, err
	}
	if err := requireRejectComment(in.Status, in.Comment); err != nil {
		return model.Task{}, err
	}

	var (
		out  model.Task
		mail mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		t, err := q.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if !t.IsPrincipal(actor.UserID) && !actor.Privileged() {
			return s.deny("change status of", actor, taskID)
		}
		out, err = s.applyStatus(ctx, q, actor, t, in.Status, in.Comment, &mail)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return out, nil
}

// applyStatus moves t to status unconditionally: log first, then notify the
// counterparty.
func (s *TaskService) applyStatus(ctx context.Context, q repo.Repos, actor model.Identity, t model.Task,
	status model.Status, comment string, mail *mailbox) (model.Task, error) {
	old := t.Status
	t.Status = status
	switch {
	case status != model.StatusApproved:
		t.CompletedAt = nil
	case old != model.StatusApproved || t.CompletedAt == nil:
		now, err := s.store.Now(ctx)
		if err != nil {
			return t, err
		}
		t.CompletedAt = &now
	}

	updated, err := q.Tasks.Update(ctx, t)
	if err != nil {
		return updated, err
	}
	_, err = q.Logs.Append(ctx, model.TaskLog{
		TaskID:     t.ID,
		ActorID:    actor.UserID,
		ActionType: model.ActionStatusChanged,
		OldValue:   ptr(string(old)),
		NewValue:   ptr(string(status)),
		Note:       strings.TrimSpace(comment),
	})
	if err != nil {
		return updated, fmt.Errorf("log status change: %w", err)
	}

	msg := fmt.Sprintf("Task #%d %q moved from %s to %s", updated.ID, updated.Title, old, status)
	if c := strings.TrimSpace(comment); c != "" {
		msg += ": " + c
	}
	err = s.notify(ctx, q, mail, model.Event{
		Type:        model.EventStatusChanged,
		RecipientID: updated.Counterparty(actor.UserID),
		TaskID:      &updated.ID,
		Message:     msg,
	})
	return updated, err
}

// BulkChangeStatus applies one status to many tasks in a single transaction.
// Every distinct requested id gets one result; missing or forbidden tasks do
// not undo the ones already updated.
func (s *TaskService) BulkChangeStatus(ctx context.Context, actor model.Identity, in model.BulkStatusInput) ([]model.BulkItemResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := requireRejectComment(in.Status, in.Comment); err != nil {
		return nil, err
	}

	ids := dedupe(in.TaskIDs)
	var (
		results []model.BulkItemResult
		mail    mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		results = make([]model.BulkItemResult, 0, len(ids))
		mail = nil

		for _, id := range ids {
			t, err := q.Tasks.GetForUpdate(ctx, id)
			switch {
			case errors.Is(err, repo.ErrorNotFound):
				results = append(results, model.BulkItemResult{TaskID: id, Outcome: model.BulkNotFound})
				continue
			case err != nil:
				return err
			}
			if !t.IsPrincipal(actor.UserID) && !actor.Privileged() {
				_ = s.deny("bulk change status of", actor, id)
				results = append(results, model.BulkItemResult{TaskID: id, Outcome: model.BulkForbidden})
				continue
			}
			if _, err := s.applyStatus(ctx, q, actor, t, in.Status, in.Comment, &mail); err != nil {
				return err
			}
			results = append(results, model.BulkItemResult{TaskID: id, Outcome: model.BulkUpdated})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, mail)
	return results, nil
}

// Reassign hands the task to another active user. Only the author or the
// current assignee may do it.
func (s *TaskService) Reassign(ctx context.Context, actor model.Identity, taskID int64, in model.ReassignInput) (model.Task, error) {
	if err := validateInput(in); err != nil {
		return model.Task{}, err
	}

	var (
		out  model.Task
		mail mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		t, err := q.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if !t.IsPrincipal(actor.UserID) {
			return s.deny("reassign", actor, taskID)
		}
		if t.AssigneeID == in.AssigneeID {
			return invalid("task is already assigned to user %d", in.AssigneeID)
		}
		if _, err := resolveUser(ctx, q.Users, in.AssigneeID); err != nil {
			return fmt.Errorf("new assignee: %w", err)
		}

		old := t.AssigneeID
		t.AssigneeID = in.AssigneeID
		if out, err = q.Tasks.Update(ctx, t); err != nil {
			return err
		}
		if err := s.logReassign(ctx, q, actor, taskID, old, in.AssigneeID); err != nil {
			return err
		}
		if in.AssigneeID == actor.UserID {
			return nil
		}
		return s.notify(ctx, q, &mail, model.Event{
			Type:        model.EventReassigned,
			RecipientID: in.AssigneeID,
			TaskID:      &out.ID,
			Message:     fmt.Sprintf("Task #%d %q was reassigned to you", out.ID, out.Title),
		})
	})
	if err != nil {
		return model.Task{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return out, nil
}

func (s *TaskService) logReassign(ctx context.Context, q repo.Repos, actor model.Identity, taskID, from, to int64) error {
	_, err := q.Logs.Append(ctx, model.TaskLog{
		TaskID:     taskID,
		ActorID:    actor.UserID,
		ActionType: model.ActionReassigned,
		OldValue:   ptr(strconv.FormatInt(from, 10)),
		NewValue:   ptr(strconv.FormatInt(to, 10)),
	})
	if err != nil {
		return fmt.Errorf("log reassign: %w", err)
	}
	return nil
}

// Submit hands finished work on. A task with a next assignee is forwarded to
// them; otherwise it goes to review and the author is told.
func (s *TaskService) Submit(ctx context.Context, actor model.Identity, taskID int64) (model.Task, error) {
	var (
		out  model.Task
		mail mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		t, err := q.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if t.AssigneeID != actor.UserID && !actor.Privileged() {
			return s.deny("submit", actor, taskID)
		}

		oldStatus := t.Status
		t.CompletedAt = nil

		if t.NextAssigneeID == nil {
			t.Status = model.StatusReview
			if out, err = q.Tasks.Update(ctx, t); err != nil {
				return err
			}
			if err := s.logStatus(ctx, q, actor, taskID, oldStatus, t.Status, "submitted for review"); err != nil {
				return err
			}
			return s.notify(ctx, q, &mail, model.Event{
				Type:        model.EventStatusChanged,
				RecipientID: t.AuthorID,
				TaskID:      &out.ID,
				Message:     fmt.Sprintf("Task #%d %q is ready for review", out.ID, out.Title),
			})
		}

		next := *t.NextAssigneeID
		if _, err := resolveUser(ctx, q.Users, next); err != nil {
			return fmt.Errorf("next assignee: %w", err)
		}
		oldAssignee := t.AssigneeID
		t.AssigneeID = next
		t.NextAssigneeID = nil
		t.Status = model.StatusInProgress
		if out, err = q.Tasks.Update(ctx, t); err != nil {
			return err
		}
		if err := s.logReassign(ctx, q, actor, taskID, oldAssignee, next); err != nil {
			return err
		}
		if err := s.logStatus(ctx, q, actor, taskID, oldStatus, t.Status, "forwarded"); err != nil {
			return err
		}
		if next == actor.UserID {
			return nil
		}
		return s.notify(ctx, q, &mail, model.Event{
			Type:        model.EventReassigned,
			RecipientID: next,
			TaskID:      &out.ID,
			Message:     fmt.Sprintf("Task #%d %q was forwarded to you", out.ID, out.Title),
		})
	})
	if err != nil {
		return model.Task{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return out, nil
}

func (s *TaskService) logStatus(ctx context.Context, q repo.Repos, actor model.Identity, taskID int64, from, to model.Status, note string) error {
	_, err := q.Logs.Append(ctx, model.TaskLog{
		TaskID:     taskID,
		ActorID:    actor.UserID,
		ActionType: model.ActionStatusChanged,
		OldValue:   ptr(string(from)),
		NewValue:   ptr(string(to)),
		Note:       note,
	})
	if err != nil {
		return fmt.Errorf("log status change: %w", err)
	}
	return nil
}

// Clone copies a task the actor can see into a new pending root task
// authored by the actor.
func (s *TaskService) Clone(ctx context.Context, actor model.Identity, taskID int64) (model.Task, error) {
	var (
		out  model.Task
		mail mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		src, err := q.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !canView(src, actor) {
			return s.deny("clone", actor, taskID)
		}
		out, err = s.insertTask(ctx, q, actor, model.Task{
			Title:       clonePrefix + src.Title,
			Description: src.Description,
			AuthorID:    actor.UserID,
			AssigneeID:  src.AssigneeID,
			Status:      model.StatusPending,
			Priority:    src.Priority,
			DueDate:     src.DueDate,
			Tags:        src.Tags,
		}, fmt.Sprintf("cloned from #%d", src.ID), &mail)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return out, nil
}

// Delete removes a task with its whole subtree. Rows go through the database
// cascade; attachment files are removed once the transaction has committed.
func (s *TaskService) Delete(ctx context.Context, actor model.Identity, taskID int64) error {
	var (
		files []string
		size  int
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		files = nil
		t, err := q.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if t.AuthorID != actor.UserID && !actor.Privileged() {
			return s.deny("delete", actor, taskID)
		}

		edges, err := q.Tasks.Subtree(ctx, taskID)
		if err != nil {
			return fmt.Errorf("load subtree: %w", err)
		}
		order, err := tree.Build(edges).PostOrder(taskID)
		if err != nil {
			return fmt.Errorf("walk subtree: %w", err)
		}
		size = len(order)

		atts, err := q.Attachments.ListForTasks(ctx, order)
		if err != nil {
			return fmt.Errorf("list attachments: %w", err)
		}
		byTask := make(map[int64][]string, len(atts))
		for _, a := range atts {
			byTask[a.TaskID] = append(byTask[a.TaskID], a.StoredPath)
		}
		for _, id := range order {
			files = append(files, byTask[id]...)
		}

		return q.Tasks.Delete(ctx, taskID)
	})
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := s.files.Remove(f); err != nil {
			s.logger.Warn("failed to remove attachment file", zap.String("file", f), zap.Error(err))
		}
	}
	s.logger.Info("task deleted",
		zap.Int64("task_id", taskID),
		zap.Int64("actor_id", actor.UserID),
		zap.Int("subtree_size", size),
		zap.Int("files", len(files)),
	)
	return nil
}

// Update applies a patch. The author and admins may change any field; the
// assignee may only report progress.
func (s *TaskService) Update(ctx context.Context, actor model.Identity, taskID int64, in model.UpdateTaskInput) (model.Task, error) {
	if err := validateInput(in); err != nil {
		return model.Task{}, err
	}
	if in.Empty() {
		return model.Task{}, invalid("nothing to update")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return model.Task{}, invalid("title is blank")
	}

	var (
		out  model.Task
		mail mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		t, err := q.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		switch {
		case t.AuthorID == actor.UserID || actor.Privileged():
		case t.AssigneeID == actor.UserID && in.OnlyProgress():
		default:
			return s.deny("update", actor, taskID)
		}
		if in.NextAssigneeID != nil && !in.ClearNextAssignee {
			if _, err := resolveUser(ctx, q.Users, *in.NextAssigneeID); err != nil {
				return fmt.Errorf("next assignee: %w", err)
			}
		}

		changed := applyPatch(&t, in)
		if in.Tags != nil {
			if err := q.Tasks.SetTags(ctx, taskID, *in.Tags); err != nil {
				return err
			}
		}
		if out, err = q.Tasks.Update(ctx, t); err != nil {
			return err
		}
		_, err = q.Logs.Append(ctx, model.TaskLog{
			TaskID:     taskID,
			ActorID:    actor.UserID,
			ActionType: model.ActionUpdated,
			NewValue:   ptr(strings.Join(changed, ",")),
		})
		if err != nil {
			return fmt.Errorf("log update: %w", err)
		}

		msg := fmt.Sprintf("Task #%d %q was updated (%s)", out.ID, out.Title, strings.Join(changed, ", "))
		return s.notify(ctx, q, &mail, model.Event{
			Type:        model.EventUpdated,
			RecipientID: out.Counterparty(actor.UserID),
			TaskID:      &out.ID,
			Message:     msg,
		})
	})
	if err != nil {
		return model.Task{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return out, nil
}

func applyPatch(t *model.Task, in model.UpdateTaskInput) []string {
	var changed []string
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
		changed = append(changed, "title")
	}
	if in.Description != nil {
		t.Description = *in.Description
		changed = append(changed, "description")
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
		changed = append(changed, "priority")
	}
	if in.Progress != nil {
		t.Progress = *in.Progress
		changed = append(changed, "progress")
	}
	switch {
	case in.ClearDueDate:
		t.DueDate = nil
		changed = append(changed, "due_date")
	case in.DueDate != nil:
		t.DueDate = in.DueDate
		changed = append(changed, "due_date")
	}
	switch {
	case in.ClearNextAssignee:
		t.NextAssigneeID = nil
		changed = append(changed, "next_assignee_id")
	case in.NextAssigneeID != nil:
		t.NextAssigneeID = in.NextAssigneeID
		changed = append(changed, "next_assignee_id")
	}
	if in.Tags != nil {
		t.Tags = *in.Tags
		changed = append(changed, "tags")
	}
	return changed
}

// Comment appends a comment, records @mentions and notifies the other
// principal unless they were already notified as mentioned.
func (s *TaskService) Comment(ctx context.Context, actor model.Identity, taskID int64, in model.CommentInput) (model.TaskLog, error) {
	if err := validateInput(in); err != nil {
		return model.TaskLog{}, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return model.TaskLog{}, invalid("comment is blank")
	}
	mentioned := s.notifier.ResolveMentions(ctx, body, actor.UserID)

	var (
		entry model.TaskLog
		mail  mailbox
	)
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		mail = nil
		t, err := q.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !canView(t, actor) {
			return s.deny("comment on", actor, taskID)
		}

		entry, err = q.Logs.Append(ctx, model.TaskLog{
			TaskID:     taskID,
			ActorID:    actor.UserID,
			ActionType: model.ActionComment,
			Note:       body,
		})
		if err != nil {
			return fmt.Errorf("log comment: %w", err)
		}

		notified, intents, err := s.notifier.RecordMentions(ctx, q, t, entry, mentioned)
		if err != nil {
			return err
		}
		mail = append(mail, intents...)

		rcpt := t.Counterparty(actor.UserID)
		if notified[rcpt] {
			return nil
		}
		return s.notify(ctx, q, &mail, model.Event{
			Type:        model.EventCommented,
			RecipientID: rcpt,
			TaskID:      &t.ID,
			Message:     fmt.Sprintf("New comment on task #%d %q: %s", t.ID, t.Title, body),
		})
	})
	if err != nil {
		return model.TaskLog{}, err
	}
	s.notifier.Dispatch(ctx, mail)
	return entry, nil
}

// loadComment returns the comment only if it belongs to taskID and was
// written by the actor.
func (s *TaskService) loadComment(ctx context.Context, q repo.Repos, actor model.Identity, taskID, logID int64, action string) (model.TaskLog, error) {
	l, err := q.Logs.Get(ctx, logID)
	if err != nil {
		return l, err
	}
	if l.TaskID != taskID || l.ActionType != model.ActionComment {
		return l, fmt.Errorf("comment %d: %w", logID, repo.ErrorNotFound)
	}
	if l.ActorID != actor.UserID {
		return l, s.deny(action, actor, taskID)
	}
	return l, nil
}

func (s *TaskService) EditComment(ctx context.Context, actor model.Identity, taskID, logID int64, in model.CommentInput) (model.TaskLog, error) {
	if err := validateInput(in); err != nil {
		return model.TaskLog{}, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return model.TaskLog{}, invalid("comment is blank")
	}

	var out model.TaskLog
	err := s.store.InTx(ctx, func(q repo.Repos) error {
		if _, err := s.loadComment(ctx, q, actor, taskID, logID, "edit comment on"); err != nil {
			return err
		}
		var err error
		out, err = q.Logs.UpdateNote(ctx, logID, body)
		return err
	})
	return out, err
}

func (s *TaskService) DeleteComment(ctx context.Context, actor model.Identity, taskID, logID int64) error {
	return s.store.InTx(ctx, func(q repo.Repos) error {
		if _, err := s.loadComment(ctx, q, actor, taskID, logID, "delete comment on"); err != nil {
			return err
		}
		return q.Logs.Delete(ctx, logID)
	})
}

// visible loads a task outside any transaction and checks read access.
func (s *TaskService) visible(ctx context.Context, q repo.Repos, actor model.Identity, taskID int64) (model.Task, error) {
	t, err := q.Tasks.Get(ctx, taskID)
	if err != nil {
		return t, err
	}
	if !canView(t, actor) {
		return t, s.deny("view", actor, taskID)
	}
	return t, nil
}

func (s *TaskService) Get(ctx context.Context, actor model.Identity, taskID int64) (model.Task, error) {
	return s.visible(ctx, s.store.Repos(), actor, taskID)
}

func (s *TaskService) History(ctx context.Context, actor model.Identity, taskID int64) ([]model.TaskLog, error) {
	q := s.store.Repos()
	if _, err := s.visible(ctx, q, actor, taskID); err != nil {
		return nil, err
	}
	return q.Logs.List(ctx, taskID)
}

func (s *TaskService) Subtasks(ctx context.Context, actor model.Identity, taskID int64) ([]model.Task, error) {
	q := s.store.Repos()
	if _, err := s.visible(ctx, q, actor, taskID); err != nil {
		return nil, err
	}
	return q.Tasks.ListSubtasks(ctx, taskID)
}

func (s *TaskService) Attachments(ctx context.Context, actor model.Identity, taskID int64) ([]model.Attachment, error) {
	q := s.store.Repos()
	if _, err := s.visible(ctx, q, actor, taskID); err != nil {
		return nil, err
	}
	atts, err := q.Attachments.ListForTasks(ctx, []int64{taskID})
	if err != nil {
		return nil, err
	}
	if atts == nil {
		atts = []model.Attachment{}
	}
	return atts, nil
}

// OpenAttachment returns the attachment record and its content. The caller
// closes the reader.
func (s *TaskService) OpenAttachment(ctx context.Context, actor model.Identity, taskID, attachmentID int64) (model.Attachment, io.ReadCloser, error) {
	atts, err := s.Attachments(ctx, actor, taskID)
	if err != nil {
		return model.Attachment{}, nil, err
	}
	for _, a := range atts {
		if a.ID != attachmentID {
			continue
		}
		rc, err := s.files.Open(a.StoredPath)
		if err != nil {
			return model.Attachment{}, nil, fmt.Errorf("open attachment %d: %w", a.ID, err)
		}
		return a, rc, nil
	}
	return model.Attachment{}, nil, repo.ErrorNotFound
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// ListAssignedToMe returns the caller's work queue. With updatedSince it is
// the polling form of Sync: every open task touched after the watermark,
// untruncated.
func (s *TaskService) ListAssignedToMe(ctx context.Context, actor model.Identity, status *model.Status, updatedSince *time.Time, limit int) ([]model.Task, error) {
	if status != nil && !status.Valid() {
		return nil, invalid("unknown status %q", *status)
	}
	if updatedSince == nil {
		tasks, err := s.list(ctx, model.TaskFilter{
			View:   model.ViewAssignedToMe,
			UserID: actor.UserID,
			Status: status,
		}, limit)
		if err != nil {
			return nil, err
		}
		model.SortWorkQueue(tasks)
		return tasks, nil
	}

	delta, err := s.store.Repos().Tasks.ListForSync(ctx, actor.UserID, updatedSince)
	if err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(delta))
	for _, t := range delta {
		if status == nil || t.Status == *status {
			tasks = append(tasks, t)
		}
	}
	model.SortWorkQueue(tasks)
	return tasks, nil
}

// ListAssignedByMe returns tasks the caller authored, newest first.
func (s *TaskService) ListAssignedByMe(ctx context.Context, actor model.Identity, status *model.Status, updatedSince *time.Time, limit int) ([]model.Task, error) {
	return s.list(ctx, model.TaskFilter{
		View:         model.ViewAssignedByMe,
		UserID:       actor.UserID,
		Status:       status,
		UpdatedSince: updatedSince,
	}, limit)
}

func (s *TaskService) list(ctx context.Context, filter model.TaskFilter, limit int) ([]model.Task, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalid("unknown status %q", *filter.Status)
	}
	return s.store.Repos().Tasks.List(ctx, filter, normalizeLimit(limit))
}

func (s *TaskService) Summary(ctx context.Context, actor model.Identity) (model.Summary, error) {
	return s.store.Repos().Tasks.GetStats(ctx, actor.UserID, s.dueSoon)
}

// ToggleFavorite flips the caller's favorite flag and returns the new value.
func (s *TaskService) ToggleFavorite(ctx context.Context, actor model.Identity, taskID int64) (bool, error) {
	q := s.store.Repos()
	if _, err := s.visible(ctx, q, actor, taskID); err != nil {
		return false, err
	}
	return q.Favorites.Toggle(ctx, actor.UserID, taskID)
}

// AddAttachment stores the file first and the row second; a failed insert
// removes the file again.
func (s *TaskService) AddAttachment(ctx context.Context, actor model.Identity, taskID int64, fileName, mimeType string, r io.Reader) (model.Attachment, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return model.Attachment{}, invalid("file name is blank")
	}
	q := s.store.Repos()
	if _, err := s.visible(ctx, q, actor, taskID); err != nil {
		return model.Attachment{}, err
	}

	stored, size, err := s.files.Save(fileName, r)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	a, err := q.Attachments.Create(ctx, model.Attachment{
		TaskID:     taskID,
		UploaderID: actor.UserID,
		FileName:   fileName,
		StoredPath: stored,
		Size:       size,
		MimeType:   mimeType,
	})
	if err != nil {
		if rerr := s.files.Remove(stored); rerr != nil {
			s.logger.Warn("failed to remove orphan attachment", zap.String("file", stored), zap.Error(rerr))
		}
		return model.Attachment{}, err
	}
	return a, nil
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/mailer"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// Notifier turns lifecycle events into notification rows and email intents,
// gated by each recipient's preferences.
type Notifier struct {
	store  repo.Store
	sender mailer.Sender
	logger *zap.Logger
}

func NewNotifier(store repo.Store, sender mailer.Sender, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// Notify evaluates one event against the recipient's preferences. The in-app
// row is written through q, so it commits or rolls back with the caller's
// transaction. The in-app row is nil when the recipient opted out of it. The
// returned intent, if any, must be dispatched after commit.
func (n *Notifier) Notify(ctx context.Context, q repo.Repos, ev model.Event) (*model.Notification, *model.EmailIntent, error) {
	prefs, err := q.Preferences.Get(ctx, ev.RecipientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load preferences for user %d: %w", ev.RecipientID, err)
	}

	var row *model.Notification
	if prefs.Allows(ev.Type, model.ChannelInApp) {
		created, err := q.Notifications.Create(ctx, model.Notification{
			RecipientID: ev.RecipientID,
			TaskID:      ev.TaskID,
			Type:        ev.Type,
			Message:     ev.Message,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create notification: %w", err)
		}
		row = &created
	}

	if !prefs.Allows(ev.Type, model.ChannelEmail) {
		return row, nil, nil
	}
	return row, &model.EmailIntent{RecipientID: ev.RecipientID, Type: ev.Type, Message: ev.Message}, nil
}

// Dispatch sends email intents. Failures are logged and dropped.
func (n *Notifier) Dispatch(ctx context.Context, intents []model.EmailIntent) {
	if len(intents) == 0 {
		return
	}
	users := n.store.Repos().Users
	for _, in := range intents {
		u, err := users.Get(ctx, in.RecipientID)
		if err != nil {
			n.logger.Warn("email recipient lookup failed", zap.Int64("user_id", in.RecipientID), zap.Error(err))
			continue
		}
		if u.Email == "" {
			continue
		}
		msg := mailer.Message{
			To:      u.Email,
			Subject: subject(in.Type),
			Body:    in.Message,
		}
		if err := n.sender.Send(ctx, msg); err != nil {
			n.logger.Warn("email send failed",
				zap.Int64("user_id", in.RecipientID),
				zap.String("type", string(in.Type)),
				zap.Error(err),
			)
		}
	}
}

func subject(e model.EventType) string {
	switch e {
	case model.EventAssigned:
		return "New task assigned to you"
	case model.EventStatusChanged:
		return "Task status changed"
	case model.EventCommented:
		return "New comment on your task"
	case model.EventMentioned:
		return "You were mentioned"
	case model.EventReassigned:
		return "Task reassigned to you"
	case model.EventUpdated:
		return "Task updated"
	case model.EventDueSoon:
		return "Task due soon"
	}
	return "Notice"
}

// Broadcast fans a message out to the given users, or to every active user
// when none are given. Each recipient is evaluated and written on its own,
// so one failure leaves the other deliveries in place.
func (n *Notifier) Broadcast(ctx context.Context, actor model.Identity, in model.BroadcastInput) ([]model.BroadcastResult, error) {
	if !actor.Privileged() {
		n.logger.Warn("permission denied", zap.String("action", "broadcast"), zap.Int64("actor_id", actor.UserID))
		return nil, fmt.Errorf("broadcast: %w", ErrPermissionDenied)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, invalid("message is blank")
	}

	q := n.store.Repos()
	recipients := dedupe(in.RecipientIDs)
	if len(recipients) == 0 {
		ids, err := q.Users.ListActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		recipients = ids
	}

	results := make([]model.BroadcastResult, 0, len(recipients))
	var mail []model.EmailIntent
	for _, id := range recipients {
		res := model.BroadcastResult{RecipientID: id}
		row, intent, err := n.Notify(ctx, q, model.Event{Type: model.EventBroadcast, RecipientID: id, Message: msg})
		if err != nil {
			n.logger.Warn("broadcast delivery failed", zap.Int64("user_id", id), zap.Error(err))
			res.Error = err.Error()
		}
		if row != nil {
			res.NotificationID = &row.ID
		}
		if intent != nil {
			mail = append(mail, *intent)
		}
		results = append(results, res)
	}
	n.Dispatch(ctx, mail)

	n.logger.Info("broadcast sent", zap.Int64("actor_id", actor.UserID), zap.Int("recipients", len(results)))
	return results, nil
}

// ExtractMentions returns the distinct @usernames in body, in order of first
// appearance.
func ExtractMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// ResolveMentions looks up the active users mentioned in body, leaving out
// the author. Lookup failures are logged and yield no mentions.
func (n *Notifier) ResolveMentions(ctx context.Context, body string, authorID int64) []model.User {
	names := ExtractMentions(body)
	if len(names) == 0 {
		return nil
	}
	users, err := n.store.Repos().Users.FindActiveByUsernames(ctx, names)
	if err != nil {
		n.logger.Warn("mention lookup failed", zap.Strings("usernames", names), zap.Error(err))
		return nil
	}

	out := users[:0]
	for _, u := range users {
		if u.ID != authorID {
			out = append(out, u)
		}
	}
	return out
}

// RecordMentions stores a mention row and sends a "mentioned" notification for
// each user. It returns the set of users that were notified.
func (n *Notifier) RecordMentions(ctx context.Context, q repo.Repos, t model.Task, entry model.TaskLog,
	users []model.User) (map[int64]bool, []model.EmailIntent, error) {
	notified := make(map[int64]bool, len(users))
	var mail []model.EmailIntent
	for _, u := range users {
		if notified[u.ID] {
			continue
		}
		if _, err := q.Logs.AddMention(ctx, model.Mention{TaskID: t.ID, LogID: entry.ID, UserID: u.ID}); err != nil {
			return nil, nil, fmt.Errorf("add mention: %w", err)
		}
		_, intent, err := n.Notify(ctx, q, model.Event{
			Type:        model.EventMentioned,
			RecipientID: u.ID,
			TaskID:      &t.ID,
			Message:     fmt.Sprintf("You were mentioned on task #%d %q: %s", t.ID, t.Title, entry.Note),
		})
		if err != nil {
			return nil, nil, err
		}
		if intent != nil {
			mail = append(mail, *intent)
		}
		notified[u.ID] = true
	}
	return notified, mail, nil
}

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

func (n *Notifier) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > maxNotificationLimit {
		limit = defaultNotificationLimit
	}
	return n.store.Repos().Notifications.List(ctx, userID, unreadOnly, limit)
}

func (n *Notifier) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return n.store.Repos().Notifications.CountUnread(ctx, userID)
}

// MarkRead flags the given notifications, or all of them, as read. Ids owned
// by other users are ignored.
func (n *Notifier) MarkRead(ctx context.Context, userID int64, in model.MarkReadInput) (int64, error) {
	if err := validateInput(in); err != nil {
		return 0, err
	}
	q := n.store.Repos()
	if in.All {
		return q.Notifications.MarkAllRead(ctx, userID)
	}
	if len(in.IDs) == 0 {
		return 0, invalid("ids is empty and all is false")
	}
	return q.Notifications.MarkRead(ctx, userID, in.IDs)
}

func (n *Notifier) GetPreferences(ctx context.Context, userID int64) ([]model.Preference, error) {
	m, err := n.store.Repos().Preferences.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.Full(), nil
}

func (n *Notifier) SetPreference(ctx context.Context, userID int64, in model.PreferenceInput) ([]model.Preference, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !in.EventType.Valid() {
		return nil, invalid("unknown event type %q", in.EventType)
	}
	p := model.Preference{EventType: in.EventType, InApp: *in.InApp, Email: *in.Email}
	if err := n.store.Repos().Preferences.Upsert(ctx, userID, p); err != nil {
		return nil, err
	}
	return n.GetPreferences(ctx, userID)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

package service

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/internal/mailer"
	"github.com/BuzzLyutic/collab-tracker/internal/model"
	"github.com/BuzzLyutic/collab-tracker/internal/repo"
	"github.com/BuzzLyutic/collab-tracker/internal/tree"
)

// MockTaskRepository - мок репозитория задач. Create и Update принимают в
// Return либо model.Task, либо func(model.Task) model.Task.
type MockTaskRepository struct {
	mock.Mock
}

func taskResult(v any, in model.Task) model.Task {
	if fn, ok := v.(func(model.Task) model.Task); ok {
		return fn(in)
	}
	return v.(model.Task)
}

func (m *MockTaskRepository) Create(ctx context.Context, t model.Task) (model.Task, error) {
	args := m.Called(ctx, t)
	return taskResult(args.Get(0), t), args.Error(1)
}

func (m *MockTaskRepository) Get(ctx context.Context, id int64) (model.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Task), args.Error(1)
}

func (m *MockTaskRepository) GetForUpdate(ctx context.Context, id int64) (model.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Task), args.Error(1)
}

func (m *MockTaskRepository) List(ctx context.Context, filter model.TaskFilter, limit int) ([]model.Task, error) {
	args := m.Called(ctx, filter, limit)
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockTaskRepository) ListSubtasks(ctx context.Context, parentID int64) ([]model.Task, error) {
	args := m.Called(ctx, parentID)
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockTaskRepository) ListForSync(ctx context.Context, assigneeID int64, watermark *time.Time) ([]model.Task, error) {
	args := m.Called(ctx, assigneeID, watermark)
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockTaskRepository) Update(ctx context.Context, t model.Task) (model.Task, error) {
	args := m.Called(ctx, t)
	return taskResult(args.Get(0), t), args.Error(1)
}

func (m *MockTaskRepository) SetTags(ctx context.Context, taskID int64, tags []string) error {
	args := m.Called(ctx, taskID, tags)
	return args.Error(0)
}

func (m *MockTaskRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskRepository) Subtree(ctx context.Context, rootID int64) ([]tree.Edge, error) {
	args := m.Called(ctx, rootID)
	return args.Get(0).([]tree.Edge), args.Error(1)
}

func (m *MockTaskRepository) LockIdempotencyKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockTaskRepository) SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	args := m.Called(ctx, key, resourceID)
	return args.Error(0)
}

func (m *MockTaskRepository) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTaskRepository) GetStats(ctx context.Context, userID int64, dueSoon time.Duration) (model.Summary, error) {
	args := m.Called(ctx, userID, dueSoon)
	return args.Get(0).(model.Summary), args.Error(1)
}

func (m *MockTaskRepository) ClaimDueSoon(ctx context.Context, window time.Duration) (model.Task, error) {
	args := m.Called(ctx, window)
	return args.Get(0).(model.Task), args.Error(1)
}

type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) Append(ctx context.Context, l model.TaskLog) (model.TaskLog, error) {
	args := m.Called(ctx, l)
	if fn, ok := args.Get(0).(func(model.TaskLog) model.TaskLog); ok {
		return fn(l), args.Error(1)
	}
	return args.Get(0).(model.TaskLog), args.Error(1)
}

func (m *MockLogRepository) Get(ctx context.Context, id int64) (model.TaskLog, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.TaskLog), args.Error(1)
}

func (m *MockLogRepository) List(ctx context.Context, taskID int64) ([]model.TaskLog, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).([]model.TaskLog), args.Error(1)
}

func (m *MockLogRepository) UpdateNote(ctx context.Context, id int64, note string) (model.TaskLog, error) {
	args := m.Called(ctx, id, note)
	return args.Get(0).(model.TaskLog), args.Error(1)
}

func (m *MockLogRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLogRepository) AddMention(ctx context.Context, mn model.Mention) (model.Mention, error) {
	args := m.Called(ctx, mn)
	return args.Get(0).(model.Mention), args.Error(1)
}

type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(model.Notification), args.Error(1)
}

func (m *MockNotificationRepository) ListUnread(ctx context.Context, userID int64) ([]model.Notification, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.Notification), args.Error(1)
}

func (m *MockNotificationRepository) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit)
	return args.Get(0).([]model.Notification), args.Error(1)
}

func (m *MockNotificationRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockNotificationRepository) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	args := m.Called(ctx, userID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) Get(ctx context.Context, userID int64) (model.PreferenceMatrix, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.PreferenceMatrix), args.Error(1)
}

func (m *MockPreferenceRepository) Upsert(ctx context.Context, userID int64, p model.Preference) error {
	args := m.Called(ctx, userID, p)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, u model.User) (model.User, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockUserRepository) Get(ctx context.Context, id int64) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockUserRepository) FindActiveByUsernames(ctx context.Context, usernames []string) ([]model.User, error) {
	args := m.Called(ctx, usernames)
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *MockUserRepository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int64), args.Error(1)
}

type MockAttachmentRepository struct {
	mock.Mock
}

func (m *MockAttachmentRepository) Create(ctx context.Context, a model.Attachment) (model.Attachment, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(model.Attachment), args.Error(1)
}

func (m *MockAttachmentRepository) ListForTasks(ctx context.Context, taskIDs []int64) ([]model.Attachment, error) {
	args := m.Called(ctx, taskIDs)
	return args.Get(0).([]model.Attachment), args.Error(1)
}

type MockFavoriteRepository struct {
	mock.Mock
}

func (m *MockFavoriteRepository) Toggle(ctx context.Context, userID, taskID int64) (bool, error) {
	args := m.Called(ctx, userID, taskID)
	return args.Bool(0), args.Error(1)
}

// fakeStore runs InTx callbacks directly against the mocks.
type fakeStore struct {
	repos repo.Repos
	now   time.Time
	txs   int
}

func (s *fakeStore) Repos() repo.Repos { return s.repos }

func (s *fakeStore) InTx(ctx context.Context, fn func(r repo.Repos) error) error {
	s.txs++
	return fn(s.repos)
}

func (s *fakeStore) Now(ctx context.Context) (time.Time, error) { return s.now, nil }

func (s *fakeStore) SyncTime(ctx context.Context) (time.Time, error) { return s.now, nil }

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail bool
}

func (s *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("smtp down")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakeFiles struct {
	saved   map[string]string
	removed []string
}

func (f *fakeFiles) Save(fileName string, r io.Reader) (string, int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	stored := "stored-" + fileName
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[stored] = string(b)
	return stored, int64(len(b)), nil
}

func (f *fakeFiles) Open(stored string) (io.ReadCloser, error) {
	body, ok := f.saved[stored]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeFiles) Remove(stored string) error {
	f.removed = append(f.removed, stored)
	return nil
}

type fixture struct {
	tasks    *MockTaskRepository
	logs     *MockLogRepository
	notes    *MockNotificationRepository
	prefs    *MockPreferenceRepository
	users    *MockUserRepository
	atts     *MockAttachmentRepository
	favs     *MockFavoriteRepository
	store    *fakeStore
	sender   *recordingSender
	files    *fakeFiles
	notifier *Notifier
	svc      *TaskService
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		tasks:  new(MockTaskRepository),
		logs:   new(MockLogRepository),
		notes:  new(MockNotificationRepository),
		prefs:  new(MockPreferenceRepository),
		users:  new(MockUserRepository),
		atts:   new(MockAttachmentRepository),
		favs:   new(MockFavoriteRepository),
		sender: &recordingSender{},
		files:  &fakeFiles{},
	}
	f.store = &fakeStore{
		now: testNow,
		repos: repo.Repos{
			Tasks:         f.tasks,
			Logs:          f.logs,
			Notifications: f.notes,
			Preferences:   f.prefs,
			Users:         f.users,
			Attachments:   f.atts,
			Favorites:     f.favs,
		},
	}
	cfg := config.Default()
	f.notifier = NewNotifier(f.store, f.sender, zap.NewNop())
	f.svc = NewTaskService(f.store, f.notifier, f.files, zap.NewNop(), cfg)

	t.Cleanup(func() {
		f.tasks.AssertExpectations(t)
		f.logs.AssertExpectations(t)
		f.notes.AssertExpectations(t)
		f.users.AssertExpectations(t)
	})
	return f
}

// defaultPrefs makes every recipient accept every channel.
func (f *fixture) defaultPrefs() {
	f.prefs.On("Get", mock.Anything, mock.Anything).Return(model.PreferenceMatrix{}, nil)
}

// activeUsers registers active users whose email is "<id>@example.com"-like.
func (f *fixture) activeUsers(ids ...int64) {
	for _, id := range ids {
		f.users.On("Get", mock.Anything, id).Return(model.User{
			ID:       id,
			Username: usernameFor(id),
			Email:    usernameFor(id) + "@example.com",
			IsActive: true,
		}, nil).Maybe()
	}
}

func usernameFor(id int64) string {
	switch id {
	case 1:
		return "alice"
	case 2:
		return "bob"
	case 3:
		return "carol"
	case 9:
		return "admin"
	}
	return "user"
}

// expectNotifications expects one in-app notification per (recipient, type).
func (f *fixture) expectNotification(recipient int64, typ model.EventType) *mock.Call {
	return f.notes.On("Create", mock.Anything, mock.MatchedBy(func(n model.Notification) bool {
		return n.RecipientID == recipient && n.Type == typ
	})).Return(model.Notification{ID: recipient*100 + 1, RecipientID: recipient, Type: typ}, nil)
}

func echoLog(id int64) func(model.TaskLog) model.TaskLog {
	return func(l model.TaskLog) model.TaskLog {
		l.ID = id
		l.CreatedAt = testNow
		return l
	}
}

func echoTask(t model.Task) model.Task { return t }

func withID(id int64) func(model.Task) model.Task {
	return func(t model.Task) model.Task {
		t.ID = id
		if t.Status == "" {
			t.Status = model.StatusPending
		}
		if t.Priority == "" {
			t.Priority = model.PriorityNormal
		}
		return t
	}
}

var (
	alice = model.Identity{UserID: 1, Role: model.RoleUser}
	bob   = model.Identity{UserID: 2, Role: model.RoleUser}
	carol = model.Identity{UserID: 3, Role: model.RoleSupervisor}
	admin = model.Identity{UserID: 9, Role: model.RoleAdmin}
)

// baseTask is authored by alice and assigned to bob.
func baseTask() model.Task {
	return model.Task{
		ID:         10,
		Title:      "Order cement",
		AuthorID:   alice.UserID,
		AssigneeID: bob.UserID,
		Status:     model.StatusPending,
		Priority:   model.PriorityNormal,
		Tags:       []string{"site-a"},
		CreatedAt:  testNow.Add(-time.Hour),
		UpdatedAt:  testNow.Add(-time.Hour),
	}
}

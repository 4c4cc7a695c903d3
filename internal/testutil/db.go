package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BuzzLyutic/collab-tracker/migrations"
)

// SetupTestDB создает тестовую БД с помощью testcontainers и применяет миграции.
// Под -short тест пропускается.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

// TruncateTables очищает все таблицы
func TruncateTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE users, tasks, task_tags, task_logs, mentions, notifications,
		         notification_preferences, favorites, task_attachments, idempotency_keys
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// SeedUsers создает активных пользователей с заданными именами
func SeedUsers(t *testing.T, pool *pgxpool.Pool, usernames ...string) []int64 {
	t.Helper()

	ids := make([]int64, 0, len(usernames))
	for _, name := range usernames {
		var id int64
		err := pool.QueryRow(context.Background(), `
			INSERT INTO users (username, display_name, email)
			VALUES ($1, $1, $1 || '@example.com')
			RETURNING id
		`, name).Scan(&id)
		if err != nil {
			t.Fatalf("Failed to seed user %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

// SeedTasks создает count задач автора author, назначенных на assignee.
// due, если задан, выставляется каждой задаче.
func SeedTasks(t *testing.T, pool *pgxpool.Pool, author, assignee int64, count int, due *time.Time) []int64 {
	t.Helper()

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		var id int64
		err := pool.QueryRow(context.Background(), `
			INSERT INTO tasks (title, author_id, assignee_id, due_date)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, fmt.Sprintf("Task %d", i+1), author, assignee, due).Scan(&id)
		if err != nil {
			t.Fatalf("Failed to seed task: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// Count runs a COUNT(*) style query and fails the test on error.
func Count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()

	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

// WaitForCondition ждет выполнения условия с таймаутом
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

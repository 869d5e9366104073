// Пакет dbtest — PostgreSQL в Docker-контейнере для интеграционных тестов.
// Один контейнер на тестовый бинарник, каждому тесту — своя пустая база.
// Тесты пропускаются, если переменная TEST_INTEGRATION не установлена.
package dbtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/harvester/internal/config"
)

const (
	image    = "docker.io/postgres:17-alpine"
	user     = "harvester"
	password = "test-password"
	adminDB  = "harvester_test"
)

var (
	startOnce sync.Once
	server    *config.Config
	startErr  error
	seq       atomic.Int64
)

// Config возвращает конфигурацию, указывающую на новую пустую базу.
// База удаляется через t.Cleanup; контейнер останавливает reaper testcontainers.
func Config(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	startOnce.Do(func() { server, startErr = start(context.Background()) })
	if startErr != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", startErr)
	}

	name := fmt.Sprintf("harvester_t%d", seq.Add(1))
	if err := admin(server, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("Не удалось создать базу %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := admin(server, "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)"); err != nil {
			t.Logf("Ошибка удаления базы %s: %v", name, err)
		}
	})

	cfg := *server
	cfg.DBName = name
	return &cfg
}

func start(ctx context.Context) (*config.Config, error) {
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase(adminDB),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, err
	}

	return &config.Config{
		LogLevel:   slog.LevelError,
		LogFormat:  "text",
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     adminDB,
		DBUser:     user,
		DBPassword: password,
		DBSSLMode:  "disable",
	}, nil
}

// admin выполняет DDL в служебной базе контейнера.
func admin(cfg *config.Config, stmt string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, stmt)
	return err
}

// Logger возвращает логгер для тестов (только ошибки).
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

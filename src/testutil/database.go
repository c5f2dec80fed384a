package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var migrationPath = "file://" + filepath.Join(ProjectRoot(), "migrations")

// SetupTestDB connects to TEST_DB_URL and applies the migrations. The test is skipped when
// no database is configured.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := GetEnv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	migration, err := migrate.New(migrationPath, dsn)
	if err != nil {
		t.Fatalf("failed to create migrate: %v", err)
	}
	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to run migration up: %v", err)
	}

	t.Cleanup(func() {
		if err := migration.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			t.Logf("Warning: failed to run migration down: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestRedis connects to TEST_REDIS_URL, skipping the test when it is not set.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := GetEnv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

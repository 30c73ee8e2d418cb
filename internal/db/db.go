package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database selected by the DSN. Postgres DSNs are the
// default; `sqlite://path` (or a bare file path ending in .db) selects the
// embedded SQLite driver used by tests and local development.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if path, ok := strings.CutPrefix(trimmed, "sqlite://"); ok {
		return gorm.Open(sqlite.Open(path), cfg)
	}
	if strings.HasSuffix(trimmed, ".db") && !strings.Contains(trimmed, "://") {
		return gorm.Open(sqlite.Open(trimmed), cfg)
	}
	return gorm.Open(postgres.Open(trimmed), cfg)
}

package database

import (
	"fmt"
	"strings"

	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/queue"
	"github.com/lattice-editor/server/internal/ratelimiter"
	"github.com/lattice-editor/server/internal/snapshotstore"
	"github.com/lattice-editor/server/internal/updatelog"
	"github.com/lattice-editor/server/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open establishes a database connection and performs schema migrations.
// dsn may be a filesystem path (SQLite) or a `postgres://` URL, matching
// the DATABASE_URL scheme switch named in the deployment configuration.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		if err == nil {
			sqlDB, dbErr := db.DB()
			if dbErr != nil {
				return nil, dbErr
			}
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&documents.Document{},
		&documents.Membership{},
		&documents.DocumentState{},
		&documents.Folder{},
		&documents.DocumentFolder{},
		&updatelog.Entry{},
		&users.Identity{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}
	if err := snapshotstore.AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := queue.AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := ratelimiter.AutoMigrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("dsn", redactDSN(dsn)))
	}

	return db, nil
}

func redactDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return dsn
}

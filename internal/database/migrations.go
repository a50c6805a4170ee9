package database

import (
	"errors"
	"time"

	"github.com/lattice-editor/server/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillDocumentState = "2026-03-10_backfill_document_state"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDocumentState, apply: backfillDocumentState},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDocumentState ensures every document row has a corresponding
// document_state row, covering documents created before DocumentState
// existed in an earlier deployment of this schema.
func backfillDocumentState(db *gorm.DB) error {
	var documentRows []documents.Document
	if err := db.Find(&documentRows).Error; err != nil {
		return err
	}
	for _, document := range documentRows {
		var state documents.DocumentState
		err := db.Where("document_id = ?", document.DocumentID).Take(&state).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&documents.DocumentState{DocumentID: document.DocumentID}).Error; err != nil {
			return err
		}
	}
	return nil
}

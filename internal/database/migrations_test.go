package database

import (
	"path/filepath"
	"testing"

	"github.com/lattice-editor/server/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsDocumentState(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&documents.Document{}, &documents.DocumentState{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	document := documents.Document{
		DocumentID:       "doc-without-state",
		Title:            "Orphaned",
		OwnerUserID:      "owner-1",
		ShareStatus:      "private",
		CreatedAtSeconds: 1,
		UpdatedAtSeconds: 1,
	}
	if err := database.Create(&document).Error; err != nil {
		testContext.Fatalf("failed to insert document: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var state documents.DocumentState
	if err := database.Where("document_id = ?", document.DocumentID).Take(&state).Error; err != nil {
		testContext.Fatalf("expected backfilled document state: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillDocumentState).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Applying again must be a no-op rather than erroring on the unique document_id primary key.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply should be a no-op, got: %v", err)
	}
}

// Package snapshotstore implements the Snapshot Store component: a
// put/get blob interface for compacted CRDT state, with a deterministic
// key derivation function and a best-effort-only contract — if the
// backing blob store is unavailable, correctness still holds via full
// Update Log replay (see internal/hub).
package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested object does not exist in the store.
var ErrNotFound = errors.New("snapshotstore: object not found")

// Store is the blob put/get interface the Hub depends on.
type Store interface {
	Put(ctx context.Context, documentID string, seq int64, bytes []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Prune(ctx context.Context, documentID string, keepNewest int) error
}

// Key derives the deterministic object key for a document/sequence pair.
func Key(documentID string, seq int64) string {
	return fmt.Sprintf("docs/%s/snapshots/%d.bin", documentID, seq)
}

// dbObject is the fallback persistence row used when no blob backend
// (S3) is configured. Spec §6 allows snapshots to be disabled entirely in
// that case, but a database-backed fallback still lets small deployments
// benefit from compaction without standing up object storage.
type dbObject struct {
	ObjectKey        string `gorm:"column:object_key;primaryKey;size:512;not null"`
	DocumentID       string `gorm:"column:document_id;size:190;not null;index:idx_snapshot_objects_doc"`
	Seq              int64  `gorm:"column:seq;not null"`
	Bytes            []byte `gorm:"column:bytes;type:blob;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

func (dbObject) TableName() string { return "snapshot_objects" }

// AutoMigrate creates the DBStore's fallback table. Callers that run
// exclusively against an S3-backed Store never need this, but the schema
// is cheap to keep present so a deployment can switch backends without a
// separate migration step.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&dbObject{})
}

// DBStore persists snapshot blobs in the relational database. Used when
// BLOB_* environment variables are absent.
type DBStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewDBStore constructs a DBStore.
func NewDBStore(db *gorm.DB, logger *zap.Logger) *DBStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBStore{db: db, clock: time.Now, logger: logger}
}

func (s *DBStore) Put(ctx context.Context, documentID string, seq int64, bytes []byte) (string, error) {
	key := Key(documentID, seq)
	object := dbObject{
		ObjectKey:        key,
		DocumentID:       documentID,
		Seq:              seq,
		Bytes:            bytes,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&object).Error; err != nil {
		return "", apperror.Transient("failed to persist snapshot object")
	}
	return key, nil
}

func (s *DBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var object dbObject
	err := s.db.WithContext(ctx).Where("object_key = ?", key).Take(&object).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperror.Transient("failed to read snapshot object")
	}
	return object.Bytes, nil
}

// Prune removes all but the keepNewest most recent snapshot objects for a
// document, resolving the open question on snapshot garbage collection by
// a configurable retention count (SNAPSHOT_RETAIN_COUNT). Deletion only
// ever happens after a newer snapshot has already been durably written by
// Put, so the write path is never blocked on GC.
func (s *DBStore) Prune(ctx context.Context, documentID string, keepNewest int) error {
	if keepNewest <= 0 {
		return nil
	}
	var survivingKeys []string
	if err := s.db.WithContext(ctx).Model(&dbObject{}).
		Where("document_id = ?", documentID).
		Order("seq DESC").
		Limit(keepNewest).
		Pluck("object_key", &survivingKeys).Error; err != nil {
		s.logger.Warn("failed to list surviving snapshots", zap.Error(err), zap.String("document_id", documentID))
		return nil
	}
	if len(survivingKeys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("document_id = ? AND object_key NOT IN ?", documentID, survivingKeys).
		Delete(&dbObject{}).Error; err != nil {
		s.logger.Warn("failed to prune old snapshots", zap.Error(err), zap.String("document_id", documentID))
	}
	return nil
}

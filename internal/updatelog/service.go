package updatelog

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("updatelog: database handle is required")

// ServiceConfig describes the dependencies required to construct a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service implements the Update Log component.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs a Service from validated dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Tail returns entries with sequence strictly greater than afterSeq, in
// ascending order.
func (s *Service) Tail(ctx context.Context, documentID documents.DocumentID, afterSeq int64) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("document_id = ? AND seq > ?", documentID.String(), afterSeq).
		Order("seq ASC").
		Find(&entries).Error; err != nil {
		return nil, apperror.Transient("failed to read update log tail")
	}
	return entries, nil
}

// Append atomically assigns the next sequence number for the document and
// persists the update in the same transaction as the counter advance, so
// no two concurrent appenders can ever observe the same sequence.
func (s *Service) Append(ctx context.Context, documentID documents.DocumentID, actorUserID string, updateB64 string) (int64, error) {
	if strings.TrimSpace(updateB64) == "" {
		return 0, apperror.ValidationFailed("update", "update payload must not be empty")
	}
	if _, err := base64.StdEncoding.DecodeString(updateB64); err != nil {
		return 0, apperror.ValidationFailed("update", "update payload must be valid base64")
	}

	var assignedSeq int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state documents.DocumentState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", documentID.String()).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("document", documentID.String())
		}
		if err != nil {
			return err
		}

		assignedSeq = state.LatestUpdateSeq + 1

		entry := Entry{
			DocumentID:       documentID.String(),
			Seq:              assignedSeq,
			ActorUserID:      actorUserID,
			UpdateB64:        updateB64,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		return tx.Model(&documents.DocumentState{}).
			Where("document_id = ?", documentID.String()).
			Update("latest_update_seq", assignedSeq).Error
	})
	if txErr != nil {
		var appErr *apperror.AppError
		if errors.As(txErr, &appErr) {
			return 0, txErr
		}
		s.logger.Error("failed to append update", zap.Error(txErr), zap.String("document_id", documentID.String()))
		return 0, apperror.Transient("failed to append update")
	}

	return assignedSeq, nil
}

// SnapshotMark advances the snapshot pointer in Document State. If prune is
// enabled, entries with sequence <= seq are deleted; this trades storage
// for the ability to reconstruct history, which is why it is configurable
// rather than always-on.
func (s *Service) SnapshotMark(ctx context.Context, documentID documents.DocumentID, seq int64, objectKey string, prune bool) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state documents.DocumentState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", documentID.String()).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("document", documentID.String())
		}
		if err != nil {
			return err
		}

		if seq <= state.LatestSnapshotSeq {
			return nil
		}

		if err := tx.Model(&documents.DocumentState{}).
			Where("document_id = ?", documentID.String()).
			Updates(map[string]interface{}{
				"latest_snapshot_seq": seq,
				"latest_snapshot_key": objectKey,
			}).Error; err != nil {
			return err
		}

		if prune {
			if err := tx.Where("document_id = ? AND seq <= ?", documentID.String(), seq).
				Delete(&Entry{}).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if txErr != nil {
		var appErr *apperror.AppError
		if errors.As(txErr, &appErr) {
			return txErr
		}
		s.logger.Error("failed to mark snapshot", zap.Error(txErr), zap.String("document_id", documentID.String()))
		return apperror.Transient("failed to mark snapshot")
	}
	return nil
}

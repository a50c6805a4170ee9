package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-editor/server/internal/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates the execution_jobs table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}

// store is the GORM-backed persistence layer the Queue's worker loop and
// the submitting API handler share.
type store struct {
	db    *gorm.DB
	clock func() time.Time
}

// Enqueue inserts a new job in the queued state and returns its id.
func (s *store) Enqueue(ctx context.Context, documentID, userID, language string, code []byte, timeout time.Duration) (string, error) {
	job := Job{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Language:   language,
		Code:       code,
		Status:     StatusQueued,
		TimeoutMs:  timeout.Milliseconds(),
		CreatedAt:  s.clock(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", apperror.Transient("failed to enqueue execution job")
	}
	return job.JobID, nil
}

// Get returns one job by id, regardless of status.
func (s *store) Get(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, apperror.NotFound("execution job", jobID)
	}
	if err != nil {
		return Job{}, apperror.Transient("failed to load execution job")
	}
	return job, nil
}

// dequeueOne claims the oldest queued job for processing. On Postgres the
// select additionally skips rows locked by a concurrent worker; on
// single-connection backends (SQLite, per the app's pooled-connection-of-1
// setup) that race cannot occur, so SKIP LOCKED is only attached for
// Postgres to avoid depending on a clause the other dialect may not parse.
func (s *store) dequeueOne(ctx context.Context) (Job, bool, error) {
	var job Job
	found := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locking := clause.Locking{Strength: "UPDATE"}
		if tx.Dialector.Name() == "postgres" {
			locking.Options = "SKIP LOCKED"
		}

		err := tx.Clauses(locking).
			Where("status = ?", StatusQueued).
			Order("created_at ASC").
			Limit(1).
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := s.clock()
		job.Status = StatusRunning
		job.StartedAt = &now
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Job{}, false, err
	}
	return job, found, nil
}

// pendingCount reports how many jobs are still waiting to run, used by
// the worker pool to decide whether idle teardown is actually safe.
func (s *store) pendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Job{}).Where("status = ?", StatusQueued).Count(&count).Error
	return count, err
}

func (s *store) markFinished(ctx context.Context, jobID string, status Status, reason, stdout, stderr string, exitCode int, elapsedMs int64) error {
	now := s.clock()
	return s.db.WithContext(ctx).Model(&Job{}).Where("job_id = ?", jobID).Updates(map[string]interface{}{
		"status":      status,
		"reason":      reason,
		"stdout":      stdout,
		"stderr":      stderr,
		"exit_code":   exitCode,
		"elapsed_ms":  elapsedMs,
		"finished_at": now,
	}).Error
}

// Prune deletes finished jobs older than retainFor, keeping the table from
// growing without bound while still giving pollers a window to observe a
// result after completion.
func (s *store) Prune(ctx context.Context, retainFor time.Duration) error {
	cutoff := s.clock().Add(-retainFor)
	return s.db.WithContext(ctx).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Delete(&Job{}).Error
}

package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// bucketCounter is a fixed-window hit counter for one (user, bucket, window)
// triple. Check approximates a sliding window from the current and
// immediately preceding fixed window, weighted by how far into the current
// window `now` falls — the standard sliding-window-counter approximation,
// cheap to keep atomic under a single row lock per window.
type bucketCounter struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_ratelimit_lookup,priority:1"`
	Bucket           string `gorm:"column:bucket;primaryKey;size:190;not null;index:idx_ratelimit_lookup,priority:2"`
	WindowStartS     int64  `gorm:"column:window_start_s;primaryKey;not null"`
	Count            int    `gorm:"column:count;not null"`
}

func (bucketCounter) TableName() string { return "rate_limit_buckets" }

// AutoMigrate creates the backing table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&bucketCounter{})
}

// DBConfig configures a DBLimiter.
type DBConfig struct {
	Database *gorm.DB
	Window   time.Duration
	Limit    int
	Clock    func() time.Time
}

// DBLimiter enforces the quota via a transactional, row-locked counter in
// the relational database, satisfying the atomic check-and-insert
// requirement for a shared-datastore-backed limiter. A database error
// fails closed: the caller is denied rather than let through.
type DBLimiter struct {
	db     *gorm.DB
	window time.Duration
	limit  int
	clock  func() time.Time
}

// NewDBLimiter constructs a DBLimiter with sane defaults.
func NewDBLimiter(cfg DBConfig) *DBLimiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DBLimiter{db: cfg.Database, window: window, limit: limit, clock: clock}
}

func (l *DBLimiter) Check(ctx context.Context, userID, bucket string) (Result, error) {
	now := l.clock().UTC()
	windowSeconds := int64(l.window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	currentStart := (now.Unix() / windowSeconds) * windowSeconds
	previousStart := currentStart - windowSeconds
	elapsedIntoWindow := float64(now.Unix()-currentStart) / float64(windowSeconds)
	resetAt := time.Unix(currentStart+windowSeconds, 0).UTC()

	var result Result
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var currentRow, previousRow bucketCounter
		currentErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND bucket = ? AND window_start_s = ?", userID, bucket, currentStart).
			Take(&currentRow).Error
		if currentErr != nil && !errors.Is(currentErr, gorm.ErrRecordNotFound) {
			return currentErr
		}
		previousErr := tx.Where("user_id = ? AND bucket = ? AND window_start_s = ?", userID, bucket, previousStart).
			Take(&previousRow).Error
		if previousErr != nil && !errors.Is(previousErr, gorm.ErrRecordNotFound) {
			return previousErr
		}

		estimated := float64(previousRow.Count)*(1-elapsedIntoWindow) + float64(currentRow.Count)
		if estimated >= float64(l.limit) {
			remaining := l.limit - int(estimated)
			if remaining < 0 {
				remaining = 0
			}
			result = Result{Allowed: false, Remaining: remaining, ResetAt: resetAt}
			return nil
		}

		if errors.Is(currentErr, gorm.ErrRecordNotFound) {
			if err := tx.Create(&bucketCounter{UserID: userID, Bucket: bucket, WindowStartS: currentStart, Count: 1}).Error; err != nil {
				return err
			}
		} else {
			currentRow.Count++
			if err := tx.Save(&currentRow).Error; err != nil {
				return err
			}
		}

		remaining := l.limit - int(estimated) - 1
		if remaining < 0 {
			remaining = 0
		}
		result = Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}
		return nil
	})
	if txErr != nil {
		return Result{Allowed: false, ResetAt: resetAt}, apperror.Transient("rate limiter datastore unreachable")
	}
	return result, nil
}

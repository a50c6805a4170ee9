// Package queue implements the Execution Queue component: a durable,
// GORM-backed job table plus a bounded worker pool that drains it by
// running jobs through a sandbox.Runner.
package queue

import "time"

// Status is the lifecycle state of one execution job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a durable record of one requested execution and its outcome.
// Rows are retained for a short window after completion so a client
// polling for a result is never told "not found" for work it just
// submitted.
type Job struct {
	JobID        string `gorm:"column:job_id;primaryKey;size:64"`
	DocumentID   string `gorm:"column:document_id;index;size:64;not null"`
	UserID       string `gorm:"column:user_id;index;size:64;not null"`
	Language     string `gorm:"column:language;size:32;not null"`
	Code         []byte `gorm:"column:code;not null"`
	Status       Status `gorm:"column:status;index;size:16;not null"`
	TimeoutMs    int64  `gorm:"column:timeout_ms;not null"`
	Reason       string `gorm:"column:reason;size:32"`
	Stdout       string `gorm:"column:stdout"`
	Stderr       string `gorm:"column:stderr"`
	ExitCode     int    `gorm:"column:exit_code"`
	ElapsedMs    int64  `gorm:"column:elapsed_ms"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	FinishedAt   *time.Time `gorm:"column:finished_at"`
}

func (Job) TableName() string { return "execution_jobs" }

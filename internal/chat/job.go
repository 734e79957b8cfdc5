package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// TitleJob asks the worker to derive a short chat title from the first
// user message of a freshly created chat.
type TitleJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID uint64 `gorm:"index;not null"`
	ChatID string `gorm:"type:varchar(36);index;not null"`

	// Prompt is the first user message content, not the full title prompt.
	Prompt string `gorm:"type:text;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TitleJob) TableName() string { return "title_jobs" }

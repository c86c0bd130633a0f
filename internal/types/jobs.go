package types

import (
	"fmt"
	"time"
)

type JobType string

const (
	JobTranscription JobType = "transcription"
	JobAnalysis      JobType = "analysis"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one unit of asynchronous work. ActiveKey is set while the job
// is queued or running and cleared once it finishes, so the unique index on
// it admits at most one active job per (session, type).
type Job struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	Type          JobType    `json:"type" gorm:"size:32;not null;index"`
	CallSessionID string     `json:"callSessionId" gorm:"size:36;not null;index"`
	RestaurantID  string     `json:"restaurantId" gorm:"size:64;not null;index"`
	Status        JobStatus  `json:"status" gorm:"size:16;not null;index"`
	Attempts      int        `json:"attempts" gorm:"not null;default:0"`
	LastError     string     `json:"lastError,omitempty" gorm:"type:text"`
	ActiveKey     *string    `json:"-" gorm:"size:80;uniqueIndex"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }

func ActiveKeyFor(sessionID string, t JobType) string {
	return fmt.Sprintf("%s:%s", sessionID, t)
}

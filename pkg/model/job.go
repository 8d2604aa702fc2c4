package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobState 任务状态
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobRetrying  JobState = "retrying"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// TerminalStates 终态，进入后不再修改
var TerminalStates = []JobState{JobSucceeded, JobFailed, JobCancelled}

// IsTerminal 是否为终态
func (s JobState) IsTerminal() bool {
	for _, t := range TerminalStates {
		if s == t {
			return true
		}
	}
	return false
}

// JobSet 一次扇出请求
type JobSet struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Kind        string `gorm:"type:varchar(32);index"`
	Total       int
	Cancelled   bool `gorm:"not null;default:false"`
	CancelledAt *time.Time
	CreatedBy   string `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
}

func (JobSet) TableName() string {
	return "job_sets"
}

// JobRecord 单个实体的同步任务
type JobRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)"`
	JobSetID    string         `gorm:"type:varchar(36);index;not null"`
	Kind        string         `gorm:"type:varchar(32);not null"`
	Queue       string         `gorm:"type:varchar(32)"`
	EntityID    uint           `gorm:"index"`
	EntityCode  string         `gorm:"type:varchar(20)"`
	State       JobState       `gorm:"type:varchar(16);index;not null"`
	Attempts    int            `gorm:"not null;default:0"`
	MaxAttempts int            `gorm:"not null"`
	LastError   string         `gorm:"type:text"`
	RowsWritten int            `gorm:"not null;default:0"`
	Checkpoint  *time.Time     `gorm:"type:date"`
	Payload     datatypes.JSON `gorm:"type:json"`
	StartedAt   *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (JobRecord) TableName() string {
	return "job_records"
}

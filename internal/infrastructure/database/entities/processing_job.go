package entities

import "time"

// ProcessingJob mirrors the processor's progress for one session. The unique
// index on SessionID is what makes at-most-one-job-per-session hold even when
// two triggers race past the status check.
type ProcessingJob struct {
	ID             string    `gorm:"type:varchar(40);primaryKey"`
	SessionID      string    `gorm:"type:varchar(40);uniqueIndex;not null"`
	Stage          string    `gorm:"type:varchar(16);not null"`
	Percent        int       `gorm:"not null;default:0"`
	Message        string    `gorm:"type:varchar(512)"`
	TerminalStatus string    `gorm:"type:varchar(16);not null;default:'';index"`
	ErrorDetail    string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

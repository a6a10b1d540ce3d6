package entities

import "time"

// UploadSession tracks one upload attempt from grant to terminal state.
type UploadSession struct {
	ID          string `gorm:"type:varchar(40);primaryKey"`
	TourName    string `gorm:"type:varchar(255);not null;index"`
	ObjectKey   string `gorm:"type:varchar(512);not null;index"`
	ContentID   string `gorm:"type:varchar(40);index"`
	IsUpdate    bool   `gorm:"not null;default:false"`
	Status      string `gorm:"type:varchar(16);not null;index"`
	ExpiresAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (UploadSession) TableName() string {
	return "upload_sessions"
}

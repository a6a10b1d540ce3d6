package entities

import "time"

// Tour is the long-lived published content registry row. ID never changes
// after first publish; Slug is a routing alias only and is never used as a
// storage key.
type Tour struct {
	ID             string `gorm:"type:varchar(40);primaryKey"`
	Name           string `gorm:"type:varchar(255);not null;index"`
	Slug           string `gorm:"type:varchar(255);uniqueIndex;not null"`
	StoragePrefix  string `gorm:"type:varchar(512);not null"`
	Status         string `gorm:"type:varchar(16);not null;index"`
	ArchivePrefix  string `gorm:"type:varchar(512)"`
	ArchivedAt     *time.Time
	RetentionUntil *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (Tour) TableName() string {
	return "tours"
}

// SlugRedirect preserves previously shared links after a slug change.
type SlugRedirect struct {
	OldSlug   string    `gorm:"type:varchar(255);primaryKey"`
	NewSlug   string    `gorm:"type:varchar(255);not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SlugRedirect) TableName() string {
	return "slug_redirects"
}

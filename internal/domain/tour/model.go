package tour

import "time"

// Status is the published content state in the registry.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusArchived   Status = "archived"
)

// Tour is a published content item. ID is the durable identity; Slug is the
// mutable, URL-facing alias and is never a storage path.
type Tour struct {
	ID             string     `json:"content_id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	StoragePrefix  string     `json:"storage_prefix"`
	Status         Status     `json:"status"`
	ArchivePrefix  string     `json:"archive_prefix,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	RetentionUntil *time.Time `json:"retention_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

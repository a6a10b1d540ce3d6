package upload

import "time"

// Status is the upload session lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusUploading  Status = "uploading"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Session is one upload attempt, from grant issuance to terminal state.
type Session struct {
	ID          string     `json:"session_id"`
	TourName    string     `json:"tour_name"`
	ObjectKey   string     `json:"object_key"`
	ContentID   string     `json:"content_id,omitempty"`
	IsUpdate    bool       `json:"is_update"`
	Status      Status     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GrantRequest is the validated input for issuing an upload grant.
type GrantRequest struct {
	TourName  string `json:"tour_name"`
	ContentID string `json:"content_id"`
	FileName  string `json:"file_name" binding:"required"`
	FileSize  int64  `json:"file_size" binding:"required"`
	FileType  string `json:"file_type"`
	IsUpdate  bool   `json:"is_update"`
}

// Grant is the issued direct-to-storage upload descriptor.
type Grant struct {
	SessionID string            `json:"session_id"`
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"object_key"`
	ExpiresAt time.Time         `json:"expires_at"`
}

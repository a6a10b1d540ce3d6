package processing

import "time"

// Stage is the processor pipeline stage a job has reached.
type Stage string

const (
	StageDownloading  Stage = "downloading"
	StageValidating   Stage = "validating"
	StageExtracting   Stage = "extracting"
	StageUploading    Stage = "uploading"
	StageInvalidating Stage = "invalidating"
	StageCleanup      Stage = "cleanup"
)

// TerminalStatus is the final outcome of a job; empty while running.
type TerminalStatus string

const (
	TerminalNone      TerminalStatus = ""
	TerminalCompleted TerminalStatus = "completed"
	TerminalFailed    TerminalStatus = "failed"
)

// Job mirrors one processor run for one upload session. Percent is monotonic
// non-decreasing and reaches 100 only on completion.
type Job struct {
	ID             string         `json:"job_id"`
	SessionID      string         `json:"session_id"`
	Stage          Stage          `json:"stage"`
	Percent        int            `json:"percent"`
	Message        string         `json:"message"`
	TerminalStatus TerminalStatus `json:"terminal_status,omitempty"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Progress is the polled read model for the browser.
type Progress struct {
	Status  string `json:"status"`
	Stage   string `json:"stage,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Report is the processor's terminal callback payload. The object key is the
// join back to the session that triggered the run.
type Report struct {
	Success          bool   `json:"success"`
	TourName         string `json:"tour_name"`
	ObjectKey        string `json:"s3_key"`
	StoragePrefix    string `json:"storage_prefix,omitempty"`
	FilesExtracted   int    `json:"files_extracted,omitempty"`
	TotalSize        int64  `json:"total_size,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Stage            string `json:"stage,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// ProgressUpdate is the processor's mid-run stage callback payload.
type ProgressUpdate struct {
	ObjectKey string `json:"s3_key"`
	Stage     string `json:"stage"`
	Percent   int    `json:"percent"`
	Message   string `json:"message,omitempty"`
}

// Ack tells the webhook caller how its report was handled.
type Ack string

const (
	AckApplied   Ack = "applied"
	AckDuplicate Ack = "duplicate"
	AckAnomaly   Ack = "anomaly"
)

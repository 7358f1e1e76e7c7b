package models

import "time"

// ImportState is the lifecycle of an uploaded file through the import pipeline.
type ImportState string

const (
	ImportStateUploaded   ImportState = "uploaded"
	ImportStateMapped     ImportState = "mapped"
	ImportStateProcessing ImportState = "processing"
	ImportStateCompleted  ImportState = "completed"
	ImportStateFailed     ImportState = "failed"
)

// Final reports whether no further transition is possible.
func (s ImportState) Final() bool {
	return s == ImportStateCompleted || s == ImportStateFailed
}

// CanTransition reports whether the pipeline may move from s to next.
func (s ImportState) CanTransition(next ImportState) bool {
	switch s {
	case ImportStateUploaded:
		return next == ImportStateMapped
	case ImportStateMapped:
		return next == ImportStateProcessing
	case ImportStateProcessing:
		return next == ImportStateCompleted || next == ImportStateFailed
	default:
		return false
	}
}

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ImportStats struct {
	TotalRows         int `json:"total_rows"`
	ValidRows         int `json:"valid_rows"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	InvalidRemoved    int `json:"invalid_removed"`
	LeadsCreated      int `json:"leads_created"`
}

type ImportRun struct {
	ID             string        `json:"id"`
	Filename       string        `json:"filename"`
	UploadedBy     string        `json:"uploaded_by"`
	ColumnMapping  ColumnMapping `json:"column_mapping"`
	SkipDuplicates bool          `json:"skip_duplicates"`
	Status         ImportState   `json:"status"`
	Stats          ImportStats   `json:"stats"`
	Logs           []LogEntry    `json:"logs"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// ImportRequest is the Mapped state input to a processing run.
type ImportRequest struct {
	Filename       string        `json:"filename" validate:"required"`
	ColumnMapping  ColumnMapping `json:"column_mapping" validate:"required"`
	SkipDuplicates bool          `json:"skip_duplicates"`
	UploadedBy     string        `json:"uploaded_by"`
	// Province applied to rows whose province cell is empty or unmapped.
	DefaultProvince string `json:"default_province,omitempty"`
}

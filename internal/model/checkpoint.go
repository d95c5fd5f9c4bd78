package model

import "time"

// ImportStatus is the lifecycle state of one import job.
type ImportStatus string

const (
	ImportPending    ImportStatus = "PENDING"
	ImportInProgress ImportStatus = "IN_PROGRESS"
	ImportPaused     ImportStatus = "PAUSED"
	ImportCompleted  ImportStatus = "COMPLETED"
	ImportCancelled  ImportStatus = "CANCELLED"
	ImportFailed     ImportStatus = "FAILED"
)

// ImportCheckpoint is the durable progress record for one import job. It is
// updated once per committed batch and survives process restarts so an
// interrupted job can resume from the last fully processed file.
type ImportCheckpoint struct {
	ImportID          string       `gorm:"primaryKey;size:36"`
	DestinationID     string       `gorm:"size:36;not null;index"`
	Status            ImportStatus `gorm:"size:16;not null"`
	RecordsImported   int64        `gorm:"not null;default:0"`
	ErrorsEncountered int64        `gorm:"not null;default:0"`
	LastProcessedDate *time.Time
	LastProcessedFile string `gorm:"size:512"`
	StartedAt         time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanResume reports whether this job may be continued from its cursor.
func (c *ImportCheckpoint) CanResume() bool {
	switch c.Status {
	case ImportInProgress, ImportPaused, ImportFailed:
		return true
	default:
		return false
	}
}

package model

import (
	"strings"
	"time"
)

// Status is the operational state of an attraction at one instant.
type Status string

const (
	StatusOperating     Status = "OPERATING"
	StatusClosed        Status = "CLOSED"
	StatusDown          Status = "DOWN"
	StatusRefurbishment Status = "REFURBISHMENT"
	StatusUnknown       Status = "UNKNOWN"
)

// ParseStatus maps a raw archive status string onto the known set.
// Anything unrecognized becomes StatusUnknown.
func ParseStatus(raw string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusOperating:
		return StatusOperating
	case StatusClosed:
		return StatusClosed
	case StatusDown:
		return StatusDown
	case StatusRefurbishment:
		return StatusRefurbishment
	default:
		return StatusUnknown
	}
}

// RideStatus is one derived status/downtime observation loaded from the
// archive. The (ride_id, recorded_at) pair is unique so re-importing a file
// after an interrupted batch never duplicates rows.
type RideStatus struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	RideID      int64     `gorm:"uniqueIndex:idx_ride_status_ride_time;not null"`
	ParkID      int64     `gorm:"index;not null"`
	RecordedAt  time.Time `gorm:"uniqueIndex:idx_ride_status_ride_time;not null"`
	Status      Status    `gorm:"size:16;not null"`
	WaitMinutes *int
	IsDown      bool `gorm:"not null"`
	CreatedAt   time.Time
}

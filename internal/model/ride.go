package model

import "time"

// Ride represents an attraction (or show) belonging to a park.
// The (park_id, name) pair is unique so archive names can be matched
// deterministically within one park.
type Ride struct {
	ID         int64   `gorm:"primaryKey"`
	ParkID     int64   `gorm:"uniqueIndex:idx_rides_park_name;not null"`
	Name       string  `gorm:"uniqueIndex:idx_rides_park_name;size:256;not null"`
	Code       string  `gorm:"size:32"`             // synthetic external-facing id, derived from the archive UUID
	ExternalID *string `gorm:"uniqueIndex;size:36"` // archive UUID, null until first reconciled
	IsShow     bool
	Active     bool `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Associations
	Park Park `gorm:"constraint:OnDelete:CASCADE"`
}

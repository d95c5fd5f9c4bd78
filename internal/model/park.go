package model

import "time"

// Park represents a theme park in the internal entity catalog.
type Park struct {
	ID         int64   `gorm:"primaryKey"`
	Name       string  `gorm:"size:256;not null"`
	Slug       string  `gorm:"uniqueIndex;size:128"`
	ExternalID *string `gorm:"uniqueIndex;size:36"` // archive UUID, null until first reconciled
	Timezone   string  `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Associations
	Rides []Ride `gorm:"foreignKey:ParkID"`
}

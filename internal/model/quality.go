package model

import "time"

// IssueType classifies a data-quality anomaly found during import.
type IssueType string

const (
	IssueGap           IssueType = "GAP"
	IssueParseError    IssueType = "PARSE_ERROR"
	IssueMappingFailed IssueType = "MAPPING_FAILED"
	IssueDuplicate     IssueType = "DUPLICATE"
	IssueInvalid       IssueType = "INVALID"
)

// QualityIssue is one logged anomaly. Repeated sightings of the same
// (entity, issue_type) pair within the dedup window bump Count and LastSeen
// instead of inserting a new row.
type QualityIssue struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EntityID  string    `gorm:"index:idx_quality_entity_type;size:64;not null"` // external UUID or file key
	IssueType IssueType `gorm:"index:idx_quality_entity_type;size:32;not null"`
	Message   string    `gorm:"size:512"`
	Count     int64     `gorm:"not null;default:1"`
	FirstSeen time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null;index"`
}

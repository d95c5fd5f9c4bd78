package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parkstatus-backend/internal/model"
)

// statusInsertChunk bounds the per-INSERT row count when persisting a batch.
const statusInsertChunk = 500

// Store defines the database operations of the import pipeline: catalog
// reads/writes for entity resolution, batched status persistence, and
// deduplicated quality-issue logging.
type Store interface {
	// Catalog (entity resolution)
	RideByExternalID(ctx context.Context, externalID string) (*model.Ride, error)
	RidesByPark(ctx context.Context, parkID int64) ([]model.Ride, error)
	CreateRide(ctx context.Context, ride *model.Ride) error
	SetRideExternalID(ctx context.Context, rideID int64, externalID string) error
	ParkByExternalID(ctx context.Context, externalID string) (*model.Park, error)
	ParkBySlug(ctx context.Context, slug string) (*model.Park, error)

	// Status/downtime target. Returns the number of rows actually inserted,
	// which can be lower than len(records) when re-imported rows collide with
	// already committed ones.
	SaveStatusBatch(ctx context.Context, records []model.RideStatus) (int64, error)

	// Quality-issue sink
	LogQualityIssue(ctx context.Context, entityID string, issueType model.IssueType, message string) error
	QualityIssueCounts(ctx context.Context, since time.Time) (map[model.IssueType]int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db          *gorm.DB
	clock       clockwork.Clock
	dedupWindow time.Duration
}

// NewGormStore creates a new GORM-backed store. dedupWindow bounds how long a
// repeated (entity, issue_type) sighting folds into the existing issue row.
func NewGormStore(db *gorm.DB, clock clockwork.Clock, dedupWindow time.Duration) Store {
	return &gormStore{db: db, clock: clock, dedupWindow: dedupWindow}
}

func (s *gormStore) RideByExternalID(ctx context.Context, externalID string) (*model.Ride, error) {
	var ride model.Ride
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&ride).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ride by external id %s: %w", externalID, err)
	}
	return &ride, nil
}

func (s *gormStore) RidesByPark(ctx context.Context, parkID int64) ([]model.Ride, error) {
	var rides []model.Ride
	if err := s.db.WithContext(ctx).Where("park_id = ?", parkID).Find(&rides).Error; err != nil {
		return nil, fmt.Errorf("rides by park %d: %w", parkID, err)
	}
	return rides, nil
}

func (s *gormStore) CreateRide(ctx context.Context, ride *model.Ride) error {
	if err := s.db.WithContext(ctx).Create(ride).Error; err != nil {
		return fmt.Errorf("create ride %q: %w", ride.Name, err)
	}
	return nil
}

func (s *gormStore) SetRideExternalID(ctx context.Context, rideID int64, externalID string) error {
	// Only fill an empty column; an already reconciled ride keeps its UUID.
	err := s.db.WithContext(ctx).Model(&model.Ride{}).
		Where("id = ? AND external_id IS NULL", rideID).
		Update("external_id", externalID).Error
	if err != nil {
		return fmt.Errorf("set external id for ride %d: %w", rideID, err)
	}
	return nil
}

func (s *gormStore) ParkByExternalID(ctx context.Context, externalID string) (*model.Park, error) {
	var park model.Park
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&park).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("park by external id %s: %w", externalID, err)
	}
	return &park, nil
}

func (s *gormStore) ParkBySlug(ctx context.Context, slug string) (*model.Park, error) {
	var park model.Park
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&park).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("park by slug %s: %w", slug, err)
	}
	return &park, nil
}

// SaveStatusBatch persists one batch transactionally. Conflicts on
// (ride_id, recorded_at) are ignored so a resumed job re-reading a partially
// committed file cannot duplicate rows.
func (s *gormStore) SaveStatusBatch(ctx context.Context, records []model.RideStatus) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(records, statusInsertChunk)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("save status batch of %d: %w", len(records), err)
	}
	return inserted, nil
}

// LogQualityIssue records an anomaly. A sighting of the same
// (entity, issue_type) within the dedup window increments the existing row
// instead of inserting a new one.
func (s *gormStore) LogQualityIssue(ctx context.Context, entityID string, issueType model.IssueType, message string) error {
	now := s.clock.Now().UTC()

	var existing model.QualityIssue
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND issue_type = ? AND last_seen >= ?", entityID, issueType, now.Add(-s.dedupWindow)).
		Order("last_seen DESC").
		First(&existing).Error
	if err == nil {
		updates := map[string]any{
			"count":     gorm.Expr("count + 1"),
			"last_seen": now,
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update quality issue: %w", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup quality issue: %w", err)
	}

	issue := model.QualityIssue{
		EntityID:  entityID,
		IssueType: issueType,
		Message:   message,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if err := s.db.WithContext(ctx).Create(&issue).Error; err != nil {
		return fmt.Errorf("create quality issue: %w", err)
	}
	return nil
}

// QualityIssueCounts aggregates issue sightings by type since the given time.
func (s *gormStore) QualityIssueCounts(ctx context.Context, since time.Time) (map[model.IssueType]int64, error) {
	type row struct {
		IssueType model.IssueType
		Total     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&model.QualityIssue{}).
		Select("issue_type, SUM(count) AS total").
		Where("last_seen >= ?", since).
		Group("issue_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("quality issue counts: %w", err)
	}

	out := make(map[model.IssueType]int64, len(rows))
	for _, r := range rows {
		out[r.IssueType] = r.Total
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"parkstatus-backend/internal/model"
)

// CheckpointStore persists per-job import progress. Rows are updated only by
// import_id, so concurrent jobs for different destinations never interfere.
type CheckpointStore interface {
	Create(ctx context.Context, destinationID string) (*model.ImportCheckpoint, error)
	Get(ctx context.Context, importID string) (*model.ImportCheckpoint, error)
	GetActive(ctx context.Context) ([]model.ImportCheckpoint, error)
	FindResumable(ctx context.Context, destinationID string) (*model.ImportCheckpoint, error)

	// Advance moves the cursor forward after a committed batch. Counters are
	// incremented in SQL so they can only grow.
	Advance(ctx context.Context, importID string, recordsDelta, errorsDelta int64, lastFile string, lastDate time.Time) error

	// MarkRunning moves a PENDING or resumable checkpoint into IN_PROGRESS.
	MarkRunning(ctx context.Context, importID string) error
	// MarkCompleted / MarkFailed finalize a job.
	MarkCompleted(ctx context.Context, importID string) error
	MarkFailed(ctx context.Context, importID string) error
	// RequestPause / RequestCancel flip an IN_PROGRESS job; both return false
	// when the job is in any other state.
	RequestPause(ctx context.Context, importID string) (bool, error)
	RequestCancel(ctx context.Context, importID string) (bool, error)
}

// gormCheckpointStore implements CheckpointStore using GORM.
type gormCheckpointStore struct {
	db    *gorm.DB
	clock clockwork.Clock
}

// NewGormCheckpointStore creates a new GORM-backed checkpoint store.
func NewGormCheckpointStore(db *gorm.DB, clock clockwork.Clock) CheckpointStore {
	return &gormCheckpointStore{db: db, clock: clock}
}

func (s *gormCheckpointStore) Create(ctx context.Context, destinationID string) (*model.ImportCheckpoint, error) {
	cp := &model.ImportCheckpoint{
		ImportID:      uuid.NewString(),
		DestinationID: destinationID,
		Status:        model.ImportPending,
		StartedAt:     s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(cp).Error; err != nil {
		return nil, fmt.Errorf("create checkpoint for %s: %w", destinationID, err)
	}
	return cp, nil
}

func (s *gormCheckpointStore) Get(ctx context.Context, importID string) (*model.ImportCheckpoint, error) {
	var cp model.ImportCheckpoint
	err := s.db.WithContext(ctx).Where("import_id = ?", importID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", importID, err)
	}
	return &cp, nil
}

func (s *gormCheckpointStore) GetActive(ctx context.Context) ([]model.ImportCheckpoint, error) {
	var cps []model.ImportCheckpoint
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.ImportStatus{model.ImportInProgress, model.ImportPaused}).
		Order("started_at").
		Find(&cps).Error
	if err != nil {
		return nil, fmt.Errorf("get active checkpoints: %w", err)
	}
	return cps, nil
}

func (s *gormCheckpointStore) FindResumable(ctx context.Context, destinationID string) (*model.ImportCheckpoint, error) {
	var cp model.ImportCheckpoint
	err := s.db.WithContext(ctx).
		Where("destination_id = ? AND status IN ?", destinationID,
			[]model.ImportStatus{model.ImportInProgress, model.ImportPaused, model.ImportFailed}).
		Order("started_at DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find resumable checkpoint for %s: %w", destinationID, err)
	}
	return &cp, nil
}

func (s *gormCheckpointStore) Advance(ctx context.Context, importID string, recordsDelta, errorsDelta int64, lastFile string, lastDate time.Time) error {
	updates := map[string]any{
		"records_imported":   gorm.Expr("records_imported + ?", recordsDelta),
		"errors_encountered": gorm.Expr("errors_encountered + ?", errorsDelta),
		"updated_at":         s.clock.Now().UTC(),
	}
	if lastFile != "" {
		updates["last_processed_file"] = lastFile
		updates["last_processed_date"] = lastDate
	}

	err := s.db.WithContext(ctx).Model(&model.ImportCheckpoint{}).
		Where("import_id = ?", importID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", importID, err)
	}
	return nil
}

func (s *gormCheckpointStore) MarkRunning(ctx context.Context, importID string) error {
	err := s.db.WithContext(ctx).Model(&model.ImportCheckpoint{}).
		Where("import_id = ? AND status IN ?", importID,
			[]model.ImportStatus{model.ImportPending, model.ImportInProgress, model.ImportPaused, model.ImportFailed}).
		Updates(map[string]any{"status": model.ImportInProgress, "completed_at": nil}).Error
	if err != nil {
		return fmt.Errorf("mark checkpoint %s running: %w", importID, err)
	}
	return nil
}

func (s *gormCheckpointStore) MarkCompleted(ctx context.Context, importID string) error {
	return s.finalize(ctx, importID, model.ImportCompleted)
}

func (s *gormCheckpointStore) MarkFailed(ctx context.Context, importID string) error {
	return s.finalize(ctx, importID, model.ImportFailed)
}

func (s *gormCheckpointStore) finalize(ctx context.Context, importID string, status model.ImportStatus) error {
	now := s.clock.Now().UTC()
	err := s.db.WithContext(ctx).Model(&model.ImportCheckpoint{}).
		Where("import_id = ?", importID).
		Updates(map[string]any{"status": status, "completed_at": now}).Error
	if err != nil {
		return fmt.Errorf("finalize checkpoint %s as %s: %w", importID, status, err)
	}
	return nil
}

func (s *gormCheckpointStore) RequestPause(ctx context.Context, importID string) (bool, error) {
	return s.transition(ctx, importID, model.ImportInProgress, model.ImportPaused)
}

func (s *gormCheckpointStore) RequestCancel(ctx context.Context, importID string) (bool, error) {
	return s.transition(ctx, importID, model.ImportInProgress, model.ImportCancelled)
}

// transition flips status only when the row currently holds from; the
// affected-row count doubles as the validity check.
func (s *gormCheckpointStore) transition(ctx context.Context, importID string, from, to model.ImportStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.ImportCheckpoint{}).
		Where("import_id = ? AND status = ?", importID, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("transition checkpoint %s to %s: %w", importID, to, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Package runs keeps the durable history of ingestion runs so a completed or
// failed run stays inspectable after the fact: its input payload, the stage it
// last executed and why it failed.
package runs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Pipeline stages, in execution order
const (
	StageNormalize = "normalize"
	StagePersist   = "persist"
	StageIndex     = "index"
	StageDone      = "done"
)

// IngestionRun records one orchestrated batch execution. RunName is the
// caller-supplied idempotency token: the unique index rejects a second run
// reusing the same name.
type IngestionRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	RunName         string         `gorm:"not null;uniqueIndex" json:"run_name"`
	Source          string         `gorm:"not null" json:"source"`
	EntityType      string         `gorm:"not null" json:"entity_type"`
	Status          string         `gorm:"not null" json:"status"`
	Stage           string         `gorm:"not null" json:"stage"`
	InputPayload    []byte         `gorm:"type:jsonb" json:"input_payload,omitempty"`
	OutputPayload   []byte         `gorm:"type:jsonb" json:"output_payload,omitempty"`
	NormalizedCount int            `json:"normalized_count"`
	SkippedCount    int            `json:"skipped_count"`
	PersistedCount  int            `json:"persisted_count"`
	ExistingCount   int            `json:"existing_count"`
	FailedCount     int            `json:"failed_count"`
	IndexedCount    int            `json:"indexed_count"`
	Error           string         `json:"error,omitempty"`
	Cause           string         `json:"cause,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// Repository provides access to run history
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a run-history repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&IngestionRun{}); err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}

// ErrDuplicateRunName reports that a run with the same name was already
// recorded. Callers must treat any other Start error as an infrastructure
// failure, not a rejection.
var ErrDuplicateRunName = errors.New("run name already recorded")

// Start records a new running run. A duplicate run name violates the unique
// index and surfaces as ErrDuplicateRunName; any other error means the history
// itself is unavailable.
func (r *Repository) Start(ctx context.Context, run *IngestionRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = StatusRunning
	run.Stage = StageNormalize

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(ErrDuplicateRunName, "run %s", run.RunName)
		}
		return errors.Wrapf(err, "failed to record run %s", run.RunName)
	}
	return nil
}

// isDuplicateKey recognizes a unique-constraint violation from postgres,
// whether or not the driver translated it.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// SetStage advances the recorded stage of a running run.
func (r *Repository) SetStage(ctx context.Context, id uuid.UUID, stage string) error {
	err := r.db.WithContext(ctx).
		Model(&IngestionRun{}).
		Where("id = ?", id).
		Update("stage", stage).Error
	if err != nil {
		return errors.Wrapf(err, "failed to set stage %s", stage)
	}
	return nil
}

// Complete marks a run as succeeded with its final counts and output.
func (r *Repository) Complete(ctx context.Context, run *IngestionRun) error {
	now := time.Now()
	run.Status = StatusSucceeded
	run.Stage = StageDone
	run.FinishedAt = &now

	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return errors.Wrapf(err, "failed to complete run %s", run.RunName)
	}
	return nil
}

// Fail marks a run as failed at the given stage with its cause.
func (r *Repository) Fail(ctx context.Context, run *IngestionRun, stage, errMsg, cause string) error {
	now := time.Now()
	run.Status = StatusFailed
	run.Stage = stage
	run.Error = errMsg
	run.Cause = cause
	run.FinishedAt = &now

	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return errors.Wrapf(err, "failed to mark run %s as failed", run.RunName)
	}
	return nil
}

// GetByName fetches a run for post-hoc inspection.
func (r *Repository) GetByName(ctx context.Context, name string) (*IngestionRun, error) {
	var run IngestionRun
	err := r.db.WithContext(ctx).Where("run_name = ?", name).First(&run).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get run %s", name)
	}
	return &run, nil
}

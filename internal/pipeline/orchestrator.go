// Package pipeline chains the three ingestion stages for one batch:
// Normalize -> Persist -> Index. The stages are strictly sequential - the
// index stage may need to see committed records - and a failed stage halts
// the run without rolling back earlier stages, because the index is a
// rebuildable derived view of the store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/cityevents/services/ingestion/internal/metrics"
	"example.com/cityevents/services/ingestion/internal/models"
	"example.com/cityevents/services/ingestion/internal/normalizer"
	"example.com/cityevents/services/ingestion/internal/runs"
	"example.com/cityevents/services/ingestion/internal/store"
	"example.com/cityevents/services/ingestion/internal/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EventStore is the persistence contract the orchestrator needs
type EventStore interface {
	BatchCreateIfAbsent(ctx context.Context, events []*models.Event) (store.BatchResult, error)
	CreateGroupIfAbsent(ctx context.Context, group *models.Group) (bool, string, error)
}

// EventIndex is the search projection contract
type EventIndex interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, event *models.Event) error
	UpsertGroup(ctx context.Context, group *models.Group) error
}

// RunLock rejects concurrent runs that reuse a run name
type RunLock interface {
	AcquireRunLock(ctx context.Context, name string) (bool, error)
	ReleaseRunLock(ctx context.Context, name string) error
}

// RunHistory records run state for post-hoc inspection
type RunHistory interface {
	Start(ctx context.Context, run *runs.IngestionRun) error
	SetStage(ctx context.Context, id uuid.UUID, stage string) error
	Complete(ctx context.Context, run *runs.IngestionRun) error
	Fail(ctx context.Context, run *runs.IngestionRun, stage, errMsg, cause string) error
}

// IngestRequest is one batch invocation. RunName is the orchestration-level
// idempotency token, independent from the data-level deterministic IDs.
type IngestRequest struct {
	RunName    string             `json:"runName" validate:"required"`
	Events     []models.RawRecord `json:"events" validate:"required"`
	Source     string             `json:"source" validate:"required"`
	EntityType models.EntityType  `json:"eventType" validate:"required,oneof=event group"`
}

// IngestResult reports a completed run. Partial success - some records
// created, others skipped or already present - is a normal outcome and is
// reported with explicit counts, never inferred from silence.
type IngestResult struct {
	EventIDs        []string          `json:"eventIds"`
	SavedEvents     []*models.Event   `json:"savedEvents,omitempty"`
	NormalizedCount int               `json:"normalizedCount"`
	SkippedCount    int               `json:"skippedCount"`
	PersistedCount  int               `json:"persistedCount"`
	ExistingCount   int               `json:"existingCount"`
	FailedIDs       []string          `json:"failedIds,omitempty"`
	IndexedCount    int               `json:"indexedCount"`
	Skips           []normalizer.Skip `json:"skips,omitempty"`
}

// StageError identifies which stage failed and why.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Cause)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// ErrDuplicateRun rejects a second invocation reusing an in-flight run name.
var ErrDuplicateRun = errors.New("run name already in use")

// Orchestrator wires the pipeline stages together
type Orchestrator struct {
	normalizer *normalizer.Normalizer
	store      EventStore
	index      EventIndex
	lock       RunLock
	history    RunHistory
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	validate   *validator.Validate
}

// New creates an orchestrator
func New(
	n *normalizer.Normalizer,
	eventStore EventStore,
	index EventIndex,
	lock RunLock,
	history RunHistory,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Orchestrator {
	return &Orchestrator{
		normalizer: n,
		store:      eventStore,
		index:      index,
		lock:       lock,
		history:    history,
		metrics:    m,
		tracer:     tracer,
		validate:   validator.New(),
	}
}

// Run executes one ingestion batch. It is a bounded, non-interactive job: no
// built-in retry of a failed execution; the external scheduler re-runs it.
func (o *Orchestrator) Run(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	txn := o.tracer.StartTransaction("ingestion-run")
	defer o.tracer.EndTransaction(txn)
	o.tracer.AddAttribute(txn, "run_name", req.RunName)
	o.tracer.AddAttribute(txn, "source", req.Source)

	if err := o.validateRequest(req); err != nil {
		o.tracer.RecordError(txn, err)
		return nil, err
	}

	// The run name is the orchestration idempotency token: a concurrent
	// duplicate is rejected, never silently run twice.
	acquired, err := o.lock.AcquireRunLock(ctx, req.RunName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire run lock")
	}
	if !acquired {
		o.metrics.IncrementCounter("pipeline.runs.rejected")
		return nil, errors.Wrapf(ErrDuplicateRun, "run %s", req.RunName)
	}
	defer func() {
		if err := o.lock.ReleaseRunLock(context.Background(), req.RunName); err != nil {
			log.Warn().Err(err).Str("run", req.RunName).Msg("Failed to release run lock")
		}
	}()

	run, err := o.startRun(ctx, req)
	if err != nil {
		o.tracer.RecordError(txn, err)
		return nil, err
	}

	o.metrics.IncrementCounter("pipeline.runs.started")
	log.Info().
		Str("run", req.RunName).
		Str("source", req.Source).
		Str("entity_type", string(req.EntityType)).
		Int("records", len(req.Events)).
		Msg("Starting ingestion run")

	var result *IngestResult
	var stageErr *StageError
	if req.EntityType == models.EntityGroup {
		result, stageErr = o.runGroups(ctx, req, run, txn)
	} else {
		result, stageErr = o.runEvents(ctx, req, run, txn)
	}

	if stageErr != nil {
		o.metrics.IncrementCounter("pipeline.runs.failed")
		o.metrics.RecordError("pipeline.run")
		o.tracer.RecordError(txn, stageErr)
		o.failRun(ctx, run, stageErr)
		return nil, stageErr
	}

	o.completeRun(ctx, run, result)
	o.metrics.IncrementCounter("pipeline.runs.succeeded")
	o.metrics.RecordSuccess("pipeline.run")

	log.Info().
		Str("run", req.RunName).
		Int("normalized", result.NormalizedCount).
		Int("skipped", result.SkippedCount).
		Int("persisted", result.PersistedCount).
		Int("existing", result.ExistingCount).
		Int("indexed", result.IndexedCount).
		Msg("Ingestion run succeeded")

	return result, nil
}

// runEvents executes the event pipeline stages for one run.
func (o *Orchestrator) runEvents(ctx context.Context, req IngestRequest, run *runs.IngestionRun, txn *newrelic.Transaction) (*IngestResult, *StageError) {
	// Stage 1: Normalize. Records are independent; one malformed record
	// becomes a Skip and never aborts the batch.
	span := o.tracer.StartSpan("normalize", txn)
	report := o.normalizer.NormalizeBatch(req.Events, models.Source(req.Source))
	span.End()

	result := &IngestResult{
		NormalizedCount: len(report.Events),
		SkippedCount:    len(report.Skips),
		Skips:           report.Skips,
		EventIDs:        make([]string, 0, len(report.Events)),
	}
	run.NormalizedCount = result.NormalizedCount
	run.SkippedCount = result.SkippedCount

	for _, event := range report.Events {
		result.EventIDs = append(result.EventIDs, event.ID)
	}
	o.metrics.IncrementCounterBy("pipeline.records.normalized", int64(result.NormalizedCount))
	o.metrics.IncrementCounterBy("pipeline.records.skipped", int64(result.SkippedCount))

	// Stage 2: Persist. Conditional writes; existing IDs are idempotent
	// no-ops, not faults.
	if err := o.history.SetStage(ctx, run.ID, runs.StagePersist); err != nil {
		return nil, &StageError{Stage: runs.StagePersist, Cause: err}
	}

	span = o.tracer.StartSpan("persist", txn)
	batch, err := o.store.BatchCreateIfAbsent(ctx, report.Events)
	span.End()
	if err != nil {
		return nil, &StageError{Stage: runs.StagePersist, Cause: err}
	}

	result.PersistedCount = batch.CreatedCount
	result.ExistingCount = batch.ExistingCount
	result.FailedIDs = batch.FailedIDs
	run.PersistedCount = batch.CreatedCount
	run.ExistingCount = batch.ExistingCount
	run.FailedCount = len(batch.FailedIDs)
	o.metrics.IncrementCounterBy("pipeline.records.created", int64(batch.CreatedCount))
	o.metrics.IncrementCounterBy("pipeline.records.existing", int64(batch.ExistingCount))

	// Stage 3: Index. Runs strictly after Persist. Upserts overwrite by
	// deterministic document ID, so re-projection of existing records is
	// safe and expected.
	if err := o.history.SetStage(ctx, run.ID, runs.StageIndex); err != nil {
		return nil, &StageError{Stage: runs.StageIndex, Cause: err}
	}

	span = o.tracer.StartSpan("index", txn)
	defer span.End()

	if err := o.index.EnsureSchema(ctx); err != nil {
		return nil, &StageError{Stage: runs.StageIndex, Cause: err}
	}

	failed := make(map[string]bool, len(batch.FailedIDs))
	for _, id := range batch.FailedIDs {
		failed[id] = true
	}

	for _, event := range report.Events {
		if failed[event.ID] {
			continue
		}
		if err := o.index.Upsert(ctx, event); err != nil {
			return nil, &StageError{Stage: runs.StageIndex, Cause: err}
		}
		result.IndexedCount++
		result.SavedEvents = append(result.SavedEvents, event)
	}
	run.IndexedCount = result.IndexedCount
	o.metrics.IncrementCounterBy("pipeline.records.indexed", int64(result.IndexedCount))

	return result, nil
}

// runGroups executes the same stage sequence for group batches.
func (o *Orchestrator) runGroups(ctx context.Context, req IngestRequest, run *runs.IngestionRun, txn *newrelic.Transaction) (*IngestResult, *StageError) {
	span := o.tracer.StartSpan("normalize", txn)
	report := o.normalizer.NormalizeGroups(req.Events, models.Source(req.Source))
	span.End()

	result := &IngestResult{
		NormalizedCount: len(report.Groups),
		SkippedCount:    len(report.Skips),
		Skips:           report.Skips,
		EventIDs:        make([]string, 0, len(report.Groups)),
	}
	run.NormalizedCount = result.NormalizedCount
	run.SkippedCount = result.SkippedCount

	if err := o.history.SetStage(ctx, run.ID, runs.StagePersist); err != nil {
		return nil, &StageError{Stage: runs.StagePersist, Cause: err}
	}

	span = o.tracer.StartSpan("persist", txn)
	for _, group := range report.Groups {
		created, id, err := o.store.CreateGroupIfAbsent(ctx, group)
		if err != nil {
			span.End()
			return nil, &StageError{Stage: runs.StagePersist, Cause: err}
		}
		result.EventIDs = append(result.EventIDs, id)
		if created {
			result.PersistedCount++
		} else {
			result.ExistingCount++
		}
	}
	span.End()
	run.PersistedCount = result.PersistedCount
	run.ExistingCount = result.ExistingCount

	if err := o.history.SetStage(ctx, run.ID, runs.StageIndex); err != nil {
		return nil, &StageError{Stage: runs.StageIndex, Cause: err}
	}

	span = o.tracer.StartSpan("index", txn)
	defer span.End()

	if err := o.index.EnsureSchema(ctx); err != nil {
		return nil, &StageError{Stage: runs.StageIndex, Cause: err}
	}
	for _, group := range report.Groups {
		if err := o.index.UpsertGroup(ctx, group); err != nil {
			return nil, &StageError{Stage: runs.StageIndex, Cause: err}
		}
		result.IndexedCount++
	}
	run.IndexedCount = result.IndexedCount

	return result, nil
}

func (o *Orchestrator) validateRequest(req IngestRequest) error {
	if err := o.validate.Struct(req); err != nil {
		return errors.Wrap(err, "invalid ingest request")
	}
	if !models.Source(req.Source).Valid() {
		return errors.Errorf("unknown source %q", req.Source)
	}
	return nil
}

func (o *Orchestrator) startRun(ctx context.Context, req IngestRequest) (*runs.IngestionRun, error) {
	// The input payload is kept verbatim so a malformed batch can be
	// diagnosed after the fact.
	payload, err := json.Marshal(req.Events)
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture run input")
	}

	run := &runs.IngestionRun{
		RunName:      req.RunName,
		Source:       req.Source,
		EntityType:   string(req.EntityType),
		InputPayload: payload,
	}
	if err := o.history.Start(ctx, run); err != nil {
		// Only a replayed run name is a rejection. Anything else means the
		// run history is unavailable and the batch must fail so the caller
		// retries it.
		if errors.Is(err, runs.ErrDuplicateRunName) {
			return nil, errors.Wrapf(ErrDuplicateRun, "run %s", req.RunName)
		}
		return nil, errors.Wrap(err, "failed to record run start")
	}
	return run, nil
}

func (o *Orchestrator) completeRun(ctx context.Context, run *runs.IngestionRun, result *IngestResult) {
	if output, err := json.Marshal(result); err == nil {
		run.OutputPayload = output
	}
	if err := o.history.Complete(ctx, run); err != nil {
		log.Warn().Err(err).Str("run", run.RunName).Msg("Failed to record run completion")
	}
}

func (o *Orchestrator) failRun(ctx context.Context, run *runs.IngestionRun, stageErr *StageError) {
	log.Error().
		Err(stageErr.Cause).
		Str("run", run.RunName).
		Str("stage", stageErr.Stage).
		Msg("Ingestion run failed")

	if err := o.history.Fail(ctx, run, stageErr.Stage, stageErr.Error(), stageErr.Cause.Error()); err != nil {
		log.Warn().Err(err).Str("run", run.RunName).Msg("Failed to record run failure")
	}
}

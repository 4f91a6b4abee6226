package pipeline

import (
	"context"
	"testing"

	"example.com/cityevents/services/ingestion/config"
	"example.com/cityevents/services/ingestion/internal/metrics"
	"example.com/cityevents/services/ingestion/internal/models"
	"example.com/cityevents/services/ingestion/internal/normalizer"
	"example.com/cityevents/services/ingestion/internal/runs"
	"example.com/cityevents/services/ingestion/internal/store"
	"example.com/cityevents/services/ingestion/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps created IDs in memory so repeated ingestion exercises the
// create-if-absent contract end to end
type fakeStore struct {
	created     map[string]bool
	failPersist bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: make(map[string]bool)}
}

func (f *fakeStore) BatchCreateIfAbsent(_ context.Context, events []*models.Event) (store.BatchResult, error) {
	if f.failPersist {
		return store.BatchResult{}, errors.New("store unreachable")
	}
	result := store.BatchResult{}
	for _, event := range events {
		if f.created[event.ID] {
			result.ExistingCount++
			continue
		}
		f.created[event.ID] = true
		result.CreatedCount++
	}
	return result, nil
}

func (f *fakeStore) CreateGroupIfAbsent(_ context.Context, group *models.Group) (bool, string, error) {
	if f.created[group.ID] {
		return false, group.ID, nil
	}
	f.created[group.ID] = true
	return true, group.ID, nil
}

// fakeIndex records upserts per document ID
type fakeIndex struct {
	docs         map[string]int
	schemaCalls  int
	lastUpserted *models.Event
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]int)}
}

func (f *fakeIndex) EnsureSchema(context.Context) error {
	f.schemaCalls++
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, event *models.Event) error {
	f.docs[event.ID]++
	f.lastUpserted = event
	return nil
}

func (f *fakeIndex) UpsertGroup(_ context.Context, group *models.Group) error {
	f.docs[group.ID]++
	return nil
}

// fakeLock grants each name once until released
type fakeLock struct {
	held map[string]bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (f *fakeLock) AcquireRunLock(_ context.Context, name string) (bool, error) {
	if f.held[name] {
		return false, nil
	}
	f.held[name] = true
	return true, nil
}

func (f *fakeLock) ReleaseRunLock(_ context.Context, name string) error {
	delete(f.held, name)
	return nil
}

// fakeHistory records runs and stage transitions in memory
type fakeHistory struct {
	runs     map[string]*runs.IngestionRun
	stages   []string
	startErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{runs: make(map[string]*runs.IngestionRun)}
}

func (f *fakeHistory) Start(_ context.Context, run *runs.IngestionRun) error {
	if f.startErr != nil {
		return f.startErr
	}
	if _, exists := f.runs[run.RunName]; exists {
		return errors.Wrapf(runs.ErrDuplicateRunName, "run %s", run.RunName)
	}
	run.ID = uuid.New()
	run.Status = runs.StatusRunning
	run.Stage = runs.StageNormalize
	f.runs[run.RunName] = run
	f.stages = append(f.stages, runs.StageNormalize)
	return nil
}

func (f *fakeHistory) SetStage(_ context.Context, _ uuid.UUID, stage string) error {
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeHistory) Complete(_ context.Context, run *runs.IngestionRun) error {
	run.Status = runs.StatusSucceeded
	run.Stage = runs.StageDone
	return nil
}

func (f *fakeHistory) Fail(_ context.Context, run *runs.IngestionRun, stage, errMsg, cause string) error {
	run.Status = runs.StatusFailed
	run.Stage = stage
	run.Error = errMsg
	run.Cause = cause
	return nil
}

type fixture struct {
	orchestrator *Orchestrator
	store        *fakeStore
	index        *fakeIndex
	lock         *fakeLock
	history      *fakeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	f := &fixture{
		store:   newFakeStore(),
		index:   newFakeIndex(),
		lock:    newFakeLock(),
		history: newFakeHistory(),
	}
	f.orchestrator = New(
		normalizer.New(normalizer.Config{}),
		f.store,
		f.index,
		f.lock,
		f.history,
		metrics.NewMetrics(),
		tracer,
	)
	return f
}

func jazzFestBatch() []models.RawRecord {
	return []models.RawRecord{
		{"title": "Jazz Fest", "start_date": "2024-06-15"},
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName:    "run-1",
		Events:     jazzFestBatch(),
		Source:     "crawler",
		EntityType: models.EntityEvent,
	})

	require.NoError(t, err)
	require.Equal(t, 1, result.NormalizedCount)
	require.Equal(t, 1, result.PersistedCount)
	require.Equal(t, 1, result.IndexedCount)
	require.Zero(t, result.SkippedCount)
	require.Equal(t, []string{"CRAWLER-jazz-fest-2024-06-15"}, result.EventIDs)
	require.Len(t, result.SavedEvents, 1)

	// Stage order is the only ordering guarantee that matters
	require.Equal(t, []string{runs.StageNormalize, runs.StagePersist, runs.StageIndex}, f.history.stages)

	run := f.history.runs["run-1"]
	require.Equal(t, runs.StatusSucceeded, run.Status)
	require.NotEmpty(t, run.InputPayload)
}

func TestRunDedupAcrossIngestions(t *testing.T) {
	f := newFixture(t)

	first, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.PersistedCount)

	// The same event again under a fresh run name, now with a description
	second, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-2",
		Events: []models.RawRecord{
			{"title": "Jazz Fest", "start_date": "2024-06-15", "description": "Now with fireworks"},
		},
		Source: "crawler", EntityType: models.EntityEvent,
	})
	require.NoError(t, err)
	require.Zero(t, second.PersistedCount)
	require.Equal(t, 1, second.ExistingCount)

	// Exactly one stored record; the index saw the ID twice as overwrites
	// of the same document, so the later projection wins
	require.Len(t, f.store.created, 1)
	require.Equal(t, 2, f.index.docs["CRAWLER-jazz-fest-2024-06-15"])
	require.Equal(t, "CRAWLER-jazz-fest-2024-06-15", f.index.lastUpserted.ID)
	require.Equal(t, "Now with fireworks", f.index.lastUpserted.Description)
}

func TestRunRejectsDuplicateRunName(t *testing.T) {
	f := newFixture(t)

	// Simulate an in-flight run holding the name
	acquired, err := f.lock.AcquireRunLock(context.Background(), "run-1")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})
	require.ErrorIs(t, err, ErrDuplicateRun)
}

func TestRunRejectsReplayedRunName(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})
	require.NoError(t, err)

	// The lock was released, but the run history still rejects the name
	_, err = f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})
	require.ErrorIs(t, err, ErrDuplicateRun)
}

func TestRunHistoryOutageIsFatal(t *testing.T) {
	f := newFixture(t)
	f.history.startErr = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

	_, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})

	// An unreachable run history is an infrastructure failure; reporting it
	// as a duplicate run would make callers drop the batch as already done
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateRun)
	require.Contains(t, err.Error(), "connection refused")

	// Nothing ran
	require.Empty(t, f.store.created)
	require.Zero(t, f.index.schemaCalls)
}

func TestRunSkipIsolation(t *testing.T) {
	f := newFixture(t)

	events := jazzFestBatch()
	events = append(events, models.RawRecord{"description": "no title"})
	events = append(events, models.RawRecord{"title": "Art Walk", "start_date": "2024-06-16"})

	result, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: events, Source: "crawler", EntityType: models.EntityEvent,
	})

	require.NoError(t, err)
	require.Equal(t, 2, result.NormalizedCount)
	require.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Skips, 1)
	require.Equal(t, "missing title", result.Skips[0].Reason)
}

func TestRunPersistFailureHaltsPipeline(t *testing.T) {
	f := newFixture(t)
	f.store.failPersist = true

	_, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, runs.StagePersist, stageErr.Stage)

	// Index never ran; the failure is recorded with its stage and cause
	require.Zero(t, f.index.schemaCalls)
	run := f.history.runs["run-1"]
	require.Equal(t, runs.StatusFailed, run.Status)
	require.Equal(t, runs.StagePersist, run.Stage)
	require.Contains(t, run.Cause, "store unreachable")
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1", Events: jazzFestBatch(), Source: "crawler", EntityType: "schedule",
	})
	require.Error(t, err)

	_, err = f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-2", Events: jazzFestBatch(), Source: "telepathy", EntityType: models.EntityEvent,
	})
	require.Error(t, err)

	_, err = f.orchestrator.Run(context.Background(), IngestRequest{
		Events: jazzFestBatch(), Source: "crawler", EntityType: models.EntityEvent,
	})
	require.Error(t, err)
}

func TestRunGroups(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator.Run(context.Background(), IngestRequest{
		RunName: "run-1",
		Events: []models.RawRecord{
			{
				"name":     "Run Club DC",
				"category": "running",
				"schedules": []interface{}{
					map[string]interface{}{"day": "Monday", "time": "18:30", "location": "Meridian Hill Park"},
				},
			},
		},
		Source:     "manual",
		EntityType: models.EntityGroup,
	})

	require.NoError(t, err)
	require.Equal(t, 1, result.PersistedCount)
	require.Equal(t, 1, result.IndexedCount)
	require.Equal(t, []string{"GROUP-run-club-dc"}, result.EventIDs)
	require.Equal(t, 1, f.index.docs["GROUP-run-club-dc"])
}

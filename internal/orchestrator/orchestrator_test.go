package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/mjlogconv/internal/checkpoint"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/stats"
	"github.com/livinlefevreloca/mjlogconv/internal/testutil"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// ==============================================================================
// Test Helpers
// ==============================================================================

// newTestDB creates an in-memory logs table
func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	_, err = database.Exec(db.LogsSchema)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func insert(t *testing.T, database *db.DB, id string, payload []byte, processed bool) {
	t.Helper()
	require.NoError(t, database.InsertRecord(context.Background(), db.RawRecord{ID: id, Payload: payload}, processed))
}

func insertFourPlayer(t *testing.T, database *db.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		insert(t, database, id, testutil.FourPlayerPayload(), true)
	}
}

type harness struct {
	source  Source
	backend checkpoint.Backend
	store   *checkpoint.Store
	conv    *testutil.FakeConverter
	out     *testutil.MemorySink
	logger  *testutil.TestLogger
	config  Config
}

func newHarness(t *testing.T, source Source, backend checkpoint.Backend) *harness {
	t.Helper()
	logger := testutil.NewTestLogger()
	config := Config{
		BatchSize: 2,
		Pool:      worker.Config{Workers: 4},
		Stats:     stats.Config{InboxBufferSize: 16},
	}
	return &harness{
		source:  source,
		backend: backend,
		store:   checkpoint.NewStore(backend, logger.Logger()),
		conv:    testutil.NewFakeConverter(),
		out:     testutil.NewMemorySink(),
		logger:  logger,
		config:  config,
	}
}

// orchestrator builds a fresh orchestrator and store over the same backend,
// the way a new process would
func (h *harness) orchestrator() *Orchestrator {
	h.store = checkpoint.NewStore(h.backend, h.logger.Logger())
	processor := worker.NewProcessor(h.conv, h.out, "", h.logger.Logger())
	return NewOrchestrator(h.config, Deps{
		Source:    h.source,
		Store:     h.store,
		Processor: processor,
		Sink:      h.out,
	}, h.logger.Logger())
}

// fakeSource serves fixed batches and can fail or run a hook between them
type fakeSource struct {
	batches    [][]db.RawRecord
	err        error
	afterBatch func(n int)
}

func (s *fakeSource) ResolveLimit(_ context.Context, requested int) (int, error) {
	if requested > 0 {
		return requested, nil
	}
	total := 0
	for _, b := range s.batches {
		total += len(b)
	}
	return total, nil
}

func (s *fakeSource) EachRecordBatch(ctx context.Context, _, _ int, fn func([]db.RawRecord) error) error {
	for i, batch := range s.batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
		if s.afterBatch != nil {
			s.afterBatch(i)
		}
	}
	return s.err
}

func (s *fakeSource) EachProcessedID(_ context.Context, _ int, fn func(string) error) error {
	for _, batch := range s.batches {
		for _, rec := range batch {
			if err := fn(rec.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func records(ids ...string) []db.RawRecord {
	recs := make([]db.RawRecord, len(ids))
	for i, id := range ids {
		recs[i] = db.RawRecord{ID: id, Payload: testutil.FourPlayerPayload()}
	}
	return recs
}

// ==============================================================================
// Run
// ==============================================================================

func TestRun_ConvertsRecords(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "g1", "g2", "g3")
	insert(t, database, "sanma", testutil.ThreePlayerPayload(), true)
	insertFourPlayer(t, database, "broken")
	insert(t, database, "pending", testutil.FourPlayerPayload(), false)

	h := newHarness(t, database, checkpoint.NewMemoryBackend())
	h.conv.SetResult("broken", `{"type":"start_game"}`, `{"type":"start_kyoku"}`)

	o := h.orchestrator()
	recorder := NewStateRecorder()
	o.SetRecorder(recorder)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Transient)
	assert.Positive(t, summary.Bytes)

	for _, id := range []string{"g1", "g2", "g3"} {
		assert.True(t, h.store.IsCompleted(id), id)
		assert.Equal(t, 1, h.out.Writes(id), id)
	}
	assert.True(t, h.store.IsFailed("broken"))
	assert.False(t, h.store.IsDone("sanma"))
	assert.Equal(t, 0, h.conv.Calls("pending"), "unprocessed rows are not read")

	assert.Equal(t, []string{"loading", "resolving", "dispatching", "draining", "flushing", "completed"}, recorder.Path())
	assert.Equal(t, "completed", o.GetStateName())
	assert.NotEmpty(t, o.RunID())

	finished := h.logger.FindByMessage("conversion run completed")
	require.Len(t, finished, 1)
	assert.Equal(t, o.RunID(), finished[0].Fields["run_id"])
}

func TestRun_ResumesWithoutRedoingWork(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "a", "b", "c", "d", "e")
	h := newHarness(t, database, checkpoint.NewMemoryBackend())
	h.conv.SetResult("c", `{"type":"end_game"}`)

	// First run only covers the first three records
	h.config.Count = 3
	first, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Completed)
	assert.Equal(t, 1, first.Failed)

	// Second run covers everything
	h.config.Count = 0
	second, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Resumed)
	assert.Equal(t, 2, second.Completed)
	assert.Equal(t, 0, second.Failed)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, h.conv.Calls(id), "record %s converted more than once", id)
	}
	for _, id := range []string{"a", "b", "d", "e"} {
		assert.Equal(t, 1, h.out.Writes(id), "record %s written more than once", id)
	}

	// A third run has nothing left to do
	third, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, third.Resumed)
	assert.Equal(t, 0, third.Processed())
}

func TestRun_TransientErrorsRetryNextRun(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "ok", "flaky")
	h := newHarness(t, database, checkpoint.NewMemoryBackend())
	h.conv.SetError("flaky", testutil.ErrInjected)

	first, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err, "per-record errors do not fail the run")
	assert.Equal(t, 1, first.Transient)
	assert.False(t, h.store.IsDone("flaky"))

	h.conv.SetResult("flaky", testutil.GameLines...)
	second, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Completed)
	assert.Equal(t, 1, second.Resumed)
	assert.True(t, h.store.IsCompleted("flaky"))
	assert.Equal(t, 2, h.conv.Calls("flaky"))
	assert.Equal(t, 1, h.conv.Calls("ok"))
}

func TestRun_PersistsAcrossProcesses(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "a", "b", "c")
	path := filepath.Join(t.TempDir(), "convert.json")
	h := newHarness(t, database, checkpoint.NewFileBackend(path))

	_, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)

	reloaded := checkpoint.NewStore(checkpoint.NewFileBackend(path), h.logger.Logger())
	counts, err := reloaded.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Counts{Completed: 3}, counts)
}

func TestRun_NoRecords(t *testing.T) {
	database := newTestDB(t)
	h := newHarness(t, database, checkpoint.NewMemoryBackend())

	o := h.orchestrator()
	recorder := NewStateRecorder()
	o.SetRecorder(recorder)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.Summary{}, summary)
	assert.Equal(t, []string{"loading", "resolving", "completed"}, recorder.Path())
	assert.Equal(t, 0, h.conv.TotalCalls())
}

func TestRun_SubmitsEachIDOnce(t *testing.T) {
	source := &fakeSource{batches: [][]db.RawRecord{
		records("a", "b"),
		records("b", "c"),
		records("a"),
	}}
	h := newHarness(t, source, checkpoint.NewMemoryBackend())

	summary, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, h.conv.Calls(id), id)
		assert.Equal(t, 1, h.out.Writes(id), id)
	}
}

func TestRun_SourceErrorFailsRun(t *testing.T) {
	source := &fakeSource{
		batches: [][]db.RawRecord{records("a", "b")},
		err:     errors.New("disk I/O error"),
	}
	h := newHarness(t, source, checkpoint.NewMemoryBackend())

	o := h.orchestrator()
	summary, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read records")
	assert.Equal(t, "failed", o.GetStateName())

	// Work dispatched before the error is still recorded
	assert.Equal(t, 2, summary.Completed)
	assert.True(t, h.store.IsCompleted("a"))
	assert.True(t, h.store.IsCompleted("b"))
}

func TestRun_StoreFailureAbortsRun(t *testing.T) {
	var batches [][]db.RawRecord
	for i := 0; i < 10; i++ {
		batches = append(batches, records(fmt.Sprintf("r%d", i)))
	}
	backend := checkpoint.NewMemoryBackend()
	backend.SetSaveError(testutil.ErrInjected)
	h := newHarness(t, &fakeSource{batches: batches}, backend)
	h.config.Pool.Workers = 1

	o := h.orchestrator()
	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, "failed", o.GetStateName())
	assert.Equal(t, 0, h.store.Counts().Completed)
	assert.Less(t, h.conv.TotalCalls(), 10, "dispatch stops after the store fails")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		batches: [][]db.RawRecord{records("a", "b"), records("c", "d")},
	}
	source.afterBatch = func(n int) {
		if n == 0 {
			cancel()
		}
	}
	h := newHarness(t, source, checkpoint.NewMemoryBackend())

	o := h.orchestrator()
	_, err := o.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", o.GetStateName())
	assert.Equal(t, 0, h.conv.Calls("c"))
	assert.Equal(t, 0, h.conv.Calls("d"))
	assert.False(t, h.store.IsDone("c"))
}

func TestRun_CancelledWhileDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{batches: [][]db.RawRecord{records("a", "b")}}
	h := newHarness(t, source, checkpoint.NewMemoryBackend())
	h.conv.SetDelay(5 * time.Second)

	go func() {
		testutil.WaitFor(t, func() bool {
			return h.conv.Calls("a") == 1 && h.conv.Calls("b") == 1
		}, 2*time.Second, "records never started")
		cancel()
	}()

	o := h.orchestrator()
	summary, err := o.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", o.GetStateName())
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, 2, summary.Transient)
	assert.False(t, h.store.IsDone("a"))
	assert.False(t, h.store.IsDone("b"))
	assert.Empty(t, h.logger.FindByMessage("record conversion failed"))
	assert.Len(t, h.logger.FindByMessage("record interrupted"), 2)
}

func TestRun_LoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convert.json")
	require.NoError(t, writeFile(path, "{not json"))

	h := newHarness(t, &fakeSource{}, checkpoint.NewFileBackend(path))
	o := h.orchestrator()
	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "failed", o.GetStateName())
}

// ==============================================================================
// Reconcile
// ==============================================================================

func TestReconcile(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "adopt", "empty", "missing", "done", "failed")
	backend := checkpoint.NewMemoryBackend()
	h := newHarness(t, database, backend)

	seed := checkpoint.NewStore(backend, h.logger.Logger())
	_, err := seed.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, seed.MarkCompleted(context.Background(), "done"))
	require.NoError(t, seed.MarkFailed(context.Background(), "failed"))

	h.out.Put("adopt", []byte("artifact"))
	h.out.Put("empty", []byte{})
	h.out.Put("done", []byte("artifact"))
	savesBefore := backend.Saves()

	o := h.orchestrator()
	result, err := o.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{
		Scanned:     5,
		Missing:     2,
		Removed:     1,
		Marked:      1,
		AlreadyDone: 1,
	}, result)
	assert.True(t, h.store.IsCompleted("adopt"))
	assert.True(t, h.store.IsFailed("failed"))
	assert.False(t, h.store.IsDone("empty"))

	_, ok := h.out.Get("empty")
	assert.False(t, ok, "empty artifact removed")
	assert.Equal(t, 1, backend.Saves()-savesBefore, "adoptions persisted in one save")
	assert.Len(t, h.logger.FindByMessage("empty artifact removed"), 1)

	// Converting afterwards skips the adopted record
	summary, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.conv.Calls("adopt"))
	assert.Equal(t, 2, summary.Completed, "empty and missing are converted")
}

func TestReconcile_CompletedWithEmptyArtifact(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "a")
	h := newHarness(t, database, checkpoint.NewMemoryBackend())

	_, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	require.True(t, h.store.IsCompleted("a"))

	h.out.Put("a", []byte{})

	result, err := h.orchestrator().Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 1, Removed: 1, Lost: 1}, result)
	assert.True(t, h.store.IsCompleted("a"), "completed set never shrinks")
	assert.Len(t, h.logger.FindByMessage("completed record has no artifact left"), 1)
}

func TestReconcile_NothingToAdopt(t *testing.T) {
	database := newTestDB(t)
	insertFourPlayer(t, database, "a")
	backend := checkpoint.NewMemoryBackend()
	h := newHarness(t, database, backend)

	result, err := h.orchestrator().Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 1, Missing: 1}, result)
	assert.Equal(t, 0, backend.Saves())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

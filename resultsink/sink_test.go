package resultsink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/engine"
)

func sampleSnapshot(runID string, createdAt time.Time) *Snapshot {
	return &Snapshot{
		RunID:    runID,
		PlanName: "deploy",
		Status:   "success",
		Steps: []engine.StepTelemetry{
			{StepName: "build", Outcome: engine.OutcomeSuccess, Result: "ok"},
		},
		Metadata:  map[string]any{"attempts": 0},
		CreatedAt: createdAt,
	}
}

// exerciseSink runs the shared contract against any backend.
func exerciseSink(t *testing.T, sink Sink) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	_, err := sink.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, sink.Save(ctx, sampleSnapshot("run-1", base)))
	require.NoError(t, sink.Save(ctx, sampleSnapshot("run-2", base.Add(time.Second))))
	require.NoError(t, sink.Save(ctx, sampleSnapshot("run-3", base.Add(2*time.Second))))

	got, err := sink.Get(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.PlanName)
	assert.Equal(t, "success", got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "build", got.Steps[0].StepName)

	// Save is an upsert keyed by run ID.
	updated := sampleSnapshot("run-2", base.Add(time.Second))
	updated.Status = "Failed"
	require.NoError(t, sink.Save(ctx, updated))
	got, err = sink.Get(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, "Failed", got.Status)

	all, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].RunID) // newest first
	assert.Equal(t, "run-1", all[2].RunID)

	limited, err := sink.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-3", limited[0].RunID)
}

func TestMemorySink_Contract(t *testing.T) {
	sink := NewMemorySink()
	defer sink.Close()
	exerciseSink(t, sink)
}

func TestMemorySink_CopiesOnReturn(t *testing.T) {
	sink := NewMemorySink()
	snap := sampleSnapshot("run-1", time.Now())
	require.NoError(t, sink.Save(context.Background(), snap))

	got, err := sink.Get(context.Background(), "run-1")
	require.NoError(t, err)
	got.Status = "mutated"

	again, err := sink.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "success", again.Status)
}

func TestFileSink_Contract(t *testing.T) {
	sink, err := NewFileSink(FileConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	defer sink.Close()
	exerciseSink(t, sink)
}

func TestFileSink_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, sink.Save(context.Background(), sampleSnapshot("run-1", time.Now())))
	require.NoError(t, sink.Close())

	reopened, err := NewFileSink(FileConfig{Dir: dir})
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.PlanName)
}

func TestSQLiteSink_Contract(t *testing.T) {
	sink, err := NewSQLiteSink(SQLiteConfig{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer sink.Close()
	exerciseSink(t, sink)
}

func TestRedisSink_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	sink, err := NewRedisSink(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer sink.Close()
	exerciseSink(t, sink)
}

func TestNew_SelectsBackend(t *testing.T) {
	sink, err := New(Config{Type: SinkTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemorySink{}, sink)

	sink, err = New(Config{}) // empty type defaults to memory
	require.NoError(t, err)
	assert.IsType(t, &MemorySink{}, sink)

	sink, err = New(Config{Type: SinkTypeFile, File: FileConfig{Dir: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	_, err = New(Config{Type: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sink type")
}

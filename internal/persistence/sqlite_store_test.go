package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkang/shadowclip/internal/jobs"
	"github.com/mkang/shadowclip/internal/subtitle"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func sampleJob(id string) *jobs.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &jobs.Job{
		ID: id,
		Request: jobs.Request{
			TemplateID: 3,
			Source:     "/media/lesson.mp4",
			Start:      30,
			End:        33,
			Record: subtitle.Record{
				Start:    30,
				End:      33,
				TextEN:   "I got it",
				TextKO:   "알겠어",
				Keywords: []string{"got"},
			},
			DedupeKey: "lesson:30-33",
		},
		Status:    jobs.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}

func TestSQLiteStoreJobRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := sampleJob("job-1")
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Equal(t, job.Request.TemplateID, got.Request.TemplateID)
	assert.Equal(t, job.Request.Record.TextKO, got.Request.Record.TextKO)
	assert.Equal(t, job.Request.Record.Keywords, got.Request.Record.Keywords)
	assert.Equal(t, job.Request.DedupeKey, got.Request.DedupeKey)
	assert.Nil(t, got.Error)
	assert.Equal(t, 0, got.Checkpoint)
}

func TestSQLiteStoreUpsertUpdatesExistingJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := sampleJob("job-1")
	require.NoError(t, store.UpsertJob(ctx, job))

	job.Status = jobs.StatusFailed
	job.Progress = 40
	job.Error = &jobs.JobError{Kind: jobs.ErrToolTimeout, PrimitiveIndex: 5, Detail: "encoder timed out"}
	job.UpdatedAt = job.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, 40, got.Progress)
	require.NotNil(t, got.Error)
	assert.Equal(t, jobs.ErrToolTimeout, got.Error.Kind)
	assert.Equal(t, 5, got.Error.PrimitiveIndex)
}

func TestSQLiteStoreCheckpointJoin(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, sampleJob("job-1")))
	require.NoError(t, store.SaveCheckpoint(ctx, "job-1", 5))
	require.NoError(t, store.SaveCheckpoint(ctx, "job-1", 10))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 10, loaded[0].Checkpoint)

	require.NoError(t, store.DeleteJobData(ctx, "job-1"))
	loaded, err = store.LoadJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded[0].Checkpoint)
}

func TestSQLiteStoreDeleteJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, sampleJob("job-1")))
	require.NoError(t, store.UpsertJob(ctx, sampleJob("job-2")))
	require.NoError(t, store.DeleteJob(ctx, "job-1"))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "job-2", loaded[0].ID)
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.UpsertJob(ctx, sampleJob("job-1")))
	require.NoError(t, store.Close())

	// Reopening applies migrations idempotently.
	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_add_index.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}

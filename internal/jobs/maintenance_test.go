package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

type fakeEnqueuer struct {
	payloads []ScrapePayload
}

func (f *fakeEnqueuer) EnqueueScrape(p ScrapePayload, _ int, _ time.Duration) (bool, error) {
	f.payloads = append(f.payloads, p)
	return true, nil
}

func newMaintenanceEnv(t *testing.T) (*Maintenance, *store.JobStore, *fakeEnqueuer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	jobStore := store.NewJobStore(rdb)
	fq := &fakeEnqueuer{}
	m := &Maintenance{
		jobs:   jobStore,
		queue:  fq,
		cfg:    &config.Config{MaxJobAttempts: 3, JobTimeout: 5 * time.Minute},
		logger: log.WithComponent("maintenance"),
	}
	return m, jobStore, fq
}

func startProcessing(t *testing.T, jobs *store.JobStore, jobID, userID string, last time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, jobs.Create(ctx, &models.Job{
		JobID:     jobID,
		UserID:    userID,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}))
	_, acquired, err := jobs.AcquireUser(ctx, userID, jobID, time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	claimed, err := jobs.Transition(ctx, jobID, models.JobPending, models.JobProcessing, func(j *models.Job) {
		j.Attempts++
		j.StartedAt = &last
	})
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestSweepResetsStuckJobOnce(t *testing.T) {
	m, jobStore, fq := newMaintenanceEnv(t)
	ctx := context.Background()
	stale := time.Now().UTC().Add(-20 * time.Minute)
	startProcessing(t, jobStore, "j1", "ur1", stale)

	m.sweepOnce(ctx)

	job, err := jobStore.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 2, job.Attempts, "reset counts as a burned attempt")
	assert.Equal(t, 1, job.StuckResets)
	assert.Nil(t, job.Heartbeat)

	require.Len(t, fq.payloads, 1)
	assert.Equal(t, "j1", fq.payloads[0].JobID)
}

func TestSweepFailsJobStuckTwice(t *testing.T) {
	m, jobStore, fq := newMaintenanceEnv(t)
	ctx := context.Background()
	stale := time.Now().UTC().Add(-20 * time.Minute)
	startProcessing(t, jobStore, "j1", "ur1", stale)

	m.sweepOnce(ctx)

	// The retry claims the job and the worker is lost again.
	claimed, err := jobStore.Transition(ctx, "j1", models.JobPending, models.JobProcessing, func(j *models.Job) {
		j.Attempts++
		j.StartedAt = &stale
	})
	require.NoError(t, err)
	require.True(t, claimed)

	m.sweepOnce(ctx)

	job, err := jobStore.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ErrTimeout, job.Error.Kind)

	inflight, err := jobStore.InFlight(ctx, "ur1")
	require.NoError(t, err)
	assert.Empty(t, inflight, "marker released when the job is given up")

	assert.Len(t, fq.payloads, 1, "no re-enqueue on the second detection")
}

func TestSweepSkipsHealthyJob(t *testing.T) {
	m, jobStore, fq := newMaintenanceEnv(t)
	ctx := context.Background()
	startProcessing(t, jobStore, "j1", "ur1", time.Now().UTC())

	m.sweepOnce(ctx)

	job, err := jobStore.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, job.Status)
	assert.Zero(t, job.StuckResets)
	assert.Empty(t, fq.payloads)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JustinTDCT/ListVault/internal/models"
)

const (
	jobKeyPrefix      = "job:"
	inflightKeyPrefix = "job:user:"
	recentJobsKey     = "job:recent"

	// Terminal jobs stay readable for status polling before expiring.
	terminalRetention = 24 * time.Hour
	recentJobsMax     = 200
	casRetries        = 5
)

// releaseScript deletes the single-flight marker only if it still points at
// the releasing job, so a slow processor cannot clobber a newer job's marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobStore persists Job records in the shared key-value store. Status
// transitions are compare-and-set (WATCH transactions) so two processors can
// never both complete the same job.
type JobStore struct {
	rdb *redis.Client
}

func NewJobStore(rdb *redis.Client) *JobStore {
	return &JobStore{rdb: rdb}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return models.E(models.ErrCacheBackend, "job encode", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.JobID, data, 0)
	pipe.LPush(ctx, recentJobsKey, job.JobID)
	pipe.LTrim(ctx, recentJobsKey, 0, recentJobsMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.E(models.ErrCacheBackend, "job create", err)
	}
	return nil
}

// Get returns (nil, nil) for unknown job IDs.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := s.rdb.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, models.E(models.ErrCacheBackend, "job get", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, models.E(models.ErrCacheBackend, "job decode", err)
	}
	return &job, nil
}

// Transition moves a job from one status to another atomically, applying
// mutate to the loaded record before writing it back. Returns false when the
// job is missing, not in the expected status, or the state machine forbids
// the move.
func (s *JobStore) Transition(ctx context.Context, jobID string, from, to models.JobStatus, mutate func(*models.Job)) (bool, error) {
	key := jobKeyPrefix + jobID
	var applied bool

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		// Self-transitions update fields in place (heartbeat, progress).
		if job.Status != from || (from != to && !from.CanTransition(to)) {
			return nil
		}

		job.Status = to
		if mutate != nil {
			mutate(&job)
		}
		out, err := json.Marshal(&job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ttl := time.Duration(0)
			if to.Terminal() {
				ttl = terminalRetention
			}
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, models.E(models.ErrCacheBackend, "job transition", err)
	}
	return false, models.E(models.ErrCacheBackend, "job transition",
		fmt.Errorf("cas contention on job %s", jobID))
}

// Heartbeat refreshes the liveness marker on a processing job. Stuck-job
// recovery resets jobs whose heartbeat is older than the threshold.
func (s *JobStore) Heartbeat(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.Transition(ctx, jobID, models.JobProcessing, models.JobProcessing, func(j *models.Job) {
		t := at
		j.Heartbeat = &t
	})
	return err
}

// SetProgress updates the free-form progress string on a processing job.
func (s *JobStore) SetProgress(ctx context.Context, jobID, progress string) {
	_, _ = s.Transition(ctx, jobID, models.JobProcessing, models.JobProcessing, func(j *models.Job) {
		j.Progress = progress
	})
}

// ListRecent returns up to limit recent jobs, newest first, optionally
// filtered by status. Expired terminal jobs are skipped.
func (s *JobStore) ListRecent(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	ids, err := s.rdb.LRange(ctx, recentJobsKey, 0, recentJobsMax-1).Result()
	if err != nil {
		return nil, models.E(models.ErrCacheBackend, "job list", err)
	}

	jobs := make([]*models.Job, 0, limit)
	for _, id := range ids {
		if len(jobs) >= limit {
			break
		}
		job, err := s.Get(ctx, id)
		if err != nil || job == nil {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ──────────────────── Single-flight marker ────────────────────

// AcquireUser claims the per-user in-flight slot for jobID. When another job
// already holds it, the holder's ID is returned with acquired=false so the
// caller can attach to the in-progress operation.
func (s *JobStore) AcquireUser(ctx context.Context, userID, jobID string, ttl time.Duration) (existing string, acquired bool, err error) {
	key := inflightKeyPrefix + userID
	ok, err := s.rdb.SetNX(ctx, key, jobID, ttl).Result()
	if err != nil {
		return "", false, models.E(models.ErrCacheBackend, "single-flight acquire", err)
	}
	if ok {
		return jobID, true, nil
	}
	existing, err = s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Marker expired between SetNX and Get; treat as contended and retry upstream.
		return "", false, nil
	}
	if err != nil {
		return "", false, models.E(models.ErrCacheBackend, "single-flight read", err)
	}
	return existing, false, nil
}

// ReleaseUser clears the in-flight marker iff it still belongs to jobID.
func (s *JobStore) ReleaseUser(ctx context.Context, userID, jobID string) error {
	err := releaseScript.Run(ctx, s.rdb, []string{inflightKeyPrefix + userID}, jobID).Err()
	if err != nil && err != redis.Nil {
		return models.E(models.ErrCacheBackend, "single-flight release", err)
	}
	return nil
}

// InFlight returns the job currently holding the user's slot, if any.
func (s *JobStore) InFlight(ctx context.Context, userID string) (string, error) {
	id, err := s.rdb.Get(ctx, inflightKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", models.E(models.ErrCacheBackend, "single-flight read", err)
	}
	return id, nil
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

// Notifier receives job lifecycle events, fanned out to API subscribers.
type Notifier interface {
	JobEvent(job *models.Job)
}

type noopNotifier struct{}

func (noopNotifier) JobEvent(*models.Job) {}

// Service is the submission side of the job pipeline: it owns the per-user
// single-flight marker and the job records the API polls.
type Service struct {
	jobs     *store.JobStore
	queue    *Queue
	cfg      *config.Config
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(jobs *store.JobStore, queue *Queue, cfg *config.Config, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		jobs:     jobs,
		queue:    queue,
		cfg:      cfg,
		notifier: notifier,
		logger:   log.WithComponent("jobs"),
	}
}

// markerTTL bounds how long the single-flight marker can outlive its job:
// every attempt at full timeout plus backoff headroom. The marker normally
// clears on completion; the TTL is the crash backstop.
func (s *Service) markerTTL() time.Duration {
	return s.cfg.JobTimeout*time.Duration(s.cfg.MaxJobAttempts) + 10*time.Minute
}

// Submit requests a scrape for userID. At most one non-terminal job exists
// per user: a second submit attaches to the in-flight job and reports
// created=false. forceRefresh is recorded on the job and makes the processor
// skip the fresh-cache short-circuit.
func (s *Service) Submit(ctx context.Context, userID string, forceRefresh bool) (job *models.Job, created bool, err error) {
	if !models.ValidUserID(userID) {
		return nil, false, models.E(models.ErrValidation,
			fmt.Sprintf("user id %q does not match ur<digits>", userID), nil)
	}

	jobID := uuid.NewString()

	for attempt := 0; attempt < 2; attempt++ {
		holder, acquired, err := s.jobs.AcquireUser(ctx, userID, jobID, s.markerTTL())
		if err != nil {
			return nil, false, err
		}
		if acquired {
			break
		}
		if holder == "" {
			// Marker vanished mid-check; retry the acquire.
			continue
		}

		existing, err := s.jobs.Get(ctx, holder)
		if err != nil {
			return nil, false, err
		}
		if existing != nil && !existing.Status.Terminal() {
			return existing, false, nil
		}
		// Stale marker from a crashed or expired job: clear and retry.
		if err := s.jobs.ReleaseUser(ctx, userID, holder); err != nil {
			return nil, false, err
		}
	}

	job = &models.Job{
		JobID:        jobID,
		UserID:       userID,
		ForceRefresh: forceRefresh,
		Status:       models.JobPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		_ = s.jobs.ReleaseUser(ctx, userID, jobID)
		return nil, false, err
	}

	enqueued, err := s.queue.EnqueueScrape(ScrapePayload{
		JobID:        jobID,
		UserID:       userID,
		ForceRefresh: forceRefresh,
	}, s.cfg.MaxJobAttempts, s.cfg.JobTimeout)
	if err != nil {
		_ = s.jobs.ReleaseUser(ctx, userID, jobID)
		return nil, false, models.E(models.ErrCacheBackend, "enqueue failed", err)
	}
	if !enqueued {
		s.logger.Warn().Str("user_id", userID).Str("job_id", jobID).
			Msg("queue holds a live task for user despite free marker")
	}

	s.notifier.JobEvent(job)
	s.logger.Info().Str("job_id", jobID).Str("user_id", userID).
		Bool("force_refresh", forceRefresh).Msg("job submitted")
	return job, true, nil
}

// Get returns a job by ID, nil when unknown or expired.
func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// Recent lists recent jobs, optionally filtered by status.
func (s *Service) Recent(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.jobs.ListRecent(ctx, status, limit)
}

// QueueDepth reports pending work for the health endpoint.
func (s *Service) QueueDepth() int {
	return s.queue.PendingCount()
}

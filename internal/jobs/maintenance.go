package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

// A processing job whose heartbeat is this old belonged to a crashed worker.
const stuckThreshold = 10 * time.Minute

type enqueuer interface {
	EnqueueScrape(payload ScrapePayload, maxAttempts int, timeout time.Duration) (bool, error)
}

// Maintenance sweeps for stuck jobs once a minute: a processing job with a
// stale heartbeat is reset to pending once, with Attempts incremented, and
// re-enqueued. A job found stuck a second time fails for good. The reset
// itself goes through the CAS transition, so a live worker completing at the
// same moment wins.
type Maintenance struct {
	jobs   *store.JobStore
	queue  enqueuer
	cfg    *config.Config
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewMaintenance(jobs *store.JobStore, queue *Queue, cfg *config.Config) *Maintenance {
	return &Maintenance{
		jobs:   jobs,
		queue:  queue,
		cfg:    cfg,
		cron:   cron.New(),
		logger: log.WithComponent("maintenance"),
	}
}

func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("* * * * *", m.sweep); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.sweepOnce(ctx)
}

func (m *Maintenance) sweepOnce(ctx context.Context) {
	processing, err := m.jobs.ListRecent(ctx, models.JobProcessing, 100)
	if err != nil {
		m.logger.Warn().Err(err).Msg("stuck-job sweep list failed")
		return
	}

	now := time.Now().UTC()
	for _, job := range processing {
		last := job.StartedAt
		if job.Heartbeat != nil {
			last = job.Heartbeat
		}
		if last == nil || now.Sub(*last) < stuckThreshold {
			continue
		}

		// One reset per job. A job that gets stuck again after its reset is
		// recycling a broken worker, not recovering from a crash.
		if job.StuckResets >= 1 {
			failed, err := m.jobs.Transition(ctx, job.JobID, models.JobProcessing, models.JobFailed, func(j *models.Job) {
				done := time.Now().UTC()
				j.CompletedAt = &done
				j.Error = &models.JobError{Kind: models.ErrTimeout, Message: "worker lost twice, giving up"}
			})
			if err != nil || !failed {
				continue
			}
			if err := m.jobs.ReleaseUser(ctx, job.UserID, job.JobID); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("marker release failed")
			}
			m.logger.Error().Str("job_id", job.JobID).Str("user_id", job.UserID).
				Msg("stuck job failed after second detection")
			continue
		}

		reset, err := m.jobs.Transition(ctx, job.JobID, models.JobProcessing, models.JobPending, func(j *models.Job) {
			j.Attempts++
			j.StuckResets++
			j.Heartbeat = nil
			j.Progress = ""
		})
		if err != nil || !reset {
			continue
		}
		m.logger.Warn().Str("job_id", job.JobID).Str("user_id", job.UserID).
			Time("last_heartbeat", *last).Msg("stuck job reset to pending")

		if _, err := m.queue.EnqueueScrape(ScrapePayload{
			JobID:        job.JobID,
			UserID:       job.UserID,
			ForceRefresh: job.ForceRefresh,
		}, m.cfg.MaxJobAttempts, m.cfg.JobTimeout); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.JobID).Msg("stuck job re-enqueue failed")
		}
	}
}

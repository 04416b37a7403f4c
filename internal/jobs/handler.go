package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/metrics"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/scraper"
	"github.com/JustinTDCT/ListVault/internal/store"
)

const heartbeatEvery = 30 * time.Second

// Scraper is the part of the orchestrator the handler needs; narrowed for
// tests.
type Scraper interface {
	Scrape(ctx context.Context, userID string, progress scraper.Progress) (*models.WatchlistCacheEntry, error)
}

// ScrapeHandler processes scrape tasks: claim the job record, run the
// pipeline, settle the terminal state, and release the per-user marker.
type ScrapeHandler struct {
	jobs     *store.JobStore
	cache    *store.ResultCache
	scraper  Scraper
	cfg      *config.Config
	notifier Notifier
	logger   zerolog.Logger
}

func NewScrapeHandler(jobs *store.JobStore, cache *store.ResultCache, sc Scraper, cfg *config.Config, notifier Notifier) *ScrapeHandler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &ScrapeHandler{
		jobs:     jobs,
		cache:    cache,
		scraper:  sc,
		cfg:      cfg,
		notifier: notifier,
		logger:   log.WithComponent("processor"),
	}
}

func (h *ScrapeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ScrapePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("undecodable payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.logger.With().Str("job_id", payload.JobID).Str("user_id", payload.UserID).Logger()

	claimed, err := h.jobs.Transition(ctx, payload.JobID, models.JobPending, models.JobProcessing, func(j *models.Job) {
		now := time.Now().UTC()
		j.Attempts++
		j.StartedAt = &now
		j.Heartbeat = &now
	})
	if err != nil {
		return err
	}
	if !claimed {
		// Missing, already terminal, or claimed by a concurrent processor.
		logger.Warn().Msg("job not claimable, dropping task")
		return nil
	}
	job, err := h.jobs.Get(ctx, payload.JobID)
	if err != nil || job == nil {
		return fmt.Errorf("job record vanished after claim: %v: %w", err, asynq.SkipRetry)
	}
	h.notifier.JobEvent(job)

	stopHeartbeat := h.startHeartbeat(payload.JobID)
	defer stopHeartbeat()

	// Fresh cache short-circuit: without forceRefresh, a recent entry
	// completes the job without touching the browser.
	if !payload.ForceRefresh {
		if entry, age, err := h.cache.Get(ctx, payload.UserID); err == nil && entry != nil && age < h.cache.TTL() {
			logger.Info().Dur("age", age).Msg("cache fresh, skipping scrape")
			h.complete(ctx, payload, entry)
			return nil
		}
	}

	entry, scrapeErr := h.scraper.Scrape(ctx, payload.UserID, func(stage string) {
		h.jobs.SetProgress(ctx, payload.JobID, stage)
	})
	if scrapeErr == nil {
		h.complete(ctx, payload, entry)
		return nil
	}
	return h.fail(ctx, payload, job.Attempts, scrapeErr, logger)
}

func (h *ScrapeHandler) startHeartbeat(jobID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := h.jobs.Heartbeat(ctx, jobID, now.UTC()); err != nil {
					h.logger.Warn().Err(err).Str("job_id", jobID).Msg("heartbeat failed")
				}
				cancel()
			}
		}
	}()
	return func() { close(done) }
}

func (h *ScrapeHandler) complete(ctx context.Context, payload ScrapePayload, entry *models.WatchlistCacheEntry) {
	_, err := h.jobs.Transition(ctx, payload.JobID, models.JobProcessing, models.JobCompleted, func(j *models.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Progress = ""
		j.Result = &models.JobResult{
			UserID:    entry.UserID,
			ItemCount: len(entry.Items),
			FetchedAt: entry.FetchedAt,
		}
	})
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", payload.JobID).Msg("completion write failed")
	}
	if err := h.jobs.ReleaseUser(ctx, payload.UserID, payload.JobID); err != nil {
		h.logger.Warn().Err(err).Str("user_id", payload.UserID).Msg("marker release failed")
	}
	metrics.JobsTotal.WithLabelValues("completed").Inc()
	if job, err := h.jobs.Get(ctx, payload.JobID); err == nil && job != nil {
		h.notifier.JobEvent(job)
	}
}

// fail settles a scrape error: transient errors with attempts left go back to
// pending and return the error so the queue retries with backoff; everything
// else is terminal.
func (h *ScrapeHandler) fail(ctx context.Context, payload ScrapePayload, attempts int, scrapeErr error, logger zerolog.Logger) error {
	kind := models.KindOf(scrapeErr)
	if kind == "" {
		kind = models.ErrTimeout
	}

	if models.IsTransient(scrapeErr) && attempts < h.cfg.MaxJobAttempts {
		logger.Warn().Err(scrapeErr).Int("attempt", attempts).Msg("transient failure, requeueing")
		if _, err := h.jobs.Transition(ctx, payload.JobID, models.JobProcessing, models.JobPending, func(j *models.Job) {
			j.Heartbeat = nil
			j.Progress = ""
		}); err != nil {
			logger.Error().Err(err).Msg("requeue transition failed")
		}
		return scrapeErr
	}

	logger.Error().Err(scrapeErr).Int("attempt", attempts).Msg("job failed")
	if _, err := h.jobs.Transition(ctx, payload.JobID, models.JobProcessing, models.JobFailed, func(j *models.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Progress = ""
		j.Error = &models.JobError{Kind: kind, Message: scrapeErr.Error()}
	}); err != nil {
		logger.Error().Err(err).Msg("failure write failed")
	}
	if err := h.jobs.ReleaseUser(ctx, payload.UserID, payload.JobID); err != nil {
		logger.Warn().Err(err).Msg("marker release failed")
	}
	metrics.JobsTotal.WithLabelValues("failed").Inc()
	if job, err := h.jobs.Get(ctx, payload.JobID); err == nil && job != nil {
		h.notifier.JobEvent(job)
	}
	return fmt.Errorf("%v: %w", scrapeErr, asynq.SkipRetry)
}

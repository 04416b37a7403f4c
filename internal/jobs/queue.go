package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/metrics"
)

const TaskScrapeWatchlist = "scrape:watchlist"

// ScrapePayload is the task body for a watchlist scrape.
type ScrapePayload struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

// retryDelay backs off exponentially from 5s, capped at 5 minutes.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := 5 * time.Second * time.Duration(math.Pow(2, float64(n-1)))
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// Queue wraps the asynq client/server pair for the scrape task stream.
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	logger    zerolog.Logger
}

func NewQueue(redisOpt asynq.RedisConnOpt, concurrency int) *Queue {
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: retryDelay,
		Queues:         map[string]int{"default": 1},
		Logger:         asynqLogger{log.WithComponent("asynq")},
	})
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		logger:    log.WithComponent("queue"),
	}
}

func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// EnqueueScrape enqueues a scrape task under the deterministic ID
// "scrape:{userID}" so the queue itself rejects a second task for the same
// user. A conflict from a lingering terminal task is cleared and retried
// once; a conflict from a live task reports enqueued=false.
func (q *Queue) EnqueueScrape(payload ScrapePayload, maxAttempts int, timeout time.Duration) (enqueued bool, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	taskID := "scrape:" + payload.UserID
	task := asynq.NewTask(TaskScrapeWatchlist, data,
		asynq.TaskID(taskID),
		asynq.MaxRetry(maxAttempts-1),
		asynq.Timeout(timeout),
	)

	if _, err := q.client.Enqueue(task); err == nil {
		return true, nil
	} else if !isTaskConflict(err) {
		return false, fmt.Errorf("enqueue: %w", err)
	}

	if delErr := q.inspector.DeleteTask("default", taskID); delErr == nil {
		q.logger.Debug().Str("task_id", taskID).Msg("cleared stale terminal task")
		if _, err := q.client.Enqueue(task); err == nil {
			return true, nil
		} else if !isTaskConflict(err) {
			return false, fmt.Errorf("enqueue: %w", err)
		}
	}

	q.logger.Debug().Str("task_id", taskID).Msg("scrape already queued")
	return false, nil
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

func (q *Queue) Start() error {
	q.logger.Info().Msg("queue worker starting")
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}

// PendingCount reports queued-but-unstarted tasks, also pushed to the queue
// depth gauge.
func (q *Queue) PendingCount() int {
	info, err := q.inspector.GetQueueInfo("default")
	if err != nil {
		return 0
	}
	depth := info.Pending + info.Retry + info.Scheduled
	metrics.QueueDepth.Set(float64(depth))
	return depth
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

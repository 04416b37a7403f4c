package api

import (
	"context"
	"net/http"
	"time"

	"github.com/JustinTDCT/ListVault/internal/httputil"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/version"
)

// syncWait bounds how long /scrape-sync blocks before degrading to the async
// contract.
const (
	syncWait     = 90 * time.Second
	syncPollStep = 2 * time.Second
)

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrValidation:
		return http.StatusBadRequest
	case models.ErrAuth:
		return http.StatusUnauthorized
	case models.ErrNotFound, models.ErrUpstreamNotFound, models.ErrUpstreamPrivate:
		return http.StatusNotFound
	case models.ErrCacheBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeScrapeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	if kind == "" {
		httputil.WriteError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	httputil.WriteError(w, statusFor(kind), string(kind), err.Error())
}

// ──────────────────── Health ────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "down"
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     version.Load().Version,
		"redis":       redisStatus,
		"uptime_s":    int(time.Since(s.startedAt).Seconds()),
		"queue_depth": s.jobsSvc.QueueDepth(),
	})
}

// ──────────────────── Jobs ────────────────────

type submitRequest struct {
	UserID       string `json:"userID"`
	ForceRefresh bool   `json:"forceRefresh"`
}

type submitResponse struct {
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Created bool             `json:"created"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "ValidationError", "malformed request body")
		return
	}

	job, created, err := s.jobsSvc.Submit(r.Context(), req.UserID, req.ForceRefresh)
	if err != nil {
		writeScrapeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, submitResponse{
		JobID:   job.JobID,
		Status:  job.Status,
		Created: created,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "ValidationError", "unknown status filter")
		return
	}

	jobList, err := s.jobsSvc.Recent(r.Context(), status, 20)
	if err != nil {
		writeScrapeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobList})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobsSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeScrapeError(w, err)
		return
	}
	if job == nil {
		httputil.WriteError(w, http.StatusNotFound, "NotFound", "no such job")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// ──────────────────── Cache ────────────────────

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if !models.ValidUserID(userID) {
		httputil.WriteError(w, http.StatusBadRequest, "ValidationError", "user id must match ur<digits>")
		return
	}

	entry, _, err := s.cache.Get(r.Context(), userID)
	if err != nil {
		writeScrapeError(w, err)
		return
	}
	if entry == nil {
		httputil.WriteError(w, http.StatusNotFound, "NotFound", "no cached watchlist for user")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Success:  true,
		Data:     entry.Items,
		Metadata: entry.Metadata,
	})
}

// ──────────────────── Synchronous scrape ────────────────────

// handleScrapeSync submits a job and polls it for up to syncWait. A job that
// outlives the window degrades to the async contract: 202 plus the job ID.
func (s *Server) handleScrapeSync(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "ValidationError", "malformed request body")
		return
	}

	job, created, err := s.jobsSvc.Submit(r.Context(), req.UserID, req.ForceRefresh)
	if err != nil {
		writeScrapeError(w, err)
		return
	}

	deadline := time.NewTimer(syncWait)
	defer deadline.Stop()
	tick := time.NewTicker(syncPollStep)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			httputil.WriteJSON(w, http.StatusAccepted, submitResponse{
				JobID:   job.JobID,
				Status:  models.JobProcessing,
				Created: created,
			})
			return
		case <-tick.C:
			current, err := s.jobsSvc.Get(r.Context(), job.JobID)
			if err != nil || current == nil {
				continue
			}
			switch current.Status {
			case models.JobCompleted:
				httputil.WriteJSON(w, http.StatusOK, current)
				return
			case models.JobFailed:
				kind := models.ErrorKind("InternalError")
				msg := "scrape failed"
				if current.Error != nil {
					kind = current.Error.Kind
					msg = current.Error.Message
				}
				httputil.WriteError(w, statusFor(kind), string(kind), msg)
				return
			}
		}
	}
}

package models

import (
	"regexp"
	"strconv"
	"time"
)

// ──────────────────── Enums ────────────────────

type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition enforces the job state machine:
// pending → processing → (completed | failed), plus the stuck-job reset
// processing → pending.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobProcessing
	case JobProcessing:
		return to == JobCompleted || to == JobFailed || to == JobPending
	default:
		return false
	}
}

// ──────────────────── Identifiers ────────────────────

var (
	userIDPattern = regexp.MustCompile(`^ur\d+$`)
	itemIDPattern = regexp.MustCompile(`^tt\d+$`)
)

func ValidUserID(id string) bool { return userIDPattern.MatchString(id) }
func ValidItemID(id string) bool { return itemIDPattern.MatchString(id) }

// ValidYear accepts 4-digit years from 1878 (earliest surviving film)
// through five years into the future.
func ValidYear(year string, now time.Time) bool {
	if len(year) != 4 {
		return false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return false
	}
	return y >= 1878 && y <= now.Year()+5
}

// ──────────────────── Watchlist ────────────────────

type WatchlistItem struct {
	ItemID      string    `json:"item_id"`
	Title       string    `json:"title"`
	Year        *string   `json:"year,omitempty"`
	Kind        Kind      `json:"kind"`
	Poster      *string   `json:"poster,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	RatingCount *int      `json:"rating_count,omitempty"`
	Runtime     *int      `json:"runtime,omitempty"`
	Popularity  *float64  `json:"popularity,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// WatchlistCacheEntry is the per-user cached scrape result. Items are ordered
// newest-extracted first; Metadata carries opaque diagnostic counters from
// the extraction run (page counts, shadow anchors filtered, enrichment
// coverage).
type WatchlistCacheEntry struct {
	UserID    string          `json:"user_id"`
	Items     []WatchlistItem `json:"items"`
	FetchedAt time.Time       `json:"fetched_at"`
	Metadata  map[string]int  `json:"metadata,omitempty"`
}

// ──────────────────── Job ────────────────────

type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// JobResult references the cache entry a completed job produced.
type JobResult struct {
	UserID    string    `json:"user_id"`
	ItemCount int       `json:"item_count"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Job struct {
	JobID        string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	ForceRefresh bool       `json:"force_refresh"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Heartbeat    *time.Time `json:"heartbeat,omitempty"`
	StuckResets  int        `json:"stuck_resets,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
	Error        *JobError  `json:"error,omitempty"`
	Progress     string     `json:"progress,omitempty"`
}

// ──────────────────── Metadata cache ────────────────────

// MetadataCacheEntry is keyed by normalized (title, year). An entry with all
// optional fields absent is a cached negative result; caching misses avoids
// hammering the upstream API with lookups that will never resolve.
type MetadataCacheEntry struct {
	Poster      *string   `json:"poster,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	RatingCount *int      `json:"rating_count,omitempty"`
	Runtime     *int      `json:"runtime,omitempty"`
	Popularity  *float64  `json:"popularity,omitempty"`
	CachedAt    time.Time `json:"cached_at"`
}

// Empty reports whether the entry carries no enrichment data (negative hit).
func (e MetadataCacheEntry) Empty() bool {
	return e.Poster == nil && e.Rating == nil && e.RatingCount == nil &&
		e.Runtime == nil && e.Popularity == nil
}

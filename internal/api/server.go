package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/jobs"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/store"
)

// Server is the HTTP control surface: job submission and polling, cache
// reads, health, metrics, and the job event stream.
type Server struct {
	cfg       *config.Config
	jobsSvc   *jobs.Service
	cache     *store.ResultCache
	rdb       *redis.Client
	wsHub     *WSHub
	router    *http.ServeMux
	http      *http.Server
	startedAt time.Time
	logger    zerolog.Logger
}

func NewServer(cfg *config.Config, jobsSvc *jobs.Service, cache *store.ResultCache, rdb *redis.Client, wsHub *WSHub) *Server {
	s := &Server{
		cfg:       cfg,
		jobsSvc:   jobsSvc,
		cache:     cache,
		rdb:       rdb,
		wsHub:     wsHub,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
		logger:    log.WithComponent("api"),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.requestLog(s.authMiddleware(s.router)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())

	s.router.HandleFunc("POST /jobs", s.handleSubmitJob)
	s.router.HandleFunc("GET /jobs", s.handleListJobs)
	s.router.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.router.HandleFunc("GET /jobs/events", s.handleWebSocket)
	s.router.HandleFunc("GET /cache/{userID}", s.handleGetCache)
	s.router.HandleFunc("POST /scrape-sync", s.handleScrapeSync)
}

func (s *Server) Start() error {
	s.logger.Info().Int("port", s.cfg.Port).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("request")
	})
}

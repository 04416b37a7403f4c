package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listvault",
		Name:      "jobs_total",
		Help:      "Scrape jobs by terminal outcome.",
	}, []string{"outcome"})

	ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listvault",
		Name:      "scrape_duration_seconds",
		Help:      "End-to-end duration of a full watchlist scrape.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	ItemsExtracted = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listvault",
		Name:      "items_extracted",
		Help:      "Items extracted per completed scrape.",
		Buckets:   []float64{0, 10, 25, 50, 100, 250, 400},
	})

	ShadowAnchorsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "listvault",
		Name:      "shadow_anchors_filtered_total",
		Help:      "Empty-text shadow anchors dropped before deduplication.",
	})

	MetadataCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "listvault",
		Name:      "metadata_cache_hits_total",
		Help:      "Metadata lookups answered from cache.",
	})

	MetadataCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "listvault",
		Name:      "metadata_cache_misses_total",
		Help:      "Metadata lookups that went to the upstream API.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "listvault",
		Name:      "queue_depth",
		Help:      "Pending tasks in the scrape queue.",
	})
)

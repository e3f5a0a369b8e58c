// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/events"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

// CommentCounter reports the number of stored comments per status.
type CommentCounter interface {
	CommentCounts() (map[store.Status]int, error)
}

// Metrics holds the application's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	PostsCollected   prometheus.Counter
	CommentsDrafted  prometheus.Counter
	DraftFailures    prometheus.Counter
	CommentsRefined  prometheus.Counter
	Transitions      *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	ScanDuration     prometheus.Histogram
	LastScanFinished prometheus.Gauge
}

// New registers all metrics on a fresh registry. counts may be nil.
func New(counts CommentCounter) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		PostsCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "xgrowth_posts_collected_total",
			Help: "Posts kept by collection after dedup",
		}),
		CommentsDrafted: factory.NewCounter(prometheus.CounterOpts{
			Name: "xgrowth_comments_drafted_total",
			Help: "Comments drafted by the text generator",
		}),
		DraftFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "xgrowth_comment_draft_failures_total",
			Help: "Draft attempts that failed",
		}),
		CommentsRefined: factory.NewCounter(prometheus.CounterOpts{
			Name: "xgrowth_comments_refined_total",
			Help: "Comments rewritten from reviewer feedback",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xgrowth_comment_transitions_total",
			Help: "Comment status changes",
		}, []string{"from", "to"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "xgrowth_publish_failures_total",
			Help: "Publish attempts that failed",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "xgrowth_scan_duration_seconds",
			Help:    "Duration of scan runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		LastScanFinished: factory.NewGauge(prometheus.GaugeOpts{
			Name: "xgrowth_last_scan_finished_timestamp_seconds",
			Help: "Unix time the last scan run finished",
		}),
	}

	if counts != nil {
		for _, status := range store.Statuses {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "xgrowth_comments",
				Help:        "Stored comments by status",
				ConstLabels: prometheus.Labels{"status": string(status)},
			}, func() float64 {
				c, err := counts.CommentCounts()
				if err != nil {
					log.Debugf("Counting comments for metrics: %v", err)
				}
				return float64(c[status])
			})
		}
	}
	return m
}

// Subscribe feeds the counters from bus. Handlers run inline.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.PostCollected, func(events.Event) { m.PostsCollected.Inc() })
	bus.Subscribe(events.CommentDrafted, func(events.Event) { m.CommentsDrafted.Inc() })
	bus.Subscribe(events.CommentDraftFailed, func(events.Event) { m.DraftFailures.Inc() })
	bus.Subscribe(events.CommentRefined, func(events.Event) { m.CommentsRefined.Inc() })
	bus.Subscribe(events.CommentPublishFailed, func(events.Event) { m.PublishFailures.Inc() })
	bus.Subscribe(events.CommentTransitioned, func(e events.Event) {
		m.Transitions.WithLabelValues(e.From, e.To).Inc()
	})
}

// ObserveScan records a finished scan run.
func (m *Metrics) ObserveScan(started, finished time.Time) {
	m.ScanDuration.Observe(finished.Sub(started).Seconds())
	m.LastScanFinished.Set(float64(finished.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

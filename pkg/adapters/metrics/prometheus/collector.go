package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/newsroom/pkg/domain"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	storiesStarted   *prometheus.CounterVec
	storiesFinished  *prometheus.CounterVec
	activeStories    prometheus.Gauge
	stageTransitions *prometheus.CounterVec
	storyDuration    *prometheus.HistogramVec

	activities       *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	retries          *prometheus.CounterVec

	envelopes       *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	hostIdle        *prometheus.GaugeVec
	hostBusy        *prometheus.GaugeVec
	hostQueued      *prometheus.GaugeVec
}

// NewCollector creates a collector registered on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		storiesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_stories_started_total",
				Help: "Total number of stories started",
			},
			[]string{"desk"},
		),
		storiesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_stories_finished_total",
				Help: "Total number of stories that stopped running, by final status",
			},
			[]string{"status"},
		),
		activeStories: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsroom_active_stories",
				Help: "Number of stories currently running or waiting",
			},
		),
		stageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_stage_transitions_total",
				Help: "Total number of stage transitions",
			},
			[]string{"from", "to"},
		),
		storyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsroom_story_duration_seconds",
				Help:    "Time from pitch to final status",
				Buckets: []float64{1, 10, 60, 300, 900, 3600, 6 * 3600, 24 * 3600},
			},
			[]string{"status"},
		),
		activities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_activities_total",
				Help: "Total number of orchestrator activities executed",
			},
			[]string{"activity", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsroom_activity_duration_seconds",
				Help:    "Activity execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"activity"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_retries_total",
				Help: "Total number of retried external calls",
			},
			[]string{"op"},
		),
		envelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsroom_envelopes_total",
				Help: "Total number of envelopes handled by agent hosts",
			},
			[]string{"role", "type", "outcome"},
		),
		handlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsroom_handler_duration_seconds",
				Help:    "Agent handler duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"role", "type"},
		),
		hostIdle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newsroom_host_idle_slots",
				Help: "Number of idle handler slots",
			},
			[]string{"role"},
		),
		hostBusy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newsroom_host_busy_slots",
				Help: "Number of busy handler slots",
			},
			[]string{"role"},
		),
		hostQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newsroom_host_queued_envelopes",
				Help: "Number of envelopes waiting for a handler slot",
			},
			[]string{"role"},
		),
	}
}

// RecordStoryStarted records an accepted pitch
func (c *Collector) RecordStoryStarted(desk string) {
	c.storiesStarted.WithLabelValues(desk).Inc()
	c.activeStories.Inc()
}

// RecordStageTransition records a stage change
func (c *Collector) RecordStageTransition(from, to domain.Stage) {
	c.stageTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordStoryFinished records a story leaving the active set
func (c *Collector) RecordStoryFinished(status domain.Status, duration time.Duration) {
	c.storiesFinished.WithLabelValues(string(status)).Inc()
	c.storyDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	c.activeStories.Dec()
}

// RecordActivity records one orchestrator activity
func (c *Collector) RecordActivity(activity string, status string, duration time.Duration) {
	c.activities.WithLabelValues(activity, status).Inc()
	c.activityDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

// RecordRetry records a retried external call
func (c *Collector) RecordRetry(op string) {
	c.retries.WithLabelValues(op).Inc()
}

// RecordEnvelope records the outcome of one delivered envelope
func (c *Collector) RecordEnvelope(role string, kind domain.Kind, outcome string) {
	c.envelopes.WithLabelValues(role, string(kind), outcome).Inc()
}

// RecordHandlerDuration records handler latency
func (c *Collector) RecordHandlerDuration(role string, kind domain.Kind, duration time.Duration) {
	c.handlerDuration.WithLabelValues(role, string(kind)).Observe(duration.Seconds())
}

// RecordHostStatus records agent host slot usage
func (c *Collector) RecordHostStatus(role string, idle, busy, queued int) {
	c.hostIdle.WithLabelValues(role).Set(float64(idle))
	c.hostBusy.WithLabelValues(role).Set(float64(busy))
	c.hostQueued.WithLabelValues(role).Set(float64(queued))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event bus metrics
	BusEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_bus_events_published_total",
			Help: "Total number of events accepted onto the bus queue by event type",
		},
		[]string{"event_type"},
	)

	BusEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_bus_events_dropped_total",
			Help: "Total number of events dropped because the bus queue was full",
		},
	)

	BusHandlerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_bus_handler_errors_total",
			Help: "Total number of subscriber callbacks that panicked",
		},
	)

	BusQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamefeed_bus_queue_depth",
			Help: "Number of events waiting in the bus queue",
		},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamefeed_bus_subscribers",
			Help: "Number of live subscriptions across all event types",
		},
	)

	BusDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamefeed_bus_dispatch_duration_seconds",
			Help:    "Time taken to deliver one event to all subscribers",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	// Game state metrics
	PhaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_phase_transitions_total",
			Help: "Total number of game phase changes by source and target phase",
		},
		[]string{"from", "to"},
	)

	PhaseAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_phase_anomalies_total",
			Help: "Total number of illegal transitions and tick regressions",
		},
		[]string{"kind"},
	)

	PhaseCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamefeed_phase_current",
			Help: "Current game phase (1 for the current phase, 0 otherwise)",
		},
		[]string{"phase"},
	)

	// Integrity metrics
	IntegrityTriggered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamefeed_integrity_triggered",
			Help: "Whether the integrity latch is set (1) or clear (0)",
		},
	)

	IntegrityTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_integrity_triggers_total",
			Help: "Total number of integrity threshold triggers by issue",
		},
		[]string{"issue"},
	)

	IntegrityMissingTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_integrity_missing_ticks_total",
			Help: "Total number of ticks missing from the feed",
		},
	)

	// Recorder metrics
	GamesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_recorder_games_recorded_total",
			Help: "Total number of games finalized and written",
		},
	)

	GamesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_recorder_games_discarded_total",
			Help: "Total number of partial games discarded after an integrity trigger or stop",
		},
	)

	RecorderState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamefeed_recorder_state",
			Help: "Current recording state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	SessionGamesRecorded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamefeed_recorder_session_games",
			Help: "Number of games recorded in the current session",
		},
	)

	// Event store metrics
	StoreRowsBuffered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamefeed_store_rows_buffered",
			Help: "Number of rows waiting in the event store buffer",
		},
	)

	StoreRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_store_rows_written_total",
			Help: "Total number of rows written to partition files by doc type",
		},
		[]string{"doc_type"},
	)

	StoreEventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamefeed_store_events_skipped_total",
			Help: "Total number of bus events the store did not persist by reason",
		},
		[]string{"reason"},
	)

	StoreFlushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamefeed_store_flush_errors_total",
			Help: "Total number of partition writes that failed after retry",
		},
	)

	StoreFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamefeed_store_flush_duration_seconds",
			Help:    "Time taken to write buffered rows to partition files",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(BusEventsPublished)
	prometheus.MustRegister(BusEventsDropped)
	prometheus.MustRegister(BusHandlerErrors)
	prometheus.MustRegister(BusQueueDepth)
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(BusDispatchDuration)
	prometheus.MustRegister(PhaseTransitions)
	prometheus.MustRegister(PhaseAnomalies)
	prometheus.MustRegister(PhaseCurrent)
	prometheus.MustRegister(IntegrityTriggered)
	prometheus.MustRegister(IntegrityTriggers)
	prometheus.MustRegister(IntegrityMissingTicks)
	prometheus.MustRegister(GamesRecorded)
	prometheus.MustRegister(GamesDiscarded)
	prometheus.MustRegister(RecorderState)
	prometheus.MustRegister(SessionGamesRecorded)
	prometheus.MustRegister(StoreRowsBuffered)
	prometheus.MustRegister(StoreRowsWritten)
	prometheus.MustRegister(StoreEventsSkipped)
	prometheus.MustRegister(StoreFlushErrors)
	prometheus.MustRegister(StoreFlushDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

/*
Package metrics provides Prometheus metrics and the component health
registry for the gamefeed pipeline.

All metrics are package-level collectors registered with the default
Prometheus registry at init and exposed through Handler.

# Metrics

Event bus:

	gamefeed_bus_events_published_total{event_type}
	gamefeed_bus_events_dropped_total
	gamefeed_bus_handler_errors_total
	gamefeed_bus_queue_depth
	gamefeed_bus_subscribers
	gamefeed_bus_dispatch_duration_seconds

Game phase and integrity:

	gamefeed_phase_transitions_total{from,to}
	gamefeed_phase_anomalies_total{kind}
	gamefeed_phase_current{phase}
	gamefeed_integrity_triggers_total{issue}
	gamefeed_integrity_missing_ticks_total
	gamefeed_integrity_triggered

Recorder and event store:

	gamefeed_recorder_games_recorded_total
	gamefeed_recorder_games_discarded_total
	gamefeed_recorder_state{state}
	gamefeed_recorder_session_games
	gamefeed_store_rows_buffered
	gamefeed_store_rows_written_total{doc_type}
	gamefeed_store_events_skipped_total{reason}
	gamefeed_store_flush_errors_total
	gamefeed_store_flush_duration_seconds

Counters are updated inline by the components. Gauges that mirror component
state (queue depth, subscribers, current phase) are sampled by a Collector,
which the run command drives alongside the rest of the pipeline:

	c := metrics.NewCollector(15 * time.Second)
	c.Track(metrics.BusQueueDepth, func() float64 { return float64(bus.QueueDepth()) })
	g.Go(func() error { return c.Run(ctx) })

# Health registry

Components report their health with UpdateComponent and withdraw with
RemoveComponent. GetHealth is unhealthy if any registered component is;
GetReadiness additionally requires every entry in CriticalComponents to be
registered and healthy. HealthHandler and ReadyHandler serve both as JSON.

Timer measures an operation and records it in a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreFlushDuration)
*/
package metrics

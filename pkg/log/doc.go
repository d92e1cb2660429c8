/*
Package log provides structured logging for gamefeed using zerolog.

A single package-level zerolog.Logger is configured once by Init and shared by
every component. Components derive child loggers that carry a "component"
field, and the recorder additionally tags lines with session and game ids.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("eventbus")
	logger.Warn().Int("queue_size", n).Msg("event queue above high-water mark")

Until Init runs the logger is a no-op, so packages can be used from tests
without configuring output.

# Levels

	debug  per-event tracing (phase changes, flush details)
	info   lifecycle (start, stop, session boundaries, files written)
	warn   recoverable anomalies (illegal transitions, queue pressure)
	error  failed writes, handler panics, shutdown timeouts
*/
package log

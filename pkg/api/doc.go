/*
Package api serves the pipeline's HTTP endpoints.

# Endpoints

	GET /health    liveness: 200 unless a registered component is unhealthy
	GET /ready     readiness: 200 once the event bus and event store are up
	GET /status    JSON snapshot of bus, store, recorder and game phase
	GET /metrics   Prometheus metrics

/health and /ready report the component registry in the metrics package.
Components register themselves as they start, so /ready answers 503 until
the bus and store are running:

	$ curl -s localhost:9010/ready
	{"status":"not_ready","components":{"eventbus":"ready","eventstore":"not registered"},...}

The /health path is the one a service manifest declares, so a deployment
probe (see the manifest package) reaches it directly.

# Status

/status includes only the sources passed to NewHealthServer. Each is read
through its own Stats or Status method, which return copies, so the handler
never holds a component lock while encoding.

# Lifecycle

Serve blocks until its context is cancelled and then shuts the server down,
waiting up to five seconds for in-flight requests:

	hs := api.NewHealthServer(api.Sources{Bus: bus, Store: store})
	g.Go(func() error { return hs.Serve(ctx, ":9010") })
*/
package api

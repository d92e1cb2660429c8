/*
Package health probes the endpoints that gamefeed services expose.

Two checkers implement the Checker interface:

	┌──────────────────────────────────────────┐
	│            Checker interface             │
	│  • Check(ctx) Result                     │
	│  • Type() CheckType                      │
	│  • Target() string                       │
	└────────┬─────────────────────┬───────────┘
	         ▼                     ▼
	   ┌───────────┐         ┌───────────┐
	   │   HTTP    │         │    TCP    │
	   │  Checker  │         │  Checker  │
	   └─────┬─────┘         └─────┬─────┘
	         ▼                     ▼
	  GET http://host:port    dial the host:port
	  <manifest health>       of a ws:// upstream

HTTPChecker accepts any 2xx response. When the body is JSON with a "status"
field, the status must also be "healthy", "ready" or "ok", so a service that
answers 200 while reporting itself degraded is still unhealthy.

TCPChecker only proves that the upstream accepts connections. The WebSocket
handshake itself is out of reach of a health probe.

# Retries

Run repeats a check until it succeeds or fails Config.Retries times in a row,
sleeping Config.Interval between attempts. Each attempt is bounded by
Config.Timeout. The returned Status carries the attempt count and the last
Result:

	status := health.Run(ctx, health.NewHTTPChecker(url), health.DefaultConfig())
	if !status.Healthy {
		fmt.Println(status.LastResult.Message)
	}

The manifest package uses Run to probe every service in a deployment.
*/
package health

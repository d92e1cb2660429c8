package manifest

import (
	"context"

	"github.com/cuemby/gamefeed/pkg/health"
	"github.com/cuemby/gamefeed/pkg/log"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentProbes bounds the number of services probed at once
const maxConcurrentProbes = 8

// ProbeResult is the outcome of probing one service
type ProbeResult struct {
	Service  string         `json:"service"`
	Health   health.Status  `json:"health"`
	Upstream *health.Status `json:"upstream,omitempty"`
}

// Healthy reports whether the service and its upstream, if any, answered
func (r ProbeResult) Healthy() bool {
	return r.Health.Healthy && (r.Upstream == nil || r.Upstream.Healthy)
}

// Probe checks every service's health endpoint at http://host:port<health>
// and dials its upstream, if declared. Results are returned in manifest order.
func Probe(ctx context.Context, manifests []Manifest, host string, cfg health.Config) []ProbeResult {
	logger := log.WithComponent("manifest")
	results := make([]ProbeResult, len(manifests))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for i, m := range manifests {
		g.Go(func() error {
			checker := health.NewHTTPChecker(health.ServiceURL(host, m.Port, m.Health))
			if cfg.Timeout > 0 {
				checker.WithTimeout(cfg.Timeout)
			}
			result := ProbeResult{
				Service: serviceName(m),
				Health:  health.Run(ctx, checker, cfg),
			}

			if m.Upstream != "" {
				if tcp, err := health.NewTCPCheckerForURL(m.Upstream); err != nil {
					result.Upstream = &health.Status{
						Target:     m.Upstream,
						Type:       health.CheckTypeTCP,
						LastResult: health.Result{Message: err.Error()},
					}
				} else {
					if cfg.Timeout > 0 {
						tcp.WithTimeout(cfg.Timeout)
					}
					status := health.Run(ctx, tcp, cfg)
					result.Upstream = &status
				}
			}

			logger.Debug().
				Str("service", result.Service).
				Bool("healthy", result.Healthy()).
				Str("message", result.Health.LastResult.Message).
				Msg("service probed")

			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	return results
}

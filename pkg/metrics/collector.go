package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCollectInterval is how often a Collector samples its sources
const DefaultCollectInterval = 15 * time.Second

// Sampler reports the current value of a gauge
type Sampler func() float64

type sampledGauge struct {
	gauge  prometheus.Gauge
	sample Sampler
}

type sampledState struct {
	vec    *prometheus.GaugeVec
	states []string
	sample func() string
}

// Collector periodically copies component state into gauges. Components
// register samplers instead of being imported here, since they all report
// into this package.
type Collector struct {
	mu       sync.Mutex
	interval time.Duration
	gauges   []sampledGauge
	states   []sampledState
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{interval: interval}
}

// Track samples fn into g on every collection
func (c *Collector) Track(g prometheus.Gauge, fn Sampler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges = append(c.gauges, sampledGauge{gauge: g, sample: fn})
}

// TrackState sets the label returned by fn to 1 and every other label in
// states to 0
func (c *Collector) TrackState(vec *prometheus.GaugeVec, states []string, fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, sampledState{vec: vec, states: states, sample: fn})
}

// Collect samples every tracked source once
func (c *Collector) Collect() {
	c.mu.Lock()
	gauges := append([]sampledGauge(nil), c.gauges...)
	states := append([]sampledState(nil), c.states...)
	c.mu.Unlock()

	for _, g := range gauges {
		g.gauge.Set(g.sample())
	}
	for _, s := range states {
		current := s.sample()
		for _, state := range s.states {
			value := 0.0
			if state == current {
				value = 1
			}
			s.vec.WithLabelValues(state).Set(value)
		}
	}
}

// Run collects immediately and then on every interval until ctx is done
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-ctx.Done():
			return nil
		}
	}
}

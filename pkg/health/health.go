package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a single check
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType

	// Target describes what is being checked
	Target() string
}

// Config controls how a target is probed
type Config struct {
	// Interval is the wait between attempts
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`

	// Timeout bounds a single attempt
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Retries is the number of consecutive failures before a target is unhealthy
	Retries int `yaml:"retries" env:"RETRIES"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Timeout:  2 * time.Second,
		Retries:  3,
	}
}

// Status tracks consecutive results for one target
type Status struct {
	Target               string    `json:"target"`
	Type                 CheckType `json:"type"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	Attempts             int       `json:"attempts"`
	LastCheck            time.Time `json:"last_check"`
	LastResult           Result    `json:"last_result"`
	Healthy              bool      `json:"healthy"`
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus(c Checker) *Status {
	return &Status{
		Target:  c.Target(),
		Type:    c.Type(),
		Healthy: true,
	}
}

// Update folds a new result into the status
func (s *Status) Update(result Result, config Config) {
	s.Attempts++
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// Run checks c until it succeeds or fails config.Retries times in a row,
// waiting config.Interval between attempts. A cancelled context marks the
// target unhealthy.
func Run(ctx context.Context, c Checker, config Config) Status {
	if config.Retries < 1 {
		config.Retries = 1
	}
	status := NewStatus(c)

	for {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if config.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		}
		result := c.Check(attemptCtx)
		if cancel != nil {
			cancel()
		}

		status.Update(result, config)
		if result.Healthy || !status.Healthy {
			return *status
		}

		select {
		case <-ctx.Done():
			status.Healthy = false
			return *status
		case <-time.After(config.Interval):
		}
	}
}

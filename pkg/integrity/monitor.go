package integrity

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/rs/zerolog"
)

// Issue identifies the kind of integrity fault
type Issue string

const (
	IssueTickGap         Issue = "TICK_GAP"
	IssueConnectionLost  Issue = "CONNECTION_LOST"
	IssueAbnormalGameEnd Issue = "ABNORMAL_GAME_END"
)

// ThresholdType selects what the monitor counts towards its threshold
type ThresholdType string

const (
	// ThresholdTicks triggers on consecutive missing ticks
	ThresholdTicks ThresholdType = "TICKS"
	// ThresholdGames triggers on consecutive games that did not end cleanly
	ThresholdGames ThresholdType = "GAMES"
)

// Config holds the single threshold a monitor enforces
type Config struct {
	Type  ThresholdType `yaml:"type" env:"TYPE"`
	Value int           `yaml:"value" env:"VALUE"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{Type: ThresholdTicks, Value: 5}
}

// Validate checks the threshold configuration
func (c Config) Validate() error {
	switch c.Type {
	case ThresholdTicks, ThresholdGames:
	default:
		return fmt.Errorf("unknown threshold type %q (want %s or %s)", c.Type, ThresholdTicks, ThresholdGames)
	}
	if c.Value < 1 {
		return fmt.Errorf("threshold value must be at least 1, got %d", c.Value)
	}
	return nil
}

// Details describes the state that caused a trigger
type Details struct {
	GapSize             int    `json:"gap_size,omitempty"`
	ConsecutiveTickGaps int    `json:"consecutive_tick_gaps"`
	ConsecutiveBadGames int    `json:"consecutive_bad_games"`
	GameID              string `json:"game_id,omitempty"`
	Tick                int    `json:"tick,omitempty"`
	Threshold           int    `json:"threshold"`
}

// Callbacks are invoked outside the monitor's lock
type Callbacks struct {
	// OnThresholdExceeded fires once per triggered episode
	OnThresholdExceeded func(Issue, Details)
	// OnRecovery fires when a clean game is observed
	OnRecovery func()
}

// Status is a snapshot of the monitor for diagnostics
type Status struct {
	ThresholdType       ThresholdType `json:"threshold_type"`
	ThresholdValue      int           `json:"threshold_value"`
	ConsecutiveTickGaps int           `json:"consecutive_tick_gaps"`
	ConsecutiveBadGames int           `json:"consecutive_bad_games"`
	Triggered           bool          `json:"is_triggered"`
	TriggerIssue        Issue         `json:"trigger_issue,omitempty"`
	TriggeredAt         time.Time     `json:"triggered_at,omitempty"`
	LastTick            *int          `json:"last_tick"`
	CurrentGameID       string        `json:"current_game_id,omitempty"`
	TriggerCount        int           `json:"trigger_count"`
}

// Monitor tracks tick gaps, connection faults and bad games against a
// threshold. Once triggered it stays latched until a clean game is observed
// or Reset is called.
type Monitor struct {
	mu        sync.Mutex
	cfg       Config
	callbacks Callbacks
	logger    zerolog.Logger

	consecutiveTickGaps int
	consecutiveBadGames int
	triggered           bool
	triggerIssue        Issue
	triggeredAt         time.Time
	triggerCount        int
	lastTick            int
	tickTracked         bool
	currentGameID       string
}

// New creates a monitor for cfg
func New(cfg Config, callbacks Callbacks) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid integrity config: %w", err)
	}
	return &Monitor{
		cfg:       cfg,
		callbacks: callbacks,
		logger:    log.WithComponent("integrity"),
	}, nil
}

type trigger struct {
	issue   Issue
	details Details
}

// OnTick records an observed tick
func (m *Monitor) OnTick(tick int) {
	m.mu.Lock()

	gap := 0
	if m.tickTracked {
		switch {
		case tick > m.lastTick+1:
			gap = tick - m.lastTick - 1
			m.consecutiveTickGaps += gap
			metrics.IntegrityMissingTicks.Add(float64(gap))
			m.logger.Debug().
				Int("last_tick", m.lastTick).
				Int("tick", tick).
				Int("gap", gap).
				Msg("tick gap")
		case tick == m.lastTick+1:
			m.consecutiveTickGaps = 0
		}
	}
	m.lastTick = tick
	m.tickTracked = true

	var fire *trigger
	if m.cfg.Type == ThresholdTicks && m.consecutiveTickGaps >= m.cfg.Value && !m.triggered {
		details := m.detailsLocked()
		details.GapSize = gap
		details.Tick = tick
		fire = m.latchLocked(IssueTickGap, details)
	}
	m.mu.Unlock()

	m.fire(fire)
}

// OnGameStart stops tracking the previous game's ticks so the new game's
// tick 0 is not counted as a gap.
func (m *Monitor) OnGameStart(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentGameID = gameID
	m.tickTracked = false
	m.lastTick = 0
}

// OnGameEnd records whether the finished game was clean
func (m *Monitor) OnGameEnd(gameID string, clean bool) {
	m.mu.Lock()

	var fire *trigger
	if clean {
		m.consecutiveBadGames = 0
	} else {
		m.consecutiveBadGames++
		m.logger.Debug().
			Str("game_id", gameID).
			Int("consecutive_bad_games", m.consecutiveBadGames).
			Msg("game ended abnormally")
		if m.cfg.Type == ThresholdGames && m.consecutiveBadGames >= m.cfg.Value && !m.triggered {
			details := m.detailsLocked()
			details.GameID = gameID
			fire = m.latchLocked(IssueAbnormalGameEnd, details)
		}
	}
	m.mu.Unlock()

	m.fire(fire)
}

// OnConnectionLost triggers immediately whatever the threshold type
func (m *Monitor) OnConnectionLost() {
	m.mu.Lock()

	var fire *trigger
	if !m.triggered {
		fire = m.latchLocked(IssueConnectionLost, m.detailsLocked())
	}
	m.tickTracked = false
	m.mu.Unlock()

	m.fire(fire)
}

// OnConnectionRestored resumes tick tracking from the next tick. The latch
// is left alone; only a clean game clears it.
func (m *Monitor) OnConnectionRestored() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickTracked = false
	m.logger.Info().Bool("triggered", m.triggered).Msg("connection restored")
}

// OnCleanGameObserved clears the latch and counters and fires OnRecovery
func (m *Monitor) OnCleanGameObserved() {
	m.mu.Lock()
	wasTriggered := m.triggered
	m.clearLocked()
	m.mu.Unlock()

	if wasTriggered {
		m.logger.Info().Msg("clean game observed, integrity recovered")
	}
	if m.callbacks.OnRecovery != nil {
		m.callbacks.OnRecovery()
	}
}

// Reset clears the latch, counters and tick tracking
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()
	m.tickTracked = false
	m.lastTick = 0
	m.currentGameID = ""
}

// IsTriggered reports whether the latch is set
func (m *Monitor) IsTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// Status returns a snapshot of the monitor
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastTick *int
	if m.tickTracked {
		t := m.lastTick
		lastTick = &t
	}
	return Status{
		ThresholdType:       m.cfg.Type,
		ThresholdValue:      m.cfg.Value,
		ConsecutiveTickGaps: m.consecutiveTickGaps,
		ConsecutiveBadGames: m.consecutiveBadGames,
		Triggered:           m.triggered,
		TriggerIssue:        m.triggerIssue,
		TriggeredAt:         m.triggeredAt,
		LastTick:            lastTick,
		CurrentGameID:       m.currentGameID,
		TriggerCount:        m.triggerCount,
	}
}

func (m *Monitor) detailsLocked() Details {
	return Details{
		ConsecutiveTickGaps: m.consecutiveTickGaps,
		ConsecutiveBadGames: m.consecutiveBadGames,
		GameID:              m.currentGameID,
		Threshold:           m.cfg.Value,
	}
}

func (m *Monitor) latchLocked(issue Issue, details Details) *trigger {
	m.triggered = true
	m.triggerIssue = issue
	m.triggeredAt = time.Now()
	m.triggerCount++
	metrics.IntegrityTriggers.WithLabelValues(string(issue)).Inc()
	metrics.UpdateComponent(metrics.ComponentIntegrity, false, string(issue))
	m.logger.Warn().
		Str("issue", string(issue)).
		Int("gap_size", details.GapSize).
		Int("consecutive_tick_gaps", details.ConsecutiveTickGaps).
		Int("consecutive_bad_games", details.ConsecutiveBadGames).
		Msg("integrity threshold exceeded")
	return &trigger{issue: issue, details: details}
}

func (m *Monitor) clearLocked() {
	if m.triggered {
		metrics.UpdateComponent(metrics.ComponentIntegrity, true, "")
	}
	m.triggered = false
	m.triggerIssue = ""
	m.triggeredAt = time.Time{}
	m.consecutiveTickGaps = 0
	m.consecutiveBadGames = 0
}

func (m *Monitor) fire(t *trigger) {
	if t == nil || m.callbacks.OnThresholdExceeded == nil {
		return
	}
	m.callbacks.OnThresholdExceeded(t.issue, t.details)
}

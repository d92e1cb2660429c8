package gamestate

import (
	"sync"
	"time"

	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/rs/zerolog"
)

// Phase is the classified stage of a game round
type Phase string

const (
	PhaseUnknown        Phase = "UNKNOWN"
	PhasePresale        Phase = "PRESALE"
	PhaseGameActivation Phase = "GAME_ACTIVATION"
	PhaseActiveGameplay Phase = "ACTIVE_GAMEPLAY"
	PhaseRugEvent1      Phase = "RUG_EVENT_1"
	PhaseRugEvent2      Phase = "RUG_EVENT_2"
	PhaseCooldown       Phase = "COOLDOWN"
)

// Phases lists every phase, UNKNOWN first
var Phases = []Phase{
	PhaseUnknown,
	PhasePresale,
	PhaseGameActivation,
	PhaseActiveGameplay,
	PhaseRugEvent1,
	PhaseRugEvent2,
	PhaseCooldown,
}

const (
	// presaleWindowMs is the last stretch of the cooldown timer during which
	// pre-round buys are accepted.
	presaleWindowMs = 10000

	// HistorySize is the number of phase changes kept by a Machine
	HistorySize = 20
)

// Anomaly kinds reported to metrics
const (
	AnomalyIllegalTransition = "illegal_transition"
	AnomalyTickRegression    = "tick_regression"
)

var allowedTransitions = map[Phase]map[Phase]bool{
	PhaseGameActivation: {PhaseActiveGameplay: true, PhaseRugEvent1: true},
	PhaseActiveGameplay: {PhaseActiveGameplay: true, PhaseRugEvent1: true},
	PhaseRugEvent1:      {PhaseRugEvent2: true},
	PhaseRugEvent2:      {PhaseCooldown: true},
	PhaseCooldown:       {PhasePresale: true},
	PhasePresale:        {PhasePresale: true, PhaseGameActivation: true, PhaseActiveGameplay: true},
	PhaseUnknown:        {PhaseGameActivation: true, PhaseActiveGameplay: true, PhasePresale: true, PhaseCooldown: true},
}

// IsLegal reports whether moving from one phase to another is an expected
// transition. Staying in the same phase and dropping to UNKNOWN are always legal.
func IsLegal(from, to Phase) bool {
	if from == to || to == PhaseUnknown {
		return true
	}
	return allowedTransitions[from][to]
}

// Detect classifies a signal given the phase the machine is currently in.
// The current phase only matters for the sticky rule: an ambiguous frame
// during an active game keeps the active phase.
func Detect(current Phase, s types.GameSignal) Phase {
	if s.HasGameHistory() {
		if s.Active && s.Rugged {
			return PhaseRugEvent1
		}
		if !s.Active && s.Rugged {
			return PhaseRugEvent2
		}
	}

	if s.CooldownTimerMs > 0 && s.CooldownTimerMs <= presaleWindowMs && s.AllowPreRoundBuys {
		return PhasePresale
	}

	if s.CooldownTimerMs > presaleWindowMs && s.Rugged && !s.Active {
		return PhaseCooldown
	}

	if s.Active && !s.Rugged {
		if s.TickCount > 0 {
			return PhaseActiveGameplay
		}
		if s.TickCount == 0 {
			return PhaseGameActivation
		}
	}

	if (current == PhaseActiveGameplay || current == PhaseGameActivation) && s.Active {
		return current
	}

	return PhaseUnknown
}

// Result is the outcome of processing one signal
type Result struct {
	Phase         Phase
	Valid         bool
	PreviousPhase Phase
}

// Transition records one phase change
type Transition struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	GameID    string    `json:"game_id"`
	Tick      int       `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is a snapshot of a Machine
type Status struct {
	Phase         Phase        `json:"phase"`
	CurrentGameID string       `json:"current_game_id"`
	LastTickCount int          `json:"last_tick_count"`
	AnomalyCount  int          `json:"anomaly_count"`
	History       []Transition `json:"history"`
}

// Machine tracks the game phase across signals
type Machine struct {
	mu            sync.Mutex
	phase         Phase
	currentGameID string
	lastTickCount int
	tickTracked   bool
	anomalyCount  int
	history       []Transition
	now           func() time.Time
	logger        zerolog.Logger
}

// NewMachine creates a machine in the UNKNOWN phase
func NewMachine() *Machine {
	return &Machine{
		phase:  PhaseUnknown,
		now:    time.Now,
		logger: log.WithComponent("gamestate"),
	}
}

// Process classifies a signal, validates the transition and updates the
// machine. Invalid input is flagged but never stops processing.
func (m *Machine) Process(s types.GameSignal) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.phase
	next := Detect(prev, s)

	sameGame := s.GameID == "" || s.GameID == m.currentGameID
	if prev == PhaseActiveGameplay && next == PhaseActiveGameplay &&
		sameGame && m.tickTracked && s.TickCount <= m.lastTickCount {
		m.anomalyCount++
		metrics.PhaseAnomalies.WithLabelValues(AnomalyTickRegression).Inc()
		m.logger.Warn().
			Str("game_id", m.currentGameID).
			Int("tick", s.TickCount).
			Int("last_tick", m.lastTickCount).
			Msg("tick did not advance")
		return Result{Phase: prev, Valid: false, PreviousPhase: prev}
	}

	valid := true
	if !IsLegal(prev, next) {
		valid = false
		m.anomalyCount++
		metrics.PhaseAnomalies.WithLabelValues(AnomalyIllegalTransition).Inc()
		m.logger.Warn().
			Str("from", string(prev)).
			Str("to", string(next)).
			Str("game_id", s.GameID).
			Int("tick", s.TickCount).
			Msg("illegal phase transition")
	}

	if next != prev {
		m.record(Transition{
			From:      prev,
			To:        next,
			GameID:    s.GameID,
			Tick:      s.TickCount,
			Timestamp: m.now(),
		})
		metrics.PhaseTransitions.WithLabelValues(string(prev), string(next)).Inc()
		m.logger.Debug().
			Str("from", string(prev)).
			Str("to", string(next)).
			Str("game_id", s.GameID).
			Msg("phase changed")
	}

	m.phase = next
	if s.GameID != "" && s.GameID != m.currentGameID {
		m.currentGameID = s.GameID
	}
	m.lastTickCount = s.TickCount
	m.tickTracked = true

	return Result{Phase: next, Valid: valid, PreviousPhase: prev}
}

func (m *Machine) record(t Transition) {
	m.history = append(m.history, t)
	if len(m.history) > HistorySize {
		m.history = append(m.history[:0:0], m.history[len(m.history)-HistorySize:]...)
	}
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// AnomalyCount returns the number of illegal transitions and tick regressions seen
func (m *Machine) AnomalyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anomalyCount
}

// History returns the recorded phase changes, oldest first
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Status returns a copy of the machine state
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Phase:         m.phase,
		CurrentGameID: m.currentGameID,
		LastTickCount: m.lastTickCount,
		AnomalyCount:  m.anomalyCount,
		History:       append([]Transition(nil), m.history...),
	}
}

// RecoverFromDisconnect drops the phase to UNKNOWN but keeps the game id and
// last tick so the first frame after reconnecting can be compared for gaps.
func (m *Machine) RecoverFromDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseUnknown {
		m.record(Transition{
			From:      m.phase,
			To:        PhaseUnknown,
			GameID:    m.currentGameID,
			Tick:      m.lastTickCount,
			Timestamp: m.now(),
		})
	}
	m.phase = PhaseUnknown
	m.logger.Info().
		Str("game_id", m.currentGameID).
		Int("last_tick", m.lastTickCount).
		Msg("phase reset after disconnect")
}

// Reset clears all state
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = PhaseUnknown
	m.currentGameID = ""
	m.lastTickCount = 0
	m.tickTracked = false
	m.anomalyCount = 0
	m.history = nil
}

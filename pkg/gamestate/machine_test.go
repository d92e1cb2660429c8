package gamestate

import (
	"fmt"
	"testing"

	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presale(gameID string, timerMs int) types.GameSignal {
	return types.GameSignal{GameID: gameID, CooldownTimerMs: timerMs, AllowPreRoundBuys: true}
}

func active(gameID string, tick int) types.GameSignal {
	return types.GameSignal{GameID: gameID, Active: true, TickCount: tick}
}

func rug1(gameID string, tick int) types.GameSignal {
	return types.GameSignal{GameID: gameID, Active: true, Rugged: true, TickCount: tick, GameHistory: []types.HistoryEntry{{GameID: gameID}}}
}

func rug2(gameID string) types.GameSignal {
	return types.GameSignal{GameID: gameID, Rugged: true, GameHistory: []types.HistoryEntry{{GameID: gameID}}}
}

func cooldown(gameID string, timerMs int) types.GameSignal {
	return types.GameSignal{GameID: gameID, Rugged: true, CooldownTimerMs: timerMs}
}

// fullRound returns one game round from activation to the next presale
func fullRound(gameID, nextID string) []types.GameSignal {
	return []types.GameSignal{
		active(gameID, 0),
		active(gameID, 1),
		active(gameID, 2),
		active(gameID, 3),
		rug1(gameID, 4),
		rug2(gameID),
		cooldown(nextID, 14000),
		cooldown(nextID, 12000),
		presale(nextID, 9000),
		presale(nextID, 100),
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		current Phase
		signal  types.GameSignal
		want    Phase
	}{
		{"rug with history while active", PhaseActiveGameplay, rug1("g", 10), PhaseRugEvent1},
		{"rug with history after deactivation", PhaseRugEvent1, rug2("g"), PhaseRugEvent2},
		{"history without rug falls through", PhaseUnknown, types.GameSignal{Active: true, TickCount: 3, GameHistory: []types.HistoryEntry{}}, PhaseActiveGameplay},
		{"presale window", PhaseCooldown, presale("g", 10000), PhasePresale},
		{"presale requires pre-round buys", PhaseCooldown, types.GameSignal{CooldownTimerMs: 5000}, PhaseUnknown},
		{"zero timer is not presale", PhaseUnknown, presale("g", 0), PhaseUnknown},
		{"cooldown", PhaseRugEvent2, cooldown("g", 10001), PhaseCooldown},
		{"cooldown needs rugged", PhaseUnknown, types.GameSignal{CooldownTimerMs: 14000}, PhaseUnknown},
		{"active gameplay", PhasePresale, active("g", 1), PhaseActiveGameplay},
		{"game activation", PhasePresale, active("g", 0), PhaseGameActivation},
		{"sticky active on ambiguous frame", PhaseActiveGameplay, types.GameSignal{Active: true, Rugged: true, TickCount: 5}, PhaseActiveGameplay},
		{"sticky activation", PhaseGameActivation, types.GameSignal{Active: true, Rugged: true}, PhaseGameActivation},
		{"not sticky once inactive", PhaseActiveGameplay, types.GameSignal{Rugged: true}, PhaseUnknown},
		{"not sticky from presale", PhasePresale, types.GameSignal{Active: true, Rugged: true}, PhaseUnknown},
		{"empty signal", PhaseUnknown, types.GameSignal{}, PhaseUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.current, tt.signal))
		})
	}
}

func TestIsLegal(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseGameActivation, PhaseActiveGameplay, true},
		{PhaseGameActivation, PhaseRugEvent1, true},
		{PhaseActiveGameplay, PhaseRugEvent1, true},
		{PhaseRugEvent1, PhaseRugEvent2, true},
		{PhaseRugEvent2, PhaseCooldown, true},
		{PhaseCooldown, PhasePresale, true},
		{PhasePresale, PhaseGameActivation, true},
		{PhasePresale, PhaseActiveGameplay, true},
		{PhaseUnknown, PhaseCooldown, true},
		{PhaseRugEvent2, PhaseUnknown, true},
		{PhaseCooldown, PhaseCooldown, true},
		{PhaseActiveGameplay, PhasePresale, false},
		{PhaseRugEvent1, PhaseCooldown, false},
		{PhaseCooldown, PhaseActiveGameplay, false},
		{PhaseUnknown, PhaseRugEvent1, false},
		{PhasePresale, PhaseRugEvent2, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, IsLegal(tt.from, tt.to))
		})
	}
}

func TestFullRoundIsValid(t *testing.T) {
	m := NewMachine()

	var phases []Phase
	for _, s := range append([]types.GameSignal{presale("g1", 5000)}, fullRound("g1", "g2")...) {
		res := m.Process(s)
		assert.True(t, res.Valid, "signal %+v", s)
		phases = append(phases, res.Phase)
	}

	assert.Equal(t, []Phase{
		PhasePresale,
		PhaseGameActivation,
		PhaseActiveGameplay,
		PhaseActiveGameplay,
		PhaseActiveGameplay,
		PhaseRugEvent1,
		PhaseRugEvent2,
		PhaseCooldown,
		PhaseCooldown,
		PhasePresale,
		PhasePresale,
	}, phases)
	assert.Equal(t, 0, m.AnomalyCount())

	history := m.History()
	require.Len(t, history, 7)
	assert.Equal(t, PhaseUnknown, history[0].From)
	assert.Equal(t, PhasePresale, history[0].To)
	assert.Equal(t, PhaseRugEvent1, history[3].To)
	assert.Equal(t, 4, history[3].Tick)
}

func TestIllegalTransitionIsCountedAndApplied(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 5))

	res := m.Process(cooldown("g2", 14000))
	assert.False(t, res.Valid)
	assert.Equal(t, PhaseCooldown, res.Phase)
	assert.Equal(t, PhaseActiveGameplay, res.PreviousPhase)
	assert.Equal(t, 1, m.AnomalyCount())

	// processing continues normally afterwards
	res = m.Process(presale("g2", 8000))
	assert.True(t, res.Valid)
	assert.Equal(t, PhasePresale, res.Phase)
}

func TestDropToUnknownIsNotAnomaly(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 5))

	res := m.Process(types.GameSignal{GameID: "g1"})
	assert.True(t, res.Valid)
	assert.Equal(t, PhaseUnknown, res.Phase)
	assert.Equal(t, 0, m.AnomalyCount())
}

func TestTickRegression(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 10))

	res := m.Process(active("g1", 10))
	assert.False(t, res.Valid)
	assert.Equal(t, PhaseActiveGameplay, res.Phase)

	res = m.Process(active("g1", 7))
	assert.False(t, res.Valid)
	assert.Equal(t, 2, m.AnomalyCount())

	// high-water mark is kept: 11 is still an advance over 10
	res = m.Process(active("g1", 11))
	assert.True(t, res.Valid)
	assert.Equal(t, 11, m.Status().LastTickCount)

	// a new game id is not a regression
	res = m.Process(active("g2", 1))
	assert.True(t, res.Valid)
	assert.Equal(t, "g2", m.Status().CurrentGameID)
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewMachine()
	for i := 0; i < 15; i++ {
		for _, s := range fullRound(fmt.Sprintf("g%d", i), fmt.Sprintf("g%d", i+1)) {
			m.Process(s)
		}
	}

	history := m.History()
	require.Len(t, history, HistorySize)
	last := history[len(history)-1]
	assert.Equal(t, PhasePresale, last.To)
	assert.Equal(t, "g15", last.GameID)
}

func TestRecoverFromDisconnectKeepsGameContext(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 0))
	m.Process(active("g1", 42))

	m.RecoverFromDisconnect()

	status := m.Status()
	assert.Equal(t, PhaseUnknown, status.Phase)
	assert.Equal(t, "g1", status.CurrentGameID)
	assert.Equal(t, 42, status.LastTickCount)

	res := m.Process(active("g1", 50))
	assert.True(t, res.Valid)
	assert.Equal(t, PhaseActiveGameplay, res.Phase)
}

func TestReset(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 5))
	m.Process(cooldown("g1", 14000))

	m.Reset()

	status := m.Status()
	assert.Equal(t, PhaseUnknown, status.Phase)
	assert.Empty(t, status.CurrentGameID)
	assert.Zero(t, status.LastTickCount)
	assert.Zero(t, status.AnomalyCount)
	assert.Empty(t, status.History)
}

func TestProcessIsDeterministic(t *testing.T) {
	signals := append(fullRound("g1", "g2"),
		active("g2", 3),
		active("g2", 2),
		cooldown("g2", 12000),
		types.GameSignal{Active: true},
		presale("g3", 4000),
	)

	run := func() []Result {
		m := NewMachine()
		out := make([]Result, 0, len(signals))
		for _, s := range signals {
			out = append(out, m.Process(s))
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestStatusIsCopy(t *testing.T) {
	m := NewMachine()
	m.Process(active("g1", 0))

	status := m.Status()
	status.History[0].GameID = "mutated"

	assert.Equal(t, "g1", m.History()[0].GameID)
}

package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	issues     []Issue
	details    []Details
	recoveries int
}

func newMonitor(t *testing.T, cfg Config) (*Monitor, *recorded) {
	t.Helper()
	rec := &recorded{}
	m, err := New(cfg, Callbacks{
		OnThresholdExceeded: func(issue Issue, d Details) {
			rec.issues = append(rec.issues, issue)
			rec.details = append(rec.details, d)
		},
		OnRecovery: func() { rec.recoveries++ },
	})
	require.NoError(t, err)
	return m, rec
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ticks", Config{Type: ThresholdTicks, Value: 5}, false},
		{"games", Config{Type: ThresholdGames, Value: 1}, false},
		{"zero value", Config{Type: ThresholdTicks, Value: 0}, true},
		{"negative value", Config{Type: ThresholdGames, Value: -2}, true},
		{"unknown type", Config{Type: "SECONDS", Value: 3}, true},
		{"empty type", Config{Value: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := New(Config{Type: ThresholdTicks}, Callbacks{})
	assert.Error(t, err)
}

func TestGapAccounting(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdTicks, Value: 100})

	for _, tick := range []int{0, 1, 5} {
		m.OnTick(tick)
	}

	status := m.Status()
	assert.Equal(t, 3, status.ConsecutiveTickGaps)
	require.NotNil(t, status.LastTick)
	assert.Equal(t, 5, *status.LastTick)
	assert.Empty(t, rec.issues)

	// a contiguous tick resets the run
	m.OnTick(6)
	assert.Equal(t, 0, m.Status().ConsecutiveTickGaps)

	// duplicates and regressions are neither gaps nor resets
	m.OnTick(9)
	m.OnTick(9)
	m.OnTick(4)
	assert.Equal(t, 2, m.Status().ConsecutiveTickGaps)
}

func TestTickThresholdFiresOnce(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdTicks, Value: 5})

	m.OnTick(0)
	m.OnTick(10)

	require.Len(t, rec.issues, 1)
	assert.Equal(t, IssueTickGap, rec.issues[0])
	assert.Equal(t, 9, rec.details[0].GapSize)
	assert.Equal(t, 10, rec.details[0].Tick)
	assert.True(t, m.IsTriggered())

	m.OnTick(20)
	assert.Len(t, rec.issues, 1, "latched monitor must not fire again")
	assert.Equal(t, 1, m.Status().TriggerCount)
}

func TestGameStartDoesNotCountGap(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdTicks, Value: 1})

	m.OnGameStart("g1")
	m.OnTick(0)
	m.OnTick(1)
	m.OnTick(2)
	m.OnGameStart("g2")
	m.OnTick(0)

	assert.Empty(t, rec.issues)
	status := m.Status()
	assert.Equal(t, "g2", status.CurrentGameID)
	assert.Equal(t, 0, status.ConsecutiveTickGaps)
}

func TestGamesThreshold(t *testing.T) {
	t.Run("consecutive bad games trigger", func(t *testing.T) {
		m, rec := newMonitor(t, Config{Type: ThresholdGames, Value: 2})

		m.OnGameEnd("g1", false)
		assert.Empty(t, rec.issues)
		m.OnGameEnd("g2", false)

		require.Len(t, rec.issues, 1)
		assert.Equal(t, IssueAbnormalGameEnd, rec.issues[0])
		assert.Equal(t, "g2", rec.details[0].GameID)
		assert.Equal(t, 2, rec.details[0].ConsecutiveBadGames)
	})

	t.Run("clean game resets the run", func(t *testing.T) {
		m, rec := newMonitor(t, Config{Type: ThresholdGames, Value: 2})

		m.OnGameEnd("g1", false)
		m.OnGameEnd("g2", true)
		m.OnGameEnd("g3", false)

		assert.Empty(t, rec.issues)
		assert.Equal(t, 1, m.Status().ConsecutiveBadGames)
	})

	t.Run("tick gaps do not trigger a games monitor", func(t *testing.T) {
		m, rec := newMonitor(t, Config{Type: ThresholdGames, Value: 1})

		m.OnTick(0)
		m.OnTick(500)

		assert.Empty(t, rec.issues)
		assert.Equal(t, 499, m.Status().ConsecutiveTickGaps)
	})
}

func TestConnectionLostTriggersUnconditionally(t *testing.T) {
	for _, cfg := range []Config{
		{Type: ThresholdTicks, Value: 1000},
		{Type: ThresholdGames, Value: 1000},
	} {
		t.Run(string(cfg.Type), func(t *testing.T) {
			m, rec := newMonitor(t, cfg)
			m.OnGameStart("g1")

			m.OnConnectionLost()
			m.OnConnectionLost()

			require.Len(t, rec.issues, 1)
			assert.Equal(t, IssueConnectionLost, rec.issues[0])
			assert.Equal(t, "g1", rec.details[0].GameID)
			assert.Equal(t, IssueConnectionLost, m.Status().TriggerIssue)
		})
	}
}

func TestConnectionRestoredKeepsLatch(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdTicks, Value: 3})

	m.OnTick(10)
	m.OnConnectionLost()
	m.OnConnectionRestored()

	// the reconnect hole is not a gap
	m.OnTick(50)
	status := m.Status()
	assert.Equal(t, 0, status.ConsecutiveTickGaps)
	assert.True(t, status.Triggered)
	assert.Len(t, rec.issues, 1)
	assert.Zero(t, rec.recoveries)
}

func TestCleanGameRecovers(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdTicks, Value: 2})

	m.OnTick(0)
	m.OnTick(5)
	require.True(t, m.IsTriggered())

	m.OnCleanGameObserved()

	assert.Equal(t, 1, rec.recoveries)
	status := m.Status()
	assert.False(t, status.Triggered)
	assert.Empty(t, status.TriggerIssue)
	assert.Zero(t, status.ConsecutiveTickGaps)
	assert.Zero(t, status.ConsecutiveBadGames)

	// a new episode can fire again
	m.OnTick(10)
	require.Len(t, rec.issues, 2)
	assert.Equal(t, 2, m.Status().TriggerCount)
}

func TestReset(t *testing.T) {
	m, rec := newMonitor(t, Config{Type: ThresholdGames, Value: 1})

	m.OnGameStart("g1")
	m.OnTick(3)
	m.OnGameEnd("g1", false)
	require.True(t, m.IsTriggered())

	m.Reset()

	status := m.Status()
	assert.False(t, status.Triggered)
	assert.Nil(t, status.LastTick)
	assert.Empty(t, status.CurrentGameID)
	assert.Zero(t, status.ConsecutiveBadGames)
	assert.Zero(t, rec.recoveries, "reset does not invoke callbacks")
}

func TestCallbacksRunOutsideLock(t *testing.T) {
	var m *Monitor
	var seen Status
	m, err := New(Config{Type: ThresholdTicks, Value: 1}, Callbacks{
		OnThresholdExceeded: func(Issue, Details) {
			// would deadlock if invoked under the monitor's mutex
			seen = m.Status()
		},
	})
	require.NoError(t, err)

	m.OnTick(0)
	m.OnTick(2)

	assert.True(t, seen.Triggered)
}

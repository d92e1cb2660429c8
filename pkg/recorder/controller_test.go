package recorder

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/gamestate"
	"github.com/cuemby/gamefeed/pkg/integrity"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completeSink struct {
	mu    sync.Mutex
	games []types.CompleteGame
}

func (s *completeSink) HandleEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := e.Payload.(types.CompleteGame); ok {
		s.games = append(s.games, g)
	}
}

func (s *completeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

func roundTicks(gameID, nextID string, lastTick int) []types.GameTick {
	var out []types.GameTick
	for tick := 0; tick <= lastTick; tick++ {
		out = append(out, types.GameTick{GameID: gameID, Tick: tick, Price: tickPrice(tick), Active: true})
	}
	history := []types.HistoryEntry{{
		GameID:         gameID,
		PeakMultiplier: decimal.RequireFromString("2.5"),
		ServerSeed:     "seed-" + gameID,
		ServerSeedHash: "hash-" + gameID,
	}}
	out = append(out,
		types.GameTick{GameID: gameID, Tick: lastTick + 1, Price: tickPrice(lastTick + 1), Active: true, Rugged: true, GameHistory: history},
		types.GameTick{GameID: gameID, Rugged: true, GameHistory: history},
		types.GameTick{GameID: nextID, Rugged: true, CooldownTimerMs: 14000},
		types.GameTick{GameID: nextID, CooldownTimerMs: 8000, AllowPreRoundBuys: true},
	)
	return out
}

func newControllerFixture(t *testing.T) (*events.Bus, *Recorder, *Controller, *completeSink) {
	t.Helper()
	bus := events.New(events.Config{})
	bus.Start()
	t.Cleanup(bus.Stop)

	r, err := New(Config{Dir: t.TempDir(), Integrity: integrity.DefaultConfig()}, Callbacks{})
	require.NoError(t, err)

	c := NewController(bus, r)
	c.Start()
	t.Cleanup(c.Stop)

	sink := &completeSink{}
	bus.Subscribe(events.EventGameComplete, sink, false)
	return bus, r, c, sink
}

func TestControllerRecordsFullRound(t *testing.T) {
	bus, r, c, sink := newControllerFixture(t)
	_, err := r.StartSession(Limits{})
	require.NoError(t, err)

	bus.Publish(events.EventPlayerState, types.ServerState{Cash: decimal.NewFromInt(10), PositionQty: decimal.NewFromInt(2)})
	for i, tick := range roundTicks("g1", "g2", 20) {
		bus.Publish(events.EventGameTick, tick)
		if i == 5 {
			bus.Publish(events.EventTradeBuy, map[string]any{"tick": 5, "amount": "0.5", "price": "1.05"})
		}
	}

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	game := sink.games[0]
	sink.mu.Unlock()

	assert.Equal(t, "g1", game.GameID)
	assert.Equal(t, 22, game.DurationTicks, "ticks 0..20 plus the rug tick")
	assert.Equal(t, "seed-g1", game.ServerSeed)
	assert.True(t, game.PeakMultiplier.Equal(decimal.RequireFromString("2.5")))

	status := r.Status()
	assert.Equal(t, StateMonitoring, status.State)
	assert.Equal(t, 1, status.Session.GamesRecorded)
	assert.Equal(t, 1, status.Actions)
	assert.Equal(t, gamestate.PhasePresale, c.Machine().Phase())
	assert.Zero(t, c.Machine().AnomalyCount())
}

func TestControllerJoinsRoundInProgress(t *testing.T) {
	bus, r, c, sink := newControllerFixture(t)
	_, err := r.StartSession(Limits{MaxGames: 1})
	require.NoError(t, err)

	for _, tick := range roundTicks("g0", "g1", 60)[50:] {
		bus.Publish(events.EventGameTick, tick)
	}
	require.True(t, bus.WaitIdle(2*time.Second))

	assert.Zero(t, sink.len(), "a round joined at tick 50 is not recorded")
	status := r.Status()
	assert.Equal(t, StateMonitoring, status.State)
	require.NotNil(t, status.Session)
	assert.Zero(t, status.Session.GamesRecorded)
	assert.Zero(t, status.GamesDiscarded)

	for _, tick := range roundTicks("g1", "g2", 10) {
		bus.Publish(events.EventGameTick, tick)
	}
	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	game := sink.games[0]
	sink.mu.Unlock()
	assert.Equal(t, "g1", game.GameID)
	assert.Equal(t, 12, game.DurationTicks)
	for i, price := range game.Prices {
		assert.True(t, price.Valid, "tick %d", i)
	}

	require.Eventually(t, func() bool { return r.State() == StateIdle }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, gamestate.PhasePresale, c.Machine().Phase())
}

func TestIsGameStart(t *testing.T) {
	tests := []struct {
		name string
		res  gamestate.Result
		tick int
		want bool
	}{
		{"activation", gamestate.Result{Phase: gamestate.PhaseGameActivation, PreviousPhase: gamestate.PhasePresale}, 0, true},
		{"presale to active", gamestate.Result{Phase: gamestate.PhaseActiveGameplay, PreviousPhase: gamestate.PhasePresale}, 2, true},
		{"first tick", gamestate.Result{Phase: gamestate.PhaseActiveGameplay, PreviousPhase: gamestate.PhaseUnknown}, 0, true},
		{"joined after startup", gamestate.Result{Phase: gamestate.PhaseActiveGameplay, PreviousPhase: gamestate.PhaseUnknown}, 50, false},
		{"new id mid gameplay", gamestate.Result{Phase: gamestate.PhaseActiveGameplay, PreviousPhase: gamestate.PhaseActiveGameplay}, 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isGameStart(tt.res, types.GameTick{Tick: tt.tick})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestControllerTradeDefaults(t *testing.T) {
	bus, r, _, _ := newControllerFixture(t)
	_, err := r.StartSession(Limits{})
	require.NoError(t, err)

	bus.Publish(events.EventPlayerState, types.ServerState{Cash: decimal.NewFromInt(7), PositionQty: decimal.NewFromInt(3)})
	bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Active: true})
	bus.Publish(events.EventTradeSell, types.PlayerAction{Tick: 1, Amount: decimal.NewFromInt(1)})

	require.Eventually(t, func() bool { return r.Status().Actions == 1 }, 2*time.Second, 10*time.Millisecond)

	r.mu.Lock()
	actions := r.player.Snapshot().Actions
	r.mu.Unlock()

	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionSell, actions[0].Action)
	assert.Equal(t, "g1", actions[0].GameID)
	assert.True(t, actions[0].BalanceAfter.Equal(decimal.NewFromInt(7)))
	assert.True(t, actions[0].PositionQtyAfter.Equal(decimal.NewFromInt(3)))
}

func TestControllerTradeKeepsExplicitZeros(t *testing.T) {
	bus, r, _, _ := newControllerFixture(t)
	_, err := r.StartSession(Limits{})
	require.NoError(t, err)

	bus.Publish(events.EventPlayerState, types.ServerState{Cash: decimal.NewFromInt(10), PositionQty: decimal.NewFromInt(3)})
	bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Active: true})
	bus.Publish(events.EventTradeSell, types.PlayerAction{
		Tick:             1,
		Amount:           decimal.NewFromInt(3),
		PositionQtyAfter: decimal.NewNullDecimal(decimal.Zero),
	})
	bus.Publish(events.EventTradeSell, json.RawMessage(`{"tick": 2, "amount": "1", "balance_after": 0, "position_qty_after": 0}`))

	require.Eventually(t, func() bool { return r.Status().Actions == 2 }, 2*time.Second, 10*time.Millisecond)

	r.mu.Lock()
	actions := r.player.Snapshot().Actions
	r.mu.Unlock()

	require.Len(t, actions, 2)
	assert.True(t, actions[0].PositionQtyAfter.IsZero(), "sell to flat keeps the reported zero position")
	assert.True(t, actions[0].BalanceAfter.Equal(decimal.NewFromInt(10)), "absent balance comes from the server state")
	assert.True(t, actions[1].BalanceAfter.IsZero())
	assert.True(t, actions[1].PositionQtyAfter.IsZero())
}

func TestControllerReconnectKeepsGame(t *testing.T) {
	bus, r, c, sink := newControllerFixture(t)
	_, err := r.StartSession(Limits{})
	require.NoError(t, err)

	for tick := 0; tick <= 5; tick++ {
		bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Tick: tick, Price: tickPrice(tick), Active: true})
	}
	bus.Publish(events.EventConnectionLost, nil)
	bus.Publish(events.EventConnectionRestored, nil)
	bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Tick: 9, Price: tickPrice(9), Active: true})

	require.Eventually(t, func() bool {
		st := r.Status()
		return st.Paused && st.CurrentTicks == 10
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "g1", r.Status().CurrentGameID, "reconnect must not restart the game")
	assert.Equal(t, gamestate.PhaseActiveGameplay, c.Machine().Phase())
	assert.Zero(t, sink.len())
}

func TestControllerStopUnsubscribes(t *testing.T) {
	bus, r, c, _ := newControllerFixture(t)
	_, err := r.StartSession(Limits{})
	require.NoError(t, err)

	c.Stop()
	bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Active: true})
	bus.Publish(events.EventGameTick, types.GameTick{GameID: "g1", Tick: 1, Active: true})

	// wait for the bus to drain
	require.Eventually(t, func() bool {
		st := bus.Stats()
		return st.EventsProcessed == st.EventsPublished
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, r.Status().CurrentGameID)
	assert.Equal(t, gamestate.PhaseUnknown, c.Machine().Phase())
}

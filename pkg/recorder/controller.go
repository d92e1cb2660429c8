package recorder

import (
	"sync"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/gamestate"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// controllerEvents are the bus events a Controller subscribes to
var controllerEvents = []events.EventType{
	events.EventGameTick,
	events.EventPlayerState,
	events.EventTradeBuy,
	events.EventTradeSell,
	events.EventTradeSidebet,
	events.EventConnectionAuthenticated,
	events.EventConnectionLost,
	events.EventConnectionRestored,
}

// Controller feeds bus events through the game phase machine and turns
// phase changes into recorder calls. Finished games are published back on
// the bus as game.complete.
type Controller struct {
	bus      *events.Bus
	recorder *Recorder
	machine  *gamestate.Machine
	logger   zerolog.Logger

	mu        sync.Mutex
	gameID    string
	lastState *types.ServerState
	started   bool
}

// NewController creates a controller for rec
func NewController(bus *events.Bus, rec *Recorder) *Controller {
	return &Controller{
		bus:      bus,
		recorder: rec,
		machine:  gamestate.NewMachine(),
		logger:   log.WithComponent("controller"),
	}
}

// Machine exposes the phase machine for status reporting
func (c *Controller) Machine() *gamestate.Machine {
	return c.machine
}

// Start subscribes to the bus
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	for _, et := range controllerEvents {
		c.bus.Subscribe(et, c, false)
	}
	c.started = true
}

// Stop unsubscribes from the bus
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	for _, et := range controllerEvents {
		c.bus.Unsubscribe(et, c)
	}
	c.started = false
}

// HandleEvent implements events.Handler
func (c *Controller) HandleEvent(e events.Event) {
	switch e.Type {
	case events.EventGameTick:
		tick, err := types.As[types.GameTick](e.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("unreadable game tick")
			return
		}
		c.onTick(tick)

	case events.EventPlayerState:
		state, err := types.As[types.ServerState](e.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("unreadable player state")
			return
		}
		c.mu.Lock()
		c.lastState = &state
		c.mu.Unlock()

	case events.EventTradeBuy, events.EventTradeSell, events.EventTradeSidebet:
		action, err := types.As[types.PlayerAction](e.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("unreadable trade")
			return
		}
		c.onTrade(e, action)

	case events.EventConnectionLost:
		c.machine.RecoverFromDisconnect()
		c.recorder.OnConnectionLost()

	case events.EventConnectionRestored, events.EventConnectionAuthenticated:
		c.recorder.OnConnectionRestored()
	}
}

func (c *Controller) onTick(tick types.GameTick) {
	res := c.machine.Process(tick.Signal())

	c.mu.Lock()
	current := c.gameID
	c.mu.Unlock()

	switch res.Phase {
	case gamestate.PhaseGameActivation, gamestate.PhaseActiveGameplay:
		if tick.GameID != "" && tick.GameID != current {
			c.setGame(tick.GameID)
			if isGameStart(res, tick) {
				c.recorder.OnGameStart(tick.GameID)
			} else {
				c.recorder.OnGameJoined(tick.GameID)
			}
		} else if current == "" {
			// a game already under way with no id cannot be tracked
			return
		}
		// tick regressions are not recorded
		if !res.Valid && res.Phase == res.PreviousPhase {
			return
		}
		c.recorder.OnTick(tick.Tick, tick.Price)

	case gamestate.PhaseRugEvent1, gamestate.PhaseRugEvent2:
		if current == "" {
			return
		}
		if res.Phase == gamestate.PhaseRugEvent1 && (tick.GameID == "" || tick.GameID == current) {
			c.recorder.OnTick(tick.Tick, tick.Price)
		}
		if entry, ok := tick.HistoryFor(current); ok {
			c.recorder.OnSeedReveal(entry.ServerSeed, entry.ServerSeedHash)
			c.recorder.OnPeakMultiplier(entry.PeakMultiplier)
		}
		c.endGame(current)

	case gamestate.PhaseCooldown, gamestate.PhasePresale:
		// the rug frames were missed
		if current != "" {
			c.endGame(current)
		}
	}
}

// isGameStart reports whether the first frame seen for a game is its start
// rather than a frame from a round already under way
func isGameStart(res gamestate.Result, tick types.GameTick) bool {
	return res.Phase == gamestate.PhaseGameActivation ||
		res.PreviousPhase == gamestate.PhasePresale ||
		tick.Tick == 0
}

func (c *Controller) endGame(gameID string) {
	c.setGame("")

	game, err := c.recorder.OnGameEnd(gameID)
	if err != nil {
		c.logger.Error().Err(err).Str("game_id", gameID).Msg("failed to finalize game")
	}
	if game != nil {
		c.bus.Publish(events.EventGameComplete, *game)
	}
}

func (c *Controller) onTrade(e events.Event, action types.PlayerAction) {
	if action.Action == "" {
		switch e.Type {
		case events.EventTradeBuy:
			action.Action = types.ActionBuy
		case events.EventTradeSell:
			action.Action = types.ActionSell
		case events.EventTradeSidebet:
			action.Action = types.ActionSidebet
		}
	}

	c.mu.Lock()
	if action.GameID == "" {
		action.GameID = c.gameID
	}
	// fill balances the trade did not carry from the last server state
	if st := c.lastState; st != nil {
		if !action.BalanceAfter.Valid {
			action.BalanceAfter = decimal.NewNullDecimal(st.Cash)
		}
		if !action.PositionQtyAfter.Valid {
			action.PositionQtyAfter = decimal.NewNullDecimal(st.PositionQty)
		}
	}
	c.mu.Unlock()

	c.recorder.OnPlayerAction(action.Record(e.Timestamp))
}

func (c *Controller) setGame(gameID string) {
	c.mu.Lock()
	c.gameID = gameID
	c.mu.Unlock()
}

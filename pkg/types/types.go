package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// GameSignal is the normalized per-tick snapshot of external game state.
// It is built once per tick and passed by value.
type GameSignal struct {
	GameID            string
	Active            bool
	Rugged            bool
	TickCount         int
	Price             decimal.Decimal
	CooldownTimerMs   int
	AllowPreRoundBuys bool
	TradeCount        int

	// GameHistory is nil unless the frame carried a history block, which the
	// feed only sends around the rug.
	GameHistory []HistoryEntry
}

// HasGameHistory reports whether the frame carried a history block
func (s GameSignal) HasGameHistory() bool {
	return s.GameHistory != nil
}

// HistoryEntry summarizes one finished game from the feed's history block
type HistoryEntry struct {
	GameID         string          `json:"id"`
	PeakMultiplier decimal.Decimal `json:"peakMultiplier"`
	ServerSeed     string          `json:"serverSeed,omitempty"`
	ServerSeedHash string          `json:"serverSeedHash,omitempty"`
}

// PlayerActionRecord is one trade or side bet by the tracked player.
type PlayerActionRecord struct {
	GameID           string           `json:"game_id"`
	Tick             int              `json:"tick"`
	Timestamp        time.Time        `json:"timestamp"`
	Action           string           `json:"action"`
	Amount           decimal.Decimal  `json:"amount"`
	Price            decimal.Decimal  `json:"price"`
	BalanceAfter     decimal.Decimal  `json:"balance_after"`
	PositionQtyAfter decimal.Decimal  `json:"position_qty_after"`
	PnL              *decimal.Decimal `json:"pnl,omitempty"`
}

// Player action names
const (
	ActionBuy     = "BUY"
	ActionSell    = "SELL"
	ActionSidebet = "SIDEBET"
)

// GameMeta describes a finalized game
type GameMeta struct {
	GameID         string          `json:"game_id"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        *time.Time      `json:"end_time,omitempty"`
	DurationTicks  int             `json:"duration_ticks"`
	PeakMultiplier decimal.Decimal `json:"peak_multiplier"`
	ServerSeed     string          `json:"server_seed,omitempty"`
	ServerSeedHash string          `json:"server_seed_hash,omitempty"`
}

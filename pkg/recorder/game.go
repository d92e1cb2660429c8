package recorder

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/shopspring/decimal"
)

// GameIndexEntry is one line of games/<date>/index.json
type GameIndexEntry struct {
	GameID         string          `json:"game_id"`
	PeakMultiplier decimal.Decimal `json:"peak_multiplier"`
	DurationTicks  int             `json:"duration_ticks"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        *time.Time      `json:"end_time,omitempty"`
	Gaps           int             `json:"gaps"`
	File           string          `json:"file"`
}

// GameAccumulator collects the price series of one game. Prices are indexed
// by tick; ticks that were never observed stay as gaps until filled.
type GameAccumulator struct {
	meta   types.GameMeta
	prices []decimal.NullDecimal
}

// NewGameAccumulator starts accumulating gameID
func NewGameAccumulator(gameID string, start time.Time) *GameAccumulator {
	return &GameAccumulator{
		meta: types.GameMeta{GameID: gameID, StartTime: start},
	}
}

// GameID returns the id of the game being accumulated
func (g *GameAccumulator) GameID() string {
	return g.meta.GameID
}

// AddTick stores the price for tick, extending the series with gaps as needed
func (g *GameAccumulator) AddTick(tick int, price decimal.Decimal) {
	if tick < 0 {
		return
	}
	g.grow(tick)
	g.prices[tick] = decimal.NullDecimal{Decimal: price, Valid: true}
	if price.GreaterThan(g.meta.PeakMultiplier) {
		g.meta.PeakMultiplier = price
	}
}

// FillGaps stores prices for ticks that have no price yet and returns how
// many were filled. Ticks that already have a price are left unchanged.
func (g *GameAccumulator) FillGaps(prices map[int]decimal.Decimal) int {
	filled := 0
	for tick, price := range prices {
		if tick < 0 {
			continue
		}
		if tick < len(g.prices) && g.prices[tick].Valid {
			continue
		}
		g.AddTick(tick, price)
		filled++
	}
	return filled
}

// SetSeed records the revealed server seed
func (g *GameAccumulator) SetSeed(seed, hash string) {
	if seed != "" {
		g.meta.ServerSeed = seed
	}
	if hash != "" {
		g.meta.ServerSeedHash = hash
	}
}

// SetPeak raises the peak multiplier if the feed reports a higher one
func (g *GameAccumulator) SetPeak(peak decimal.Decimal) {
	if peak.GreaterThan(g.meta.PeakMultiplier) {
		g.meta.PeakMultiplier = peak
	}
}

// Gaps returns the number of ticks without a price
func (g *GameAccumulator) Gaps() int {
	gaps := 0
	for _, p := range g.prices {
		if !p.Valid {
			gaps++
		}
	}
	return gaps
}

// HasGaps reports whether any tick is missing a price
func (g *GameAccumulator) HasGaps() bool {
	return g.Gaps() > 0
}

// Ticks returns the length of the price series
func (g *GameAccumulator) Ticks() int {
	return len(g.prices)
}

// Finish returns the finalized game. The accumulator can still be used.
func (g *GameAccumulator) Finish(end time.Time) types.CompleteGame {
	meta := g.meta
	meta.EndTime = &end
	meta.DurationTicks = len(g.prices)
	return types.CompleteGame{
		GameMeta: meta,
		Prices:   append([]decimal.NullDecimal(nil), g.prices...),
	}
}

func (g *GameAccumulator) grow(tick int) {
	if tick < len(g.prices) {
		return
	}
	g.prices = append(g.prices, make([]decimal.NullDecimal, tick+1-len(g.prices))...)
}

// saveGame writes games/<date>/game_<id>.json and appends it to that date's
// index. It returns the path of the game file.
func saveGame(dir string, game types.CompleteGame, gaps int) (string, error) {
	dateDir := filepath.Join(dir, "games", dateKey(game.StartTime))
	name := fmt.Sprintf("game_%s.json", sanitize(game.GameID))
	path := filepath.Join(dateDir, name)

	if err := writeJSONAtomic(path, game); err != nil {
		return "", fmt.Errorf("failed to write game %s: %w", game.GameID, err)
	}

	entry := GameIndexEntry{
		GameID:         game.GameID,
		PeakMultiplier: game.PeakMultiplier,
		DurationTicks:  game.DurationTicks,
		StartTime:      game.StartTime,
		EndTime:        game.EndTime,
		Gaps:           gaps,
		File:           name,
	}
	if err := appendIndex(filepath.Join(dateDir, indexFile), entry); err != nil {
		return path, fmt.Errorf("failed to index game %s: %w", game.GameID, err)
	}
	return path, nil
}

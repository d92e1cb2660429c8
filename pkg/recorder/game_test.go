package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGameAccumulatorGaps(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	g := NewGameAccumulator("g1", start)

	g.AddTick(0, price("1"))
	g.AddTick(1, price("1.2"))
	g.AddTick(4, price("1.1"))

	assert.Equal(t, 5, g.Ticks())
	assert.Equal(t, 2, g.Gaps())
	assert.True(t, g.HasGaps())

	filled := g.FillGaps(map[int]decimal.Decimal{
		1: price("9"),
		2: price("1.3"),
		3: price("1.25"),
		-1: price("7"),
	})
	assert.Equal(t, 2, filled)
	assert.False(t, g.HasGaps())

	game := g.Finish(start.Add(time.Minute))
	require.Len(t, game.Prices, 5)
	assert.True(t, game.Prices[1].Decimal.Equal(price("1.2")), "existing price must not be overwritten")
	assert.True(t, game.PeakMultiplier.Equal(price("1.3")))
	assert.Equal(t, 5, game.DurationTicks)
	require.NotNil(t, game.EndTime)
}

func TestGameAccumulatorSeedAndPeak(t *testing.T) {
	g := NewGameAccumulator("g1", time.Now())
	g.AddTick(0, price("1"))
	g.AddTick(1, price("2.5"))

	g.SetSeed("seed", "")
	g.SetSeed("", "hash")
	g.SetPeak(price("2"))

	game := g.Finish(time.Now())
	assert.Equal(t, "seed", game.ServerSeed)
	assert.Equal(t, "hash", game.ServerSeedHash)
	assert.True(t, game.PeakMultiplier.Equal(price("2.5")))

	g.SetPeak(price("3.75"))
	assert.True(t, g.Finish(time.Now()).PeakMultiplier.Equal(price("3.75")))
}

func TestSaveGameWritesFileAndIndex(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)

	for _, id := range []string{"g1", "g/2"} {
		g := NewGameAccumulator(id, start)
		g.AddTick(0, price("1"))
		g.AddTick(2, price("1.4"))
		_, err := saveGame(dir, g.Finish(start.Add(time.Second)), g.Gaps())
		require.NoError(t, err)
	}

	dateDir := filepath.Join(dir, "games", "2025-03-01")
	assert.FileExists(t, filepath.Join(dateDir, "game_g1.json"))
	assert.FileExists(t, filepath.Join(dateDir, "game_g_2.json"))

	data, err := os.ReadFile(filepath.Join(dateDir, "game_g1.json"))
	require.NoError(t, err)
	var game struct {
		GameID string `json:"game_id"`
		Prices []any  `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(data, &game))
	assert.Equal(t, "g1", game.GameID)
	assert.Equal(t, []any{"1", nil, "1.4"}, game.Prices)

	var index []GameIndexEntry
	data, err = os.ReadFile(filepath.Join(dateDir, "index.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &index))
	require.Len(t, index, 2)
	assert.Equal(t, "g1", index[0].GameID)
	assert.Equal(t, 1, index[0].Gaps)
	assert.Equal(t, "game_g_2.json", index[1].File)
}

func TestAppendIndexRejectsCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	err := appendIndex(path, map[string]string{"a": "b"})
	assert.Error(t, err)
}

package storage

import (
	"testing"
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltCatalog(t *testing.T) {
	dir := t.TempDir()
	c, err := NewBoltCatalog(dir)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Record(
		PartitionFile{Path: "doc_type=game_tick/date=2025-03-01/s1_1-10.json", DocType: types.DocTypeGameTick, SessionID: "s1", FirstSeq: 1, LastSeq: 10, Rows: 8, WrittenAt: now},
		PartitionFile{Path: "doc_type=player_action/date=2025-03-01/s1_3-7.json", DocType: types.DocTypePlayerAction, SessionID: "s1", FirstSeq: 3, LastSeq: 7, Rows: 2, WrittenAt: now},
		PartitionFile{Path: "doc_type=game_tick/date=2025-03-01/s2_1-4.json", DocType: types.DocTypeGameTick, SessionID: "s2", FirstSeq: 1, LastSeq: 4, Rows: 4, WrittenAt: now},
	))
	require.NoError(t, c.Record())

	ticks, err := c.List(types.DocTypeGameTick)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "doc_type=game_tick/date=2025-03-01/s1_1-10.json", ticks[0].Path)
	assert.Equal(t, 8, ticks[0].Rows)

	all, err := c.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	seq, err := c.LastSeq("s1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, seq, "high-water is the max across files")

	seq, err = c.LastSeq("unknown")
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, c.Close())

	// persisted across reopen
	c, err = NewBoltCatalog(dir)
	require.NoError(t, err)
	defer c.Close()

	seq, err = c.LastSeq("s2")
	require.NoError(t, err)
	assert.EqualValues(t, 4, seq)

	all, err = c.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

/*
Package storage persists bus events as typed, partitioned files.

An EventStore subscribes to the persisted event types, decodes each payload
once into its document variant, wraps it in an envelope with the next
sequence number for the session and buffers the row. Buffered rows are
written when the buffer is full, when the flush interval has passed, on
Flush and on Stop.

# Layout

	<dir>/
	  doc_type=game_tick/
	    date=2025-03-01/
	      <session>_1-100.json
	      <session>_101-187.json
	  doc_type=player_action/
	    date=2025-03-01/
	      <session>_14-14.json

Every file is a JSON array of flat rows. Each row carries the envelope fields
(ts, source, doc_type, session_id, seq, direction, game_id) next to the
document's own fields. Files are written to a temp file and renamed into
place.

# Event mapping

	game.tick                         -> game_tick
	player.state                      -> server_state
	trade.buy, trade.sell, trade.sidebet -> player_action
	button.press                      -> button_event
	game.complete                     -> complete_game
	connection.authenticated,
	ws.raw_event, ws.source_changed   -> ws_event

Decode returns ErrSkip for anything else.

# Catalog

BoltCatalog keeps two buckets in <dataDir>/catalog.db:

	┌──────────── catalog.db ────────────┐
	│ partitions   path -> PartitionFile │
	│ sequences    session -> last seq   │
	└────────────────────────────────────┘

The store reads the session's last sequence on Start so numbering continues
across restarts, and records every file it writes.

# Failure handling

A failed partition write is retried once. If it fails again the partition's
rows stay in the buffer and the error is returned from Flush or Stop; other
partitions in the same flush are still written.
*/
package storage

/*
Package types defines the data model shared by every gamefeed component.

# Signals

GameSignal is the classifier input: the minimal set of fields from one feed
frame needed to decide the game phase. It is a value type and is never
mutated after construction.

# Documents

Persisted rows form a closed tagged union keyed by DocType. Each variant is a
concrete struct implementing Document:

	ws_event       WsEvent        raw transport frame
	game_tick      GameTick       normalized game state
	player_action  PlayerAction   trade or side bet
	server_state   ServerState    balance and position from the server
	button_event   ButtonEvent    automation button press
	complete_game  CompleteGame   finalized game with its price series

A Row pairs a document with its Envelope (timestamp, source, session, sequence
number, direction) and serializes to one flat JSON object, which is the shape
written to partition files.

# Money

Prices, amounts and balances use github.com/shopspring/decimal so that
multipliers and SOL amounts round-trip through storage without float drift.
Gaps in a price series are decimal.NullDecimal values with Valid=false and
serialize as null.
*/
package types

/*
Package feed replays recorded event streams onto the bus.

A feed file is newline-delimited JSON, one frame per line:

	{"event": "game.tick", "ts": "2025-03-01T12:00:00.250Z", "data": {"game_id": "g1", "tick": 3}}

The data object is published as a json.RawMessage and decoded by each
subscriber. Frames with a timestamp can be replayed at their recorded pace
(Options.Speed), and replay pauses while the bus queue is above
Options.MaxQueueDepth so a fast file does not overflow it.
*/
package feed

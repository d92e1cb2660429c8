/*
Package recorder captures finished games and player sessions to disk.

The recording lifecycle is a small state machine:

	IDLE --StartSession--> MONITORING --GameStarted--> RECORDING
	RECORDING --LimitReached--> FINISHING_GAME --GameEnded--> MONITORING | IDLE
	RECORDING --IntegrityTriggered--> MONITORING (paused)
	MONITORING (paused) --Recovered--> RECORDING
	any --Stop--> IDLE

A Recorder owns the state machine, an integrity.Monitor, the accumulator for
the game in progress and the player's action log. Finalized games are written
as games/<date>/game_<id>.json with an entry appended to
games/<date>/index.json. When the session ends the player's actions are
written as sessions/<date>/session_<user>_<id>.json and indexed the same way.

While monitoring is paused games are still observed so the monitor can see a
clean game and recover, but nothing is written until recording resumes.

A Controller subscribes a Recorder to the event bus. It runs each game.tick
through a gamestate.Machine, turns phase changes into OnGameStart, OnTick and
OnGameEnd calls, and publishes every recorded game as game.complete.

Recorder callbacks are invoked after its lock is released and may call back
into the Recorder.
*/
package recorder

/*
Package gamestate classifies normalized game signals into round phases.

A round moves through these phases:

	UNKNOWN ──► PRESALE ──► GAME_ACTIVATION ──► ACTIVE_GAMEPLAY
	               ▲                                 │
	               │                                 ▼
	           COOLDOWN ◄── RUG_EVENT_2 ◄──── RUG_EVENT_1

RUG_EVENT_1 is the frame that reveals the server seed (the game is still
flagged active and already rugged); RUG_EVENT_2 is the frame that sets up the
next game. Any phase may drop to UNKNOWN when a frame is ambiguous; that is
not an anomaly.

Detect is a pure function. Machine wraps it with transition validation, a
per-game tick high-water check and a bounded history of phase changes.
Illegal transitions and tick regressions are logged and counted but never
stop processing.
*/
package gamestate

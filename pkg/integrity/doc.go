/*
Package integrity watches the event stream for data quality problems.

A Monitor counts missing ticks inside a game and games that ended without a
clean record. When the configured threshold is reached (or the connection
drops) it latches and invokes OnThresholdExceeded exactly once. The latch
stays set across further faults and reconnects; it is only cleared by
OnCleanGameObserved, which also invokes OnRecovery, or by Reset.

	ticks 0,1,5     -> consecutive gaps = 3
	ticks 0,10      -> gap_size = 9, TICKS threshold 5 fires
	bad, clean, bad -> consecutive bad games = 1

Callbacks are called after the monitor's mutex has been released so they may
call back into the monitor.
*/
package integrity

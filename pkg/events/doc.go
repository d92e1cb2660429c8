/*
Package events provides the in-process event bus that every gamefeed
component publishes to and subscribes from.

# Architecture

	┌──────────────────────── EVENT BUS ────────────────────────┐
	│                                                             │
	│  Publish(type, payload)                                     │
	│       │  non-blocking; drop + count when full               │
	│       ▼                                                     │
	│  ┌──────────────────────────────┐                           │
	│  │ bounded FIFO (default 5000)  │  warn once at 80%         │
	│  └──────────────┬───────────────┘                           │
	│                 ▼                                           │
	│  single dispatch goroutine                                  │
	│   1. snapshot type + "*" subscribers under the lock         │
	│   2. release the lock                                       │
	│   3. call each handler, recovering panics                   │
	│                                                             │
	└─────────────────────────────────────────────────────────────┘

Handlers run on the dispatch goroutine without any bus lock held, so a
handler may call Publish, Subscribe or Unsubscribe. A slow handler delays
every other subscriber; keep them short.

# Subscriptions

Subscribe returns a *Subscription token. Subscribing the same handler twice
for one event type returns the existing token. Handlers are compared by
identity, so use pointer types or wrap functions with Func and keep the
returned Handler.

Strong subscriptions (weak=false) live until Unsubscribe, Release or
ClearAll. Weak subscriptions (weak=true) are held through a weak pointer to
the token: the owner stores the token in one of its fields, and once the
owner is garbage collected the subscription disappears without an explicit
unsubscribe.

	type Recorder struct {
		tickSub *events.Subscription
	}

	r.tickSub = bus.Subscribe(events.EventGameTick, r, true)

# Lifecycle

	bus := events.New(events.Config{QueueSize: 5000})
	bus.Start()
	defer bus.Stop()

Stop enqueues a sentinel behind any pending events, so everything published
before Stop is delivered. If the queue stays full the oldest events are
discarded to make room. Stop waits at most Config.StopTimeout for the
dispatch goroutine and logs an error instead of hanging.

# Event Types

	game.tick                 normalized game state frame
	game.complete             finalized game from the recorder
	player.state              server view of the player's balance
	connection.authenticated  transport authenticated
	connection.lost           transport disconnected
	connection.restored       transport reconnected
	ws.raw_event              raw transport frame
	ws.source_changed         feed switched transport source
	trade.buy, trade.sell,
	trade.sidebet             player trades
	button.press              automation button press
*/
package events

/*
Package manifest verifies multi-service deployments of the pipeline.

Each service directory carries a manifest.json:

	{
	  "name": "recorder",
	  "version": "1.2.0",
	  "layer": "L1",
	  "port": 9010,
	  "health": "/health",
	  "events_consumed": ["game.tick", "player.state"],
	  "events_produced": ["game.complete"],
	  "upstream": "ws://localhost:9000/feed"
	}

Verify applies these rules and reports every violation rather than stopping
at the first:

  - name equals the directory name
  - no two services share a port
  - the port lies in its layer's range (L0 9000-9009, L1 9010-9019,
    L2 9020-9029, L3 9030-9039, L4 3000-3099)
  - an upstream port belongs to a known service or is the implicit L0 port
    9000, and that service's layer is not above the consumer's
  - an upstream starts with ws:// or wss://

Probe goes one step further and checks the running deployment with the
checkers from the health package.
*/
package manifest

// Package devicewatch is a streaming device state reconciler for medical
// device failure predictions.
//
// It ingests the upstream prediction pipeline's server-sent event stream,
// reconciles records into a bounded, deduplicated, freshness-ordered
// per-device collection, probes upstream liveness out of band, and serves the
// reconciled state to consumers over HTTP, WebSocket and optionally NATS.
//
// # Architecture
//
//	┌──────────────┐   SSE    ┌────────────┐  events  ┌───────────┐
//	│ prediction   ├─────────→│  stream    ├─────────→│   store   │
//	│ API upstream │          │  client    │          │ event loop│
//	└──────┬───────┘          └────────────┘          └─────┬─────┘
//	       │ HTTP                                           │ snapshots
//	       │ ┌────────────┐           ┌────────────┐        │
//	       └─┤ apiclient /├──────────→│  gateway   │←───────┤
//	         │ health     │  seed /   │ HTTP + WS  │        │
//	         └────────────┘  probe    └────────────┘        ↓
//	                                                  ┌───────────┐
//	                                                  │  natspub  │
//	                                                  └───────────┘
//
// The store owns all mutable state behind a single-consumer event loop fed by
// a bounded queue; every other component either enqueues events or reads
// immutable snapshots. The stream client maintains the connection state
// machine: exponential backoff on failure, a terminal Failed state after the
// attempt limit, and explicit reconnect to resume.
//
// # Packages
//
// Domain:
//   - types: prediction records, risk labels, wire schema validation
//   - collection: the bounded, per-device, freshness-ordered read model
//   - view: filters, risk ordering, and aggregate statistics over records
//
// Pipeline:
//   - stream: SSE client with reconnect state machine
//   - store: event-loop read model store with snapshot subscriptions
//   - apiclient: upstream query and health HTTP client
//   - health: periodic out-of-band liveness prober
//   - service: component assembly, startup and teardown order
//
// Surfaces:
//   - gateway: HTTP query endpoints, operator controls, WebSocket push
//   - output/natspub: republishes merged records to NATS
//
// Infrastructure:
//   - config: YAML configuration with environment overrides
//   - errors: classified error handling (transient, invalid, fatal)
//   - metric: Prometheus registry and scrape handler
//   - pkg/buffer: bounded circular buffer
//   - pkg/retry: backoff policies
//
// # Binary
//
// Build and run the reconciler:
//
//	go build ./cmd/devicewatch
//	./devicewatch -config devicewatch.yaml
package devicewatch

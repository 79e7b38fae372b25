// Package command provides asynchronous command orchestration for the
// AP Gateway.
//
// Commands are persisted durably (SQLite), then either submitted directly to
// a connected device or picked up by the background scheduler once the
// device comes online. Responses from devices are correlated back to their
// originating command by a per-process RPC id.
//
// # Architecture
//
//	REST API ──▶ Repository (commands table, state machine)
//	                 ▲                ▲
//	                 │ pending        │ executed/completed
//	                 ▼                │
//	            Scheduler ──────▶ Orchestrator ──▶ Session Registry ──▶ device
//	           (30s cycle)        (outstanding        (SendFrame)
//	                               table, futures)
//	                                   ▲
//	            transport ─────────────┘ (inbound RPC responses)
//
// The orchestrator keeps an in-memory table of outstanding (sent but
// unanswered) commands. A single consumer goroutine drains the inbound
// response queue, so responses are processed strictly in arrival order. A
// janitor sweep evicts outstanding entries that never received a response,
// resolving their futures as abandoned.
//
// # Command State Machine
//
//	pending ──▶ executed ──▶ completed
//	   │            └──────▶ timedout
//	   └──▶ expired (too old to still be worth attempting, never sent)
//
// A command whose transport send fails stays pending and is retried on the
// next scheduler cycle.
package command

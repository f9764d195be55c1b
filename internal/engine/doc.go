// Package engine tracks concurrently running countdown timers, one per session
// key, and derives warning and overtime alerts from their progress.
//
// # Lifecycle
//
// Registry.Start activates a timer on a free key or queues the spec behind the
// running one. Stop completes a timer and starts the next queued spec; Cancel
// ends a timer and leaves the queue for Advance. Every Stop and Cancel produces
// exactly one SessionRecord for the Ledger.
//
// # Time
//
// All reads of "now" go through a Clock. The Ticker calls Registry.Tick on a
// fixed period; tests call Tick directly with a ManualClock.
package engine

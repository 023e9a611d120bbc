// Package runloop funnels background-thread work onto the single executor
// that is allowed to touch platform notifiers and the persisted store.
//
// Contract:
//   - Enqueue MUST be non-blocking.
//   - Drain runs once per tick on the owning goroutine only.
//   - A panicking action never aborts the drain of the actions behind it.
package runloop

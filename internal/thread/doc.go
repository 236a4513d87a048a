// Package thread drives one thread's conversation with the binder driver.
//
// Ownership boundary:
//   - State owns the outbound command stream and the inbound return stream
//     of exactly one OS thread.
//   - State issues transactions, services inbound transactions, and routes
//     reference-count and death commands to the Process.
//   - State does not own process-wide tables; it reaches them through the
//     Process interface.
//
// A State is not safe for concurrent use. With the real device it must be
// driven from a goroutine locked to its OS thread, since the driver keys
// its per-thread bookkeeping by TID.
package thread

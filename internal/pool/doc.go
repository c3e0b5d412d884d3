// Package pool provides the database connection pool shared by the
// identifier index and the field search engine.
//
// # Access Modes
//
// Connections are acquired for a mode, never switched afterwards:
//   - AcquireReadOnly for lookups
//   - AcquireReadWrite for updates and deletes
//
// When the backend supports it (SQLite: PRAGMA query_only, PostgreSQL:
// session transaction characteristics), the pool changes the session flag
// to match the requested mode. A backend that rejects the change is
// tolerated: the failure is logged and the connection is still returned.
// Set supportsReadOnly to false to skip switching altogether.
//
// # Overflow Policies
//
//   - fail:  refuse immediately with a POOL_EXHAUSTED error
//   - block: wait up to maxWait, then POOL_EXHAUSTED
//   - grow:  never refuse; capacity is unbounded
//
// # Lifecycle
//
// Every acquired Conn must be passed to Release on every exit path.
// Release of an already released Conn is a no-op. Shutdown closes the
// underlying database and, for an embedded backend, runs its shutdown
// protocol; the outcome is reported as a ShutdownOutcome so that a
// backend's deliberate "shutdown succeeded" error is not mistaken for a
// failure.
package pool

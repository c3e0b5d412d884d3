// Package module is the composition root of the search module. It opens
// the connection pool, creates the index and field tables, and wires the
// identifier index, the field search engine and the dispatcher into one
// Module that callers construct once and shut down once.
//
// # Updates
//
// Update runs the field search update first and the identifier resync
// second. A failed field update skips the resync.
//
// # Deletes
//
// Delete removes the object's identifier rows and then its field rows.
// An identifier delete failure is logged and counted but never stops the
// field delete, and neither step touches the canonical object, which the
// caller deletes afterwards.
//
// The two index deletes and the canonical delete are not one
// transaction. If the canonical delete fails after the index deletes
// succeeded, the object still exists but no identifier lookup finds it
// until it is resynced. Delete returns every error it saw, joined, so the
// caller can decide to resync instead of leaving the object invisible.
package module

// Package cache is the process-wide TTL cache that fronts the store for the
// read-heavy API routes (summaries, vote threads, matches, hot topics).
//
// # Single instance, in-memory
//
// Entries live in one map behind one mutex. Nothing is shared between
// processes, so two instances behind a load balancer can serve different
// values for the same key until the TTL runs out.
//
// Expired entries are removed lazily on read and by a background sweep bound
// to the context passed to New. Writers invalidate by prefix through the key
// builders in keys.go so a room's variants can be dropped without touching
// other rooms.
package cache

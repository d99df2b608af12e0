// Package storage defines the persistent key-value abstraction behind the
// history cache. Driver packages (redis, mysql, sqlite, badger) implement
// Store on top of their backends; MemoryStore serves tests and single-process
// deployments.
package storage

/*
Package types provides the core interfaces and data structures shared by every cachemgr component.

The package is the contract layer between the cache orchestration in internal/cache and the
storage-specific adapters in internal/backend:

	┌─────────────────────────────────────────────┐
	│        Callers (UI / data-fetch layer)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│      Cache Manager / Cache Instance         │
	│             (internal/cache)                │
	└─────────────────────────────────────────────┘
	                      │  types.Backend
	┌───────────┬─────────┴────────┬──────────────┐
	│  Memory   │    Persisted     │   Durable    │
	│           │   (kvstore)      │ (blockstore) │
	└───────────┴──────────────────┴──────────────┘

# Entry

Entry is the envelope stored per key. Data holds the JSON encoding of the value; the
remaining fields drive expiration and eviction:

	Timestamp     insertion time, never changed afterwards
	TTL           maximum age; zero disables expiration
	AccessCount   number of successful reads
	LastAccessed  time of the last successful read

An entry is expired when TTL is set and more than TTL has elapsed since Timestamp.

# Backend

Backend is the storage contract implemented by the memory, persisted and durable adapters.
Every method takes a context; adapters that never block simply ignore it. Adapters store
entries verbatim and never apply expiration themselves.

# Hooks

ErrorHandler receives failures that adapters absorb (serialization errors, quota
exhaustion) so they are observable instead of silently dropped. Recorder receives named
durations for the performance-instrumentation collaborator.
*/
package types

// Package storage persists repost jobs, tenant settings and target bindings.
//
// Two drivers share one sqlx implementation:
//   - "sqlite": a local database file (modernc.org/sqlite, no cgo)
//   - "postgres": a server database (lib/pq)
//
// publish_at is stored as unix seconds so the dispatch query is a plain
// integer equality in both dialects.
package storage

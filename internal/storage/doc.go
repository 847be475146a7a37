// Package storage owns the Memory Subsystem's (C4) persistence layer: a
// pooled GORM connection over an embedded modernc.org/sqlite database,
// schema migrations run through golang-migrate, and the GORM models
// backing entities, observations, relations, and embeddings.
//
// The pool and migrator are adapted from the teacher's
// internal/database.PoolManager and internal/migration.DefaultMigrator:
// the connection-pool sizing, health-check loop, and transaction-retry
// logic carry over unchanged in shape, retargeted from a
// Postgres/MySQL/SQLite-agnostic pool onto the embedded SQLite store
// the memory subsystem actually uses, opened through the pure-Go
// modernc.org/sqlite driver rather than the teacher's default
// mattn/go-sqlite3 path so the whole binary stays CGo-free.
package storage

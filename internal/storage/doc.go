// Package storage provides the persistence layer for the historian.
//
// The layer is split into three pieces:
//
//   - Dialect: the contract a concrete SQL backend must satisfy (schema
//     bootstrap, catalog map loaders, parameterized statement generators,
//     range queries, aggregate collection). Dialects are registered by name
//     and instantiated from a connection descriptor.
//
//   - ConnManager: owns exactly one physical database handle for one
//     execution context. Connections are never shared across contexts; a
//     stale handle is discarded and re-established transparently. DML runs
//     inside a lazily-begun transaction so a whole publish batch commits or
//     rolls back as one unit.
//
//   - Store: the generic driver built from a Dialect plus a ConnManager.
//     It implements the insert-or-update operations for topics, metadata,
//     data rows and aggregates, and the scoped bulk-insert channels used by
//     the publish pipeline.
//
// # Transaction discipline
//
// Reads execute directly against the connection. Writes execute against the
// current transaction, starting one if needed. Commit and Rollback are
// idempotent no-ops (returning false, with a warning) when no transaction is
// open. A commit failure the dialect classifies as lock contention is logged
// with remediation guidance before being returned; the caller decides
// whether to retry the batch.
//
// # Serialization
//
// Values and metadata are stored as JSON TEXT documents. Timestamps are
// stored as fixed-width UTC strings (TimeLayout) so lexicographic ordering
// in the backend matches chronological ordering.
package storage

// Package ingest implements the streaming CSV pipeline for customer imports.
//
// The package is split into three pieces that the import worker composes:
//
//   - Mapper: normalizes a parsed header→value record into a domain.Customer
//     and fingerprints it with a deterministic SHA-256 source hash.
//   - Parser: lazy forward-only CSV iteration that can open a file at an
//     arbitrary byte offset and reports a byte-accurate resume cursor.
//   - BatchWriter: deduplicates a batch in memory, probes for existing rows,
//     and commits inserts plus updates atomically per batch.
//
// Nothing in this package knows about jobs, progress events, or HTTP; it only
// moves bytes from a file into the customers table.
package ingest

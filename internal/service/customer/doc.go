// Package customer implements CRUD business logic for customer records.
//
// The bulk import pipeline in internal/ingest writes customers directly and
// deliberately bypasses this layer: import throughput cannot afford per-row
// duplicate-email checks, and the importer's identifier semantics (email as
// fallback customer id) are already settled by the mapper. This service
// covers the interactive API surface only.
package customer

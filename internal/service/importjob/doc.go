// Package importjob defines the storage contract for import job control
// records. The supervisor and worker depend on this interface, never on the
// Postgres implementation in repository/postgres/.
package importjob

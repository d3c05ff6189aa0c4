package importjob

import "errors"

// Sentinel errors for job lookups.
var (
	ErrNotFound = errors.New("import job not found")
)

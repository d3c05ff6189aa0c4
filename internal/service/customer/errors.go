package customer

import "errors"

// Sentinel errors for the customer service layer.
var (
	ErrNotFound            = errors.New("customer not found")
	ErrMissingCustomerID   = errors.New("customer_id is required")
	ErrDuplicateCustomerID = errors.New("customer_id already exists")
	ErrDuplicateEmail      = errors.New("email already in use")
)

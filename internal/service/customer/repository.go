package customer

import (
	"context"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
)

// Repository defines the data access contract for customers.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a customer by surrogate ID. Returns ErrNotFound if it
	// doesn't exist.
	Get(ctx context.Context, id int64) (*domain.Customer, error)

	// List returns customers matching the filter plus the unfiltered-by-page
	// total, ordered by updated_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Customer, int, error)

	// Create inserts a new customer and returns its surrogate ID. Returns
	// ErrDuplicateCustomerID when the customer_id is already taken.
	Create(ctx context.Context, c *domain.Customer) (int64, error)

	// Update modifies a customer. Only non-nil fields are applied.
	Update(ctx context.Context, id int64, u UpdateFields) error

	// Delete removes a customer.
	Delete(ctx context.Context, id int64) error

	// EmailExists reports whether another customer (excluding excludeID)
	// already uses the email.
	EmailExists(ctx context.Context, email string, excludeID int64) (bool, error)

	// RecentlyUpdated returns up to limit customers touched at or after
	// since, newest first. Progress snapshots use it to show what the
	// importer just wrote.
	RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Customer, error)
}

// ListFilter controls pagination and filtering for customer lists.
type ListFilter struct {
	Search  string // matches customer_id, name, email, company
	Country string
	Limit   int
	Offset  int
}

// UpdateFields holds the mutable fields for a customer update.
// Nil fields are not applied.
type UpdateFields struct {
	FirstName        *string
	LastName         *string
	Email            *string
	Company          *string
	City             *string
	Country          *string
	Phone1           *string
	Phone2           *string
	Website          *string
	AboutCustomer    *string
	SubscriptionDate *time.Time
}

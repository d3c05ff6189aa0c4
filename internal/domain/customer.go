package domain

import "time"

// Customer is a single imported customer record. CustomerID is the
// domain-provided identifier and is unique across the table; ID is the
// surrogate database key.
type Customer struct {
	ID            int64      `json:"id" db:"id"`
	CustomerID    string     `json:"customer_id" db:"customer_id"`
	FirstName     string     `json:"first_name,omitempty" db:"first_name"`
	LastName      string     `json:"last_name,omitempty" db:"last_name"`
	Email         string     `json:"email,omitempty" db:"email"`
	Company       string     `json:"company,omitempty" db:"company"`
	City          string     `json:"city,omitempty" db:"city"`
	Country       string     `json:"country,omitempty" db:"country"`
	Phone1        string     `json:"phone_1,omitempty" db:"phone_1"`
	Phone2        string     `json:"phone_2,omitempty" db:"phone_2"`
	Website       string     `json:"website,omitempty" db:"website"`
	AboutCustomer string     `json:"about_customer,omitempty" db:"about_customer"`

	SubscriptionDate *time.Time `json:"subscription_date,omitempty" db:"subscription_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

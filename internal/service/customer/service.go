package customer

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
)

// Service implements customer business logic for the interactive API.
type Service struct {
	repo Repository
}

// NewService creates a customer service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput holds the fields accepted when creating a customer by hand.
type CreateInput struct {
	CustomerID       string     `json:"customer_id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Company          string     `json:"company"`
	City             string     `json:"city"`
	Country          string     `json:"country"`
	Phone1           string     `json:"phone_1"`
	Phone2           string     `json:"phone_2"`
	Website          string     `json:"website"`
	AboutCustomer    string     `json:"about_customer"`
	SubscriptionDate *time.Time `json:"subscription_date"`
}

// Get returns a single customer.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Customer, error) {
	return s.repo.Get(ctx, id)
}

// List returns customers matching the filter and the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Customer, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Create validates and persists a new customer. Unlike the bulk import path,
// manual creation enforces email uniqueness.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Customer, error) {
	input.CustomerID = strings.TrimSpace(input.CustomerID)
	if input.CustomerID == "" {
		return nil, ErrMissingCustomerID
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if email != "" {
		taken, err := s.repo.EmailExists(ctx, email, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateEmail
		}
	}

	c := &domain.Customer{
		CustomerID:       input.CustomerID,
		FirstName:        strings.TrimSpace(input.FirstName),
		LastName:         strings.TrimSpace(input.LastName),
		Email:            email,
		Company:          strings.TrimSpace(input.Company),
		City:             strings.TrimSpace(input.City),
		Country:          strings.TrimSpace(input.Country),
		Phone1:           strings.TrimSpace(input.Phone1),
		Phone2:           strings.TrimSpace(input.Phone2),
		Website:          strings.TrimSpace(input.Website),
		AboutCustomer:    strings.TrimSpace(input.AboutCustomer),
		SubscriptionDate: input.SubscriptionDate,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update applies a partial update. Changing the email re-runs the uniqueness
// check against every other customer.
func (s *Service) Update(ctx context.Context, id int64, u UpdateFields) (*domain.Customer, error) {
	if u.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*u.Email))
		u.Email = &email
		if email != "" {
			taken, err := s.repo.EmailExists(ctx, email, id)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrDuplicateEmail
			}
		}
	}

	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a customer.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

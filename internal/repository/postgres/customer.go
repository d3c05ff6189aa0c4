package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/service/customer"
)

// customerColumns is the shared select list; text columns are nullable in the
// schema (the importer stores empties as NULL) and come back as "".
const customerColumns = `
	id, customer_id, COALESCE(first_name,''), COALESCE(last_name,''),
	COALESCE(email,''), COALESCE(company,''), COALESCE(city,''),
	COALESCE(country,''), COALESCE(phone_1,''), COALESCE(phone_2,''),
	COALESCE(website,''), COALESCE(about_customer,''), subscription_date,
	created_at, updated_at`

// CustomerRepo implements customer.Repository against PostgreSQL.
type CustomerRepo struct{ db *sql.DB }

// NewCustomerRepo creates a Postgres-backed customer repository.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

func (r *CustomerRepo) Get(ctx context.Context, id int64) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepo) List(ctx context.Context, f customer.ListFilter) ([]domain.Customer, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	idx := 1

	if f.Search != "" {
		where += fmt.Sprintf(` AND (customer_id ILIKE $%d OR first_name ILIKE $%d
			OR last_name ILIKE $%d OR email ILIKE $%d OR company ILIKE $%d)`,
			idx, idx, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	if f.Country != "" {
		where += fmt.Sprintf(" AND country = $%d", idx)
		args = append(args, f.Country)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}

	q := `SELECT ` + customerColumns + ` FROM customers` + where +
		fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	out := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CustomerRepo) Create(ctx context.Context, c *domain.Customer) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO customers
			(customer_id, first_name, last_name, email, company, city, country,
			 phone_1, phone_2, website, about_customer, subscription_date,
			 created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''),
			NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''),
			NULLIF($10,''), NULLIF($11,''), $12, NOW(), NOW())
		RETURNING id
	`, c.CustomerID, c.FirstName, c.LastName, c.Email, c.Company, c.City,
		c.Country, c.Phone1, c.Phone2, c.Website, c.AboutCustomer,
		c.SubscriptionDate).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, customer.ErrDuplicateCustomerID
		}
		return 0, fmt.Errorf("create customer: %w", err)
	}
	return id, nil
}

func (r *CustomerRepo) Update(ctx context.Context, id int64, u customer.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = NULLIF($%d,'')", col, idx))
		args = append(args, val)
		idx++
	}

	if u.FirstName != nil {
		add("first_name", *u.FirstName)
	}
	if u.LastName != nil {
		add("last_name", *u.LastName)
	}
	if u.Email != nil {
		add("email", *u.Email)
	}
	if u.Company != nil {
		add("company", *u.Company)
	}
	if u.City != nil {
		add("city", *u.City)
	}
	if u.Country != nil {
		add("country", *u.Country)
	}
	if u.Phone1 != nil {
		add("phone_1", *u.Phone1)
	}
	if u.Phone2 != nil {
		add("phone_2", *u.Phone2)
	}
	if u.Website != nil {
		add("website", *u.Website)
	}
	if u.AboutCustomer != nil {
		add("about_customer", *u.AboutCustomer)
	}
	if u.SubscriptionDate != nil {
		sets = append(sets, fmt.Sprintf("subscription_date = $%d", idx))
		args = append(args, *u.SubscriptionDate)
		idx++
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE customers SET %s WHERE id = $%d", joinComma(sets), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return customer.ErrNotFound
	}
	return nil
}

func (r *CustomerRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return customer.ErrNotFound
	}
	return nil
}

func (r *CustomerRepo) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM customers WHERE email = $1 AND id <> $2
		)
	`, email, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (r *CustomerRepo) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers
		 WHERE updated_at >= $1
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent customers: %w", err)
	}
	defer rows.Close()

	out := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(s rowScanner) (*domain.Customer, error) {
	c := &domain.Customer{}
	err := s.Scan(
		&c.ID, &c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Company,
		&c.City, &c.Country, &c.Phone1, &c.Phone2, &c.Website, &c.AboutCustomer,
		&c.SubscriptionDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

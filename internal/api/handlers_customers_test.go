package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/customer-sync/internal/domain"
	"github.com/ignite/customer-sync/internal/service/customer"
)

// memCustomerRepo is an in-memory customer.Repository for handler tests.
type memCustomerRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Customer
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{rows: make(map[int64]*domain.Customer)}
}

func (m *memCustomerRepo) Get(_ context.Context, id int64) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCustomerRepo) List(_ context.Context, f customer.ListFilter) ([]domain.Customer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []domain.Customer
	for _, c := range m.rows {
		if f.Country != "" && c.Country != f.Country {
			continue
		}
		if f.Search != "" {
			s := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(c.CustomerID), s) &&
				!strings.Contains(strings.ToLower(c.FirstName), s) &&
				!strings.Contains(strings.ToLower(c.Email), s) {
				continue
			}
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := len(all)
	if f.Offset >= len(all) {
		return []domain.Customer{}, total, nil
	}
	all = all[f.Offset:]
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *memCustomerRepo) Create(_ context.Context, c *domain.Customer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.CustomerID == c.CustomerID {
			return 0, customer.ErrDuplicateCustomerID
		}
	}
	m.nextID++
	cp := *c
	cp.ID = m.nextID
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memCustomerRepo) Update(_ context.Context, id int64, u customer.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return customer.ErrNotFound
	}
	if u.FirstName != nil {
		c.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		c.LastName = *u.LastName
	}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Company != nil {
		c.Company = *u.Company
	}
	if u.City != nil {
		c.City = *u.City
	}
	if u.Country != nil {
		c.Country = *u.Country
	}
	if u.Phone1 != nil {
		c.Phone1 = *u.Phone1
	}
	if u.Phone2 != nil {
		c.Phone2 = *u.Phone2
	}
	if u.Website != nil {
		c.Website = *u.Website
	}
	if u.AboutCustomer != nil {
		c.AboutCustomer = *u.AboutCustomer
	}
	if u.SubscriptionDate != nil {
		c.SubscriptionDate = u.SubscriptionDate
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memCustomerRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return customer.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memCustomerRepo) EmailExists(_ context.Context, email string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID != excludeID && c.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCustomerRepo) RecentlyUpdated(_ context.Context, since time.Time, limit int) ([]domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Customer
	for _, c := range m.rows {
		if !c.UpdatedAt.Before(since) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newCustomerRouter(repo customer.Repository) *chi.Mux {
	h := NewCustomerHandlers(customer.NewService(repo))
	r := chi.NewRouter()
	r.Route("/api/v1/customers", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
		})
	})
	return r
}

func seedCustomers(t *testing.T, repo *memCustomerRepo, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := repo.Create(context.Background(), &domain.Customer{
			CustomerID: fmt.Sprintf("C%04d", i),
			FirstName:  fmt.Sprintf("First%d", i),
			Email:      fmt.Sprintf("user%d@example.com", i),
			Country:    "Netherlands",
		})
		require.NoError(t, err)
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// =====================================================================
// Create
// =====================================================================

func TestCustomerCreateAndGet(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/customers", map[string]any{
		"customer_id": "ACME-001",
		"first_name":  "Ada",
		"last_name":   "Lovelace",
		"email":       "Ada@Example.com",
		"country":     "United Kingdom",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ACME-001", created.CustomerID)
	assert.Equal(t, "ada@example.com", created.Email, "email should be normalized to lower case")
	assert.NotZero(t, created.ID)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Ada", got.FirstName)
}

func TestCustomerCreateMissingCustomerID(t *testing.T) {
	router := newCustomerRouter(newMemCustomerRepo())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/customers", map[string]any{
		"first_name": "Nobody",
		"email":      "nobody@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerCreateDuplicateEmail(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 1)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/customers", map[string]any{
		"customer_id": "OTHER-1",
		"email":       "user1@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCustomerCreateDuplicateCustomerID(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 1)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/customers", map[string]any{
		"customer_id": "C0001",
		"email":       "fresh@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCustomerCreateRejectsMalformedJSON(t *testing.T) {
	router := newCustomerRouter(newMemCustomerRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =====================================================================
// List
// =====================================================================

func TestCustomerListPagination(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 5)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/customers?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []domain.Customer `json:"data"`
		Pagination PaginationMeta    `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Data, 2)
	assert.Equal(t, "C0003", resp.Data[0].CustomerID)
	assert.Equal(t, int64(5), resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.True(t, resp.Pagination.HasMore)
}

func TestCustomerListOffsetParam(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 5)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/customers?offset=4&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []domain.Customer `json:"data"`
		Pagination PaginationMeta    `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Data, 1)
	assert.Equal(t, "C0005", resp.Data[0].CustomerID)
	assert.False(t, resp.Pagination.HasMore)
}

func TestCustomerListSearchFilter(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 10)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/customers?search=user7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []domain.Customer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "C0007", resp.Data[0].CustomerID)
}

// =====================================================================
// Get / Update / Delete
// =====================================================================

func TestCustomerGetNotFound(t *testing.T) {
	router := newCustomerRouter(newMemCustomerRepo())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/customers/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerGetRejectsBadID(t *testing.T) {
	router := newCustomerRouter(newMemCustomerRepo())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/customers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/customers/-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerUpdatePartial(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 1)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/customers/1", map[string]any{
		"city": "Rotterdam",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got domain.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Rotterdam", got.City)
	assert.Equal(t, "First1", got.FirstName, "untouched fields survive a partial update")
	assert.Equal(t, "user1@example.com", got.Email)
}

func TestCustomerUpdateDuplicateEmail(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 2)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/customers/2", map[string]any{
		"email": "user1@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCustomerUpdateNotFound(t *testing.T) {
	router := newCustomerRouter(newMemCustomerRepo())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/customers/99", map[string]any{
		"city": "Nowhere",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerDelete(t *testing.T) {
	repo := newMemCustomerRepo()
	router := newCustomerRouter(repo)
	seedCustomers(t, repo, 1)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/customers/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/customers/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/customers/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/customer-sync/internal/pkg/httputil"
	"github.com/ignite/customer-sync/internal/service/customer"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CustomerHandlers exposes interactive CRUD on customer records. These
// endpoints coexist with the bulk importer: both write the same table, and
// last-write-wins at the row level.
type CustomerHandlers struct {
	svc *customer.Service
}

// NewCustomerHandlers wires the customer endpoints to the service layer.
func NewCustomerHandlers(svc *customer.Service) *CustomerHandlers {
	return &CustomerHandlers{svc: svc}
}

// HandleList returns a paginated customer listing.
//
//	GET /api/v1/customers?page&limit&offset&search&country
func (h *CustomerHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, defaultPageSize, maxPageSize)

	filter := customer.ListFilter{
		Search:  r.URL.Query().Get("search"),
		Country: r.URL.Query().Get("country"),
		Limit:   params.Limit,
		Offset:  params.Offset,
	}

	customers, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, NewPaginatedResponse(customers, params, int64(total)))
}

// HandleCreate inserts a single customer.
//
//	POST /api/v1/customers
func (h *CustomerHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input customer.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	created, err := h.svc.Create(r.Context(), input)
	switch {
	case err == nil:
		httputil.Created(w, created)
	case errors.Is(err, customer.ErrMissingCustomerID):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, customer.ErrDuplicateCustomerID),
		errors.Is(err, customer.ErrDuplicateEmail):
		httputil.Conflict(w, err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}

// HandleGet returns one customer by surrogate ID.
//
//	GET /api/v1/customers/{id}
func (h *CustomerHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(w, r)
	if !ok {
		return
	}

	c, err := h.svc.Get(r.Context(), id)
	switch {
	case err == nil:
		httputil.OK(w, c)
	case errors.Is(err, customer.ErrNotFound):
		httputil.NotFound(w, "customer not found")
	default:
		httputil.InternalError(w, err)
	}
}

// updateRequest is the PATCH body. Pointer fields distinguish "leave alone"
// from "set to empty".
type updateRequest struct {
	FirstName        *string    `json:"first_name"`
	LastName         *string    `json:"last_name"`
	Email            *string    `json:"email"`
	Company          *string    `json:"company"`
	City             *string    `json:"city"`
	Country          *string    `json:"country"`
	Phone1           *string    `json:"phone_1"`
	Phone2           *string    `json:"phone_2"`
	Website          *string    `json:"website"`
	AboutCustomer    *string    `json:"about_customer"`
	SubscriptionDate *time.Time `json:"subscription_date"`
}

// HandleUpdate applies a partial update and returns the fresh record.
//
//	PATCH /api/v1/customers/{id}
func (h *CustomerHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	updated, err := h.svc.Update(r.Context(), id, customer.UpdateFields{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Company:          req.Company,
		City:             req.City,
		Country:          req.Country,
		Phone1:           req.Phone1,
		Phone2:           req.Phone2,
		Website:          req.Website,
		AboutCustomer:    req.AboutCustomer,
		SubscriptionDate: req.SubscriptionDate,
	})
	switch {
	case err == nil:
		httputil.OK(w, updated)
	case errors.Is(err, customer.ErrNotFound):
		httputil.NotFound(w, "customer not found")
	case errors.Is(err, customer.ErrDuplicateEmail):
		httputil.Conflict(w, err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}

// HandleDelete removes a customer.
//
//	DELETE /api/v1/customers/{id}
func (h *CustomerHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(w, r)
	if !ok {
		return
	}

	err := h.svc.Delete(r.Context(), id)
	switch {
	case err == nil:
		httputil.NoContent(w)
	case errors.Is(err, customer.ErrNotFound):
		httputil.NotFound(w, "customer not found")
	default:
		httputil.InternalError(w, err)
	}
}

// customerID parses the {id} route param, writing a 400 on garbage.
func customerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		httputil.BadRequest(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

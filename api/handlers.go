/*
handlers.go - HTTP API handlers for the warehouse ledger

PURPOSE:
  Exposes the catalog and the arrival ledger via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every rule to the
  warehouse services.

ENDPOINTS:
  Resources / Units (same shape under /api/resources and /api/units):
    GET    /                 List (?name=substring&archived=true|false)
    POST   /                 Create {name}
    GET    /{id}             Get
    PUT    /{id}             Rename {name}
    PUT    /{id}/archive     Archive

  Arrivals:
    GET    /api/arrivals       List (?start_date&end_date&number&resource_id&unit_id)
    POST   /api/arrivals       Create
    GET    /api/arrivals/{id}  Get
    PUT    /api/arrivals/{id}  Replace header and lines
    DELETE /api/arrivals/{id}  Delete

  Balance:
    GET    /api/warehouse/balance        (?resource_id&unit_id, repeatable)
    GET    /api/warehouse/balance.xlsx   Same filters, spreadsheet

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with HTTP status:
  - 400: Validation, archived reference, entity in use, already archived,
         negative balance
  - 404: Not found
  - 409: Duplicate key, concurrency conflict
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: Balance spreadsheet
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/warehouse-ledger/warehouse"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DataStore is what the API needs from a storage backend.
type DataStore interface {
	warehouse.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   DataStore
	Ledger  *warehouse.Ledger
	Catalog *warehouse.Catalog

	logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over store. opts are passed to the
// ledger and catalog services.
func NewHandler(store DataStore, logger *zap.Logger, opts ...warehouse.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]warehouse.Option{warehouse.WithLogger(logger)}, opts...)
	return &Handler{
		Store:   store,
		Ledger:  warehouse.NewLedger(store, opts...),
		Catalog: warehouse.NewCatalog(store, opts...),
		logger:  logger,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// catalogRoutes serves one catalog kind.
type catalogRoutes struct {
	h    *Handler
	kind warehouse.CatalogKind
}

func (c catalogRoutes) List(w http.ResponseWriter, r *http.Request) {
	filter := warehouse.CatalogFilter{NameContains: r.URL.Query().Get("name")}
	if s := r.URL.Query().Get("archived"); s != "" {
		archived, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid archived filter", err)
			return
		}
		filter.Archived = &archived
	}

	entries, err := c.h.Catalog.List(r.Context(), c.kind, filter)
	if err != nil {
		c.h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (c catalogRoutes) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := c.h.Catalog.Get(r.Context(), c.kind, id)
	if err != nil {
		c.h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

func (c catalogRoutes) Create(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := c.h.Catalog.Create(r.Context(), c.kind, req.Name)
	if err != nil {
		c.h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (c catalogRoutes) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := c.h.Catalog.Update(r.Context(), c.kind, id, req.Name)
	if err != nil {
		c.h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

func (c catalogRoutes) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.h.Catalog.Archive(r.Context(), c.kind, id); err != nil {
		c.h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ARRIVAL HANDLERS
// =============================================================================

// ListArrivals returns arrivals matching the query filters.
func (h *Handler) ListArrivals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := warehouse.ArrivalFilter{Numbers: q["number"]}

	if s := q.Get("start_date"); s != "" {
		from, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date", err)
			return
		}
		filter.From = &from
	}
	if s := q.Get("end_date"); s != "" {
		to, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date", err)
			return
		}
		filter.To = &to
	}
	var ok bool
	if filter.ResourceIDs, ok = queryIDs(w, r, "resource_id"); !ok {
		return
	}
	if filter.UnitIDs, ok = queryIDs(w, r, "unit_id"); !ok {
		return
	}

	arrivals, err := h.Ledger.ListArrivals(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	names := h.nameLookup(r.Context())
	dtos := make([]ArrivalDTO, len(arrivals))
	for i, a := range arrivals {
		dtos[i] = toArrivalDTO(a, names)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetArrival returns one arrival.
func (h *Handler) GetArrival(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.Ledger.GetArrival(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArrivalDTO(*a, h.nameLookup(r.Context())))
}

// CreateArrival records a new arrival.
func (h *Handler) CreateArrival(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeArrival(w, r)
	if !ok {
		return
	}
	id, err := h.Ledger.CreateArrival(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// UpdateArrival replaces an arrival's header and lines.
func (h *Handler) UpdateArrival(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeArrival(w, r)
	if !ok {
		return
	}
	if err := h.Ledger.UpdateArrival(r.Context(), id, in); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteArrival removes an arrival.
func (h *Handler) DeleteArrival(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Ledger.DeleteArrival(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the on-hand quantity per (resource, unit) pair.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.loadBalance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(entries))
}

func (h *Handler) loadBalance(w http.ResponseWriter, r *http.Request) ([]warehouse.BalanceEntry, bool) {
	var filter warehouse.BalanceFilter
	var ok bool
	if filter.ResourceIDs, ok = queryIDs(w, r, "resource_id"); !ok {
		return nil, false
	}
	if filter.UnitIDs, ok = queryIDs(w, r, "unit_id"); !ok {
		return nil, false
	}

	entries, err := h.Ledger.GetBalance(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	return entries, true
}

// =============================================================================
// HELPERS
// =============================================================================

// nameLookup resolves catalog names for response DTOs. Lookups are cached
// for the lifetime of one request; failures resolve to "".
func (h *Handler) nameLookup(ctx context.Context) warehouse.NameLookup {
	cache := make(map[warehouse.CatalogKind]map[int64]string, 2)
	return func(kind warehouse.CatalogKind, id int64) string {
		if cache[kind] == nil {
			cache[kind] = make(map[int64]string)
		}
		if name, ok := cache[kind][id]; ok {
			return name
		}
		var name string
		if e, err := h.Catalog.Get(ctx, kind, id); err == nil {
			name = e.Name
		}
		cache[kind][id] = name
		return name
	}
}

func decodeArrival(w http.ResponseWriter, r *http.Request) (warehouse.ArrivalInput, bool) {
	var req ArrivalRequest
	if !decodeBody(w, r, &req) {
		return warehouse.ArrivalInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return warehouse.ArrivalInput{}, false
	}
	return in, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// queryIDs parses a repeatable integer query parameter.
func queryIDs(w http.ResponseWriter, r *http.Request, name string) ([]int64, bool) {
	values := r.URL.Query()[name]
	if len(values) == 0 {
		return nil, true
	}
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name, err)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// statusFor maps a warehouse error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, warehouse.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, warehouse.ErrDuplicateKey), errors.Is(err, warehouse.ErrConcurrencyConflict):
		return http.StatusConflict
	case warehouse.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "Internal error", Code: warehouse.Code(err)})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: warehouse.Code(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "bad_request"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

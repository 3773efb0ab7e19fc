/*
handlers.go - HTTP API handlers for the trip booking financial lifecycle

PURPOSE:
  Exposes bookings, refunds, settlements, payouts and the audit trail via a
  REST API. Handles HTTP request/response, JSON serialization, and delegates
  to the services.

ENDPOINTS:
  Bookings:
    POST   /api/bookings                      Create booking
    GET    /api/bookings                      List (trip_id, batch_id, organizer_id,
                                              traveler_id, payment_status, refund_status)
    GET    /api/bookings/{id}                 Get booking
    PUT    /api/bookings/{id}                 Set payment status (paid_in_full, cancelled)
    POST   /api/bookings/{id}/refund?action=  request | approve | reject | process | admin-reject
    POST   /api/bookings/bulk-cancel          Cancel many bookings

  Catalog:
    GET/POST /api/trips, GET /api/trips/{id}
    GET/POST /api/organizers, PUT /api/organizers/{id}/commission
    GET/PUT  /api/settings/commission

  Settlements:
    GET    /api/settlements                   List (organizer_id, status) with summary
    GET    /api/settlements/{key}             One settlement
    POST   /api/settlements/{key}/process     Attach invoice, move to processing
    POST   /api/settlements/{key}/utr         Record UTR, move to paid

  Audit:
    GET    /api/audit-logs                    entity_type, entity_id, action, limit

ACTORS:
  The caller identifies itself with X-Actor-Name and X-Actor-Role headers.
  Authentication happens in front of this service; the services check roles.
  Organizers listing settlements only see their own.

ERROR HANDLING:
  Errors are returned as JSON {error, details, code}:
  - 400: Validation errors, malformed body or key
  - 403: Role may not perform the action
  - 404: Booking, trip, organizer or settlement not found
  - 409: Invalid transition ("action no longer valid, please refresh"),
         concurrent modification, duplicate id
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/trip-settlements/audit"
	"github.com/warp/trip-settlements/booking"
	"github.com/warp/trip-settlements/catalog"
	"github.com/warp/trip-settlements/factory"
	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/payout"
	"github.com/warp/trip-settlements/settlement"
)

const (
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"

	defaultAuditLimit = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options configures NewHandler.
type Options struct {
	DefaultRate decimal.Decimal
	CacheTTL    time.Duration
	Clock       ledger.Clock
	Logger      *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxStore
	Bookings    *booking.Service
	Catalog     *catalog.Service
	Aggregator  *settlement.Aggregator
	Settlements *settlement.Cache
	Payouts     *payout.Workflow
	Trail       *audit.Trail
	Factory     *factory.CatalogFactory
	Logger      *zap.Logger
	Clock       ledger.Clock

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services over one store. Every committed mutation
// invalidates the settlement cache.
func NewHandler(st ledger.TxStore, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	trail := audit.NewTrail(st)
	trail.Clock = opts.Clock

	agg := settlement.NewAggregator(st, opts.DefaultRate, logger.Named("settlement"))
	agg.Clock = opts.Clock
	cache := settlement.NewCache(agg, opts.CacheTTL)
	cache.Clock = opts.Clock

	bookings := booking.NewService(st, trail, logger.Named("booking"))
	bookings.Clock = opts.Clock
	bookings.OnChange = cache.Invalidate

	cat := catalog.NewService(st, trail, opts.DefaultRate, logger.Named("catalog"))
	cat.Clock = opts.Clock
	cat.OnChange = cache.Invalidate

	payouts := payout.NewWorkflow(st, agg, trail, logger.Named("payout"))
	payouts.Clock = opts.Clock
	payouts.OnChange = cache.Invalidate

	return &Handler{
		Store:       st,
		Bookings:    bookings,
		Catalog:     cat,
		Aggregator:  agg,
		Settlements: cache,
		Payouts:     payouts,
		Trail:       trail,
		Factory:     factory.NewCatalogFactory(),
		Logger:      logger,
		Clock:       opts.Clock,
	}
}

// actorFrom reads the caller identity headers.
func actorFrom(r *http.Request) ledger.Actor {
	return ledger.Actor{
		Name: r.Header.Get(HeaderActorName),
		Role: ledger.Role(r.Header.Get(HeaderActorRole)),
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking reserves seats on a batch.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Bookings.CreateBooking(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// ListBookings returns bookings matching the query filters.
// GET /api/bookings
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.BookingFilter{
		TripID:        ledger.TripID(q.Get("trip_id")),
		BatchID:       ledger.BatchID(q.Get("batch_id")),
		OrganizerID:   ledger.OrganizerID(q.Get("organizer_id")),
		TravelerID:    ledger.TravelerID(q.Get("traveler_id")),
		PaymentStatus: ledger.PaymentStatus(q.Get("payment_status")),
		RefundStatus:  ledger.RefundStatus(q.Get("refund_status")),
	}
	bookings, err := h.Bookings.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// GetBooking returns a single booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.Get(r.Context(), ledger.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// UpdateBooking moves the payment axis.
// PUT /api/bookings/{id}
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookingRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Bookings.ApplyPaymentStatus(r.Context(), actorFrom(r),
		ledger.BookingID(chi.URLParam(r, "id")), ledger.PaymentStatus(req.PaymentStatus), req.CancellationReason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// RefundAction drives the refund axis.
// POST /api/bookings/{id}/refund?action=request|approve|reject|process|admin-reject
func (h *Handler) RefundAction(w http.ResponseWriter, r *http.Request) {
	var req RefundActionRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)
	id := ledger.BookingID(chi.URLParam(r, "id"))

	var (
		b   *ledger.Booking
		err error
	)
	switch action := r.URL.Query().Get("action"); action {
	case "request":
		b, err = h.Bookings.RequestRefund(ctx, actor, id, req.Reason)
	case "approve":
		if req.Amount == nil {
			err = &ledger.ValidationError{Field: "amount", Message: "is required"}
			break
		}
		b, err = h.Bookings.ApproveRefund(ctx, actor, id, *req.Amount, req.Remarks)
	case "reject":
		b, err = h.Bookings.RejectRefund(ctx, actor, id, req.Remarks)
	case "process":
		b, err = h.Bookings.ProcessRefund(ctx, actor, id)
	case "admin-reject":
		b, err = h.Bookings.AdminRejectRefund(ctx, actor, id, req.Remarks)
	default:
		err = &ledger.ValidationError{Field: "action", Message: "unknown refund action " + strconv.Quote(action)}
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// BulkCancel cancels each listed booking independently.
// POST /api/bookings/bulk-cancel
func (h *Handler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	var req BulkCancelRequest
	if !decode(w, r, &req) {
		return
	}
	ids := make([]ledger.BookingID, len(req.BookingIDs))
	for i, id := range req.BookingIDs {
		ids[i] = ledger.BookingID(id)
	}
	results, err := h.Bookings.BulkCancel(r.Context(), actorFrom(r), ids, req.Remarks)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]BulkResultDTO, len(results))
	for i, res := range results {
		out[i] = BulkResultDTO{ID: string(res.ID)}
		if res.Err != nil {
			_, out[i].Code, _ = classify(res.Err)
			out[i].Error = res.Err.Error()
			continue
		}
		dto := toBookingDTO(*res.Booking)
		out[i].Booking = &dto
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListTrips returns all trips with their batches.
// GET /api/trips
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.Catalog.ListTrips(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]factory.TripJSON, len(trips))
	for i, t := range trips {
		out[i] = h.Factory.TripToJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTrip returns one trip.
// GET /api/trips/{id}
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.Catalog.GetTrip(r.Context(), ledger.TripID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.TripToJSON(*t))
}

// SaveTrip creates or replaces a trip from its JSON definition.
// POST /api/trips
func (h *Handler) SaveTrip(w http.ResponseWriter, r *http.Request) {
	var tj factory.TripJSON
	if !decode(w, r, &tj) {
		return
	}
	trip, err := h.Factory.TripFromJSON(tj)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Catalog.SaveTrip(r.Context(), actorFrom(r), *trip); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.TripToJSON(*trip))
}

// ListOrganizers returns all organizers.
// GET /api/organizers
func (h *Handler) ListOrganizers(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.Catalog.ListOrganizers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]factory.OrganizerJSON, len(orgs))
	for i, o := range orgs {
		out[i] = h.Factory.OrganizerToJSON(o)
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveOrganizer creates or replaces an organizer.
// POST /api/organizers
func (h *Handler) SaveOrganizer(w http.ResponseWriter, r *http.Request) {
	var oj factory.OrganizerJSON
	if !decode(w, r, &oj) {
		return
	}
	org, err := h.Factory.OrganizerFromJSON(oj)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Catalog.SaveOrganizer(r.Context(), actorFrom(r), *org); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.OrganizerToJSON(*org))
}

// SetOrganizerCommission sets or clears an organizer override.
// PUT /api/organizers/{id}/commission
func (h *Handler) SetOrganizerCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionRequest
	if !decode(w, r, &req) {
		return
	}
	org, err := h.Catalog.SetOrganizerCommission(r.Context(), actorFrom(r),
		ledger.OrganizerID(chi.URLParam(r, "id")), req.CommissionRate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.OrganizerToJSON(*org))
}

// GetCommission returns the platform rate.
// GET /api/settings/commission
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	rate, err := h.Catalog.GlobalRate(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommissionDTO{CommissionRate: rate})
}

// SetCommission changes the platform rate.
// PUT /api/settings/commission
func (h *Handler) SetCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CommissionRate == nil {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "commission_rate", Message: "is required"})
		return
	}
	if err := h.Catalog.SetGlobalRate(r.Context(), actorFrom(r), *req.CommissionRate); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommissionDTO{CommissionRate: *req.CommissionRate})
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListSettlements returns visible settlements and totals.
// GET /api/settlements?organizer_id=&status=
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := settlement.Filter{
		OrganizerID: ledger.OrganizerID(q.Get("organizer_id")),
		Status:      ledger.PayoutStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "status", Message: "unknown payout status " + string(filter.Status)})
		return
	}
	if actor := actorFrom(r); actor.Is(ledger.RoleOrganizer) {
		filter.OrganizerID = ledger.OrganizerID(actor.Name)
	}

	result, err := h.Settlements.Compute(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	visible := filter.Apply(result.Settlements)
	out := make([]SettlementDTO, len(visible))
	for i, s := range visible {
		out[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, SettlementListResponse{
		Settlements: out,
		Summary:     toSummaryDTO(settlement.Summarize(visible, filter.Suppressed(result))),
		ComputedAt:  result.ComputedAt,
	})
}

// GetSettlement returns one visible settlement.
// GET /api/settlements/{key}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	key, ok := h.settlementKey(w, r)
	if !ok {
		return
	}
	result, err := h.Settlements.Compute(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, found := result.Lookup(key)
	if !found {
		h.writeDomainError(w, r, &ledger.NotFoundError{Entity: ledger.EntitySettlement, ID: string(key)})
		return
	}
	if actor := actorFrom(r); actor.Is(ledger.RoleOrganizer) && s.OrganizerID != ledger.OrganizerID(actor.Name) {
		h.writeDomainError(w, r, &ledger.ForbiddenError{Actor: actor, Action: "view another organizer's settlement"})
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// ProcessPayout attaches an invoice and moves the payout to processing.
// POST /api/settlements/{key}/process
func (h *Handler) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	key, ok := h.settlementKey(w, r)
	if !ok {
		return
	}
	var req ProcessPayoutRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Payouts.ProcessPayout(r.Context(), actorFrom(r), key, req.InvoiceURL)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(rec))
}

// SubmitUTR records the transfer reference and marks the payout paid.
// POST /api/settlements/{key}/utr
func (h *Handler) SubmitUTR(w http.ResponseWriter, r *http.Request) {
	key, ok := h.settlementKey(w, r)
	if !ok {
		return
	}
	var req SubmitUTRRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Payouts.SubmitUTR(r.Context(), actorFrom(r), key, req.UTRNumber)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(rec))
}

func (h *Handler) settlementKey(w http.ResponseWriter, r *http.Request) (ledger.SettlementKey, bool) {
	key := ledger.SettlementKey(chi.URLParam(r, "key"))
	if _, _, err := ledger.ParseSettlementKey(key); err != nil {
		h.writeDomainError(w, r, err)
		return "", false
	}
	return key, true
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditLogs returns audit entries, newest first.
// GET /api/audit-logs?entity_type=&entity_id=&action=&limit=
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AuditFilter{
		EntityType: ledger.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Action:     ledger.AuditAction(q.Get("action")),
		Limit:      defaultAuditLimit,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = n
	}
	entries, err := h.Trail.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// Healthz reports whether the store answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.Store.GetSettings(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", "unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request", err)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints where the body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request", err)
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// classify maps a service error to a status, a stable code and a message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "action no longer valid, please refresh"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "record changed concurrently, please retry"
	case errors.Is(err, ledger.ErrDuplicateID):
		return http.StatusConflict, "duplicate", "record already exists"
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation", "validation failed"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, message, code, nil)
		return
	}
	writeError(w, status, message, code, err)
}

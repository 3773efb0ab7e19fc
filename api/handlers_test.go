/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Error mapping (409 invalid transition, 400 validation, 404, 403)
- Refund actions through the router
- Settlement listing, suppression and payout endpoints
- Catalog writes invalidating cached settlements
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/ledger/store"
)

var testNow = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := NewHandler(store.NewMemory(), Options{
		DefaultRate: ledger.NewMoney(10),
		CacheTTL:    time.Hour,
		Clock:       ledger.FixedClock(testNow),
	})
	require.NoError(t, h.loadScenario(context.Background(), "completed-batch"))
	return &testServer{t: t, handler: h, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, actor ledger.Actor, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.Role != "" {
		req.Header.Set(HeaderActorName, actor.Name)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	adminActor     = ledger.Actor{Name: "asha", Role: ledger.RoleAdmin}
	organizerActor = ledger.Actor{Name: "org-himalaya", Role: ledger.RoleOrganizer}
	travelerActor  = ledger.Actor{Name: "trv-bk-hp-1", Role: ledger.RoleTraveler}
)

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestListSettlements_CompletedBatch(t *testing.T) {
	// GIVEN: The completed-batch scenario
	s := newTestServer(t)

	// WHEN: Listing settlements
	rec := s.do(http.MethodGet, "/api/settlements", adminActor, nil)

	// THEN: One settlement, 3000 / 300 / 2700
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[SettlementListResponse](t, rec)
	require.Len(t, resp.Settlements, 1)
	got := resp.Settlements[0]
	assert.Equal(t, "hampta-pass::done", got.Key)
	assert.True(t, got.GrossRevenue.Equal(ledger.NewMoney(3000)))
	assert.True(t, got.Commission.Equal(ledger.NewMoney(300)))
	assert.True(t, got.NetEarning.Equal(ledger.NewMoney(2700)))
	assert.Equal(t, string(ledger.PayoutAvailable), got.Status)
	assert.True(t, resp.Summary.Outstanding.Equal(ledger.NewMoney(2700)))
	assert.Equal(t, 0, resp.Summary.Suppressed)
}

func TestRefundRequest_HidesSettlementUntilResolved(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/settlements", adminActor, nil) // warm the cache

	// WHEN: The traveler requests a refund
	rec := s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=request", travelerActor, RefundActionRequest{Reason: "ill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "requested", decodeBody[BookingDTO](t, rec).Refund.Status)

	// THEN: The batch disappears and payouts cannot start
	resp := decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", adminActor, nil))
	assert.Empty(t, resp.Settlements)
	assert.Equal(t, 1, resp.Summary.Suppressed)
	rec = s.do(http.MethodPost, "/api/settlements/hampta-pass::done/process", adminActor, ProcessPayoutRequest{InvoiceURL: "inv"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// WHEN: The organizer rejects it
	rec = s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=reject", organizerActor, RefundActionRequest{Remarks: "no refunds after departure"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: It is back
	resp = decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", adminActor, nil))
	assert.Len(t, resp.Settlements, 1)
}

func TestRefundActions_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		actor  ledger.Actor
		body   any
		status int
		code   string
	}{
		{"process without approval", "/api/bookings/bk-hp-1/refund?action=process", adminActor, nil, http.StatusConflict, "invalid_transition"},
		{"reject without remarks", "/api/bookings/bk-hp-1/refund?action=reject", organizerActor, RefundActionRequest{}, http.StatusBadRequest, "validation"},
		{"approve without amount", "/api/bookings/bk-hp-1/refund?action=approve", organizerActor, RefundActionRequest{Remarks: "ok"}, http.StatusBadRequest, "validation"},
		{"unknown action", "/api/bookings/bk-hp-1/refund?action=refund-now", adminActor, nil, http.StatusBadRequest, "validation"},
		{"unknown booking", "/api/bookings/bk-404/refund?action=request", adminActor, RefundActionRequest{}, http.StatusNotFound, "not_found"},
		{"organizer cannot process", "/api/bookings/bk-hp-1/refund?action=process", organizerActor, nil, http.StatusForbidden, "forbidden"},
		{"other traveler", "/api/bookings/bk-hp-2/refund?action=request", travelerActor, RefundActionRequest{}, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	rec := s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=process", adminActor, nil)
	assert.Equal(t, "action no longer valid, please refresh", decodeBody[ErrorResponse](t, rec).Error)
}

func TestRefundProcess_ChunkedEmptyBody(t *testing.T) {
	// GIVEN: An approved refund
	s := newTestServer(t)
	amount := ledger.NewMoney(500)
	rec := s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=request", travelerActor, RefundActionRequest{Reason: "ill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=approve", organizerActor, RefundActionRequest{Amount: &amount})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: The admin processes it with a chunked request carrying no body
	req := httptest.NewRequest(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=process", io.MultiReader())
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set(HeaderActorName, adminActor.Name)
	req.Header.Set(HeaderActorRole, string(adminActor.Role))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	// THEN: The empty body is accepted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(ledger.RefundProcessed), decodeBody[BookingDTO](t, rec).Refund.Status)

	// Malformed bodies are still rejected
	rec = s.do(http.MethodPost, "/api/bookings/bk-hp-2/refund?action=request", adminActor, "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayoutEndpoints(t *testing.T) {
	s := newTestServer(t)
	key := "/api/settlements/hampta-pass::done"

	rec := s.do(http.MethodPost, key+"/utr", adminActor, SubmitUTRRequest{UTRNumber: "UTR1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, key+"/process", adminActor, ProcessPayoutRequest{InvoiceURL: "https://inv/1.pdf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(ledger.PayoutProcessing), decodeBody[PayoutDTO](t, rec).Status)

	rec = s.do(http.MethodPost, key+"/process", adminActor, ProcessPayoutRequest{InvoiceURL: "https://inv/2.pdf"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, key+"/utr", adminActor, SubmitUTRRequest{UTRNumber: "UTR1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, key, adminActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[SettlementDTO](t, rec)
	assert.Equal(t, string(ledger.PayoutPaid), got.Status)
	require.NotNil(t, got.Payout)
	assert.Equal(t, "https://inv/1.pdf", got.Payout.InvoiceURL)
	assert.Equal(t, "UTR1", got.Payout.UTRNumber)

	rec = s.do(http.MethodGet, "/api/settlements/no-separator", adminActor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, key+"/process", organizerActor, ProcessPayoutRequest{InvoiceURL: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListSettlements_OrganizerSeesOwnOnly(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/settlements", ledger.Actor{Name: "org-other", Role: ledger.RoleOrganizer}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[SettlementListResponse](t, rec).Settlements)

	rec = s.do(http.MethodGet, "/api/settlements?status=paid", adminActor, nil)
	assert.Empty(t, decodeBody[SettlementListResponse](t, rec).Settlements)
	rec = s.do(http.MethodGet, "/api/settlements?status=bogus", adminActor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSettlements_SuppressedCountIsPerOrganizer(t *testing.T) {
	// GIVEN: org-himalaya's batch is disputed
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/bookings/bk-hp-1/refund?action=request", travelerActor, RefundActionRequest{Reason: "ill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Each party lists settlements
	own := decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", organizerActor, nil))
	other := decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", ledger.Actor{Name: "org-other", Role: ledger.RoleOrganizer}, nil))
	all := decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", adminActor, nil))

	// THEN: Only the owner and the admin see the dispute counted
	assert.Equal(t, 1, own.Summary.Suppressed)
	assert.Equal(t, 0, other.Summary.Suppressed)
	assert.Equal(t, 1, all.Summary.Suppressed)
}

// =============================================================================
// CATALOG & BOOKINGS
// =============================================================================

func TestCommissionChange_InvalidatesCache(t *testing.T) {
	// GIVEN: A cached settlement at 10%
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/settlements", adminActor, nil)

	// WHEN: The organizer gets a 5% override
	rec := s.do(http.MethodPut, "/api/organizers/org-himalaya/commission", adminActor, map[string]string{"commission_rate": "5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The next read uses it despite the hour-long TTL
	resp := decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", adminActor, nil))
	require.Len(t, resp.Settlements, 1)
	assert.True(t, resp.Settlements[0].Commission.Equal(ledger.NewMoney(150)))

	// WHEN: The platform rate changes, the override still wins
	rec = s.do(http.MethodPut, "/api/settings/commission", adminActor, map[string]string{"commission_rate": "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeBody[SettlementListResponse](t, s.do(http.MethodGet, "/api/settlements", adminActor, nil))
	assert.True(t, resp.Settlements[0].Commission.Equal(ledger.NewMoney(150)))

	rec = s.do(http.MethodGet, "/api/settings/commission", adminActor, nil)
	assert.True(t, decodeBody[CommissionDTO](t, rec).CommissionRate.Equal(ledger.NewMoney(20)))

	logs := decodeBody[[]AuditEntryDTO](t, s.do(http.MethodGet, "/api/audit-logs?entity_type=settings", adminActor, nil))
	require.Len(t, logs, 1)
	assert.Equal(t, string(ledger.AuditCommissionChanged), logs[0].Action)
}

func TestCreateAndCancelBooking(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/bookings", ledger.Actor{Name: "trv-new", Role: ledger.RoleTraveler}, CreateBookingRequest{
		TripID: "hampta-pass", BatchID: "next", TravelerID: "trv-new", Travelers: 2, PaymentType: "full",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[BookingDTO](t, rec)
	assert.True(t, created.TotalPrice.Equal(ledger.NewMoney(2000)))
	assert.Equal(t, "paid_in_full", created.PaymentStatus)

	rec = s.do(http.MethodPut, "/api/bookings/"+created.ID, adminActor, UpdateBookingRequest{PaymentStatus: "cancelled", CancellationReason: "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[BookingDTO](t, rec).PaymentStatus)

	rec = s.do(http.MethodPut, "/api/bookings/"+created.ID, adminActor, UpdateBookingRequest{PaymentStatus: "reserved"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeBody[[]BookingDTO](t, s.do(http.MethodGet, "/api/bookings?batch_id=next&payment_status=cancelled", adminActor, nil))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestBulkCancel_PartialFailure(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/bookings/bulk-cancel", adminActor, BulkCancelRequest{
		BookingIDs: []string{"bk-hp-1", "bk-404"}, Remarks: "batch called off",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decodeBody[[]BulkResultDTO](t, rec)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Booking)
	assert.Equal(t, "cancelled", results[0].Booking.PaymentStatus)
	assert.Equal(t, "not_found", results[1].Code)
}

func TestTrips_CreateAndGet(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"id": "triund", "organizer_id": "org-himalaya", "title": "Triund", "base_price": "800",
		"batches": []map[string]any{{"id": "oct", "start_date": "2025-10-01", "end_date": "2025-10-02", "available_slots": 5}},
	}

	rec := s.do(http.MethodPost, "/api/trips", adminActor, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/trips/triund", adminActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Triund", decodeBody[map[string]any](t, rec)["title"])

	rec = s.do(http.MethodPost, "/api/trips", organizerActor, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodGet, "/api/trips/nope", adminActor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", ledger.Actor{}, nil).Code)
	rec := s.do(http.MethodGet, "/metrics", ledger.Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "booking_transitions_total")
}

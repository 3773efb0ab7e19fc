/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic data
	for demos. Each scenario creates organizers and trips through the catalog
	factory, imports bookings for batches that already ran, then drives the
	services (refunds, cancellations, payouts) to reach the state it shows.

AVAILABLE SCENARIOS:

	completed-batch:    1000 + 2000 paid at 10% -> 3000 / 300 / 2700
	open-dispute:       a second batch hidden by a pending refund request
	organizer-override: 7.5% override and a cancelled booking's deposit
	payout-in-progress: one payout processing, one paid

DATES:

	All dates are relative to the handler clock, so completed batches stay
	completed whenever the scenario is loaded.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "open-dispute"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/catalog.go: Trip and organizer JSON
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/trip-settlements/booking"
	"github.com/warp/trip-settlements/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "completed-batch",
		Name:        "Completed Batch",
		Description: "Two paid bookings on a finished batch at the 10% platform rate",
	},
	{
		ID:          "open-dispute",
		Name:        "Open Dispute",
		Description: "A pending refund request hides its batch from settlements",
	},
	{
		ID:          "organizer-override",
		Name:        "Organizer Override",
		Description: "Organizer with a 7.5% commission and a cancelled booking",
	},
	{
		ID:          "payout-in-progress",
		Name:        "Payout In Progress",
		Description: "One settlement processing, one paid with UTR",
	},
}

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
}

// ResetDatabase drops all data and re-seeds platform settings.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"completed-batch":    h.loadCompletedBatchScenario,
		"open-dispute":       h.loadOpenDisputeScenario,
		"organizer-override": h.loadOrganizerOverrideScenario,
		"payout-in-progress": h.loadPayoutInProgressScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return &ledger.ValidationError{Field: "scenario_id", Message: "unknown scenario " + id}
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.Settlements.Invalidate()
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return h.Catalog.EnsureSettings(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadCompletedBatchScenario:
//
//	hampta-pass::done  ended 3 days ago, 1000 + 2000 paid_in_full
//	hampta-pass::next  starts in 20 days, one partial booking
func (h *Handler) loadCompletedBatchScenario(ctx context.Context) error {
	now := h.Clock.Now()
	if err := h.saveOrganizer(ctx, `{"id":"org-himalaya","name":"Himalaya Treks"}`); err != nil {
		return err
	}
	if err := h.saveTrip(ctx, fmt.Sprintf(`{
		"id": "hampta-pass", "organizer_id": "org-himalaya", "title": "Hampta Pass Trek", "base_price": "1000",
		"batches": [
			{"id": "done", "start_date": %q, "end_date": %q, "available_slots": 0},
			{"id": "next", "start_date": %q, "end_date": %q, "available_slots": 10}
		]}`,
		day(now, -10), day(now, -3), day(now, 20), day(now, 25))); err != nil {
		return err
	}
	if err := h.importPaid(ctx, "hampta-pass", "done", "org-himalaya", map[string]float64{
		"bk-hp-1": 1000,
		"bk-hp-2": 2000,
	}); err != nil {
		return err
	}
	_, err := h.Bookings.CreateBooking(ctx, ledger.SystemActor, bookingInput("hampta-pass", "next", "trv-meera", ledger.PaymentPartial, 300))
	return err
}

// loadOpenDisputeScenario adds kedarkantha::done whose traveler asked for a
// refund. It stays hidden until the refund is resolved.
func (h *Handler) loadOpenDisputeScenario(ctx context.Context) error {
	if err := h.loadCompletedBatchScenario(ctx); err != nil {
		return err
	}
	now := h.Clock.Now()
	if err := h.saveTrip(ctx, fmt.Sprintf(`{
		"id": "kedarkantha", "organizer_id": "org-himalaya", "title": "Kedarkantha Winter Trek", "base_price": "1500",
		"batches": [{"id": "done", "start_date": %q, "end_date": %q, "available_slots": 0}]}`,
		day(now, -9), day(now, -2))); err != nil {
		return err
	}
	if err := h.importPaid(ctx, "kedarkantha", "done", "org-himalaya", map[string]float64{
		"bk-kk-1": 1500,
		"bk-kk-2": 2500,
	}); err != nil {
		return err
	}
	traveler := ledger.Actor{Name: "trv-bk-kk-2", Role: ledger.RoleTraveler}
	_, err := h.Bookings.RequestRefund(ctx, traveler, "bk-kk-2", "Trek cut short by weather")
	return err
}

// loadOrganizerOverrideScenario:
//
//	rajmachi::done  4000 paid + a cancelled booking that had paid 1500
//	gross 5500, 7.5% -> commission 412.50, net 5087.50
func (h *Handler) loadOrganizerOverrideScenario(ctx context.Context) error {
	now := h.Clock.Now()
	if err := h.saveOrganizer(ctx, `{"id":"org-sahyadri","name":"Sahyadri Trails","commission_rate":"7.5"}`); err != nil {
		return err
	}
	if err := h.saveTrip(ctx, fmt.Sprintf(`{
		"id": "rajmachi", "organizer_id": "org-sahyadri", "title": "Rajmachi Fireflies", "base_price": "2000",
		"batches": [{"id": "done", "start_date": %q, "end_date": %q, "available_slots": 0}]}`,
		day(now, -6), day(now, -4))); err != nil {
		return err
	}
	if err := h.importPaid(ctx, "rajmachi", "done", "org-sahyadri", map[string]float64{"bk-rj-1": 4000}); err != nil {
		return err
	}
	partial := historical("bk-rj-2", "rajmachi", "done", "org-sahyadri", 3000, now)
	partial.PaymentType = ledger.PaymentPartial
	partial.PaymentStatus = ledger.PaymentReserved
	partial.AmountPaid = ledger.NewMoney(1500)
	partial.BalanceDue = ledger.NewMoney(1500)
	if _, err := h.Bookings.Import(ctx, ledger.SystemActor, partial); err != nil {
		return fmt.Errorf("failed to import booking: %w", err)
	}
	_, err := h.Bookings.Cancel(ctx, ledger.SystemActor, "bk-rj-2", "Traveler did not pay the balance")
	return err
}

// loadPayoutInProgressScenario:
//
//	hampta-pass::jun  processing with invoice
//	hampta-pass::jul  paid with UTR
func (h *Handler) loadPayoutInProgressScenario(ctx context.Context) error {
	now := h.Clock.Now()
	if err := h.saveOrganizer(ctx, `{"id":"org-himalaya","name":"Himalaya Treks"}`); err != nil {
		return err
	}
	if err := h.saveTrip(ctx, fmt.Sprintf(`{
		"id": "hampta-pass", "organizer_id": "org-himalaya", "title": "Hampta Pass Trek", "base_price": "1000",
		"batches": [
			{"id": "jun", "start_date": %q, "end_date": %q, "available_slots": 0},
			{"id": "jul", "start_date": %q, "end_date": %q, "available_slots": 0}
		]}`,
		day(now, -60), day(now, -55), day(now, -30), day(now, -25))); err != nil {
		return err
	}
	if err := h.importPaid(ctx, "hampta-pass", "jun", "org-himalaya", map[string]float64{"bk-jun-1": 1000, "bk-jun-2": 1000}); err != nil {
		return err
	}
	if err := h.importPaid(ctx, "hampta-pass", "jul", "org-himalaya", map[string]float64{"bk-jul-1": 5000}); err != nil {
		return err
	}

	if _, err := h.Payouts.ProcessPayout(ctx, ledger.SystemActor, "hampta-pass::jun", "https://invoices.example.com/hampta-jun.pdf"); err != nil {
		return err
	}
	if _, err := h.Payouts.ProcessPayout(ctx, ledger.SystemActor, "hampta-pass::jul", "https://invoices.example.com/hampta-jul.pdf"); err != nil {
		return err
	}
	_, err := h.Payouts.SubmitUTR(ctx, ledger.SystemActor, "hampta-pass::jul", "UTR20250731001")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) saveOrganizer(ctx context.Context, js string) error {
	org, err := h.Factory.ParseOrganizer(js)
	if err != nil {
		return err
	}
	return h.Catalog.SaveOrganizer(ctx, ledger.SystemActor, *org)
}

func (h *Handler) saveTrip(ctx context.Context, js string) error {
	trip, err := h.Factory.ParseTrip(js)
	if err != nil {
		return err
	}
	return h.Catalog.SaveTrip(ctx, ledger.SystemActor, *trip)
}

// importPaid records fully paid bookings for a batch that already ran.
// CreateBooking only accepts batches that have not started.
func (h *Handler) importPaid(ctx context.Context, trip, batch, org string, totals map[string]float64) error {
	now := h.Clock.Now()
	for id, total := range totals {
		if _, err := h.Bookings.Import(ctx, ledger.SystemActor, historical(id, trip, batch, org, total, now)); err != nil {
			return fmt.Errorf("failed to import booking %s: %w", id, err)
		}
	}
	return nil
}

func historical(id, trip, batch, org string, total float64, now time.Time) ledger.Booking {
	created := now.AddDate(0, -1, 0)
	return ledger.Booking{
		ID:            ledger.BookingID(id),
		TripID:        ledger.TripID(trip),
		BatchID:       ledger.BatchID(batch),
		OrganizerID:   ledger.OrganizerID(org),
		TravelerID:    ledger.TravelerID("trv-" + id),
		TravelerName:  "Traveler " + id,
		Travelers:     1,
		TotalPrice:    ledger.NewMoney(total),
		AmountPaid:    ledger.NewMoney(total),
		BalanceDue:    ledger.NewMoney(0),
		PaymentType:   ledger.PaymentFull,
		PaymentStatus: ledger.PaymentPaidInFull,
		Refund:        ledger.Refund{Status: ledger.RefundNone},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func day(now time.Time, offset int) string {
	return now.AddDate(0, 0, offset).Format(ledger.DateLayout)
}

func bookingInput(trip, batch, traveler string, pt ledger.PaymentType, deposit float64) booking.CreateInput {
	return booking.CreateInput{
		TripID:       ledger.TripID(trip),
		BatchID:      ledger.BatchID(batch),
		TravelerID:   ledger.TravelerID(traveler),
		TravelerName: traveler,
		Travelers:    1,
		PaymentType:  pt,
		AmountPaid:   ledger.NewMoney(deposit),
	}
}

package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-settlements/booking"
	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	now       = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	admin     = ledger.Actor{Name: "asha", Role: ledger.RoleAdmin}
	organizer = ledger.Actor{Name: "org-1", Role: ledger.RoleOrganizer}
	traveler  = ledger.Actor{Name: "trv-1", Role: ledger.RoleTraveler}
)

func newService(t *testing.T) (*booking.Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	svc := booking.NewService(st, nil, nil)
	svc.Clock = ledger.FixedClock(now)
	svc.NewID = func() string { return "fixed" }
	return svc, st
}

func seedBooking(t *testing.T, st *store.Memory, id string, status ledger.PaymentStatus, total, paid float64) {
	t.Helper()
	require.NoError(t, st.InsertBooking(context.Background(), ledger.Booking{
		ID:            ledger.BookingID(id),
		TripID:        "trip-1",
		BatchID:       "batch-1",
		OrganizerID:   "org-1",
		TravelerID:    "trv-1",
		TravelerName:  "Ravi",
		Travelers:     1,
		TotalPrice:    ledger.NewMoney(total),
		AmountPaid:    ledger.NewMoney(paid),
		BalanceDue:    ledger.NewMoney(total - paid),
		PaymentType:   ledger.PaymentFull,
		PaymentStatus: status,
		Refund:        ledger.Refund{Status: ledger.RefundNone},
	}))
}

func seedTrip(t *testing.T, st *store.Memory, slots int) {
	t.Helper()
	require.NoError(t, st.SaveTrip(context.Background(), ledger.Trip{
		ID:          "trip-1",
		OrganizerID: "org-1",
		Title:       "Spiti Valley",
		BasePrice:   ledger.NewMoney(1500),
		Batches: []ledger.Batch{{
			ID:             "batch-1",
			TripID:         "trip-1",
			StartDate:      ledger.Date(2025, time.July, 1),
			EndDate:        ledger.Date(2025, time.July, 8),
			AvailableSlots: slots,
			Status:         ledger.BatchActive,
		}},
	}))
}

// =============================================================================
// REFUND AXIS
// =============================================================================

func TestRefund_FullPath_ProcessedCancelsBooking(t *testing.T) {
	// GIVEN: A paid booking
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)

	// WHEN: Request → approve → process
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "family emergency")
	require.NoError(t, err)
	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(800), "80% per policy")
	require.NoError(t, err)
	b, err := svc.ProcessRefund(ctx, admin, "bk-1")
	require.NoError(t, err)

	// THEN: Refund processed, booking cancelled, token issued
	assert.Equal(t, ledger.RefundProcessed, b.Refund.Status)
	assert.Equal(t, ledger.PaymentCancelled, b.PaymentStatus)
	assert.Equal(t, "RFD-FIXED", b.Refund.UTR)
	assert.True(t, b.Refund.ApprovedAmount.Equal(ledger.NewMoney(800)))
	assert.Equal(t, "80% per policy", b.CancellationReason)
	require.NotNil(t, b.Refund.ProcessedAt)
	assert.Equal(t, now, *b.Refund.ProcessedAt)
	assert.Equal(t, int64(3), b.Version)

	stored, err := svc.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, *b, *stored)

	// Three audit entries, newest first
	entries, err := st.QueryAudit(ctx, ledger.AuditFilter{EntityID: "bk-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRefund_ShortcutProcessFails(t *testing.T) {
	// GIVEN: A booking with a refund only requested
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)

	// WHEN: Processing directly
	_, err = svc.ProcessRefund(ctx, admin, "bk-1")

	// THEN: Invalid transition, booking untouched
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	var te *ledger.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "requested", te.From)
	assert.Equal(t, "processed", te.To)

	b, _ := svc.Get(ctx, "bk-1")
	assert.Equal(t, ledger.RefundRequested, b.Refund.Status)
	assert.Equal(t, ledger.PaymentPaidInFull, b.PaymentStatus)
}

func TestRefund_ProcessWithoutRequestFails(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)

	_, err := svc.ProcessRefund(ctx, admin, "bk-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestRejectRefund_EmptyRemarks_NoMutation(t *testing.T) {
	// GIVEN: A requested refund
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	before, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)
	auditBefore, _ := st.QueryAudit(ctx, ledger.AuditFilter{})

	// WHEN: Rejecting with blank remarks
	_, err = svc.RejectRefund(ctx, organizer, "bk-1", "  ")

	// THEN: ValidationError; booking and audit log unchanged
	require.ErrorIs(t, err, ledger.ErrValidation)
	var ve *ledger.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "remarks", ve.Field)

	after, _ := svc.Get(ctx, "bk-1")
	assert.Equal(t, *before, *after)
	auditAfter, _ := st.QueryAudit(ctx, ledger.AuditFilter{})
	assert.Len(t, auditAfter, len(auditBefore))
}

func TestRejectRefund_ThenRequestAgain(t *testing.T) {
	// GIVEN: An organizer-rejected refund
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)
	b, err := svc.RejectRefund(ctx, organizer, "bk-1", "non-refundable window")
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundRejectedByOrganizer, b.Refund.Status)
	assert.Equal(t, "non-refundable window", b.Refund.RejectionReason)

	// WHEN: The traveler requests again
	b, err = svc.RequestRefund(ctx, traveler, "bk-1", "doctor's note attached")

	// THEN: A fresh request, previous outcome cleared
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundRequested, b.Refund.Status)
	assert.Empty(t, b.Refund.RejectionReason)
	assert.Equal(t, "doctor's note attached", b.Refund.Reason)
}

func TestAdminRejectRefund(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)

	// Not allowed before organizer approval
	_, err = svc.AdminRejectRefund(ctx, admin, "bk-1", "fraud")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(1000), "")
	require.NoError(t, err)

	_, err = svc.AdminRejectRefund(ctx, admin, "bk-1", "")
	require.ErrorIs(t, err, ledger.ErrValidation)

	b, err := svc.AdminRejectRefund(ctx, admin, "bk-1", "fraud")
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundRejectedByAdmin, b.Refund.Status)
	assert.Equal(t, ledger.PaymentPaidInFull, b.PaymentStatus)
}

func TestApproveRefund_AmountBounds(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentReserved, 1000, 400)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)

	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", decimal.Zero, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(400.01), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	b, _ := svc.Get(ctx, "bk-1")
	assert.Equal(t, ledger.RefundRequested, b.Refund.Status)

	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(400), "")
	assert.NoError(t, err)
}

func TestRefund_Roles(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)

	// Organizers cannot request, other travelers cannot request
	_, err := svc.RequestRefund(ctx, organizer, "bk-1", "x")
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = svc.RequestRefund(ctx, ledger.Actor{Name: "trv-2", Role: ledger.RoleTraveler}, "bk-1", "x")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = svc.RequestRefund(ctx, traveler, "bk-1", "x")
	require.NoError(t, err)

	// Travelers cannot approve; a different organizer cannot approve
	_, err = svc.ApproveRefund(ctx, traveler, "bk-1", ledger.NewMoney(10), "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = svc.ApproveRefund(ctx, ledger.Actor{Name: "org-2", Role: ledger.RoleOrganizer}, "bk-1", ledger.NewMoney(10), "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	// Organizers cannot process
	_, err = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(10), "")
	require.NoError(t, err)
	_, err = svc.ProcessRefund(ctx, organizer, "bk-1")
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestRefund_UnknownBooking(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.RequestRefund(context.Background(), admin, "missing", "x")
	assert.True(t, ledger.IsNotFound(err))
}

func TestApproveRefund_ConcurrentRace_OneWins(t *testing.T) {
	// GIVEN: A requested refund
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)

	// WHEN: Approve and reject race
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.ApproveRefund(ctx, organizer, "bk-1", ledger.NewMoney(500), "")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.RejectRefund(ctx, organizer, "bk-1", "no")
	}()
	wg.Wait()

	// THEN: Exactly one wins, the loser sees a stale-state error
	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrConcurrentModification), err)
	}
	assert.Equal(t, 1, successes)

	b, _ := svc.Get(ctx, "bk-1")
	assert.Equal(t, int64(2), b.Version)
}

// =============================================================================
// PAYMENT AXIS
// =============================================================================

func TestRecordBalancePayment_KeepsBalanceInvariant(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentReserved, 2000, 500)

	b, err := svc.RecordBalancePayment(ctx, admin, "bk-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentPaidInFull, b.PaymentStatus)
	assert.True(t, b.AmountPaid.Equal(ledger.NewMoney(2000)))
	assert.True(t, b.BalanceDue.IsZero())
	assert.True(t, b.Balanced())

	_, err = svc.RecordBalancePayment(ctx, admin, "bk-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestCancel_RequiresRemarks_IndependentOfRefund(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	_, err := svc.RequestRefund(ctx, traveler, "bk-1", "sick")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, admin, "bk-1", "")
	require.ErrorIs(t, err, ledger.ErrValidation)

	b, err := svc.Cancel(ctx, admin, "bk-1", "operator cancelled batch")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCancelled, b.PaymentStatus)
	assert.Equal(t, ledger.RefundRequested, b.Refund.Status)
	assert.True(t, b.Balanced())

	_, err = svc.Cancel(ctx, admin, "bk-1", "again")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestBulkCancel_PerIDResults(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	seedBooking(t, st, "bk-2", ledger.PaymentCancelled, 1000, 1000)

	results, err := svc.BulkCancel(ctx, admin, []ledger.BookingID{"bk-1", "bk-2", "bk-3"}, "weather")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ledger.ErrInvalidTransition)
	assert.True(t, ledger.IsNotFound(results[2].Err))

	_, err = svc.BulkCancel(ctx, admin, []ledger.BookingID{"bk-1"}, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestApplyPaymentStatus(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentReserved, 1000, 100)

	_, err := svc.ApplyPaymentStatus(ctx, admin, "bk-1", ledger.PaymentReserved, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	b, err := svc.ApplyPaymentStatus(ctx, admin, "bk-1", ledger.PaymentPaidInFull, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPaidInFull, b.PaymentStatus)

	b, err = svc.ApplyPaymentStatus(ctx, admin, "bk-1", ledger.PaymentCancelled, "duplicate booking")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCancelled, b.PaymentStatus)
	assert.Equal(t, "duplicate booking", b.CancellationReason)
}

func TestOnChange_CalledAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedBooking(t, st, "bk-1", ledger.PaymentPaidInFull, 1000, 1000)
	calls := 0
	svc.OnChange = func() { calls++ }

	_, err := svc.ProcessRefund(ctx, admin, "bk-1")
	require.Error(t, err)
	assert.Equal(t, 0, calls)

	_, err = svc.RequestRefund(ctx, traveler, "bk-1", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBooking_PricesAndDecrementsSlots(t *testing.T) {
	// GIVEN: A batch with 3 slots at 1500 per traveler
	ctx := context.Background()
	svc, st := newService(t)
	seedTrip(t, st, 3)

	// WHEN: Booking 3 travelers with a partial deposit
	b, err := svc.CreateBooking(ctx, traveler, booking.CreateInput{
		TripID:       "trip-1",
		BatchID:      "batch-1",
		TravelerID:   "trv-1",
		TravelerName: "Ravi",
		Travelers:    3,
		PaymentType:  ledger.PaymentPartial,
		AmountPaid:   ledger.NewMoney(1000),
	})

	// THEN: Priced at 4500, reserved with balance due, batch full
	require.NoError(t, err)
	assert.Equal(t, ledger.BookingID("bk-fixed"), b.ID)
	assert.True(t, b.TotalPrice.Equal(ledger.NewMoney(4500)))
	assert.True(t, b.BalanceDue.Equal(ledger.NewMoney(3500)))
	assert.Equal(t, ledger.PaymentReserved, b.PaymentStatus)
	assert.Equal(t, ledger.OrganizerID("org-1"), b.OrganizerID)
	assert.True(t, b.Balanced())

	trip, _ := st.GetTrip(ctx, "trip-1")
	assert.Equal(t, 0, trip.Batches[0].AvailableSlots)
	assert.Equal(t, ledger.BatchFull, trip.Batches[0].Status)
}

func TestCreateBooking_DealPriceAndFullPayment(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedTrip(t, st, 5)
	trip, _ := st.GetTrip(ctx, "trip-1")
	deal := ledger.NewMoney(999)
	trip.Batches[0].DealPrice = &deal
	require.NoError(t, st.SaveTrip(ctx, *trip))

	b, err := svc.CreateBooking(ctx, admin, booking.CreateInput{
		TripID: "trip-1", BatchID: "batch-1", TravelerID: "trv-9", Travelers: 2, PaymentType: ledger.PaymentFull,
	})
	require.NoError(t, err)
	assert.True(t, b.TotalPrice.Equal(ledger.NewMoney(1998)))
	assert.Equal(t, ledger.PaymentPaidInFull, b.PaymentStatus)
	assert.True(t, b.BalanceDue.IsZero())
}

func TestCreateBooking_Rejections(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedTrip(t, st, 1)

	base := booking.CreateInput{TripID: "trip-1", BatchID: "batch-1", TravelerID: "trv-1", Travelers: 1, PaymentType: ledger.PaymentFull}

	tooMany := base
	tooMany.Travelers = 2
	_, err := svc.CreateBooking(ctx, traveler, tooMany)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	noBatch := base
	noBatch.BatchID = "batch-x"
	_, err = svc.CreateBooking(ctx, traveler, noBatch)
	assert.True(t, ledger.IsNotFound(err))

	other := base
	other.TravelerID = "trv-2"
	_, err = svc.CreateBooking(ctx, traveler, other)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	deposit := base
	deposit.PaymentType = ledger.PaymentPartial
	deposit.AmountPaid = ledger.NewMoney(1500)
	_, err = svc.CreateBooking(ctx, traveler, deposit)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Nothing was persisted by the failures
	trip, _ := st.GetTrip(ctx, "trip-1")
	assert.Equal(t, 1, trip.Batches[0].AvailableSlots)
	all, _ := st.ListBookings(ctx, ledger.BookingFilter{})
	assert.Empty(t, all)

	// A started batch is closed
	svc.Clock = ledger.FixedClock(ledger.Date(2025, time.July, 2))
	_, err = svc.CreateBooking(ctx, traveler, base)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestImport_RecordsAuditAndTakesOrganizerFromTrip(t *testing.T) {
	// GIVEN: A trip whose batch has already run
	ctx := context.Background()
	svc, st := newService(t)
	seedTrip(t, st, 0)
	changes := 0
	svc.OnChange = func() { changes++ }

	// WHEN: Importing a paid booking that names the wrong organizer
	b, err := svc.Import(ctx, ledger.SystemActor, ledger.Booking{
		ID: "bk-old", TripID: "trip-1", BatchID: "batch-1", OrganizerID: "org-typo",
		TravelerID: "trv-9", Travelers: 1,
		TotalPrice: ledger.NewMoney(1500), AmountPaid: ledger.NewMoney(1500), BalanceDue: decimal.Zero,
		PaymentType: ledger.PaymentFull, PaymentStatus: ledger.PaymentPaidInFull,
	})

	// THEN: It is stored against the trip's organizer and audited
	require.NoError(t, err)
	assert.Equal(t, ledger.OrganizerID("org-1"), b.OrganizerID)
	assert.Equal(t, ledger.RefundNone, b.Refund.Status)
	assert.Equal(t, now, b.CreatedAt)
	stored, _ := st.GetBooking(ctx, "bk-old")
	require.NotNil(t, stored)
	entries, _ := st.QueryAudit(ctx, ledger.AuditFilter{Action: ledger.AuditBookingImported})
	require.Len(t, entries, 1)
	assert.Equal(t, "bk-old", entries[0].EntityID)
	assert.Equal(t, 1, changes)
}

func TestImport_Rejections(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	seedTrip(t, st, 0)
	valid := func() ledger.Booking {
		return ledger.Booking{
			ID: "bk-x", TripID: "trip-1", BatchID: "batch-1", TravelerID: "trv-9", Travelers: 1,
			TotalPrice: ledger.NewMoney(1000), AmountPaid: ledger.NewMoney(400), BalanceDue: ledger.NewMoney(600),
			PaymentType: ledger.PaymentPartial, PaymentStatus: ledger.PaymentReserved,
		}
	}

	tests := []struct {
		name   string
		actor  ledger.Actor
		mutate func(*ledger.Booking)
		check  func(error) bool
	}{
		{"traveler", traveler, func(*ledger.Booking) {}, func(err error) bool { return errors.Is(err, ledger.ErrForbidden) }},
		{"unbalanced", admin, func(b *ledger.Booking) { b.BalanceDue = ledger.NewMoney(500) }, func(err error) bool { return errors.Is(err, ledger.ErrValidation) }},
		{"unknown status", admin, func(b *ledger.Booking) { b.PaymentStatus = "refunded" }, func(err error) bool { return errors.Is(err, ledger.ErrValidation) }},
		{"unknown trip", admin, func(b *ledger.Booking) { b.TripID = "nope" }, ledger.IsNotFound},
		{"unknown batch", admin, func(b *ledger.Booking) { b.BatchID = "nope" }, ledger.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			_, err := svc.Import(ctx, tt.actor, b)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	stored, _ := st.GetBooking(ctx, "bk-x")
	assert.Nil(t, stored)
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/ledger/store"
)

func testBooking(id string) ledger.Booking {
	return ledger.Booking{
		ID:            ledger.BookingID(id),
		TripID:        "trip-1",
		BatchID:       "batch-1",
		OrganizerID:   "org-1",
		TotalPrice:    ledger.NewMoney(1000),
		AmountPaid:    ledger.NewMoney(1000),
		PaymentType:   ledger.PaymentFull,
		PaymentStatus: ledger.PaymentPaidInFull,
		Refund:        ledger.Refund{Status: ledger.RefundNone},
	}
}

func TestMemory_UpdateBooking_CompareAndSet(t *testing.T) {
	// GIVEN: A stored booking at version 0
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.InsertBooking(ctx, testBooking("bk-1")))

	// WHEN: Two writers both read version 0 and update
	first := testBooking("bk-1")
	first.CancellationReason = "first"
	second := testBooking("bk-1")
	second.CancellationReason = "second"

	require.NoError(t, s.UpdateBooking(ctx, first))
	err := s.UpdateBooking(ctx, second)

	// THEN: Only the first wins and the version is bumped once
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	got, err := s.GetBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.CancellationReason)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemory_InsertBooking_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.InsertBooking(ctx, testBooking("bk-1")))
	assert.ErrorIs(t, s.InsertBooking(ctx, testBooking("bk-1")), ledger.ErrDuplicateID)
}

func TestMemory_GetMissing_ReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	b, err := s.GetBooking(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, b)

	p, err := s.GetPayout(ctx, "trip::batch")
	require.NoError(t, err)
	assert.Nil(t, p)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: An empty store
	ctx := context.Background()
	s := store.NewMemory()
	boom := errors.New("boom")

	// WHEN: A transaction writes a booking and an audit entry, then fails
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertBooking(ctx, testBooking("bk-1")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, ledger.AuditEntry{ID: "a-1", Action: ledger.AuditBookingCreated}); err != nil {
			return err
		}
		return boom
	})

	// THEN: Neither write is visible
	assert.ErrorIs(t, err, boom)
	b, _ := s.GetBooking(ctx, "bk-1")
	assert.Nil(t, b)
	entries, _ := s.QueryAudit(ctx, ledger.AuditFilter{})
	assert.Empty(t, entries)
}

func TestMemory_View_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	err := s.View(ctx, func(tx ledger.Store) error {
		return tx.InsertBooking(ctx, testBooking("bk-1"))
	})

	assert.Error(t, err)
	b, _ := s.GetBooking(ctx, "bk-1")
	assert.Nil(t, b)
}

func TestMemory_CompareAndSwapPayout(t *testing.T) {
	// GIVEN: No payout record for a key
	ctx := context.Background()
	s := store.NewMemory()
	key := ledger.NewSettlementKey("trip-1", "batch-1")

	// WHEN: Swapping from "processing" on a missing record
	err := s.CompareAndSwapPayout(ctx, ledger.PayoutRecord{Key: key, Status: ledger.PayoutPaid}, ledger.PayoutProcessing)

	// THEN: Missing counts as available, so the swap fails
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// WHEN: Swapping from available
	require.NoError(t, s.CompareAndSwapPayout(ctx,
		ledger.PayoutRecord{Key: key, Status: ledger.PayoutProcessing, InvoiceURL: "inv"}, ledger.PayoutAvailable))

	// THEN: The record is stored with version 1
	rec, err := s.GetPayout(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.PayoutProcessing, rec.Status)
	assert.Equal(t, int64(1), rec.Version)

	// A second swap from available loses
	err = s.CompareAndSwapPayout(ctx, ledger.PayoutRecord{Key: key, Status: ledger.PayoutProcessing}, ledger.PayoutAvailable)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestMemory_QueryAudit_NewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []ledger.AuditAction{
		ledger.AuditRefundRequested, ledger.AuditRefundApproved, ledger.AuditPayoutPaid,
	} {
		require.NoError(t, s.AppendAudit(ctx, ledger.AuditEntry{
			ID:         string(rune('a' + i)),
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Action:     action,
			EntityType: ledger.EntityBooking,
		}))
	}

	all, err := s.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.AuditPayoutPaid, all[0].Action)
	assert.Equal(t, ledger.AuditRefundRequested, all[2].Action)

	limited, err := s.QueryAudit(ctx, ledger.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	approved, err := s.QueryAudit(ctx, ledger.AuditFilter{Action: ledger.AuditRefundApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "b", approved[0].ID)
}

func TestMemory_SaveTrip_CopiesBatches(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	trip := ledger.Trip{ID: "trip-1", Batches: []ledger.Batch{{ID: "batch-1", AvailableSlots: 5}}}
	require.NoError(t, s.SaveTrip(ctx, trip))

	trip.Batches[0].AvailableSlots = 0

	got, err := s.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Batches[0].AvailableSlots)
}

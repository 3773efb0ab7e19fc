/*
store.go - Persistence interfaces for the booking financial lifecycle

PURPOSE:
  Defines the boundary between the domain logic and the document store.
  Components receive a store handle explicitly; nothing reaches into global
  state. Implementations: store/sqlite (production) and ledger/store (memory).

KEY INTERFACES:
  BookingStore: get-by-id, query-by-field, insert, compare-and-set update
  CatalogStore: trips with their batches, organizers, platform settings
  PayoutStore:  persisted payout records, compare-and-set on status
  AuditLog:     append-only audit entries
  TxStore:      all of the above plus atomic (WithTx) and snapshot (View) scopes

COMPARE-AND-SET:
  UpdateBooking persists a booking only if the stored Version equals the
  Version the caller read, and stores Version+1. CompareAndSwapPayout writes
  a record only if the stored status equals the expected one (an absent
  record counts as PayoutAvailable). A lost race returns
  ErrConcurrentModification; nothing is overwritten.

APPEND-ONLY AUDIT:
  AuditLog has AppendAudit and QueryAudit. There is no update or delete.

ABSENT RECORDS:
  Get* methods return (nil, nil) when the record does not exist. Callers turn
  that into a NotFoundError where absence is an error.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - ledger/store/memory.go: In-memory implementation for tests
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingStore interface {
	// InsertBooking stores a new booking. Returns ErrDuplicateID if the id exists.
	InsertBooking(ctx context.Context, b Booking) error

	// GetBooking returns the booking or (nil, nil).
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// ListBookings returns bookings matching the filter, oldest first.
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)

	// UpdateBooking persists b if the stored version equals b.Version.
	// The stored version becomes b.Version+1.
	UpdateBooking(ctx context.Context, b Booking) error
}

// =============================================================================
// CATALOG
// =============================================================================

type CatalogStore interface {
	// SaveTrip upserts a trip together with all its batches.
	SaveTrip(ctx context.Context, t Trip) error
	GetTrip(ctx context.Context, id TripID) (*Trip, error)
	ListTrips(ctx context.Context) ([]Trip, error)

	SaveOrganizer(ctx context.Context, o Organizer) error
	GetOrganizer(ctx context.Context, id OrganizerID) (*Organizer, error)
	ListOrganizers(ctx context.Context) ([]Organizer, error)

	// GetSettings returns (nil, nil) until settings are first saved.
	GetSettings(ctx context.Context) (*PlatformSettings, error)
	SaveSettings(ctx context.Context, s PlatformSettings) error
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayoutStore interface {
	GetPayout(ctx context.Context, key SettlementKey) (*PayoutRecord, error)
	ListPayouts(ctx context.Context) ([]PayoutRecord, error)

	// CompareAndSwapPayout writes rec if the stored status equals expected.
	// A missing record is treated as PayoutAvailable.
	CompareAndSwapPayout(ctx context.Context, rec PayoutRecord, expected PayoutStatus) error
}

// =============================================================================
// AUDIT LOG - append-only
// =============================================================================

type AuditAction string

const (
	AuditBookingCreated     AuditAction = "booking_created"
	AuditBookingImported    AuditAction = "booking_imported"
	AuditBalancePaid        AuditAction = "balance_payment_recorded"
	AuditBookingCancelled   AuditAction = "booking_cancelled"
	AuditRefundRequested    AuditAction = "refund_requested"
	AuditRefundApproved     AuditAction = "refund_approved"
	AuditRefundRejected     AuditAction = "refund_rejected"
	AuditRefundProcessed    AuditAction = "refund_processed"
	AuditRefundAdminReject  AuditAction = "refund_rejected_by_admin"
	AuditPayoutProcessing   AuditAction = "payout_processing"
	AuditPayoutPaid         AuditAction = "payout_paid"
	AuditCommissionChanged  AuditAction = "commission_changed"
	AuditOrganizerOverride  AuditAction = "organizer_commission_changed"
	AuditTripSaved          AuditAction = "trip_saved"
)

// AuditEntry records who did what to which entity, and when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	AdminName  string
	Action     AuditAction
	EntityType EntityType
	EntityID   string
	EntityName string
	Details    string
}

// AuditFilter selects entries. Zero fields match everything; Limit 0 means no limit.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	Action     AuditAction
	AdminName  string
	Limit      int
}

// Matches reports whether e satisfies every non-zero field of f.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.AdminName != "" && e.AdminName != f.AdminName {
		return false
	}
	return true
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// QueryAudit returns matching entries, newest first.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// COMPOSITE STORES
// =============================================================================

// Store is the full document store surface.
type Store interface {
	BookingStore
	CatalogStore
	PayoutStore
	AuditLog
}

// TxStore adds atomic and snapshot scopes.
type TxStore interface {
	Store

	// WithTx runs fn atomically. If fn returns an error every write made
	// through the handed-in Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// View runs fn against a read-consistent snapshot. Writes through the
	// handed-in Store are not permitted.
	View(ctx context.Context, fn func(Store) error) error
}

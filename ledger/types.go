/*
Package ledger provides the shared data model of the booking financial lifecycle.

PURPOSE:
  This package contains the records every other package agrees on: bookings
  with their payment and refund axes, the trip/batch catalog, organizers,
  persisted payout records and audit entries. It also defines the store
  interfaces (store.go) and the error taxonomy (errors.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, never float64
  - PaymentStatus / RefundStatus: two independent axes of a booking
  - PayoutStatus: the persisted half of a settlement
  - SettlementKey: "tripId::batchId"
  - Actor: who performs an action, with a coarse role

DESIGN PRINCIPLES:
  1. Each status axis is its own string type with a closed set of values
  2. Derived figures (gross, commission, net) are NOT stored here; see settlement/
  3. Every mutable record carries a Version for compare-and-set

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
  - booking/: Owns every Booking mutation
  - settlement/: Projection of bookings into settlements
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// NewMoney converts a float literal to a decimal. Use only for constants and tests.
func NewMoney(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// ParseMoney parses a stored decimal string. An empty string is zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

var hundred = decimal.NewFromInt(100)

// ValidRate reports whether r is a percentage in [0, 100].
func ValidRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(hundred)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type TripID string
type BatchID string
type OrganizerID string
type TravelerID string

// SettlementKey identifies one batch settlement: "tripId::batchId".
type SettlementKey string

const SettlementKeySeparator = "::"

// ValidateKeyPart rejects trip and batch ids that would make a settlement
// key ambiguous. Ids may not contain ':' anywhere.
func ValidateKeyPart(field, id string) error {
	if strings.Contains(id, ":") {
		return &ValidationError{Field: field, Message: "must not contain ':'"}
	}
	return nil
}

func NewSettlementKey(tripID TripID, batchID BatchID) SettlementKey {
	return SettlementKey(string(tripID) + SettlementKeySeparator + string(batchID))
}

// ParseSettlementKey splits a key into its trip and batch ids.
func ParseSettlementKey(key SettlementKey) (TripID, BatchID, error) {
	trip, batch, ok := strings.Cut(string(key), SettlementKeySeparator)
	if !ok || trip == "" || batch == "" || strings.Contains(trip, ":") || strings.Contains(batch, ":") {
		return "", "", &ValidationError{Field: "settlement_key", Message: fmt.Sprintf("malformed key %q", key)}
	}
	return TripID(trip), BatchID(batch), nil
}

// =============================================================================
// BOOKING - payment axis
// =============================================================================

type PaymentType string

const (
	PaymentFull    PaymentType = "full"
	PaymentPartial PaymentType = "partial"
)

func (t PaymentType) Valid() bool { return t == PaymentFull || t == PaymentPartial }

type PaymentStatus string

const (
	PaymentReserved   PaymentStatus = "reserved"
	PaymentPaidInFull PaymentStatus = "paid_in_full"
	PaymentCancelled  PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentReserved, PaymentPaidInFull, PaymentCancelled:
		return true
	}
	return false
}

// =============================================================================
// BOOKING - refund axis
// =============================================================================

type RefundStatus string

const (
	RefundNone                RefundStatus = "none"
	RefundRequested           RefundStatus = "requested"
	RefundApprovedByOrganizer RefundStatus = "approved_by_organizer"
	RefundRejectedByOrganizer RefundStatus = "rejected_by_organizer"
	RefundRejectedByAdmin     RefundStatus = "rejected_by_admin"
	RefundProcessed           RefundStatus = "processed"
)

// Normalize maps the unset value to RefundNone.
func (s RefundStatus) Normalize() RefundStatus {
	if s == "" {
		return RefundNone
	}
	return s
}

func (s RefundStatus) Valid() bool {
	switch s.Normalize() {
	case RefundNone, RefundRequested, RefundApprovedByOrganizer,
		RefundRejectedByOrganizer, RefundRejectedByAdmin, RefundProcessed:
		return true
	}
	return false
}

// IsOpenDispute is true while a refund has been raised but not resolved.
func (s RefundStatus) IsOpenDispute() bool {
	return s == RefundRequested || s == RefundApprovedByOrganizer
}

// IsTerminal reports whether no further refund transition (other than a
// fresh request after a rejection) can leave s.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case RefundProcessed, RefundRejectedByOrganizer, RefundRejectedByAdmin:
		return true
	}
	return false
}

// Refund is the refund sub-state of a booking.
type Refund struct {
	Status          RefundStatus
	Reason          string // traveler's reason for asking
	ApprovedAmount  decimal.Decimal
	RequestedAt     *time.Time
	ProcessedAt     *time.Time
	RejectionReason string
	UTR             string
}

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID           BookingID
	TripID       TripID
	BatchID      BatchID
	OrganizerID  OrganizerID
	TravelerID   TravelerID
	TravelerName string
	Travelers    int

	TotalPrice  decimal.Decimal
	AmountPaid  decimal.Decimal
	BalanceDue  decimal.Decimal
	PaymentType PaymentType

	PaymentStatus      PaymentStatus
	CancellationReason string
	Refund             Refund

	// Version is bumped on every committed mutation.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettlementKey returns the key of the settlement this booking contributes to.
func (b Booking) SettlementKey() SettlementKey {
	return NewSettlementKey(b.TripID, b.BatchID)
}

// Balanced reports whether amountPaid + balanceDue == totalPrice.
func (b Booking) Balanced() bool {
	return b.AmountPaid.Add(b.BalanceDue).Equal(b.TotalPrice)
}

// BookingFilter selects bookings by field. Zero fields match everything.
type BookingFilter struct {
	TripID        TripID
	BatchID       BatchID
	OrganizerID   OrganizerID
	TravelerID    TravelerID
	PaymentStatus PaymentStatus
	RefundStatus  RefundStatus
}

// Matches reports whether b satisfies every non-zero field of f.
func (f BookingFilter) Matches(b Booking) bool {
	if f.TripID != "" && b.TripID != f.TripID {
		return false
	}
	if f.BatchID != "" && b.BatchID != f.BatchID {
		return false
	}
	if f.OrganizerID != "" && b.OrganizerID != f.OrganizerID {
		return false
	}
	if f.TravelerID != "" && b.TravelerID != f.TravelerID {
		return false
	}
	if f.PaymentStatus != "" && b.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.RefundStatus != "" && b.Refund.Status.Normalize() != f.RefundStatus.Normalize() {
		return false
	}
	return true
}

// =============================================================================
// CATALOG - trips, batches, organizers
// =============================================================================

type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchInactive BatchStatus = "inactive"
	BatchFull     BatchStatus = "full"
)

// Batch is one scheduled departure of a trip.
type Batch struct {
	ID             BatchID
	TripID         TripID
	StartDate      time.Time
	EndDate        time.Time
	AvailableSlots int
	Status         BatchStatus
	DealPrice      *decimal.Decimal // last-minute override of the trip price
}

// Completed reports whether the batch ended strictly before now.
func (b Batch) Completed(now time.Time) bool {
	return b.EndDate.Before(now)
}

type Trip struct {
	ID          TripID
	OrganizerID OrganizerID
	Title       string
	BasePrice   decimal.Decimal
	Batches     []Batch
	CreatedAt   time.Time
}

// Batch returns the batch with the given id.
func (t Trip) Batch(id BatchID) (Batch, bool) {
	for _, b := range t.Batches {
		if b.ID == id {
			return b, true
		}
	}
	return Batch{}, false
}

// PriceFor returns the per-traveler price of a batch.
func (t Trip) PriceFor(b Batch) decimal.Decimal {
	if b.DealPrice != nil {
		return *b.DealPrice
	}
	return t.BasePrice
}

type OrganizerStatus string

const (
	OrganizerActive    OrganizerStatus = "active"
	OrganizerSuspended OrganizerStatus = "suspended"
)

type Organizer struct {
	ID     OrganizerID
	Name   string
	Status OrganizerStatus
	// CommissionRate overrides the platform rate when set.
	CommissionRate *decimal.Decimal
}

// PlatformSettings holds marketplace-wide values.
type PlatformSettings struct {
	CommissionRate decimal.Decimal
	UpdatedAt      time.Time
}

// =============================================================================
// PAYOUT RECORD - persisted half of a settlement
// =============================================================================

type PayoutStatus string

const (
	PayoutAvailable  PayoutStatus = "available_for_payout"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutAvailable, PayoutProcessing, PayoutPaid:
		return true
	}
	return false
}

// PayoutRecord is the only persisted part of a settlement.
type PayoutRecord struct {
	Key         SettlementKey
	OrganizerID OrganizerID
	Status      PayoutStatus
	InvoiceURL  string
	UTRNumber   string
	ProcessedAt *time.Time
	ProcessedBy string
	PaidAt      *time.Time
	PaidBy      string
	Version     int64
}

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleTraveler  Role = "traveler"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

// Actor performs an action. Authentication happens outside this module.
type Actor struct {
	Name string
	Role Role
}

// Is reports whether the actor holds any of the given roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// SystemActor is used for automated writes (seeding, scenarios).
var SystemActor = Actor{Name: "system", Role: RoleSystem}

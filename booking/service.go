/*
Package booking owns every mutation of a Booking.

PURPOSE:
  Drives the two independent axes of a booking: the payment axis
  (reserved / paid_in_full / cancelled) and the refund sub-state
  (none → requested → approved_by_organizer → processed, with rejections).
  No other package writes bookings.

MUTATION FLOW:
  1. Validate input and the actor's role. Failures here never touch the store.
  2. Inside one store transaction:
     read booking → check transition table → apply side effects →
     compare-and-set on Version → append audit entry
  3. After commit: metrics, log line, OnChange hook (settlement cache).

CONCURRENCY:
  Two concurrent transitions on the same booking both read Version n. The
  first UpdateBooking stores n+1; the second fails with
  ErrConcurrentModification and nothing it computed is persisted. Callers may
  re-read and retry; the service never retries on its own.

SEE ALSO:
  - statemachine.go: Transition tables
  - settlement/: Reads bookings, never writes them
*/
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/trip-settlements/audit"
	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/observability"
)

// Service applies booking transitions against a store.
type Service struct {
	Store  ledger.TxStore
	Trail  *audit.Trail
	Clock  ledger.Clock
	Logger *zap.Logger

	// NewID generates booking ids and refund reference tokens.
	NewID func() string

	// OnChange runs after every committed mutation.
	OnChange func()
}

func NewService(st ledger.TxStore, trail *audit.Trail, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(st)
	}
	return &Service{Store: st, Trail: trail, Logger: logger}
}

// =============================================================================
// READS
// =============================================================================

// Get returns the booking or a NotFoundError.
func (s *Service) Get(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil {
		return nil, &ledger.NotFoundError{Entity: ledger.EntityBooking, ID: string(id)}
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, filter ledger.BookingFilter) ([]ledger.Booking, error) {
	return s.Store.ListBookings(ctx, filter)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput describes a new booking.
type CreateInput struct {
	TripID       ledger.TripID
	BatchID      ledger.BatchID
	TravelerID   ledger.TravelerID
	TravelerName string
	Travelers    int
	PaymentType  ledger.PaymentType

	// AmountPaid is the deposit for partial payments. Ignored for full payments.
	AmountPaid decimal.Decimal

	// TotalPrice overrides the batch price when set.
	TotalPrice *decimal.Decimal
}

func (in CreateInput) validate() error {
	if err := ledger.Required("trip_id", string(in.TripID)); err != nil {
		return err
	}
	if err := ledger.Required("batch_id", string(in.BatchID)); err != nil {
		return err
	}
	if err := ledger.Required("traveler_id", string(in.TravelerID)); err != nil {
		return err
	}
	if in.Travelers < 1 {
		return &ledger.ValidationError{Field: "travelers", Message: "must be at least 1"}
	}
	if !in.PaymentType.Valid() {
		return &ledger.ValidationError{Field: "payment_type", Message: fmt.Sprintf("unknown payment type %q", in.PaymentType)}
	}
	if in.TotalPrice != nil && !in.TotalPrice.IsPositive() {
		return &ledger.ValidationError{Field: "total_price", Message: "must be positive"}
	}
	if in.PaymentType == ledger.PaymentPartial && !in.AmountPaid.IsPositive() {
		return &ledger.ValidationError{Field: "amount_paid", Message: "partial payment requires a deposit"}
	}
	return nil
}

// CreateBooking reserves seats on a batch. Full payments start paid_in_full,
// partial payments start reserved with the remainder as balance due.
func (s *Service) CreateBooking(ctx context.Context, actor ledger.Actor, in CreateInput) (*ledger.Booking, error) {
	if err := authorize(actor, "create bookings", ledger.RoleTraveler, ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	if actor.Role == ledger.RoleTraveler && ledger.TravelerID(actor.Name) != in.TravelerID {
		return nil, &ledger.ForbiddenError{Actor: actor, Action: "book for another traveler"}
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	var created ledger.Booking
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		trip, err := tx.GetTrip(ctx, in.TripID)
		if err != nil {
			return fmt.Errorf("failed to load trip: %w", err)
		}
		if trip == nil {
			return &ledger.NotFoundError{Entity: ledger.EntityTrip, ID: string(in.TripID)}
		}

		idx := -1
		for i := range trip.Batches {
			if trip.Batches[i].ID == in.BatchID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &ledger.NotFoundError{Entity: ledger.EntityBatch, ID: string(in.BatchID)}
		}
		batch := &trip.Batches[idx]
		if batch.Status != ledger.BatchActive {
			return &ledger.ValidationError{Field: "batch_id", Message: fmt.Sprintf("batch is %s", batch.Status)}
		}
		if !now.Before(batch.StartDate) {
			return &ledger.ValidationError{Field: "batch_id", Message: "batch has already started"}
		}
		if batch.AvailableSlots < in.Travelers {
			return &ledger.ValidationError{
				Field:   "travelers",
				Message: fmt.Sprintf("only %d slots left", batch.AvailableSlots),
			}
		}

		total := trip.PriceFor(*batch).Mul(decimal.NewFromInt(int64(in.Travelers)))
		if in.TotalPrice != nil {
			total = *in.TotalPrice
		}

		paid := total
		status := ledger.PaymentPaidInFull
		if in.PaymentType == ledger.PaymentPartial {
			if !in.AmountPaid.LessThan(total) {
				return &ledger.ValidationError{Field: "amount_paid", Message: "deposit must be less than the total price"}
			}
			paid = in.AmountPaid
			status = ledger.PaymentReserved
		}

		created = ledger.Booking{
			ID:            ledger.BookingID("bk-" + s.newID()),
			TripID:        trip.ID,
			BatchID:       batch.ID,
			OrganizerID:   trip.OrganizerID,
			TravelerID:    in.TravelerID,
			TravelerName:  in.TravelerName,
			Travelers:     in.Travelers,
			TotalPrice:    total,
			AmountPaid:    paid,
			BalanceDue:    total.Sub(paid),
			PaymentType:   in.PaymentType,
			PaymentStatus: status,
			Refund:        ledger.Refund{Status: ledger.RefundNone},
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		batch.AvailableSlots -= in.Travelers
		if batch.AvailableSlots == 0 {
			batch.Status = ledger.BatchFull
		}
		if err := tx.SaveTrip(ctx, *trip); err != nil {
			return fmt.Errorf("failed to update batch slots: %w", err)
		}
		if err := tx.InsertBooking(ctx, created); err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditBookingCreated,
			EntityType: ledger.EntityBooking,
			EntityID:   string(created.ID),
			EntityName: trip.Title,
			Details:    fmt.Sprintf("%d traveler(s), total %s, paid %s", in.Travelers, total.StringFixed(2), paid.StringFixed(2)),
		})
	})

	observability.RecordBookingTransition(string(ledger.AxisPayment), "create", observability.ResultOf(err))
	if err != nil {
		s.Logger.Warn("booking creation failed",
			zap.String("trip_id", string(in.TripID)),
			zap.String("batch_id", string(in.BatchID)),
			zap.Error(err))
		return nil, err
	}
	s.Logger.Info("booking created",
		zap.String("booking_id", string(created.ID)),
		zap.String("payment_status", string(created.PaymentStatus)),
		zap.String("total_price", created.TotalPrice.StringFixed(2)))
	s.changed()
	return &created, nil
}

// Import records a booking taken outside this service, such as one migrated
// from another system for a batch that already ran. The batch dates and slots
// are not checked; the amounts must balance and the trip must exist.
func (s *Service) Import(ctx context.Context, actor ledger.Actor, b ledger.Booking) (*ledger.Booking, error) {
	if err := authorize(actor, "import bookings", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	if err := ledger.Required("id", string(b.ID)); err != nil {
		return nil, err
	}
	b.Refund.Status = b.Refund.Status.Normalize()
	switch {
	case !b.PaymentStatus.Valid():
		return nil, &ledger.ValidationError{Field: "payment_status", Message: "unknown status " + string(b.PaymentStatus)}
	case !b.Refund.Status.Valid():
		return nil, &ledger.ValidationError{Field: "refund_status", Message: "unknown status " + string(b.Refund.Status)}
	case b.TotalPrice.IsNegative() || b.AmountPaid.IsNegative() || b.BalanceDue.IsNegative():
		return nil, &ledger.ValidationError{Field: "amount", Message: "must not be negative"}
	case !b.Balanced():
		return nil, &ledger.ValidationError{Field: "balance_due", Message: "amount_paid + balance_due must equal total_price"}
	}

	now := s.Clock.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	b.Version = 0

	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		trip, err := tx.GetTrip(ctx, b.TripID)
		if err != nil {
			return fmt.Errorf("failed to load trip: %w", err)
		}
		if trip == nil {
			return &ledger.NotFoundError{Entity: ledger.EntityTrip, ID: string(b.TripID)}
		}
		if _, ok := trip.Batch(b.BatchID); !ok {
			return &ledger.NotFoundError{Entity: ledger.EntityBatch, ID: string(b.BatchID)}
		}
		b.OrganizerID = trip.OrganizerID
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditBookingImported,
			EntityType: ledger.EntityBooking,
			EntityID:   string(b.ID),
			EntityName: trip.Title,
			Details: fmt.Sprintf("%s, total %s, paid %s",
				b.PaymentStatus, b.TotalPrice.StringFixed(2), b.AmountPaid.StringFixed(2)),
		})
	})

	observability.RecordBookingTransition(string(ledger.AxisPayment), "import", observability.ResultOf(err))
	if err != nil {
		s.Logger.Warn("booking import failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
		return nil, err
	}
	s.Logger.Info("booking imported",
		zap.String("booking_id", string(b.ID)),
		zap.String("payment_status", string(b.PaymentStatus)))
	s.changed()
	return &b, nil
}

// =============================================================================
// REFUND AXIS
// =============================================================================

// RequestRefund opens a refund dispute. Allowed from none or after a rejection;
// a fresh request clears the previous outcome.
func (s *Service) RequestRefund(ctx context.Context, actor ledger.Actor, id ledger.BookingID, reason string) (*ledger.Booking, error) {
	if err := authorize(actor, "request refunds", ledger.RoleTraveler, ledger.RoleAdmin); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisRefund,
		event:  string(RefundRequest),
		action: ledger.AuditRefundRequested,
		apply: func(b *ledger.Booking, now time.Time) (string, error) {
			if err := checkOwner(actor, b); err != nil {
				return "", err
			}
			if err := refundTransition(b, RefundRequest); err != nil {
				return "", err
			}
			b.Refund = ledger.Refund{
				Status:      ledger.RefundRequested,
				Reason:      reason,
				RequestedAt: ledger.TimePtr(now),
			}
			return reason, nil
		},
	})
}

// ApproveRefund records the organizer's approval and the amount to refund.
// amount must be positive and at most what the traveler paid.
func (s *Service) ApproveRefund(ctx context.Context, actor ledger.Actor, id ledger.BookingID, amount decimal.Decimal, remarks string) (*ledger.Booking, error) {
	if err := authorize(actor, "approve refunds", ledger.RoleOrganizer, ledger.RoleAdmin); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisRefund,
		event:  string(RefundApprove),
		action: ledger.AuditRefundApproved,
		apply: func(b *ledger.Booking, _ time.Time) (string, error) {
			if err := checkOwner(actor, b); err != nil {
				return "", err
			}
			if err := refundTransition(b, RefundApprove); err != nil {
				return "", err
			}
			if amount.GreaterThan(b.AmountPaid) {
				return "", &ledger.ValidationError{
					Field:   "amount",
					Message: fmt.Sprintf("exceeds amount paid %s", b.AmountPaid.StringFixed(2)),
				}
			}
			b.Refund.Status = ledger.RefundApprovedByOrganizer
			b.Refund.ApprovedAmount = amount
			if strings.TrimSpace(remarks) != "" {
				b.CancellationReason = remarks
			}
			return fmt.Sprintf("approved %s: %s", amount.StringFixed(2), remarks), nil
		},
	})
}

// RejectRefund records the organizer's rejection. Remarks are mandatory.
func (s *Service) RejectRefund(ctx context.Context, actor ledger.Actor, id ledger.BookingID, remarks string) (*ledger.Booking, error) {
	if err := authorize(actor, "reject refunds", ledger.RoleOrganizer, ledger.RoleAdmin); err != nil {
		return nil, err
	}
	if err := ledger.Required("remarks", remarks); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisRefund,
		event:  string(RefundReject),
		action: ledger.AuditRefundRejected,
		apply: func(b *ledger.Booking, _ time.Time) (string, error) {
			if err := checkOwner(actor, b); err != nil {
				return "", err
			}
			if err := refundTransition(b, RefundReject); err != nil {
				return "", err
			}
			b.Refund.Status = ledger.RefundRejectedByOrganizer
			b.Refund.RejectionReason = remarks
			return remarks, nil
		},
	})
}

// ProcessRefund completes an approved refund: the booking is cancelled and a
// refund reference token is issued.
func (s *Service) ProcessRefund(ctx context.Context, actor ledger.Actor, id ledger.BookingID) (*ledger.Booking, error) {
	if err := authorize(actor, "process refunds", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisRefund,
		event:  string(RefundProcess),
		action: ledger.AuditRefundProcessed,
		apply: func(b *ledger.Booking, now time.Time) (string, error) {
			if err := refundTransition(b, RefundProcess); err != nil {
				return "", err
			}
			b.Refund.Status = ledger.RefundProcessed
			b.Refund.ProcessedAt = ledger.TimePtr(now)
			b.Refund.UTR = "RFD-" + strings.ToUpper(s.newID())
			b.PaymentStatus = ledger.PaymentCancelled
			return fmt.Sprintf("refunded %s, utr %s", b.Refund.ApprovedAmount.StringFixed(2), b.Refund.UTR), nil
		},
	})
}

// AdminRejectRefund overrides an organizer approval. Remarks are mandatory.
func (s *Service) AdminRejectRefund(ctx context.Context, actor ledger.Actor, id ledger.BookingID, remarks string) (*ledger.Booking, error) {
	if err := authorize(actor, "override refund approvals", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	if err := ledger.Required("remarks", remarks); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisRefund,
		event:  string(RefundAdminReject),
		action: ledger.AuditRefundAdminReject,
		apply: func(b *ledger.Booking, _ time.Time) (string, error) {
			if err := refundTransition(b, RefundAdminReject); err != nil {
				return "", err
			}
			b.Refund.Status = ledger.RefundRejectedByAdmin
			b.Refund.RejectionReason = remarks
			return remarks, nil
		},
	})
}

// =============================================================================
// PAYMENT AXIS
// =============================================================================

// RecordBalancePayment marks the outstanding balance as received.
func (s *Service) RecordBalancePayment(ctx context.Context, actor ledger.Actor, id ledger.BookingID) (*ledger.Booking, error) {
	if err := authorize(actor, "record payments", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisPayment,
		event:  string(PaymentBalancePaid),
		action: ledger.AuditBalancePaid,
		apply: func(b *ledger.Booking, _ time.Time) (string, error) {
			to, err := paymentTransition(b, PaymentBalancePaid)
			if err != nil {
				return "", err
			}
			received := b.BalanceDue
			b.PaymentStatus = to
			b.AmountPaid = b.TotalPrice
			b.BalanceDue = decimal.Zero
			return fmt.Sprintf("received %s", received.StringFixed(2)), nil
		},
	})
}

// Cancel force-cancels a booking. Remarks are mandatory. The refund axis is
// left untouched.
func (s *Service) Cancel(ctx context.Context, actor ledger.Actor, id ledger.BookingID, remarks string) (*ledger.Booking, error) {
	if err := authorize(actor, "cancel bookings", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	if err := ledger.Required("remarks", remarks); err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor, id, remarks)
}

func (s *Service) cancel(ctx context.Context, actor ledger.Actor, id ledger.BookingID, remarks string) (*ledger.Booking, error) {
	return s.mutate(ctx, actor, id, change{
		axis:   ledger.AxisPayment,
		event:  string(PaymentCancel),
		action: ledger.AuditBookingCancelled,
		apply: func(b *ledger.Booking, _ time.Time) (string, error) {
			to, err := paymentTransition(b, PaymentCancel)
			if err != nil {
				return "", err
			}
			b.PaymentStatus = to
			b.CancellationReason = remarks
			return remarks, nil
		},
	})
}

// BulkResult is the outcome of one id in a bulk operation.
type BulkResult struct {
	ID      ledger.BookingID
	Booking *ledger.Booking
	Err     error
}

// BulkCancel cancels each booking independently. One failure does not stop
// the others.
func (s *Service) BulkCancel(ctx context.Context, actor ledger.Actor, ids []ledger.BookingID, remarks string) ([]BulkResult, error) {
	if err := authorize(actor, "cancel bookings", ledger.RoleAdmin, ledger.RoleSystem); err != nil {
		return nil, err
	}
	if err := ledger.Required("remarks", remarks); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &ledger.ValidationError{Field: "booking_ids", Message: "is required"}
	}
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		b, err := s.cancel(ctx, actor, id, remarks)
		results = append(results, BulkResult{ID: id, Booking: b, Err: err})
	}
	return results, nil
}

// ApplyPaymentStatus moves the payment axis to the requested status.
// It accepts paid_in_full (balance payment) and cancelled (with reason).
func (s *Service) ApplyPaymentStatus(ctx context.Context, actor ledger.Actor, id ledger.BookingID, to ledger.PaymentStatus, reason string) (*ledger.Booking, error) {
	ev, ok := PaymentEventFor(to)
	if !ok {
		return nil, &ledger.ValidationError{Field: "payment_status", Message: fmt.Sprintf("cannot move a booking to %q", to)}
	}
	if ev == PaymentCancel {
		return s.Cancel(ctx, actor, id, reason)
	}
	return s.RecordBalancePayment(ctx, actor, id)
}

// =============================================================================
// MUTATION PLUMBING
// =============================================================================

type change struct {
	axis   ledger.Axis
	event  string
	action ledger.AuditAction
	// apply checks the transition and mutates b. It returns audit details.
	apply func(b *ledger.Booking, now time.Time) (string, error)
}

func (s *Service) mutate(ctx context.Context, actor ledger.Actor, id ledger.BookingID, c change) (*ledger.Booking, error) {
	now := s.Clock.Now()
	var (
		updated  ledger.Booking
		from, to string
	)
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load booking: %w", err)
		}
		if b == nil {
			return &ledger.NotFoundError{Entity: ledger.EntityBooking, ID: string(id)}
		}

		from = axisState(*b, c.axis)
		details, err := c.apply(b, now)
		if err != nil {
			return err
		}
		to = axisState(*b, c.axis)
		b.UpdatedAt = now

		if err := tx.UpdateBooking(ctx, *b); err != nil {
			return err
		}
		b.Version++
		updated = *b

		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     c.action,
			EntityType: ledger.EntityBooking,
			EntityID:   string(b.ID),
			EntityName: b.TravelerName,
			Details:    details,
		})
	})

	observability.RecordBookingTransition(string(c.axis), c.event, observability.ResultOf(err))
	if err != nil {
		s.Logger.Warn("booking transition failed",
			zap.String("booking_id", string(id)),
			zap.String("axis", string(c.axis)),
			zap.String("event", c.event),
			zap.String("actor", actor.Name),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("booking transition",
		zap.String("booking_id", string(id)),
		zap.String("axis", string(c.axis)),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("actor", actor.Name))
	s.changed()
	return &updated, nil
}

func (s *Service) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func axisState(b ledger.Booking, axis ledger.Axis) string {
	if axis == ledger.AxisRefund {
		return string(b.Refund.Status.Normalize())
	}
	return string(b.PaymentStatus)
}

func refundTransition(b *ledger.Booking, ev RefundEvent) error {
	to, ok := NextRefundStatus(b.Refund.Status, ev)
	if !ok {
		return &ledger.InvalidTransitionError{
			Entity: ledger.EntityBooking,
			ID:     string(b.ID),
			Axis:   ledger.AxisRefund,
			From:   string(b.Refund.Status.Normalize()),
			To:     string(to),
		}
	}
	return nil
}

func paymentTransition(b *ledger.Booking, ev PaymentEvent) (ledger.PaymentStatus, error) {
	to, ok := NextPaymentStatus(b.PaymentStatus, ev)
	if !ok {
		return "", &ledger.InvalidTransitionError{
			Entity: ledger.EntityBooking,
			ID:     string(b.ID),
			Axis:   ledger.AxisPayment,
			From:   string(b.PaymentStatus),
			To:     string(to),
		}
	}
	return to, nil
}

func authorize(actor ledger.Actor, action string, roles ...ledger.Role) error {
	if !actor.Is(roles...) {
		return &ledger.ForbiddenError{Actor: actor, Action: action}
	}
	return nil
}

// checkOwner restricts travelers and organizers to their own bookings.
func checkOwner(actor ledger.Actor, b *ledger.Booking) error {
	switch actor.Role {
	case ledger.RoleTraveler:
		if ledger.TravelerID(actor.Name) != b.TravelerID {
			return &ledger.ForbiddenError{Actor: actor, Action: "act on another traveler's booking"}
		}
	case ledger.RoleOrganizer:
		if ledger.OrganizerID(actor.Name) != b.OrganizerID {
			return &ledger.ForbiddenError{Actor: actor, Action: "act on another organizer's booking"}
		}
	}
	return nil
}

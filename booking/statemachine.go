/*
statemachine.go - Transition tables for the two booking axes

PURPOSE:
  Pure functions deciding whether an event is allowed from a given state.
  The service (service.go) applies side effects; nothing here touches a store.

REFUND AXIS:

	none ─────────────┐
	rejected_by_*  ───┴─ request ─▶ requested ─ approve ─▶ approved_by_organizer ─ process ─▶ processed
	                                    │                         │
	                                 reject                  admin_reject
	                                    ▼                         ▼
	                          rejected_by_organizer        rejected_by_admin

  processed is final. The two rejected states accept only a fresh request.

PAYMENT AXIS:

	reserved ── balance_paid ──▶ paid_in_full
	reserved, paid_in_full ── cancel ──▶ cancelled

  A processed refund also moves the payment axis to cancelled; that happens
  as a side effect of the refund event, not through this table.
*/
package booking

import "github.com/warp/trip-settlements/ledger"

// =============================================================================
// REFUND AXIS
// =============================================================================

type RefundEvent string

const (
	RefundRequest     RefundEvent = "request"
	RefundApprove     RefundEvent = "approve"
	RefundReject      RefundEvent = "reject"
	RefundProcess     RefundEvent = "process"
	RefundAdminReject RefundEvent = "admin_reject"
)

type refundRule struct {
	from []ledger.RefundStatus
	to   ledger.RefundStatus
}

var refundRules = map[RefundEvent]refundRule{
	RefundRequest: {
		from: []ledger.RefundStatus{ledger.RefundNone, ledger.RefundRejectedByOrganizer, ledger.RefundRejectedByAdmin},
		to:   ledger.RefundRequested,
	},
	RefundApprove: {
		from: []ledger.RefundStatus{ledger.RefundRequested},
		to:   ledger.RefundApprovedByOrganizer,
	},
	RefundReject: {
		from: []ledger.RefundStatus{ledger.RefundRequested},
		to:   ledger.RefundRejectedByOrganizer,
	},
	RefundProcess: {
		from: []ledger.RefundStatus{ledger.RefundApprovedByOrganizer},
		to:   ledger.RefundProcessed,
	},
	RefundAdminReject: {
		from: []ledger.RefundStatus{ledger.RefundApprovedByOrganizer},
		to:   ledger.RefundRejectedByAdmin,
	},
}

// RefundTarget returns the state an event leads to, regardless of source.
func RefundTarget(ev RefundEvent) (ledger.RefundStatus, bool) {
	rule, ok := refundRules[ev]
	return rule.to, ok
}

// NextRefundStatus returns the refund state reached by applying ev to from.
// ok is false when the transition is not allowed.
func NextRefundStatus(from ledger.RefundStatus, ev RefundEvent) (to ledger.RefundStatus, ok bool) {
	rule, known := refundRules[ev]
	if !known {
		return "", false
	}
	from = from.Normalize()
	for _, f := range rule.from {
		if f == from {
			return rule.to, true
		}
	}
	return rule.to, false
}

// =============================================================================
// PAYMENT AXIS
// =============================================================================

type PaymentEvent string

const (
	PaymentBalancePaid PaymentEvent = "balance_paid"
	PaymentCancel      PaymentEvent = "cancel"
)

type paymentRule struct {
	from []ledger.PaymentStatus
	to   ledger.PaymentStatus
}

var paymentRules = map[PaymentEvent]paymentRule{
	PaymentBalancePaid: {
		from: []ledger.PaymentStatus{ledger.PaymentReserved},
		to:   ledger.PaymentPaidInFull,
	},
	PaymentCancel: {
		from: []ledger.PaymentStatus{ledger.PaymentReserved, ledger.PaymentPaidInFull},
		to:   ledger.PaymentCancelled,
	},
}

// NextPaymentStatus returns the payment state reached by applying ev to from.
func NextPaymentStatus(from ledger.PaymentStatus, ev PaymentEvent) (to ledger.PaymentStatus, ok bool) {
	rule, known := paymentRules[ev]
	if !known {
		return "", false
	}
	for _, f := range rule.from {
		if f == from {
			return rule.to, true
		}
	}
	return rule.to, false
}

// PaymentEventFor maps a requested target status to the event reaching it.
func PaymentEventFor(to ledger.PaymentStatus) (PaymentEvent, bool) {
	switch to {
	case ledger.PaymentPaidInFull:
		return PaymentBalancePaid, true
	case ledger.PaymentCancelled:
		return PaymentCancel, true
	}
	return "", false
}

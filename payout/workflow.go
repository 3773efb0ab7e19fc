/*
Package payout moves a settlement through available → processing → paid.

PURPOSE:
  The payout record is the only persisted part of a settlement. Admins attach
  an invoice to start processing, then submit the bank transfer reference
  (UTR) to mark it paid. Paid is terminal.

FLOW:

	available_for_payout ── ProcessPayout(invoice) ──▶ processing ── SubmitUTR(utr) ──▶ paid

IDEMPOTENCE:
  Every step is a compare-and-set on the record's status. A repeated or
  concurrent ProcessPayout finds the record already processing and fails
  with InvalidTransitionError; the first invoice is never overwritten.

VISIBILITY:
  ProcessPayout only accepts keys of settlements the aggregator currently
  shows (completed batch, no open dispute). The check runs inside the same
  transaction as the write.

SEE ALSO:
  - settlement/: Projection joined with these records
*/
package payout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/trip-settlements/audit"
	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/observability"
	"github.com/warp/trip-settlements/settlement"
)

type Workflow struct {
	Store      ledger.TxStore
	Aggregator *settlement.Aggregator
	Trail      *audit.Trail
	Clock      ledger.Clock
	Logger     *zap.Logger

	// OnChange runs after every committed transition.
	OnChange func()
}

func NewWorkflow(st ledger.TxStore, agg *settlement.Aggregator, trail *audit.Trail, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(st)
	}
	return &Workflow{Store: st, Aggregator: agg, Trail: trail, Logger: logger}
}

// ProcessPayout attaches an invoice and moves the settlement to processing.
func (w *Workflow) ProcessPayout(ctx context.Context, actor ledger.Actor, key ledger.SettlementKey, invoiceURL string) (*ledger.PayoutRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := ledger.Required("invoice_url", invoiceURL); err != nil {
		return nil, err
	}

	now := w.Clock.Now()
	var rec ledger.PayoutRecord
	err := w.Store.WithTx(ctx, func(tx ledger.Store) error {
		s, visible, err := w.Aggregator.LookupIn(ctx, tx, key)
		if err != nil {
			return err
		}
		if !visible {
			return &ledger.NotFoundError{Entity: ledger.EntitySettlement, ID: string(key)}
		}

		rec = ledger.PayoutRecord{
			Key:         key,
			OrganizerID: s.OrganizerID,
			Status:      ledger.PayoutProcessing,
			InvoiceURL:  invoiceURL,
			ProcessedAt: ledger.TimePtr(now),
			ProcessedBy: actor.Name,
		}
		if s.Payout != nil {
			rec.Version = s.Payout.Version
		}
		if err := w.swap(ctx, tx, &rec, s.Status, ledger.PayoutAvailable); err != nil {
			return err
		}
		return w.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditPayoutProcessing,
			EntityType: ledger.EntitySettlement,
			EntityID:   string(key),
			EntityName: s.TripTitle,
			Details:    fmt.Sprintf("net %s, invoice %s", s.NetEarning.StringFixed(2), invoiceURL),
		})
	})
	return w.finish(actor, key, ledger.PayoutProcessing, &rec, err)
}

// SubmitUTR records the bank transfer reference and marks the payout paid.
func (w *Workflow) SubmitUTR(ctx context.Context, actor ledger.Actor, key ledger.SettlementKey, utr string) (*ledger.PayoutRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := ledger.Required("utr_number", utr); err != nil {
		return nil, err
	}
	if _, _, err := ledger.ParseSettlementKey(key); err != nil {
		return nil, err
	}

	now := w.Clock.Now()
	var rec ledger.PayoutRecord
	err := w.Store.WithTx(ctx, func(tx ledger.Store) error {
		current, err := tx.GetPayout(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load payout: %w", err)
		}
		from := ledger.PayoutAvailable
		if current != nil {
			rec = *current
			from = current.Status
		} else {
			rec = ledger.PayoutRecord{Key: key}
		}
		rec.Status = ledger.PayoutPaid
		rec.UTRNumber = utr
		rec.PaidAt = ledger.TimePtr(now)
		rec.PaidBy = actor.Name

		if err := w.swap(ctx, tx, &rec, from, ledger.PayoutProcessing); err != nil {
			return err
		}
		return w.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditPayoutPaid,
			EntityType: ledger.EntitySettlement,
			EntityID:   string(key),
			Details:    "utr " + utr,
		})
	})
	return w.finish(actor, key, ledger.PayoutPaid, &rec, err)
}

// Get returns the payout record or a NotFoundError.
func (w *Workflow) Get(ctx context.Context, key ledger.SettlementKey) (*ledger.PayoutRecord, error) {
	rec, err := w.Store.GetPayout(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load payout: %w", err)
	}
	if rec == nil {
		return nil, &ledger.NotFoundError{Entity: ledger.EntitySettlement, ID: string(key)}
	}
	return rec, nil
}

// swap writes rec if the stored status is still expected. from is the status
// the caller observed. Both a stale read and a lost race surface as an
// invalid transition.
func (w *Workflow) swap(ctx context.Context, tx ledger.Store, rec *ledger.PayoutRecord, from, expected ledger.PayoutStatus) error {
	invalid := &ledger.InvalidTransitionError{
		Entity: ledger.EntitySettlement,
		ID:     string(rec.Key),
		Axis:   ledger.AxisPayout,
		From:   string(from),
		To:     string(rec.Status),
	}
	if from != expected {
		return invalid
	}
	err := tx.CompareAndSwapPayout(ctx, *rec, expected)
	if errors.Is(err, ledger.ErrConcurrentModification) {
		if cur, _ := tx.GetPayout(ctx, rec.Key); cur != nil {
			invalid.From = string(cur.Status)
		}
		return invalid
	}
	if err != nil {
		return fmt.Errorf("failed to write payout: %w", err)
	}
	rec.Version++
	return nil
}

func (w *Workflow) finish(actor ledger.Actor, key ledger.SettlementKey, to ledger.PayoutStatus, rec *ledger.PayoutRecord, err error) (*ledger.PayoutRecord, error) {
	observability.RecordPayoutTransition(string(to), observability.ResultOf(err))
	if err != nil {
		w.Logger.Warn("payout transition failed",
			zap.String("settlement_key", string(key)),
			zap.String("to", string(to)),
			zap.String("actor", actor.Name),
			zap.Error(err))
		return nil, err
	}
	w.Logger.Info("payout transition",
		zap.String("settlement_key", string(key)),
		zap.String("to", string(to)),
		zap.String("actor", actor.Name))
	if w.OnChange != nil {
		w.OnChange()
	}
	return rec, nil
}

func authorize(actor ledger.Actor) error {
	if !actor.Is(ledger.RoleAdmin, ledger.RoleSystem) {
		return &ledger.ForbiddenError{Actor: actor, Action: "manage payouts"}
	}
	return nil
}

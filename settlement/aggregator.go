/*
Package settlement projects bookings into per-batch settlements.

PURPOSE:
  A settlement is what the platform owes an organizer for one completed batch.
  It is never stored: every read recomputes it from bookings, the catalog,
  commission settings and the persisted payout record. The only persisted
  part is the payout status (see payout/).

KEY INSIGHT:
  Settlements are a PROJECTION, not a source of truth. Any booking, catalog
  or payout change can alter the output, so the projection is always
  recomputed from one consistent snapshot (TxStore.View).

ALGORITHM (per batch):
  1. Batch must have ended strictly before now, and have at least one booking
  2. successful = paid_in_full bookings, cancelled = cancelled bookings
  3. Any booking with an open dispute (requested / approved_by_organizer)
     suppresses the WHOLE batch; it reappears once every dispute resolves
  4. gross      = Σ successful.totalPrice + Σ cancelled.amountPaid
  5. rate       = organizer override if set and in [0,100], else global rate
  6. commission = round2(gross × rate / 100)
     net        = gross − commission
  7. status from the payout record, default available_for_payout
  8. Sort by batch end date, newest first

  Missing references degrade instead of failing: a trip without an organizer
  record uses the global rate.

EXAMPLE:
  Batch ended yesterday, bookings 1000 + 2000 paid in full, global rate 10%:
    gross 3000, commission 300, net 2700, available_for_payout

SEE ALSO:
  - cache.go: TTL memoization, invalidated on every mutation
  - summary.go: Dashboard totals
  - payout/: Moves the persisted payout status
*/
package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/observability"
)

// =============================================================================
// SETTLEMENT - derived figures for one batch
// =============================================================================

type Settlement struct {
	Key            ledger.SettlementKey
	TripID         ledger.TripID
	TripTitle      string
	BatchID        ledger.BatchID
	BatchStartDate time.Time
	BatchEndDate   time.Time
	OrganizerID    ledger.OrganizerID
	OrganizerName  string

	GrossRevenue   decimal.Decimal
	CommissionRate decimal.Decimal
	Commission     decimal.Decimal
	NetEarning     decimal.Decimal

	SuccessfulBookings int
	CancelledBookings  int

	Status ledger.PayoutStatus
	// Payout is the persisted record, nil until the first payout action.
	Payout *ledger.PayoutRecord
}

// Result is one aggregation pass.
type Result struct {
	Settlements []Settlement
	// Suppressed lists completed batches hidden by an open dispute.
	Suppressed []ledger.SettlementKey
	ComputedAt time.Time

	owners map[ledger.SettlementKey]ledger.OrganizerID
}

// Lookup returns the visible settlement with the given key.
func (r Result) Lookup(key ledger.SettlementKey) (Settlement, bool) {
	for _, s := range r.Settlements {
		if s.Key == key {
			return s, true
		}
	}
	return Settlement{}, false
}

// Filter selects settlements. Zero fields match everything.
type Filter struct {
	OrganizerID ledger.OrganizerID
	Status      ledger.PayoutStatus
}

func (f Filter) Apply(in []Settlement) []Settlement {
	out := make([]Settlement, 0, len(in))
	for _, s := range in {
		if f.OrganizerID != "" && s.OrganizerID != f.OrganizerID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Suppressed counts the suppressed batches of r that f's organizer may see.
// Payout status does not apply: a suppressed batch has none.
func (f Filter) Suppressed(r Result) int {
	if f.OrganizerID == "" {
		return len(r.Suppressed)
	}
	n := 0
	for _, key := range r.Suppressed {
		if r.owners[key] == f.OrganizerID {
			n++
		}
	}
	return n
}

// =============================================================================
// AGGREGATE - pure projection
// =============================================================================

// Input is everything one aggregation pass reads.
type Input struct {
	Now        time.Time
	GlobalRate decimal.Decimal
	Trips      []ledger.Trip
	Bookings   []ledger.Booking
	Organizers []ledger.Organizer
	Payouts    []ledger.PayoutRecord
}

var hundred = decimal.NewFromInt(100)

// Aggregate computes settlements for every completed, undisputed batch.
// It has no side effects.
func Aggregate(in Input) Result {
	byBatch := make(map[ledger.SettlementKey][]ledger.Booking)
	for _, b := range in.Bookings {
		key := b.SettlementKey()
		byBatch[key] = append(byBatch[key], b)
	}
	organizers := make(map[ledger.OrganizerID]ledger.Organizer, len(in.Organizers))
	for _, o := range in.Organizers {
		organizers[o.ID] = o
	}
	payouts := make(map[ledger.SettlementKey]ledger.PayoutRecord, len(in.Payouts))
	for _, p := range in.Payouts {
		payouts[p.Key] = p
	}

	result := Result{
		Settlements: []Settlement{},
		ComputedAt:  in.Now,
		owners:      make(map[ledger.SettlementKey]ledger.OrganizerID),
	}
	for _, trip := range in.Trips {
		for _, batch := range trip.Batches {
			if !batch.Completed(in.Now) {
				continue
			}
			key := ledger.NewSettlementKey(trip.ID, batch.ID)
			bookings := byBatch[key]
			if len(bookings) == 0 {
				continue
			}
			if hasOpenDispute(bookings) {
				result.Suppressed = append(result.Suppressed, key)
				result.owners[key] = trip.OrganizerID
				continue
			}

			s := Settlement{
				Key:            key,
				TripID:         trip.ID,
				TripTitle:      trip.Title,
				BatchID:        batch.ID,
				BatchStartDate: batch.StartDate,
				BatchEndDate:   batch.EndDate,
				OrganizerID:    trip.OrganizerID,
				GrossRevenue:   decimal.Zero,
				Status:         ledger.PayoutAvailable,
			}
			for _, b := range bookings {
				switch b.PaymentStatus {
				case ledger.PaymentPaidInFull:
					s.SuccessfulBookings++
					s.GrossRevenue = s.GrossRevenue.Add(b.TotalPrice)
				case ledger.PaymentCancelled:
					s.CancelledBookings++
					s.GrossRevenue = s.GrossRevenue.Add(b.AmountPaid)
				}
			}

			org, known := organizers[trip.OrganizerID]
			if known {
				s.OrganizerName = org.Name
			}
			s.CommissionRate = effectiveRate(org, known, in.GlobalRate)
			s.Commission = s.GrossRevenue.Mul(s.CommissionRate).Div(hundred).Round(2)
			s.NetEarning = s.GrossRevenue.Sub(s.Commission)

			if p, ok := payouts[key]; ok {
				rec := p
				s.Payout = &rec
				if p.Status.Valid() {
					s.Status = p.Status
				}
			}
			result.Settlements = append(result.Settlements, s)
		}
	}

	sort.SliceStable(result.Settlements, func(i, j int) bool {
		a, b := result.Settlements[i], result.Settlements[j]
		if !a.BatchEndDate.Equal(b.BatchEndDate) {
			return a.BatchEndDate.After(b.BatchEndDate)
		}
		return a.Key < b.Key
	})
	return result
}

func hasOpenDispute(bookings []ledger.Booking) bool {
	for _, b := range bookings {
		if b.Refund.Status.IsOpenDispute() {
			return true
		}
	}
	return false
}

func effectiveRate(org ledger.Organizer, known bool, global decimal.Decimal) decimal.Decimal {
	if known && org.CommissionRate != nil && ledger.ValidRate(*org.CommissionRate) {
		return *org.CommissionRate
	}
	return global
}

// =============================================================================
// AGGREGATOR - reads a snapshot, then aggregates
// =============================================================================

// Source produces aggregation results. Implemented by Aggregator and Cache.
type Source interface {
	Compute(ctx context.Context) (Result, error)
}

type Aggregator struct {
	Store ledger.TxStore
	Clock ledger.Clock
	// DefaultRate applies until platform settings are saved.
	DefaultRate decimal.Decimal
	Logger      *zap.Logger
}

func NewAggregator(st ledger.TxStore, defaultRate decimal.Decimal, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{Store: st, DefaultRate: defaultRate, Logger: logger}
}

// Compute aggregates from one read snapshot.
func (a *Aggregator) Compute(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result
	err := a.Store.View(ctx, func(st ledger.Store) error {
		in, err := a.load(ctx, st, ledger.BookingFilter{})
		if err != nil {
			return err
		}
		if in.Trips, err = st.ListTrips(ctx); err != nil {
			return fmt.Errorf("failed to load trips: %w", err)
		}
		result = Aggregate(in)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	observability.RecordAggregation(time.Since(start).Seconds(), len(result.Settlements), len(result.Suppressed))
	a.Logger.Debug("settlements aggregated",
		zap.Int("visible", len(result.Settlements)),
		zap.Int("suppressed", len(result.Suppressed)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// LookupIn computes the settlement for one key from st. Used inside write
// transactions so visibility is checked against the same state being written.
func (a *Aggregator) LookupIn(ctx context.Context, st ledger.Store, key ledger.SettlementKey) (Settlement, bool, error) {
	tripID, batchID, err := ledger.ParseSettlementKey(key)
	if err != nil {
		return Settlement{}, false, err
	}
	trip, err := st.GetTrip(ctx, tripID)
	if err != nil {
		return Settlement{}, false, fmt.Errorf("failed to load trip: %w", err)
	}
	if trip == nil {
		return Settlement{}, false, nil
	}
	batch, ok := trip.Batch(batchID)
	if !ok {
		return Settlement{}, false, nil
	}
	trip.Batches = []ledger.Batch{batch}

	in, err := a.load(ctx, st, ledger.BookingFilter{TripID: tripID, BatchID: batchID})
	if err != nil {
		return Settlement{}, false, err
	}
	in.Trips = []ledger.Trip{*trip}

	s, found := Aggregate(in).Lookup(key)
	return s, found, nil
}

// load reads everything but the trips.
func (a *Aggregator) load(ctx context.Context, st ledger.Store, filter ledger.BookingFilter) (Input, error) {
	in := Input{Now: a.Clock.Now(), GlobalRate: a.DefaultRate}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return in, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings != nil {
		in.GlobalRate = settings.CommissionRate
	}
	if in.Bookings, err = st.ListBookings(ctx, filter); err != nil {
		return in, fmt.Errorf("failed to load bookings: %w", err)
	}
	if in.Organizers, err = st.ListOrganizers(ctx); err != nil {
		return in, fmt.Errorf("failed to load organizers: %w", err)
	}
	if in.Payouts, err = st.ListPayouts(ctx); err != nil {
		return in, fmt.Errorf("failed to load payouts: %w", err)
	}
	return in, nil
}

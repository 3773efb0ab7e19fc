package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/warp/trip-settlements/ledger"
)

// Summary totals a list of settlements for the finance dashboard.
type Summary struct {
	GrossRevenue decimal.Decimal
	Commission   decimal.Decimal
	NetEarning   decimal.Decimal

	// Outstanding is net owed on settlements not yet paid.
	Outstanding decimal.Decimal
	Paid        decimal.Decimal

	Count      int
	ByStatus   map[ledger.PayoutStatus]int
	Suppressed int
}

// Summarize totals settlements. suppressed is carried through as a count.
func Summarize(settlements []Settlement, suppressed int) Summary {
	sum := Summary{
		GrossRevenue: decimal.Zero,
		Commission:   decimal.Zero,
		NetEarning:   decimal.Zero,
		Outstanding:  decimal.Zero,
		Paid:         decimal.Zero,
		Count:        len(settlements),
		Suppressed:   suppressed,
		ByStatus: map[ledger.PayoutStatus]int{
			ledger.PayoutAvailable:  0,
			ledger.PayoutProcessing: 0,
			ledger.PayoutPaid:       0,
		},
	}
	for _, s := range settlements {
		sum.GrossRevenue = sum.GrossRevenue.Add(s.GrossRevenue)
		sum.Commission = sum.Commission.Add(s.Commission)
		sum.NetEarning = sum.NetEarning.Add(s.NetEarning)
		sum.ByStatus[s.Status]++
		if s.Status == ledger.PayoutPaid {
			sum.Paid = sum.Paid.Add(s.NetEarning)
		} else {
			sum.Outstanding = sum.Outstanding.Add(s.NetEarning)
		}
	}
	return sum
}

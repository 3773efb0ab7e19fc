/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts and rates are decimal.Decimal and serialize as JSON strings with no
  trailing zeros ("2700", "412.5") so clients never see float rounding.

TYPES:
  Bookings:    BookingDTO, CreateBookingRequest, UpdateBookingRequest,
               RefundActionRequest, BulkCancelRequest, BulkResultDTO
  Catalog:     factory.TripJSON, factory.OrganizerJSON, CommissionRequest
  Settlements: SettlementDTO, SummaryDTO, SettlementListResponse,
               ProcessPayoutRequest, SubmitUTRRequest, PayoutDTO
  Audit:       AuditEntryDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the services, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: TripJSON, OrganizerJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-settlements/booking"
	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/settlement"
)

// =============================================================================
// BOOKINGS
// =============================================================================

type RefundDTO struct {
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	RequestedAt     *time.Time      `json:"requested_at,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	UTR             string          `json:"utr,omitempty"`
}

type BookingDTO struct {
	ID                 string          `json:"id"`
	TripID             string          `json:"trip_id"`
	BatchID            string          `json:"batch_id"`
	OrganizerID        string          `json:"organizer_id"`
	TravelerID         string          `json:"traveler_id"`
	TravelerName       string          `json:"traveler_name,omitempty"`
	Travelers          int             `json:"travelers"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	PaymentType        string          `json:"payment_type"`
	PaymentStatus      string          `json:"payment_status"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Refund             RefundDTO       `json:"refund"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type CreateBookingRequest struct {
	TripID       string           `json:"trip_id"`
	BatchID      string           `json:"batch_id"`
	TravelerID   string           `json:"traveler_id"`
	TravelerName string           `json:"traveler_name"`
	Travelers    int              `json:"travelers"`
	PaymentType  string           `json:"payment_type"`
	AmountPaid   decimal.Decimal  `json:"amount_paid"`
	TotalPrice   *decimal.Decimal `json:"total_price,omitempty"`
}

// UpdateBookingRequest moves the payment axis (paid_in_full or cancelled).
type UpdateBookingRequest struct {
	PaymentStatus      string `json:"payment_status"`
	CancellationReason string `json:"cancellation_reason"`
}

// RefundActionRequest carries the fields any refund action may need.
type RefundActionRequest struct {
	Reason  string           `json:"reason"`
	Remarks string           `json:"remarks"`
	Amount  *decimal.Decimal `json:"amount"`
}

type BulkCancelRequest struct {
	BookingIDs []string `json:"booking_ids"`
	Remarks    string   `json:"remarks"`
}

type BulkResultDTO struct {
	ID      string      `json:"id"`
	Booking *BookingDTO `json:"booking,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// CommissionRequest sets a rate. A null rate clears an organizer override.
type CommissionRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

type CommissionDTO struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type PayoutDTO struct {
	Status      string     `json:"status"`
	InvoiceURL  string     `json:"invoice_url,omitempty"`
	UTRNumber   string     `json:"utr_number,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PaidBy      string     `json:"paid_by,omitempty"`
}

type SettlementDTO struct {
	Key                string          `json:"key"`
	TripID             string          `json:"trip_id"`
	TripTitle          string          `json:"trip_title"`
	BatchID            string          `json:"batch_id"`
	BatchStartDate     string          `json:"batch_start_date"`
	BatchEndDate       string          `json:"batch_end_date"`
	OrganizerID        string          `json:"organizer_id"`
	OrganizerName      string          `json:"organizer_name"`
	GrossRevenue       decimal.Decimal `json:"gross_revenue"`
	CommissionRate     decimal.Decimal `json:"commission_rate"`
	Commission         decimal.Decimal `json:"commission"`
	NetEarning         decimal.Decimal `json:"net_earning"`
	SuccessfulBookings int             `json:"successful_bookings"`
	CancelledBookings  int             `json:"cancelled_bookings"`
	Status             string          `json:"status"`
	Payout             *PayoutDTO      `json:"payout,omitempty"`
}

type SummaryDTO struct {
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Commission   decimal.Decimal `json:"commission"`
	NetEarning   decimal.Decimal `json:"net_earning"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	Paid         decimal.Decimal `json:"paid"`
	Count        int             `json:"count"`
	ByStatus     map[string]int  `json:"by_status"`
	Suppressed   int             `json:"suppressed"`
}

type SettlementListResponse struct {
	Settlements []SettlementDTO `json:"settlements"`
	Summary     SummaryDTO      `json:"summary"`
	ComputedAt  time.Time       `json:"computed_at"`
}

type ProcessPayoutRequest struct {
	InvoiceURL string `json:"invoice_url"`
}

type SubmitUTRRequest struct {
	UTRNumber string `json:"utr_number"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	AdminName  string    `json:"admin_name"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EntityName string    `json:"entity_name,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBookingDTO(b ledger.Booking) BookingDTO {
	return BookingDTO{
		ID:                 string(b.ID),
		TripID:             string(b.TripID),
		BatchID:            string(b.BatchID),
		OrganizerID:        string(b.OrganizerID),
		TravelerID:         string(b.TravelerID),
		TravelerName:       b.TravelerName,
		Travelers:          b.Travelers,
		TotalPrice:         b.TotalPrice,
		AmountPaid:         b.AmountPaid,
		BalanceDue:         b.BalanceDue,
		PaymentType:        string(b.PaymentType),
		PaymentStatus:      string(b.PaymentStatus),
		CancellationReason: b.CancellationReason,
		Refund: RefundDTO{
			Status:          string(b.Refund.Status.Normalize()),
			Reason:          b.Refund.Reason,
			ApprovedAmount:  b.Refund.ApprovedAmount,
			RequestedAt:     b.Refund.RequestedAt,
			ProcessedAt:     b.Refund.ProcessedAt,
			RejectionReason: b.Refund.RejectionReason,
			UTR:             b.Refund.UTR,
		},
		Version:   b.Version,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func toBookingDTOs(bs []ledger.Booking) []BookingDTO {
	out := make([]BookingDTO, len(bs))
	for i, b := range bs {
		out[i] = toBookingDTO(b)
	}
	return out
}

func (r CreateBookingRequest) toInput() booking.CreateInput {
	return booking.CreateInput{
		TripID:       ledger.TripID(r.TripID),
		BatchID:      ledger.BatchID(r.BatchID),
		TravelerID:   ledger.TravelerID(r.TravelerID),
		TravelerName: r.TravelerName,
		Travelers:    r.Travelers,
		PaymentType:  ledger.PaymentType(r.PaymentType),
		AmountPaid:   r.AmountPaid,
		TotalPrice:   r.TotalPrice,
	}
}

func toPayoutDTO(p *ledger.PayoutRecord) *PayoutDTO {
	if p == nil {
		return nil
	}
	return &PayoutDTO{
		Status:      string(p.Status),
		InvoiceURL:  p.InvoiceURL,
		UTRNumber:   p.UTRNumber,
		ProcessedAt: p.ProcessedAt,
		ProcessedBy: p.ProcessedBy,
		PaidAt:      p.PaidAt,
		PaidBy:      p.PaidBy,
	}
}

func toSettlementDTO(s settlement.Settlement) SettlementDTO {
	return SettlementDTO{
		Key:                string(s.Key),
		TripID:             string(s.TripID),
		TripTitle:          s.TripTitle,
		BatchID:            string(s.BatchID),
		BatchStartDate:     s.BatchStartDate.Format(ledger.DateLayout),
		BatchEndDate:       s.BatchEndDate.Format(ledger.DateLayout),
		OrganizerID:        string(s.OrganizerID),
		OrganizerName:      s.OrganizerName,
		GrossRevenue:       s.GrossRevenue,
		CommissionRate:     s.CommissionRate,
		Commission:         s.Commission,
		NetEarning:         s.NetEarning,
		SuccessfulBookings: s.SuccessfulBookings,
		CancelledBookings:  s.CancelledBookings,
		Status:             string(s.Status),
		Payout:             toPayoutDTO(s.Payout),
	}
}

func toSummaryDTO(s settlement.Summary) SummaryDTO {
	byStatus := make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		byStatus[string(k)] = v
	}
	return SummaryDTO{
		GrossRevenue: s.GrossRevenue,
		Commission:   s.Commission,
		NetEarning:   s.NetEarning,
		Outstanding:  s.Outstanding,
		Paid:         s.Paid,
		Count:        s.Count,
		ByStatus:     byStatus,
		Suppressed:   s.Suppressed,
	}
}

func toAuditDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			AdminName:  e.AdminName,
			Action:     string(e.Action),
			EntityType: string(e.EntityType),
			EntityID:   e.EntityID,
			EntityName: e.EntityName,
			Details:    e.Details,
		}
	}
	return out
}

/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON trip and organizer definitions into ledger.Trip and
  ledger.Organizer values. The HTTP layer and the demo scenarios both feed
  catalog data through here, so validation lives in one place.

JSON SCHEMA:
  {
    "id": "hampta-pass",
    "organizer_id": "org-himalaya",
    "title": "Hampta Pass Trek",
    "base_price": "12500",
    "batches": [
      {
        "id": "jul-01",
        "start_date": "2025-07-01",
        "end_date": "2025-07-06",
        "available_slots": 12,
        "status": "active",
        "deal_price": "10999"
      }
    ]
  }

  Organizer:
  {"id": "org-himalaya", "name": "Himalaya Treks", "commission_rate": "7.5"}

  Money and rates accept JSON numbers or strings. Dates are YYYY-MM-DD or
  RFC 3339.

KEY FEATURES:
  - Validates ids, dates, prices, slots and rates
  - Defaults batch status to active (full when no slots remain)
  - Round-trips via ToJSON for API responses

USAGE:
  f := NewCatalogFactory()
  trip, err := f.ParseTrip(jsonString)
  org, err := f.ParseOrganizer(jsonString)

SEE ALSO:
  - ledger/types.go: Trip, Batch, Organizer
  - api/handlers.go: POST /api/trips, POST /api/organizers
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-settlements/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TripJSON is the JSON representation of a trip and its batches.
type TripJSON struct {
	ID          string          `json:"id"`
	OrganizerID string          `json:"organizer_id"`
	Title       string          `json:"title"`
	BasePrice   decimal.Decimal `json:"base_price"`
	Batches     []BatchJSON     `json:"batches"`
}

// BatchJSON represents one departure.
type BatchJSON struct {
	ID             string           `json:"id"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	AvailableSlots int              `json:"available_slots"`
	Status         string           `json:"status,omitempty"` // active, inactive, full
	DealPrice      *decimal.Decimal `json:"deal_price,omitempty"`
}

// OrganizerJSON represents an organizer with an optional commission override.
type OrganizerJSON struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         string           `json:"status,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalog entries to ledger values.
type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseTrip parses a JSON string into a Trip.
func (f *CatalogFactory) ParseTrip(jsonStr string) (*ledger.Trip, error) {
	var tj TripJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse trip JSON: %w", err)
	}
	return f.TripFromJSON(tj)
}

// TripFromJSON validates tj and converts it to a Trip.
func (f *CatalogFactory) TripFromJSON(tj TripJSON) (*ledger.Trip, error) {
	for field, v := range map[string]string{"id": tj.ID, "organizer_id": tj.OrganizerID, "title": tj.Title} {
		if err := ledger.Required(field, v); err != nil {
			return nil, err
		}
	}
	if tj.BasePrice.IsNegative() {
		return nil, &ledger.ValidationError{Field: "base_price", Message: "must not be negative"}
	}
	if err := ledger.ValidateKeyPart("id", tj.ID); err != nil {
		return nil, err
	}

	trip := &ledger.Trip{
		ID:          ledger.TripID(tj.ID),
		OrganizerID: ledger.OrganizerID(tj.OrganizerID),
		Title:       tj.Title,
		BasePrice:   tj.BasePrice,
	}

	seen := make(map[string]bool, len(tj.Batches))
	for i, bj := range tj.Batches {
		batch, err := parseBatch(bj)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[bj.ID] {
			return nil, &ledger.ValidationError{Field: "batches", Message: "duplicate batch id " + bj.ID}
		}
		seen[bj.ID] = true
		batch.TripID = trip.ID
		trip.Batches = append(trip.Batches, batch)
	}
	return trip, nil
}

// TripToJSON converts a Trip to TripJSON.
func (f *CatalogFactory) TripToJSON(t ledger.Trip) TripJSON {
	tj := TripJSON{
		ID:          string(t.ID),
		OrganizerID: string(t.OrganizerID),
		Title:       t.Title,
		BasePrice:   t.BasePrice,
		Batches:     make([]BatchJSON, 0, len(t.Batches)),
	}
	for _, b := range t.Batches {
		tj.Batches = append(tj.Batches, BatchJSON{
			ID:             string(b.ID),
			StartDate:      b.StartDate.Format(ledger.DateLayout),
			EndDate:        b.EndDate.Format(ledger.DateLayout),
			AvailableSlots: b.AvailableSlots,
			Status:         string(b.Status),
			DealPrice:      b.DealPrice,
		})
	}
	return tj
}

// ParseOrganizer parses a JSON string into an Organizer.
func (f *CatalogFactory) ParseOrganizer(jsonStr string) (*ledger.Organizer, error) {
	var oj OrganizerJSON
	if err := json.Unmarshal([]byte(jsonStr), &oj); err != nil {
		return nil, fmt.Errorf("failed to parse organizer JSON: %w", err)
	}
	return f.OrganizerFromJSON(oj)
}

// OrganizerFromJSON validates oj and converts it to an Organizer.
func (f *CatalogFactory) OrganizerFromJSON(oj OrganizerJSON) (*ledger.Organizer, error) {
	if err := ledger.Required("id", oj.ID); err != nil {
		return nil, err
	}
	if err := ledger.Required("name", oj.Name); err != nil {
		return nil, err
	}
	status, err := parseOrganizerStatus(oj.Status)
	if err != nil {
		return nil, err
	}
	if oj.CommissionRate != nil && !ledger.ValidRate(*oj.CommissionRate) {
		return nil, &ledger.ValidationError{Field: "commission_rate", Message: "must be between 0 and 100"}
	}
	return &ledger.Organizer{
		ID:             ledger.OrganizerID(oj.ID),
		Name:           oj.Name,
		Status:         status,
		CommissionRate: oj.CommissionRate,
	}, nil
}

// OrganizerToJSON converts an Organizer to OrganizerJSON.
func (f *CatalogFactory) OrganizerToJSON(o ledger.Organizer) OrganizerJSON {
	return OrganizerJSON{
		ID:             string(o.ID),
		Name:           o.Name,
		Status:         string(o.Status),
		CommissionRate: o.CommissionRate,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseBatch(bj BatchJSON) (ledger.Batch, error) {
	if err := ledger.Required("batch id", bj.ID); err != nil {
		return ledger.Batch{}, err
	}
	if err := ledger.ValidateKeyPart("batch id", bj.ID); err != nil {
		return ledger.Batch{}, err
	}
	start, err := ledger.ParseDate(bj.StartDate)
	if err != nil {
		return ledger.Batch{}, &ledger.ValidationError{Field: "start_date", Message: err.Error()}
	}
	end, err := ledger.ParseDate(bj.EndDate)
	if err != nil {
		return ledger.Batch{}, &ledger.ValidationError{Field: "end_date", Message: err.Error()}
	}
	if end.Before(start) {
		return ledger.Batch{}, &ledger.ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	if bj.AvailableSlots < 0 {
		return ledger.Batch{}, &ledger.ValidationError{Field: "available_slots", Message: "must not be negative"}
	}
	if bj.DealPrice != nil && bj.DealPrice.IsNegative() {
		return ledger.Batch{}, &ledger.ValidationError{Field: "deal_price", Message: "must not be negative"}
	}
	status, err := parseBatchStatus(bj.Status, bj.AvailableSlots)
	if err != nil {
		return ledger.Batch{}, err
	}
	return ledger.Batch{
		ID:             ledger.BatchID(bj.ID),
		StartDate:      start,
		EndDate:        end,
		AvailableSlots: bj.AvailableSlots,
		Status:         status,
		DealPrice:      bj.DealPrice,
	}, nil
}

func parseBatchStatus(s string, slots int) (ledger.BatchStatus, error) {
	switch ledger.BatchStatus(s) {
	case "":
		if slots == 0 {
			return ledger.BatchFull, nil
		}
		return ledger.BatchActive, nil
	case ledger.BatchActive, ledger.BatchInactive, ledger.BatchFull:
		return ledger.BatchStatus(s), nil
	default:
		return "", &ledger.ValidationError{Field: "status", Message: "unknown batch status " + s}
	}
}

func parseOrganizerStatus(s string) (ledger.OrganizerStatus, error) {
	switch ledger.OrganizerStatus(s) {
	case "":
		return ledger.OrganizerActive, nil
	case ledger.OrganizerActive, ledger.OrganizerSuspended:
		return ledger.OrganizerStatus(s), nil
	default:
		return "", &ledger.ValidationError{Field: "status", Message: "unknown organizer status " + s}
	}
}

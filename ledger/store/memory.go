// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/trip-settlements/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore. WithTx snapshots the whole state and
// restores it when fn fails.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ ledger.TxStore = (*Memory)(nil)

func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) View(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(readOnly{m.st})
}

func (m *Memory) InsertBooking(ctx context.Context, b ledger.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertBooking(ctx, b)
}

func (m *Memory) GetBooking(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBooking(ctx, id)
}

func (m *Memory) ListBookings(ctx context.Context, f ledger.BookingFilter) ([]ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBookings(ctx, f)
}

func (m *Memory) UpdateBooking(ctx context.Context, b ledger.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateBooking(ctx, b)
}

func (m *Memory) SaveTrip(ctx context.Context, t ledger.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveTrip(ctx, t)
}

func (m *Memory) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetTrip(ctx, id)
}

func (m *Memory) ListTrips(ctx context.Context) ([]ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTrips(ctx)
}

func (m *Memory) SaveOrganizer(ctx context.Context, o ledger.Organizer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveOrganizer(ctx, o)
}

func (m *Memory) GetOrganizer(ctx context.Context, id ledger.OrganizerID) (*ledger.Organizer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetOrganizer(ctx, id)
}

func (m *Memory) ListOrganizers(ctx context.Context) ([]ledger.Organizer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListOrganizers(ctx)
}

func (m *Memory) GetSettings(ctx context.Context) (*ledger.PlatformSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetSettings(ctx)
}

func (m *Memory) SaveSettings(ctx context.Context, s ledger.PlatformSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSettings(ctx, s)
}

func (m *Memory) GetPayout(ctx context.Context, key ledger.SettlementKey) (*ledger.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPayout(ctx, key)
}

func (m *Memory) ListPayouts(ctx context.Context) ([]ledger.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayouts(ctx)
}

func (m *Memory) CompareAndSwapPayout(ctx context.Context, rec ledger.PayoutRecord, expected ledger.PayoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CompareAndSwapPayout(ctx, rec, expected)
}

func (m *Memory) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, e)
}

func (m *Memory) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.QueryAudit(ctx, f)
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// STATE - unlocked data, shared by Memory and transactional views
// =============================================================================

type state struct {
	bookings     map[ledger.BookingID]ledger.Booking
	bookingOrder []ledger.BookingID
	trips        map[ledger.TripID]ledger.Trip
	organizers   map[ledger.OrganizerID]ledger.Organizer
	settings     *ledger.PlatformSettings
	payouts      map[ledger.SettlementKey]ledger.PayoutRecord
	audit        []ledger.AuditEntry
}

func newState() *state {
	return &state{
		bookings:   make(map[ledger.BookingID]ledger.Booking),
		trips:      make(map[ledger.TripID]ledger.Trip),
		organizers: make(map[ledger.OrganizerID]ledger.Organizer),
		payouts:    make(map[ledger.SettlementKey]ledger.PayoutRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	c.bookingOrder = append([]ledger.BookingID(nil), s.bookingOrder...)
	for k, v := range s.trips {
		c.trips[k] = copyTrip(v)
	}
	for k, v := range s.organizers {
		c.organizers[k] = v
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	c.audit = append([]ledger.AuditEntry(nil), s.audit...)
	return c
}

func copyTrip(t ledger.Trip) ledger.Trip {
	t.Batches = append([]ledger.Batch(nil), t.Batches...)
	return t
}

func (s *state) InsertBooking(_ context.Context, b ledger.Booking) error {
	if _, ok := s.bookings[b.ID]; ok {
		return ledger.ErrDuplicateID
	}
	s.bookings[b.ID] = b
	s.bookingOrder = append(s.bookingOrder, b.ID)
	return nil
}

func (s *state) GetBooking(_ context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) ListBookings(_ context.Context, f ledger.BookingFilter) ([]ledger.Booking, error) {
	var result []ledger.Booking
	for _, id := range s.bookingOrder {
		if b := s.bookings[id]; f.Matches(b) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *state) UpdateBooking(_ context.Context, b ledger.Booking) error {
	current, ok := s.bookings[b.ID]
	if !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityBooking, ID: string(b.ID)}
	}
	if current.Version != b.Version {
		return ledger.ErrConcurrentModification
	}
	b.Version++
	s.bookings[b.ID] = b
	return nil
}

func (s *state) SaveTrip(_ context.Context, t ledger.Trip) error {
	s.trips[t.ID] = copyTrip(t)
	return nil
}

func (s *state) GetTrip(_ context.Context, id ledger.TripID) (*ledger.Trip, error) {
	t, ok := s.trips[id]
	if !ok {
		return nil, nil
	}
	t = copyTrip(t)
	return &t, nil
}

func (s *state) ListTrips(_ context.Context) ([]ledger.Trip, error) {
	result := make([]ledger.Trip, 0, len(s.trips))
	for _, t := range s.trips {
		result = append(result, copyTrip(t))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) SaveOrganizer(_ context.Context, o ledger.Organizer) error {
	s.organizers[o.ID] = o
	return nil
}

func (s *state) GetOrganizer(_ context.Context, id ledger.OrganizerID) (*ledger.Organizer, error) {
	o, ok := s.organizers[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *state) ListOrganizers(_ context.Context) ([]ledger.Organizer, error) {
	result := make([]ledger.Organizer, 0, len(s.organizers))
	for _, o := range s.organizers {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) GetSettings(_ context.Context) (*ledger.PlatformSettings, error) {
	if s.settings == nil {
		return nil, nil
	}
	settings := *s.settings
	return &settings, nil
}

func (s *state) SaveSettings(_ context.Context, settings ledger.PlatformSettings) error {
	s.settings = &settings
	return nil
}

func (s *state) GetPayout(_ context.Context, key ledger.SettlementKey) (*ledger.PayoutRecord, error) {
	p, ok := s.payouts[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) ListPayouts(_ context.Context) ([]ledger.PayoutRecord, error) {
	result := make([]ledger.PayoutRecord, 0, len(s.payouts))
	for _, p := range s.payouts {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *state) CompareAndSwapPayout(_ context.Context, rec ledger.PayoutRecord, expected ledger.PayoutStatus) error {
	current, ok := s.payouts[rec.Key]
	status := ledger.PayoutAvailable
	if ok {
		status = current.Status
	}
	if status != expected {
		return ledger.ErrConcurrentModification
	}
	rec.Version = current.Version + 1
	s.payouts[rec.Key] = rec
	return nil
}

func (s *state) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	for _, existing := range s.audit {
		if existing.ID == e.ID {
			return ledger.ErrDuplicateID
		}
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *state) QueryAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var result []ledger.AuditEntry
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			result = append(result, s.audit[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// =============================================================================
// READ-ONLY VIEW
// =============================================================================

// errReadOnly is returned by writes attempted inside View.
type errReadOnly struct{}

func (errReadOnly) Error() string { return "write attempted in read-only view" }

type readOnly struct{ *state }

func (readOnly) InsertBooking(context.Context, ledger.Booking) error { return errReadOnly{} }
func (readOnly) UpdateBooking(context.Context, ledger.Booking) error { return errReadOnly{} }
func (readOnly) SaveTrip(context.Context, ledger.Trip) error         { return errReadOnly{} }
func (readOnly) SaveOrganizer(context.Context, ledger.Organizer) error {
	return errReadOnly{}
}
func (readOnly) SaveSettings(context.Context, ledger.PlatformSettings) error {
	return errReadOnly{}
}
func (readOnly) CompareAndSwapPayout(context.Context, ledger.PayoutRecord, ledger.PayoutStatus) error {
	return errReadOnly{}
}
func (readOnly) AppendAudit(context.Context, ledger.AuditEntry) error { return errReadOnly{} }

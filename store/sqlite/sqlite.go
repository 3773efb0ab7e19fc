/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists bookings, the trip/batch catalog, organizers, platform settings,
  payout records and the audit log. Settlements are NOT stored; they are
  recomputed from these tables by settlement.Aggregator.

INTERFACES IMPLEMENTED:
  ledger.BookingStore: bookings with optimistic version column
  ledger.CatalogStore: trips + batches, organizers, settings
  ledger.PayoutStore:  payout records with status compare-and-set
  ledger.AuditLog:     append-only audit_logs table
  ledger.TxStore:      WithTx (read-write sql.Tx) and View (read-only sql.Tx)

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE statement on audit_logs outside Reset.

KEY TABLES:
  bookings:   one row per booking, refund sub-state flattened into columns
  trips:      trip header; batches: child rows keyed (trip_id, id)
  organizers: optional commission_rate override (NULL = platform rate)
  settings:   single row (id = 1) with the platform commission rate
  payouts:    persisted half of a settlement, keyed "tripId::batchId"
  audit_logs: append-only

COMPARE-AND-SET:
  UpdateBooking:        UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
  CompareAndSwapPayout: INSERT ... ON CONFLICT(settlement_key) DO UPDATE ... WHERE payouts.status = ?
  Zero rows affected means the race was lost: ErrConcurrentModification.

CONCURRENCY:
  sync.RWMutex serializes writers in-process. The pool is limited to one
  connection so ":memory:" databases are shared by every statement.

MONEY AND TIME:
  Decimals are stored as TEXT (exact). Timestamps are stored as fixed-width
  UTC text so lexical order equals chronological order.

USAGE:
  store, err := sqlite.New("./data/settlements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/trip-settlements/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		commission_rate TEXT
	);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		organizer_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		base_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_organizer ON trips(organizer_id);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT NOT NULL,
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		available_slots INTEGER NOT NULL,
		status TEXT NOT NULL,
		deal_price TEXT,
		PRIMARY KEY (trip_id, id)
	);

	-- Completed-batch scans (aggregator hot path)
	CREATE INDEX IF NOT EXISTS idx_batches_end_date ON batches(end_date);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		organizer_id TEXT NOT NULL,
		traveler_id TEXT NOT NULL DEFAULT '',
		traveler_name TEXT NOT NULL DEFAULT '',
		travelers INTEGER NOT NULL DEFAULT 1,
		total_price TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		refund_status TEXT NOT NULL DEFAULT 'none',
		refund_reason TEXT NOT NULL DEFAULT '',
		approved_refund_amount TEXT NOT NULL DEFAULT '0',
		refund_requested_at TEXT,
		refund_processed_at TEXT,
		refund_rejection_reason TEXT NOT NULL DEFAULT '',
		refund_utr TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_batch ON bookings(trip_id, batch_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_organizer ON bookings(organizer_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_traveler ON bookings(traveler_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_refund_status ON bookings(refund_status);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		commission_rate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payouts (
		settlement_key TEXT PRIMARY KEY,
		organizer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		invoice_url TEXT NOT NULL DEFAULT '',
		utr_number TEXT NOT NULL DEFAULT '',
		processed_at TEXT,
		processed_by TEXT NOT NULL DEFAULT '',
		paid_at TEXT,
		paid_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0
	);

	-- Append-only audit log
	CREATE TABLE IF NOT EXISTS audit_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		admin_name TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		entity_name TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// errReadOnly is returned by writes attempted inside View.
var errReadOnly = errors.New("write attempted in read-only view")

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTx(ctx, fn)
}

func (s *Store) runTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// View executes fn within a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txStore{q: sqlTx, readOnly: true})
}

// read runs fn against the pool under the read lock.
func (s *Store) read(fn func(ts *txStore) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txStore{q: s.db})
}

// write runs fn in its own transaction.
func (s *Store) write(ctx context.Context, fn func(st ledger.Store) error) error {
	return s.WithTx(ctx, fn)
}

// txStore runs every statement through one querier. All SQL lives here; the
// Store methods only choose the querier and the lock.
type txStore struct {
	q        querier
	readOnly bool
}

func (ts *txStore) writable() error {
	if ts.readOnly {
		return errReadOnly
	}
	return nil
}

// =============================================================================
// BOOKINGS (ledger.BookingStore interface)
// =============================================================================

func (s *Store) InsertBooking(ctx context.Context, b ledger.Booking) error {
	return s.write(ctx, func(st ledger.Store) error { return st.InsertBooking(ctx, b) })
}

func (s *Store) GetBooking(ctx context.Context, id ledger.BookingID) (b *ledger.Booking, err error) {
	err = s.read(func(ts *txStore) error {
		b, err = ts.GetBooking(ctx, id)
		return err
	})
	return b, err
}

func (s *Store) ListBookings(ctx context.Context, filter ledger.BookingFilter) (out []ledger.Booking, err error) {
	err = s.read(func(ts *txStore) error {
		out, err = ts.ListBookings(ctx, filter)
		return err
	})
	return out, err
}

func (s *Store) UpdateBooking(ctx context.Context, b ledger.Booking) error {
	return s.write(ctx, func(st ledger.Store) error { return st.UpdateBooking(ctx, b) })
}

const bookingColumns = `id, trip_id, batch_id, organizer_id, traveler_id, traveler_name, travelers,
	total_price, amount_paid, balance_due, payment_type, payment_status, cancellation_reason,
	refund_status, refund_reason, approved_refund_amount, refund_requested_at, refund_processed_at,
	refund_rejection_reason, refund_utr, version, created_at, updated_at`

func (ts *txStore) InsertBooking(ctx context.Context, b ledger.Booking) error {
	if err := ts.writable(); err != nil {
		return err
	}
	query := `
		INSERT INTO bookings (` + bookingColumns + `, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM bookings))
	`
	_, err := ts.q.ExecContext(ctx, query,
		b.ID, b.TripID, b.BatchID, b.OrganizerID, b.TravelerID, b.TravelerName, b.Travelers,
		b.TotalPrice.String(), b.AmountPaid.String(), b.BalanceDue.String(),
		b.PaymentType, b.PaymentStatus, b.CancellationReason,
		b.Refund.Status.Normalize(), b.Refund.Reason, b.Refund.ApprovedAmount.String(),
		nullTime(b.Refund.RequestedAt), nullTime(b.Refund.ProcessedAt),
		b.Refund.RejectionReason, b.Refund.UTR,
		b.Version, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (ts *txStore) GetBooking(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (ts *txStore) ListBookings(ctx context.Context, f ledger.BookingFilter) ([]ledger.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("trip_id", string(f.TripID))
	add("batch_id", string(f.BatchID))
	add("organizer_id", string(f.OrganizerID))
	add("traveler_id", string(f.TravelerID))
	add("payment_status", string(f.PaymentStatus))
	if f.RefundStatus != "" {
		add("refund_status", string(f.RefundStatus.Normalize()))
	}

	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []ledger.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (ts *txStore) UpdateBooking(ctx context.Context, b ledger.Booking) error {
	if err := ts.writable(); err != nil {
		return err
	}
	query := `
		UPDATE bookings SET
			trip_id = ?, batch_id = ?, organizer_id = ?, traveler_id = ?, traveler_name = ?, travelers = ?,
			total_price = ?, amount_paid = ?, balance_due = ?, payment_type = ?, payment_status = ?,
			cancellation_reason = ?, refund_status = ?, refund_reason = ?, approved_refund_amount = ?,
			refund_requested_at = ?, refund_processed_at = ?, refund_rejection_reason = ?, refund_utr = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		b.TripID, b.BatchID, b.OrganizerID, b.TravelerID, b.TravelerName, b.Travelers,
		b.TotalPrice.String(), b.AmountPaid.String(), b.BalanceDue.String(), b.PaymentType, b.PaymentStatus,
		b.CancellationReason, b.Refund.Status.Normalize(), b.Refund.Reason, b.Refund.ApprovedAmount.String(),
		nullTime(b.Refund.RequestedAt), nullTime(b.Refund.ProcessedAt), b.Refund.RejectionReason, b.Refund.UTR,
		formatTime(b.UpdatedAt),
		b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := ts.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE id = ?", b.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	if exists == 0 {
		return &ledger.NotFoundError{Entity: ledger.EntityBooking, ID: string(b.ID)}
	}
	return ledger.ErrConcurrentModification
}

func scanBooking(rows *sql.Rows) (ledger.Booking, error) {
	var (
		b                          ledger.Booking
		total, paid, due, approved string
		requestedAt, processedAt   sql.NullString
		createdAt, updatedAt       string
	)
	err := rows.Scan(
		&b.ID, &b.TripID, &b.BatchID, &b.OrganizerID, &b.TravelerID, &b.TravelerName, &b.Travelers,
		&total, &paid, &due, &b.PaymentType, &b.PaymentStatus, &b.CancellationReason,
		&b.Refund.Status, &b.Refund.Reason, &approved, &requestedAt, &processedAt,
		&b.Refund.RejectionReason, &b.Refund.UTR, &b.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}
	for _, m := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&b.TotalPrice, total}, {&b.AmountPaid, paid}, {&b.BalanceDue, due}, {&b.Refund.ApprovedAmount, approved}} {
		d, err := ledger.ParseMoney(m.raw)
		if err != nil {
			return b, fmt.Errorf("failed to scan booking %s: %w", b.ID, err)
		}
		*m.dst = d
	}
	b.Refund.RequestedAt = parseNullTime(requestedAt)
	b.Refund.ProcessedAt = parseNullTime(processedAt)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// CATALOG (ledger.CatalogStore interface)
// =============================================================================

func (s *Store) SaveTrip(ctx context.Context, t ledger.Trip) error {
	return s.write(ctx, func(st ledger.Store) error { return st.SaveTrip(ctx, t) })
}

func (s *Store) GetTrip(ctx context.Context, id ledger.TripID) (t *ledger.Trip, err error) {
	err = s.read(func(ts *txStore) error {
		t, err = ts.GetTrip(ctx, id)
		return err
	})
	return t, err
}

func (s *Store) ListTrips(ctx context.Context) (out []ledger.Trip, err error) {
	err = s.read(func(ts *txStore) error {
		out, err = ts.ListTrips(ctx)
		return err
	})
	return out, err
}

func (s *Store) SaveOrganizer(ctx context.Context, o ledger.Organizer) error {
	return s.write(ctx, func(st ledger.Store) error { return st.SaveOrganizer(ctx, o) })
}

func (s *Store) GetOrganizer(ctx context.Context, id ledger.OrganizerID) (o *ledger.Organizer, err error) {
	err = s.read(func(ts *txStore) error {
		o, err = ts.GetOrganizer(ctx, id)
		return err
	})
	return o, err
}

func (s *Store) ListOrganizers(ctx context.Context) (out []ledger.Organizer, err error) {
	err = s.read(func(ts *txStore) error {
		out, err = ts.ListOrganizers(ctx)
		return err
	})
	return out, err
}

func (s *Store) GetSettings(ctx context.Context) (p *ledger.PlatformSettings, err error) {
	err = s.read(func(ts *txStore) error {
		p, err = ts.GetSettings(ctx)
		return err
	})
	return p, err
}

func (s *Store) SaveSettings(ctx context.Context, p ledger.PlatformSettings) error {
	return s.write(ctx, func(st ledger.Store) error { return st.SaveSettings(ctx, p) })
}

// SaveTrip upserts the trip and replaces its batches.
func (ts *txStore) SaveTrip(ctx context.Context, t ledger.Trip) error {
	if err := ts.writable(); err != nil {
		return err
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO trips (id, organizer_id, title, base_price, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organizer_id = excluded.organizer_id,
			title = excluded.title,
			base_price = excluded.base_price
	`, t.ID, t.OrganizerID, t.Title, t.BasePrice.String(), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}

	if _, err := ts.q.ExecContext(ctx, "DELETE FROM batches WHERE trip_id = ?", t.ID); err != nil {
		return fmt.Errorf("failed to replace batches: %w", err)
	}
	for i, b := range t.Batches {
		var deal sql.NullString
		if b.DealPrice != nil {
			deal = sql.NullString{String: b.DealPrice.String(), Valid: true}
		}
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO batches (id, trip_id, position, start_date, end_date, available_slots, status, deal_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, t.ID, i, formatTime(b.StartDate), formatTime(b.EndDate), b.AvailableSlots, b.Status, deal)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &ledger.ValidationError{Field: "batches", Message: fmt.Sprintf("duplicate batch id %q", b.ID)}
			}
			return fmt.Errorf("failed to save batch: %w", err)
		}
	}
	return nil
}

func (ts *txStore) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	var (
		t                    ledger.Trip
		basePrice, createdAt string
	)
	err := ts.q.QueryRowContext(ctx,
		"SELECT id, organizer_id, title, base_price, created_at FROM trips WHERE id = ?", id,
	).Scan(&t.ID, &t.OrganizerID, &t.Title, &basePrice, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trip: %w", err)
	}
	if t.BasePrice, err = ledger.ParseMoney(basePrice); err != nil {
		return nil, fmt.Errorf("failed to scan trip %s: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(createdAt)

	batches, err := ts.batches(ctx, "WHERE trip_id = ?", id)
	if err != nil {
		return nil, err
	}
	t.Batches = batches[t.ID]
	return &t, nil
}

func (ts *txStore) ListTrips(ctx context.Context) ([]ledger.Trip, error) {
	rows, err := ts.q.QueryContext(ctx,
		"SELECT id, organizer_id, title, base_price, created_at FROM trips ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []ledger.Trip
	for rows.Next() {
		var (
			t                    ledger.Trip
			basePrice, createdAt string
		)
		if err := rows.Scan(&t.ID, &t.OrganizerID, &t.Title, &basePrice, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		price, err := ledger.ParseMoney(basePrice)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip %s: %w", t.ID, err)
		}
		t.BasePrice = price
		t.CreatedAt = parseTime(createdAt)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	batches, err := ts.batches(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range trips {
		trips[i].Batches = batches[trips[i].ID]
	}
	return trips, nil
}

func (ts *txStore) batches(ctx context.Context, where string, args ...any) (map[ledger.TripID][]ledger.Batch, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT id, trip_id, start_date, end_date, available_slots, status, deal_price
		FROM batches `+where+` ORDER BY trip_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.TripID][]ledger.Batch)
	for rows.Next() {
		var (
			b          ledger.Batch
			start, end string
			deal       sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.TripID, &start, &end, &b.AvailableSlots, &b.Status, &deal); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.StartDate = parseTime(start)
		b.EndDate = parseTime(end)
		if b.DealPrice, err = parseNullDecimal(deal); err != nil {
			return nil, fmt.Errorf("failed to scan batch %s: %w", b.ID, err)
		}
		out[b.TripID] = append(out[b.TripID], b)
	}
	return out, rows.Err()
}

func (ts *txStore) SaveOrganizer(ctx context.Context, o ledger.Organizer) error {
	if err := ts.writable(); err != nil {
		return err
	}
	var rate sql.NullString
	if o.CommissionRate != nil {
		rate = sql.NullString{String: o.CommissionRate.String(), Valid: true}
	}
	status := o.Status
	if status == "" {
		status = ledger.OrganizerActive
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO organizers (id, name, status, commission_rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			commission_rate = excluded.commission_rate
	`, o.ID, o.Name, status, rate)
	if err != nil {
		return fmt.Errorf("failed to save organizer: %w", err)
	}
	return nil
}

func (ts *txStore) GetOrganizer(ctx context.Context, id ledger.OrganizerID) (*ledger.Organizer, error) {
	var (
		o    ledger.Organizer
		rate sql.NullString
	)
	err := ts.q.QueryRowContext(ctx,
		"SELECT id, name, status, commission_rate FROM organizers WHERE id = ?", id,
	).Scan(&o.ID, &o.Name, &o.Status, &rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query organizer: %w", err)
	}
	if o.CommissionRate, err = parseNullDecimal(rate); err != nil {
		return nil, fmt.Errorf("failed to scan organizer %s: %w", o.ID, err)
	}
	return &o, nil
}

func (ts *txStore) ListOrganizers(ctx context.Context) ([]ledger.Organizer, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT id, name, status, commission_rate FROM organizers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query organizers: %w", err)
	}
	defer rows.Close()

	var organizers []ledger.Organizer
	for rows.Next() {
		var (
			o    ledger.Organizer
			rate sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.Name, &o.Status, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan organizer: %w", err)
		}
		if o.CommissionRate, err = parseNullDecimal(rate); err != nil {
			return nil, fmt.Errorf("failed to scan organizer %s: %w", o.ID, err)
		}
		organizers = append(organizers, o)
	}
	return organizers, rows.Err()
}

func (ts *txStore) GetSettings(ctx context.Context) (*ledger.PlatformSettings, error) {
	var rate, updatedAt string
	err := ts.q.QueryRowContext(ctx,
		"SELECT commission_rate, updated_at FROM settings WHERE id = 1",
	).Scan(&rate, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	commission, err := ledger.ParseMoney(rate)
	if err != nil {
		return nil, fmt.Errorf("failed to scan settings: %w", err)
	}
	return &ledger.PlatformSettings{
		CommissionRate: commission,
		UpdatedAt:      parseTime(updatedAt),
	}, nil
}

func (ts *txStore) SaveSettings(ctx context.Context, p ledger.PlatformSettings) error {
	if err := ts.writable(); err != nil {
		return err
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO settings (id, commission_rate, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			commission_rate = excluded.commission_rate,
			updated_at = excluded.updated_at
	`, p.CommissionRate.String(), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// PAYOUTS (ledger.PayoutStore interface)
// =============================================================================

func (s *Store) GetPayout(ctx context.Context, key ledger.SettlementKey) (p *ledger.PayoutRecord, err error) {
	err = s.read(func(ts *txStore) error {
		p, err = ts.GetPayout(ctx, key)
		return err
	})
	return p, err
}

func (s *Store) ListPayouts(ctx context.Context) (out []ledger.PayoutRecord, err error) {
	err = s.read(func(ts *txStore) error {
		out, err = ts.ListPayouts(ctx)
		return err
	})
	return out, err
}

func (s *Store) CompareAndSwapPayout(ctx context.Context, rec ledger.PayoutRecord, expected ledger.PayoutStatus) error {
	return s.write(ctx, func(st ledger.Store) error { return st.CompareAndSwapPayout(ctx, rec, expected) })
}

const payoutColumns = `settlement_key, organizer_id, status, invoice_url, utr_number, processed_at, processed_by, paid_at, paid_by, version`

func (ts *txStore) GetPayout(ctx context.Context, key ledger.SettlementKey) (*ledger.PayoutRecord, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE settlement_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("failed to query payout: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPayout(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (ts *txStore) ListPayouts(ctx context.Context) ([]ledger.PayoutRecord, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT "+payoutColumns+" FROM payouts ORDER BY settlement_key")
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []ledger.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// CompareAndSwapPayout writes rec if the stored status equals expected. An
// absent row only matches PayoutAvailable.
func (ts *txStore) CompareAndSwapPayout(ctx context.Context, rec ledger.PayoutRecord, expected ledger.PayoutStatus) error {
	if err := ts.writable(); err != nil {
		return err
	}
	args := []any{
		rec.Key, rec.OrganizerID, rec.Status, rec.InvoiceURL, rec.UTRNumber,
		nullTime(rec.ProcessedAt), rec.ProcessedBy, nullTime(rec.PaidAt), rec.PaidBy,
	}

	var (
		res sql.Result
		err error
	)
	if expected == ledger.PayoutAvailable {
		res, err = ts.q.ExecContext(ctx, `
			INSERT INTO payouts (`+payoutColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(settlement_key) DO UPDATE SET
				organizer_id = excluded.organizer_id,
				status = excluded.status,
				invoice_url = excluded.invoice_url,
				utr_number = excluded.utr_number,
				processed_at = excluded.processed_at,
				processed_by = excluded.processed_by,
				paid_at = excluded.paid_at,
				paid_by = excluded.paid_by,
				version = payouts.version + 1
			WHERE payouts.status = ?
		`, append(args, expected)...)
	} else {
		res, err = ts.q.ExecContext(ctx, `
			UPDATE payouts SET
				organizer_id = ?, status = ?, invoice_url = ?, utr_number = ?,
				processed_at = ?, processed_by = ?, paid_at = ?, paid_by = ?,
				version = version + 1
			WHERE settlement_key = ? AND status = ?
		`, append(args[1:], rec.Key, expected)...)
	}
	if err != nil {
		return fmt.Errorf("failed to write payout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write payout: %w", err)
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func scanPayout(rows *sql.Rows) (ledger.PayoutRecord, error) {
	var (
		p                   ledger.PayoutRecord
		processedAt, paidAt sql.NullString
	)
	err := rows.Scan(&p.Key, &p.OrganizerID, &p.Status, &p.InvoiceURL, &p.UTRNumber,
		&processedAt, &p.ProcessedBy, &paidAt, &p.PaidBy, &p.Version)
	if err != nil {
		return p, fmt.Errorf("failed to scan payout: %w", err)
	}
	p.ProcessedAt = parseNullTime(processedAt)
	p.PaidAt = parseNullTime(paidAt)
	return p, nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	return s.write(ctx, func(st ledger.Store) error { return st.AppendAudit(ctx, e) })
}

func (s *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) (out []ledger.AuditEntry, err error) {
	err = s.read(func(ts *txStore) error {
		out, err = ts.QueryAudit(ctx, f)
		return err
	})
	return out, err
}

func (ts *txStore) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	if err := ts.writable(); err != nil {
		return err
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, admin_name, action, entity_type, entity_id, entity_name, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.AdminName, e.Action, e.EntityType, e.EntityID, e.EntityName, e.Details)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (ts *txStore) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("entity_type", string(f.EntityType))
	add("entity_id", f.EntityID)
	add("action", string(f.Action))
	add("admin_name", f.AdminName)

	query := `SELECT id, timestamp, admin_name, action, entity_type, entity_id, entity_name, details FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e  ledger.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.AdminName, &e.Action, &e.EntityType, &e.EntityID, &e.EntityName, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_logs", "payouts", "bookings", "batches", "trips", "organizers", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout is fixed-width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	return ledger.TimePtr(parseTime(s.String))
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := ledger.ParseMoney(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

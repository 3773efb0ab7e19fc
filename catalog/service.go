/*
Package catalog manages trips, organizers and the platform commission rate.

PURPOSE:
  Catalog writes change what the settlement aggregator computes: a new batch
  end date, an organizer override, a new global rate. Every write is
  admin-only, audited in the same transaction, and fires OnChange so cached
  settlements are dropped.

RATES:
  Rates are percentages in [0, 100]. An organizer override of nil means
  "use the platform rate". The platform rate lives in PlatformSettings;
  EnsureSettings seeds it once from configuration.

SEE ALSO:
  - factory/catalog.go: JSON parsing of trips and organizers
  - settlement/aggregator.go: effective rate resolution
*/
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/trip-settlements/audit"
	"github.com/warp/trip-settlements/ledger"
)

type Service struct {
	Store  ledger.TxStore
	Trail  *audit.Trail
	Clock  ledger.Clock
	Logger *zap.Logger

	// DefaultRate is returned by GlobalRate until settings are saved.
	DefaultRate decimal.Decimal

	// OnChange runs after every committed write.
	OnChange func()
}

func NewService(st ledger.TxStore, trail *audit.Trail, defaultRate decimal.Decimal, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(st)
	}
	return &Service{Store: st, Trail: trail, DefaultRate: defaultRate, Logger: logger}
}

// =============================================================================
// TRIPS
// =============================================================================

// SaveTrip creates or replaces a trip and its batches. The organizer must exist.
func (s *Service) SaveTrip(ctx context.Context, actor ledger.Actor, t ledger.Trip) error {
	if err := authorize(actor, "manage trips"); err != nil {
		return err
	}
	if err := ledger.ValidateKeyPart("id", string(t.ID)); err != nil {
		return err
	}
	for _, b := range t.Batches {
		if err := ledger.ValidateKeyPart("batch id", string(b.ID)); err != nil {
			return err
		}
	}
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		org, err := tx.GetOrganizer(ctx, t.OrganizerID)
		if err != nil {
			return fmt.Errorf("failed to load organizer: %w", err)
		}
		if org == nil {
			return &ledger.NotFoundError{Entity: ledger.EntityOrganizer, ID: string(t.OrganizerID)}
		}
		existing, err := tx.GetTrip(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("failed to load trip: %w", err)
		}
		if existing != nil {
			t.CreatedAt = existing.CreatedAt
		} else {
			t.CreatedAt = s.Clock.Now()
		}
		if err := tx.SaveTrip(ctx, t); err != nil {
			return fmt.Errorf("failed to save trip: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditTripSaved,
			EntityType: ledger.EntityTrip,
			EntityID:   string(t.ID),
			EntityName: t.Title,
			Details:    fmt.Sprintf("%d batches", len(t.Batches)),
		})
	})
	return s.finish("trip saved", zap.String("trip_id", string(t.ID)), err)
}

func (s *Service) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	t, err := s.Store.GetTrip(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if t == nil {
		return nil, &ledger.NotFoundError{Entity: ledger.EntityTrip, ID: string(id)}
	}
	return t, nil
}

func (s *Service) ListTrips(ctx context.Context) ([]ledger.Trip, error) {
	trips, err := s.Store.ListTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, nil
}

// =============================================================================
// ORGANIZERS
// =============================================================================

// SaveOrganizer creates or replaces an organizer, including its override.
func (s *Service) SaveOrganizer(ctx context.Context, actor ledger.Actor, o ledger.Organizer) error {
	if err := authorize(actor, "manage organizers"); err != nil {
		return err
	}
	if o.CommissionRate != nil && !ledger.ValidRate(*o.CommissionRate) {
		return invalidRate()
	}
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.SaveOrganizer(ctx, o); err != nil {
			return fmt.Errorf("failed to save organizer: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditOrganizerOverride,
			EntityType: ledger.EntityOrganizer,
			EntityID:   string(o.ID),
			EntityName: o.Name,
			Details:    "commission " + describeRate(o.CommissionRate),
		})
	})
	return s.finish("organizer saved", zap.String("organizer_id", string(o.ID)), err)
}

// SetOrganizerCommission sets or clears (nil) an organizer's override.
func (s *Service) SetOrganizerCommission(ctx context.Context, actor ledger.Actor, id ledger.OrganizerID, rate *decimal.Decimal) (*ledger.Organizer, error) {
	if err := authorize(actor, "change commission"); err != nil {
		return nil, err
	}
	if rate != nil && !ledger.ValidRate(*rate) {
		return nil, invalidRate()
	}
	var org ledger.Organizer
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		current, err := tx.GetOrganizer(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load organizer: %w", err)
		}
		if current == nil {
			return &ledger.NotFoundError{Entity: ledger.EntityOrganizer, ID: string(id)}
		}
		from := describeRate(current.CommissionRate)
		org = *current
		org.CommissionRate = rate
		if err := tx.SaveOrganizer(ctx, org); err != nil {
			return fmt.Errorf("failed to save organizer: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditOrganizerOverride,
			EntityType: ledger.EntityOrganizer,
			EntityID:   string(id),
			EntityName: org.Name,
			Details:    fmt.Sprintf("commission %s -> %s", from, describeRate(rate)),
		})
	})
	if err := s.finish("organizer commission changed", zap.String("organizer_id", string(id)), err); err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *Service) ListOrganizers(ctx context.Context) ([]ledger.Organizer, error) {
	orgs, err := s.Store.ListOrganizers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizers: %w", err)
	}
	return orgs, nil
}

// =============================================================================
// PLATFORM COMMISSION
// =============================================================================

// GlobalRate returns the stored platform rate, or DefaultRate before the
// first save.
func (s *Service) GlobalRate(ctx context.Context) (decimal.Decimal, error) {
	settings, err := s.Store.GetSettings(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		return s.DefaultRate, nil
	}
	return settings.CommissionRate, nil
}

// SetGlobalRate changes the platform rate.
func (s *Service) SetGlobalRate(ctx context.Context, actor ledger.Actor, rate decimal.Decimal) error {
	if err := authorize(actor, "change commission"); err != nil {
		return err
	}
	if !ledger.ValidRate(rate) {
		return invalidRate()
	}
	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		from := s.DefaultRate
		if current, err := tx.GetSettings(ctx); err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		} else if current != nil {
			from = current.CommissionRate
		}
		if err := tx.SaveSettings(ctx, ledger.PlatformSettings{CommissionRate: rate, UpdatedAt: s.Clock.Now()}); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		return s.Trail.Bind(tx).Record(ctx, audit.Event{
			Actor:      actor,
			Action:     ledger.AuditCommissionChanged,
			EntityType: ledger.EntitySettings,
			EntityID:   "commission",
			Details:    fmt.Sprintf("platform commission %s%% -> %s%%", from.String(), rate.String()),
		})
	})
	return s.finish("platform commission changed", zap.String("rate", rate.String()), err)
}

// EnsureSettings stores DefaultRate if no settings exist yet. Existing
// settings are left alone.
func (s *Service) EnsureSettings(ctx context.Context) error {
	return s.Store.WithTx(ctx, func(tx ledger.Store) error {
		current, err := tx.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if current != nil {
			return nil
		}
		return tx.SaveSettings(ctx, ledger.PlatformSettings{CommissionRate: s.DefaultRate, UpdatedAt: s.Clock.Now()})
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) finish(msg string, field zap.Field, err error) error {
	if err != nil {
		s.Logger.Warn(msg+" failed", field, zap.Error(err))
		return err
	}
	s.Logger.Info(msg, field)
	if s.OnChange != nil {
		s.OnChange()
	}
	return nil
}

func authorize(actor ledger.Actor, action string) error {
	if !actor.Is(ledger.RoleAdmin, ledger.RoleSystem) {
		return &ledger.ForbiddenError{Actor: actor, Action: action}
	}
	return nil
}

func invalidRate() error {
	return &ledger.ValidationError{Field: "commission_rate", Message: "must be between 0 and 100"}
}

func describeRate(r *decimal.Decimal) string {
	if r == nil {
		return "platform default"
	}
	return r.String() + "%"
}

/*
Package audit records administrative and lifecycle actions.

PURPOSE:
  Every financial action (refund transitions, cancellations, payout steps,
  commission changes) leaves one entry: who, what, which entity, when.
  Entries are append-only; the store offers no update or delete.

USAGE:
  Inside a store transaction, bind the trail to the transactional handle so
  the entry commits or rolls back with the change it describes:

	err := st.WithTx(ctx, func(tx ledger.Store) error {
	    ...
	    return trail.Bind(tx).Record(ctx, audit.Event{...})
	})

SEE ALSO:
  - ledger/store.go: AuditLog interface
*/
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/trip-settlements/ledger"
)

// Event is the caller-supplied part of an audit entry.
type Event struct {
	Actor      ledger.Actor
	Action     ledger.AuditAction
	EntityType ledger.EntityType
	EntityID   string
	EntityName string
	Details    string
}

// Trail stamps and appends audit entries.
type Trail struct {
	Log   ledger.AuditLog
	Clock ledger.Clock
	NewID func() string
}

func NewTrail(log ledger.AuditLog) *Trail {
	return &Trail{Log: log}
}

// Bind returns a copy of the trail writing to log.
func (t *Trail) Bind(log ledger.AuditLog) *Trail {
	c := *t
	c.Log = log
	return &c
}

// Record appends one entry. The actor name is stored as the admin name.
func (t *Trail) Record(ctx context.Context, ev Event) error {
	if err := ledger.Required("action", string(ev.Action)); err != nil {
		return err
	}
	entry := ledger.AuditEntry{
		ID:         t.newID(),
		Timestamp:  t.Clock.Now(),
		AdminName:  ev.Actor.Name,
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		EntityName: ev.EntityName,
		Details:    ev.Details,
	}
	if err := t.Log.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (t *Trail) List(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	entries, err := t.Log.QueryAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return entries, nil
}

func (t *Trail) newID() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return uuid.NewString()
}

package association

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// Trigger names what caused a status evaluation.
type Trigger string

const (
	// TriggerAdmission runs right after a new payment was admitted.
	TriggerAdmission Trigger = "admission"
	// TriggerReconciliation runs from the periodic reconciliation job.
	TriggerReconciliation Trigger = "reconciliation"
)

// NextStatus is the membership state machine.
//
//	PENDING  -> ACTIVE    on admission, when covered
//	ACTIVE   -> CANCELED  on reconciliation, when not covered
//	CANCELED -> ACTIVE    on admission or reconciliation, when covered
//
// Reconciliation never touches PENDING memberships.
func NextStatus(current models.MembershipStatus, covered bool, trigger Trigger) models.MembershipStatus {
	switch current {
	case models.MembershipStatusPending:
		if covered && trigger == TriggerAdmission {
			return models.MembershipStatusActive
		}
	case models.MembershipStatusActive:
		if !covered && trigger == TriggerReconciliation {
			return models.MembershipStatusCanceled
		}
	case models.MembershipStatusCanceled:
		if covered {
			return models.MembershipStatusActive
		}
	}
	return current
}

// Change describes the result of one evaluation.
type Change struct {
	MembershipID uint
	From         models.MembershipStatus
	To           models.MembershipStatus
	Covered      bool
}

// Changed reports whether a status write happened.
func (c Change) Changed() bool {
	return c.From != c.To
}

// Activated reports a transition into ACTIVE.
func (c Change) Activated() bool {
	return c.Changed() && c.To == models.MembershipStatusActive
}

// Canceled reports a transition into CANCELED.
func (c Change) Canceled() bool {
	return c.Changed() && c.To == models.MembershipStatusCanceled
}

// Activator applies the state machine to stored memberships.
type Activator struct {
	db       *gorm.DB
	registry *Registry
	ledger   *Ledger
	now      Clock
}

// NewActivator creates an activator. A nil clock uses the system time.
func NewActivator(db *gorm.DB, clock Clock) *Activator {
	if clock == nil {
		clock = systemClock
	}
	return &Activator{
		db:       db,
		registry: NewRegistry(db),
		ledger:   NewLedger(db),
		now:      clock,
	}
}

// Evaluate recomputes coverage and applies the transition for trigger. The
// read of payments and status and the conditional write share one
// transaction, and the write only lands if the status is still the one read,
// so a concurrent admission and reconciliation cannot clobber each other.
// No-op evaluations perform no write.
func (a *Activator) Evaluate(ctx context.Context, membershipID uint, trigger Trigger) (Change, error) {
	now := a.now()
	change := Change{MembershipID: membershipID}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := a.registry.WithTx(tx).Get(ctx, membershipID)
		if err != nil {
			return fmt.Errorf("load membership %d: %w", membershipID, err)
		}
		change.From, change.To = m.Status, m.Status

		payments, err := a.ledger.WithTx(tx).ListByMembership(ctx, membershipID)
		if err != nil {
			return fmt.Errorf("load payments of membership %d: %w", membershipID, err)
		}
		change.Covered = IsCovered(payments, now)

		next := NextStatus(m.Status, change.Covered, trigger)
		if next == m.Status {
			return nil
		}
		n, err := a.registry.WithTx(tx).CompareAndSetStatus(ctx, membershipID, m.Status, next)
		if err != nil {
			return fmt.Errorf("update membership %d status: %w", membershipID, err)
		}
		if n == 0 {
			log.Warnf("[Activator] Membership %d changed concurrently, leaving it to the next pass", membershipID)
			return nil
		}
		change.To = next
		return nil
	})
	if err != nil {
		return Change{MembershipID: membershipID}, err
	}

	if change.Changed() {
		log.Infof("[Activator] Membership %d %s -> %s (%s)", membershipID, change.From, change.To, trigger)
	}
	return change, nil
}
